// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport moves settlement messages between chain domains:
// a fixed-width wire codec, an attested signer set, and a router that
// authenticates (domain, sender) pairs before handing confirmations to
// the settlement engine.
package transport

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// MessageVersion is the only wire version this codec accepts.
const MessageVersion uint8 = 1

// MsgKind discriminates settlement message payloads.
type MsgKind uint8

const (
	KindDepositIntent MsgKind = iota + 1
	KindWithdrawIntent
	KindDepositConfirm
	KindWithdrawConfirm
	KindTransportReceipt
)

// encodedLen is the exact wire size of a message:
// version(1) kind(1) source(4) dest(4) commitment(32) amount(32)
// sender(20) nonce(8).
const encodedLen = 1 + 1 + 4 + 4 + 32 + 32 + 20 + 8

var (
	ErrBadMessageLength = errors.New("message has wrong encoded length")
	ErrBadVersion       = errors.New("unsupported message version")
	ErrBadKind          = errors.New("unknown message kind")
)

// Message is one settlement message on the wire.
type Message struct {
	Version      uint8
	Kind         MsgKind
	SourceDomain uint32
	DestDomain   uint32
	Commitment   common.Hash
	Amount       *big.Int
	Sender       common.Address
	Nonce        uint64
}

// Encode serializes the message to its fixed wire form.
func (m *Message) Encode() []byte {
	out := make([]byte, encodedLen)
	out[0] = m.Version
	out[1] = byte(m.Kind)
	binary.BigEndian.PutUint32(out[2:6], m.SourceDomain)
	binary.BigEndian.PutUint32(out[6:10], m.DestDomain)
	copy(out[10:42], m.Commitment.Bytes())
	copy(out[42:74], common.BigToHash(m.Amount).Bytes())
	copy(out[74:94], m.Sender.Bytes())
	binary.BigEndian.PutUint64(out[94:102], m.Nonce)
	return out
}

// Decode parses [raw] into a message, rejecting wrong lengths,
// versions, and kinds.
func Decode(raw []byte) (*Message, error) {
	if len(raw) != encodedLen {
		return nil, ErrBadMessageLength
	}
	if raw[0] != MessageVersion {
		return nil, ErrBadVersion
	}
	kind := MsgKind(raw[1])
	if kind < KindDepositIntent || kind > KindTransportReceipt {
		return nil, ErrBadKind
	}
	return &Message{
		Version:      raw[0],
		Kind:         kind,
		SourceDomain: binary.BigEndian.Uint32(raw[2:6]),
		DestDomain:   binary.BigEndian.Uint32(raw[6:10]),
		Commitment:   common.BytesToHash(raw[10:42]),
		Amount:       new(big.Int).SetBytes(raw[42:74]),
		Sender:       common.BytesToAddress(raw[74:94]),
		Nonce:        binary.BigEndian.Uint64(raw[94:102]),
	}, nil
}

// MessageID derives the replay-protection id of an encoded message.
func MessageID(raw []byte) common.Hash {
	h := blake3.New()
	h.Write(raw)
	var id common.Hash
	_, _ = h.Digest().Read(id[:])
	return id
}
