// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"crypto/sha256"
	"errors"
	"sync"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/crossvault/roles"
)

var (
	ErrInvalidSignature   = errors.New("signature does not recover a registered signer")
	ErrSignatureThreshold = errors.New("not enough distinct signer signatures")
	ErrNoSigners          = errors.New("signer set is empty")
)

// SignerSet is the attestation quorum for inbound messages. A message
// needs signatures from more than two thirds of the registered signers
// before the router will act on it.
type SignerSet struct {
	authority *roles.Authority
	signers   map[common.Address]bool
	mu        sync.RWMutex
}

// NewSignerSet creates an empty set gated by [authority].
func NewSignerSet(authority *roles.Authority) *SignerSet {
	return &SignerSet{
		authority: authority,
		signers:   make(map[common.Address]bool),
	}
}

// Add registers [signer]. The caller must hold RoleTransport.
func (s *SignerSet) Add(caller, signer common.Address) error {
	if !s.authority.HasRole(caller, roles.RoleTransport) {
		return roles.ErrUnauthorized
	}
	if signer == (common.Address{}) {
		return roles.ErrZeroAddress
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.signers[signer] = true
	return nil
}

// Remove drops [signer] from the set.
func (s *SignerSet) Remove(caller, signer common.Address) error {
	if !s.authority.HasRole(caller, roles.RoleTransport) {
		return roles.ErrUnauthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.signers, signer)
	return nil
}

// Size returns the number of registered signers.
func (s *SignerSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.signers)
}

// Threshold returns the required distinct-signature count: strictly
// more than two thirds of the set.
func (s *SignerSet) Threshold() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold()
}

func (s *SignerSet) threshold() int {
	return 2*len(s.signers)/3 + 1
}

// Digest returns the signing digest of an encoded message.
func Digest(raw []byte) []byte {
	sum := sha256.Sum256(raw)
	return sum[:]
}

// Verify checks that [sigs] carries threshold-many signatures over
// [raw] from distinct registered signers. A signature that recovers an
// unregistered address fails the whole verification.
func (s *SignerSet) Verify(raw []byte, sigs [][]byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.signers) == 0 {
		return ErrNoSigners
	}

	digest := Digest(raw)
	seen := make(map[common.Address]bool, len(sigs))
	for _, sig := range sigs {
		pub, err := crypto.SigToPub(digest, sig)
		if err != nil {
			return ErrInvalidSignature
		}
		// crypto returns its own address type; convert to geth's.
		addr := common.Address(crypto.PubkeyToAddress(*pub))
		if !s.signers[addr] {
			return ErrInvalidSignature
		}
		seen[addr] = true
	}
	if len(seen) < s.threshold() {
		return ErrSignatureThreshold
	}
	return nil
}
