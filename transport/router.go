// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/crossvault/roles"
	"github.com/luxfi/crossvault/warpctx"
)

var (
	ErrUntrustedSource  = errors.New("message from unregistered (domain, sender) pair")
	ErrDuplicateMessage = errors.New("message id already processed")
	ErrUnknownDomain    = errors.New("no remote router for destination domain")
	ErrNoSink           = errors.New("no settlement sink attached")
)

// SettlementSink consumes authenticated inbound messages. The
// settlement engine implements it.
type SettlementSink interface {
	SettleDeposit(commitment common.Hash, confirmedAmount *big.Int) error
	SettleWithdrawal(commitment common.Hash, confirmedAmount *big.Int) error
	ConfirmTransport(commitment common.Hash) error
}

// Outbound delivers an encoded message toward [destDomain]. Wired to
// the real bridge in production, to a loopback in tests.
type Outbound func(ctx context.Context, raw []byte, destDomain uint32) error

// Router authenticates and routes settlement messages for one local
// domain. Inbound messages must come from a registered remote router
// and carry a signer-set quorum; every accepted message id is recorded
// so replays die on arrival.
type Router struct {
	authority   *roles.Authority
	signers     *SignerSet
	localDomain uint32
	log         log.Logger

	remotes  map[uint32]common.Address
	seen     map[common.Hash]bool
	sink     SettlementSink
	outbound Outbound
	mu       sync.Mutex
}

// NewRouter creates a transport router for [localDomain].
func NewRouter(authority *roles.Authority, signers *SignerSet, localDomain uint32, logger log.Logger) *Router {
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	return &Router{
		authority:   authority,
		signers:     signers,
		localDomain: localDomain,
		log:         logger,
		remotes:     make(map[uint32]common.Address),
		seen:        make(map[common.Hash]bool),
	}
}

// LocalDomain returns the router's own chain domain.
func (r *Router) LocalDomain() uint32 { return r.localDomain }

// SetSink attaches the settlement consumer.
func (r *Router) SetSink(sink SettlementSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// SetOutbound attaches the delivery function for outgoing messages.
func (r *Router) SetOutbound(out Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outbound = out
}

// RegisterRemote records [sender] as the trusted router on [domain].
// The caller must hold RoleTransport.
func (r *Router) RegisterRemote(caller common.Address, domain uint32, sender common.Address) error {
	if !r.authority.HasRole(caller, roles.RoleTransport) {
		return roles.ErrUnauthorized
	}
	if sender == (common.Address{}) {
		return roles.ErrZeroAddress
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.remotes[domain] = sender
	return nil
}

// Send stamps [msg] with the local source domain and hands it to the
// outbound delivery. The context may carry an overriding domain from
// warpctx.
func (r *Router) Send(ctx context.Context, msg *Message) error {
	msg.Version = MessageVersion
	msg.SourceDomain = r.localDomain
	if d := warpctx.GetDomain(ctx); d != 0 {
		msg.SourceDomain = d
	}

	r.mu.Lock()
	out := r.outbound
	_, known := r.remotes[msg.DestDomain]
	r.mu.Unlock()

	if !known {
		return ErrUnknownDomain
	}

	raw := msg.Encode()
	r.log.Debug("transport send", "kind", msg.Kind, "dest", msg.DestDomain, "id", MessageID(raw))
	if out == nil {
		return nil
	}
	return out(ctx, raw, msg.DestDomain)
}

// OnMessage processes one inbound message. Order of checks: signer
// quorum, (domain, sender) registration, decode, source consistency,
// replay, then dispatch to the sink.
func (r *Router) OnMessage(raw []byte, sourceDomain uint32, sender common.Address, sigs [][]byte) error {
	if err := r.signers.Verify(raw, sigs); err != nil {
		return err
	}

	r.mu.Lock()
	trusted, ok := r.remotes[sourceDomain]
	r.mu.Unlock()
	if !ok || trusted != sender {
		return ErrUntrustedSource
	}

	msg, err := Decode(raw)
	if err != nil {
		return err
	}
	if msg.SourceDomain != sourceDomain {
		return ErrUntrustedSource
	}

	id := MessageID(raw)

	r.mu.Lock()
	if r.seen[id] {
		r.mu.Unlock()
		return ErrDuplicateMessage
	}
	sink := r.sink
	if sink == nil {
		// Not consumed: the message may be retried once a sink is
		// attached.
		r.mu.Unlock()
		return ErrNoSink
	}
	r.seen[id] = true
	r.mu.Unlock()

	r.log.Debug("transport recv", "kind", msg.Kind, "source", sourceDomain, "id", id)

	switch msg.Kind {
	case KindDepositConfirm:
		return sink.SettleDeposit(msg.Commitment, msg.Amount)
	case KindWithdrawConfirm:
		return sink.SettleWithdrawal(msg.Commitment, msg.Amount)
	case KindTransportReceipt:
		return sink.ConfirmTransport(msg.Commitment)
	default:
		// Intents are consumed by the remote side; receiving one here
		// is a routing error, not a protocol error.
		return ErrBadKind
	}
}
