// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package router dispatches calls to installed module implementations.
// The caller address is resolved through the registry, fail-closed:
// a caller with no trusted-sender record never reaches a handler.
package router

import (
	"errors"
	"sync/atomic"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/crossvault/registry"
)

const (
	// SelectorLen is the leading function-selector width of dispatch
	// input.
	SelectorLen = 4
	// MinInputLen is selector plus the trailing 20-byte caller
	// identity every forwarded payload carries.
	MinInputLen = SelectorLen + common.AddressLength
)

var (
	ErrPayloadTooShort    = errors.New("dispatch input shorter than selector plus identity")
	ErrReentrancyDetected = errors.New("reentrant dispatch")
	ErrNoHandler          = errors.New("implementation has no registered handler")
)

// Handler is the execution surface of one module implementation.
type Handler interface {
	Run(state *State, caller common.Address, input []byte) ([]byte, error)
}

// Router resolves callers through the registry and runs the matching
// handler against the shared state arena.
type Router struct {
	registry *registry.Registry
	state    *State
	handlers map[common.Address]Handler
	log      log.Logger
	busy     atomic.Bool
}

// New creates a router over [reg] and [state].
func New(reg *registry.Registry, state *State, logger log.Logger) *Router {
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	return &Router{
		registry: reg,
		state:    state,
		handlers: make(map[common.Address]Handler),
		log:      logger,
	}
}

// State exposes the shared arena.
func (r *Router) State() *State { return r.state }

// Bind attaches [h] as the execution behind [implementation]. Installs
// and upgrades in the registry point at implementation addresses; Bind
// is what gives those addresses code.
func (r *Router) Bind(implementation common.Address, h Handler) {
	r.handlers[implementation] = h
}

// Dispatch resolves [caller] and runs the matching handler on [input].
// Input layout: 4-byte selector, handler arguments, and a trailing
// 20-byte identity appended by the proxy or trusted sender.
//
// Dispatch refuses to nest: a handler that calls back into Dispatch
// gets ErrReentrancyDetected instead of a second frame over the shared
// state.
func (r *Router) Dispatch(caller common.Address, input []byte) ([]byte, error) {
	if len(input) < MinInputLen {
		return nil, ErrPayloadTooShort
	}

	impl, moduleID, err := r.registry.Resolve(caller)
	if err != nil {
		r.log.Debug("dispatch refused", "caller", caller, "err", err)
		return nil, err
	}

	h := r.handlers[impl]
	if h == nil {
		return nil, ErrNoHandler
	}

	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrReentrancyDetected
	}
	defer r.busy.Store(false)

	r.log.Debug("dispatch", "caller", caller, "module", moduleID, "impl", impl)
	return h.Run(r.state, caller, input)
}

// AppendCaller suffixes [input] with [caller]'s identity. Proxies and
// trusted senders call this before forwarding.
func AppendCaller(input []byte, caller common.Address) []byte {
	out := make([]byte, 0, len(input)+common.AddressLength)
	out = append(out, input...)
	return append(out, caller.Bytes()...)
}

// SplitCaller strips the trailing identity from dispatch input,
// returning the bare payload and the original caller.
func SplitCaller(input []byte) ([]byte, common.Address, error) {
	if len(input) < MinInputLen {
		return nil, common.Address{}, ErrPayloadTooShort
	}
	cut := len(input) - common.AddressLength
	return input[:cut], common.BytesToAddress(input[cut:]), nil
}
