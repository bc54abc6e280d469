// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"bytes"
	"errors"
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/crossvault/registry"
	"github.com/luxfi/crossvault/roles"
	"github.com/luxfi/crossvault/vaultreg"
)

var (
	admin     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	installer = common.HexToAddress("0x2222222222222222222222222222222222222222")
	implV1    = common.HexToAddress("0xAAAA00000000000000000000000000000000AAAA")
	implV2    = common.HexToAddress("0xBBBB00000000000000000000000000000000BBBB")
	user      = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

// echoHandler records invocations and echoes what it saw.
type echoHandler struct {
	calls  int
	caller common.Address
	input  []byte
	err    error
}

func (h *echoHandler) Run(_ *State, caller common.Address, input []byte) ([]byte, error) {
	h.calls++
	h.caller = caller
	h.input = input
	if h.err != nil {
		return nil, h.err
	}
	return append([]byte("echo:"), input...), nil
}

func newTestRouter(t *testing.T) (*Router, *registry.Registry) {
	t.Helper()
	auth := roles.NewAuthority(admin)
	if err := auth.Grant(admin, installer, roles.RoleInstaller); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	reg := registry.New(auth)
	state := NewState(memdb.New(), vaultreg.New(auth))
	return New(reg, state, nil), reg
}

func payload(selector byte) []byte {
	return AppendCaller([]byte{selector, 0, 0, 0}, user)
}

// TestDispatch tests the happy path through proxy resolution
func TestDispatch(t *testing.T) {
	r, reg := newTestRouter(t)
	h := &echoHandler{}
	r.Bind(implV1, h)
	rec, _ := reg.Install(installer, 7, implV1, true)

	in := payload(0x01)
	out, err := r.Dispatch(rec.Proxy, in)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if h.calls != 1 {
		t.Fatalf("Expected one handler invocation, got %d", h.calls)
	}
	if !bytes.Equal(out, append([]byte("echo:"), in...)) {
		t.Error("Return bytes not propagated verbatim")
	}
	if !bytes.Equal(h.input, in) {
		t.Error("Input bytes not passed verbatim")
	}
}

// TestDispatchUnknownCaller tests fail-closed refusal before any
// handler runs
func TestDispatchUnknownCaller(t *testing.T) {
	r, reg := newTestRouter(t)
	h := &echoHandler{}
	r.Bind(implV1, h)
	_, _ = reg.Install(installer, 7, implV1, true)

	stranger := common.HexToAddress("0x9999999999999999999999999999999999999999")
	if _, err := r.Dispatch(stranger, payload(0x01)); err != registry.ErrUnknownModule {
		t.Errorf("Expected ErrUnknownModule, got %v", err)
	}
	if h.calls != 0 {
		t.Error("Handler must not run for unknown caller")
	}
}

// TestDispatchPayloadTooShort tests the minimum-length check
func TestDispatchPayloadTooShort(t *testing.T) {
	r, reg := newTestRouter(t)
	rec, _ := reg.Install(installer, 7, implV1, true)
	r.Bind(implV1, &echoHandler{})

	if _, err := r.Dispatch(rec.Proxy, []byte{1, 2, 3}); err != ErrPayloadTooShort {
		t.Errorf("Expected ErrPayloadTooShort, got %v", err)
	}
	// Selector without identity is still too short
	if _, err := r.Dispatch(rec.Proxy, []byte{1, 2, 3, 4}); err != ErrPayloadTooShort {
		t.Errorf("Expected ErrPayloadTooShort for bare selector, got %v", err)
	}
}

// TestDispatchErrorPropagation tests verbatim error forwarding
func TestDispatchErrorPropagation(t *testing.T) {
	r, reg := newTestRouter(t)
	boom := errors.New("boom")
	r.Bind(implV1, &echoHandler{err: boom})
	rec, _ := reg.Install(installer, 7, implV1, true)

	if _, err := r.Dispatch(rec.Proxy, payload(0x01)); err != boom {
		t.Errorf("Expected handler error verbatim, got %v", err)
	}
}

// TestDispatchReentrancy tests that a handler cannot re-enter
func TestDispatchReentrancy(t *testing.T) {
	r, reg := newTestRouter(t)
	rec, _ := reg.Install(installer, 7, implV1, true)

	var nestedErr error
	r.Bind(implV1, handlerFunc(func(_ *State, _ common.Address, _ []byte) ([]byte, error) {
		_, nestedErr = r.Dispatch(rec.Proxy, payload(0x02))
		return nil, nil
	}))

	if _, err := r.Dispatch(rec.Proxy, payload(0x01)); err != nil {
		t.Fatalf("Outer dispatch failed: %v", err)
	}
	if nestedErr != ErrReentrancyDetected {
		t.Errorf("Expected ErrReentrancyDetected on nested dispatch, got %v", nestedErr)
	}

	// The guard is released after the outer frame returns
	r.Bind(implV1, &echoHandler{})
	if _, err := r.Dispatch(rec.Proxy, payload(0x03)); err != nil {
		t.Errorf("Expected guard release, got %v", err)
	}
}

// TestUpgradeReroutesDispatch tests that after an upgrade the old
// implementation is never invoked again
func TestUpgradeReroutesDispatch(t *testing.T) {
	r, reg := newTestRouter(t)
	h1 := &echoHandler{}
	h2 := &echoHandler{}
	r.Bind(implV1, h1)
	r.Bind(implV2, h2)

	rec, _ := reg.Install(installer, 7, implV1, true)
	_, _ = r.Dispatch(rec.Proxy, payload(0x01))

	_, _ = reg.Install(installer, 7, implV2, true)
	_, _ = r.Dispatch(rec.Proxy, payload(0x02))
	_, _ = r.Dispatch(rec.Proxy, payload(0x03))

	if h1.calls != 1 {
		t.Errorf("Old implementation ran %d times after upgrade", h1.calls-1)
	}
	if h2.calls != 2 {
		t.Errorf("Expected new implementation to take over, got %d calls", h2.calls)
	}
}

// TestProxyCallAppendsIdentity tests the identity trailer
func TestProxyCallAppendsIdentity(t *testing.T) {
	r, reg := newTestRouter(t)
	h := &echoHandler{}
	r.Bind(implV1, h)
	rec, _ := reg.Install(installer, 7, implV1, true)

	proxy := NewModuleProxy(r, rec.Proxy)
	if _, err := proxy.Call(user, []byte{9, 9, 9, 9}); err != nil {
		t.Fatalf("Proxy call failed: %v", err)
	}

	body, caller, err := SplitCaller(h.input)
	if err != nil {
		t.Fatalf("SplitCaller failed: %v", err)
	}
	if caller != user {
		t.Errorf("Expected caller %s recovered, got %s", user, caller)
	}
	if !bytes.Equal(body, []byte{9, 9, 9, 9}) {
		t.Error("Payload body mangled by identity trailer")
	}
}

// TestStateSlots tests the scratch key-value surface
func TestStateSlots(t *testing.T) {
	r, _ := newTestRouter(t)
	key := common.HexToHash("0x01")

	if _, ok := r.State().GetSlot(key); ok {
		t.Error("Expected empty slot")
	}
	r.State().SetSlot(key, []byte{1, 2, 3})
	v, ok := r.State().GetSlot(key)
	if !ok || !bytes.Equal(v, []byte{1, 2, 3}) {
		t.Error("Slot round-trip failed")
	}

	// Returned value is a copy
	v[0] = 99
	again, _ := r.State().GetSlot(key)
	if again[0] != 1 {
		t.Error("Slot mutated through returned copy")
	}

	r.State().SetSlot(key, nil)
	if _, ok := r.State().GetSlot(key); ok {
		t.Error("Expected slot cleared")
	}
}

type handlerFunc func(*State, common.Address, []byte) ([]byte, error)

func (f handlerFunc) Run(s *State, caller common.Address, input []byte) ([]byte, error) {
	return f(s, caller, input)
}
