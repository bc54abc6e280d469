// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry holds the module wiring for the router: the mapping
// from logical module ids to implementation addresses, the per-module
// stable proxy addresses, and the trusted-sender table the dispatcher
// resolves callers through.
//
// Upgrade guarantee: a module's proxy address is derived once and never
// changes. Upgrading a module overwrites the implementation pointer
// only, so integrators that hardcoded the proxy address keep working.
package registry

import (
	"encoding/binary"
	"errors"
	"sort"
	"sync"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/crossvault/roles"
)

// ReservedModuleID is never assignable; trusted-sender records carrying
// it are untrusted and dispatch fails closed on them.
const ReservedModuleID uint32 = 0

var (
	ErrInvalidModuleID        = errors.New("module id 0 is reserved")
	ErrZeroImplementation     = errors.New("zero implementation address")
	ErrUnknownModule          = errors.New("caller resolves to no module implementation")
	ErrImplementationMismatch = errors.New("fixed implementation does not belong to module")
	ErrSenderExists           = errors.New("trusted sender already registered")
	ErrUnknownSender          = errors.New("trusted sender not registered")
)

var proxyAddressPrefix = []byte("crossvault.proxy.v1")

// ModuleRecord describes one installed module.
type ModuleRecord struct {
	ID             uint32
	Implementation common.Address
	// Proxy is the stable forwarding address, or the zero address for
	// modules that never requested one.
	Proxy common.Address
}

// TrustedSenderRecord maps a caller address to the module that handles
// its calls. A non-zero FixedImplementation short-circuits the registry
// lookup on the dispatch hot path.
type TrustedSenderRecord struct {
	Caller              common.Address
	ModuleID            uint32
	FixedImplementation common.Address
}

// Registry owns the module table and the trusted-sender table. Writes
// are gated on roles.RoleInstaller; reads are unrestricted.
type Registry struct {
	authority *roles.Authority
	modules   map[uint32]*ModuleRecord
	trusted   map[common.Address]*TrustedSenderRecord
	mu        sync.RWMutex
}

// New creates an empty registry gated by [authority].
func New(authority *roles.Authority) *Registry {
	return &Registry{
		authority: authority,
		modules:   make(map[uint32]*ModuleRecord),
		trusted:   make(map[common.Address]*TrustedSenderRecord),
	}
}

// ProxyAddress derives the stable proxy address for [moduleID]. The
// derivation stands in for CREATE2: same id, same address, forever.
func ProxyAddress(moduleID uint32) common.Address {
	data := make([]byte, 0, len(proxyAddressPrefix)+4)
	data = append(data, proxyAddressPrefix...)
	data = binary.BigEndian.AppendUint32(data, moduleID)
	return common.BytesToAddress(crypto.Keccak256(data)[12:])
}

// Install registers [implementation] for [moduleID], or upgrades the
// module in place if the id is already installed. When [wantProxy] is
// set and the module has no proxy yet, a stable proxy address is
// derived, recorded, and registered as a trusted sender with the
// fixed-implementation shortcut. An existing proxy is never re-pointed.
func (r *Registry) Install(caller common.Address, moduleID uint32, implementation common.Address, wantProxy bool) (ModuleRecord, error) {
	if !r.authority.HasRole(caller, roles.RoleInstaller) {
		return ModuleRecord{}, roles.ErrUnauthorized
	}
	if moduleID == ReservedModuleID {
		return ModuleRecord{}, ErrInvalidModuleID
	}
	if implementation == (common.Address{}) {
		return ModuleRecord{}, ErrZeroImplementation
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.modules[moduleID]
	if rec == nil {
		rec = &ModuleRecord{ID: moduleID}
		r.modules[moduleID] = rec
	}
	rec.Implementation = implementation

	if wantProxy && rec.Proxy == (common.Address{}) {
		rec.Proxy = ProxyAddress(moduleID)
		r.trusted[rec.Proxy] = &TrustedSenderRecord{
			Caller:              rec.Proxy,
			ModuleID:            moduleID,
			FixedImplementation: implementation,
		}
	}

	// The fixed-implementation shortcut follows the upgrade so stale
	// implementations are never dispatched again.
	for _, ts := range r.trusted {
		if ts.ModuleID == moduleID && ts.FixedImplementation != (common.Address{}) {
			ts.FixedImplementation = implementation
		}
	}

	return *rec, nil
}

// Resolve maps a caller address to the implementation that handles it.
// Unknown callers and callers recorded with the reserved module id fail
// closed with ErrUnknownModule before any delegation can happen.
func (r *Registry) Resolve(caller common.Address) (common.Address, uint32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ts := r.trusted[caller]
	if ts == nil || ts.ModuleID == ReservedModuleID {
		return common.Address{}, ReservedModuleID, ErrUnknownModule
	}

	if ts.FixedImplementation != (common.Address{}) {
		return ts.FixedImplementation, ts.ModuleID, nil
	}

	rec := r.modules[ts.ModuleID]
	if rec == nil || rec.Implementation == (common.Address{}) {
		return common.Address{}, ReservedModuleID, ErrUnknownModule
	}
	return rec.Implementation, ts.ModuleID, nil
}

// SetTrustedSender records [sender] as handled by [moduleID]. A
// non-zero [fixedImplementation] must be the module's current
// implementation; it is rejected otherwise.
func (r *Registry) SetTrustedSender(caller, sender common.Address, moduleID uint32, fixedImplementation common.Address) error {
	if !r.authority.HasRole(caller, roles.RoleInstaller) {
		return roles.ErrUnauthorized
	}
	if moduleID == ReservedModuleID {
		return ErrInvalidModuleID
	}
	if sender == (common.Address{}) {
		return ErrZeroImplementation
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.modules[moduleID]
	if rec == nil {
		return ErrUnknownModule
	}
	if fixedImplementation != (common.Address{}) && fixedImplementation != rec.Implementation {
		return ErrImplementationMismatch
	}
	if existing := r.trusted[sender]; existing != nil {
		return ErrSenderExists
	}

	r.trusted[sender] = &TrustedSenderRecord{
		Caller:              sender,
		ModuleID:            moduleID,
		FixedImplementation: fixedImplementation,
	}
	return nil
}

// RevokeTrustedSender removes [sender] from the trusted table. This is
// the only way a trusted-sender record goes away.
func (r *Registry) RevokeTrustedSender(caller, sender common.Address) error {
	if !r.authority.HasRole(caller, roles.RoleInstaller) {
		return roles.ErrUnauthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.trusted[sender] == nil {
		return ErrUnknownSender
	}
	delete(r.trusted, sender)
	return nil
}

// ModuleIDToImplementation returns the current implementation for
// [moduleID]. Read path: no side effects, no access restriction.
func (r *Registry) ModuleIDToImplementation(moduleID uint32) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := r.modules[moduleID]
	if rec == nil {
		return common.Address{}, false
	}
	return rec.Implementation, true
}

// ModuleIDToProxy returns the stable proxy address for [moduleID], or
// false if the module has none.
func (r *Registry) ModuleIDToProxy(moduleID uint32) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := r.modules[moduleID]
	if rec == nil || rec.Proxy == (common.Address{}) {
		return common.Address{}, false
	}
	return rec.Proxy, true
}

// TrustedSender returns the record for [caller], if any.
func (r *Registry) TrustedSender(caller common.Address) (TrustedSenderRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ts := r.trusted[caller]
	if ts == nil {
		return TrustedSenderRecord{}, false
	}
	return *ts, true
}

// InstalledModules returns all module records sorted by id for
// deterministic iteration.
func (r *Registry) InstalledModules() []ModuleRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModuleRecord, 0, len(r.modules))
	for _, rec := range r.modules {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
