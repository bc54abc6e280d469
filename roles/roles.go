// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package roles implements the capability-bit authority that gates every
// privileged mutation in the protocol. Each principal carries a bitmask
// of roles; a failed or false check is an unconditional denial.
package roles

import (
	"errors"
	"sync"

	"github.com/luxfi/geth/common"
)

// Role is a single capability bit.
type Role uint64

const (
	// RoleAdmin may grant and revoke roles.
	RoleAdmin Role = 1 << iota
	// RoleInstaller may install and upgrade modules.
	RoleInstaller
	// RoleVaultRegistry may register vaults and flip their active flag.
	RoleVaultRegistry
	// RoleTransport may register remote routers and signer-set members.
	RoleTransport
)

var (
	ErrUnauthorized = errors.New("caller lacks required role")
	ErrZeroAddress  = errors.New("zero address principal")
)

// Authority is the process-wide capability registry. It lives for the
// program lifetime and is mutated only through the role-gated API.
type Authority struct {
	caps map[common.Address]Role
	mu   sync.RWMutex
}

// NewAuthority creates an authority with [admin] holding RoleAdmin.
func NewAuthority(admin common.Address) *Authority {
	a := &Authority{caps: make(map[common.Address]Role)}
	if admin != (common.Address{}) {
		a.caps[admin] = RoleAdmin
	}
	return a
}

// HasRole reports whether [addr] holds every bit in [role].
func (a *Authority) HasRole(addr common.Address, role Role) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.caps[addr]&role == role
}

// RolesOf returns the full capability mask of [addr].
func (a *Authority) RolesOf(addr common.Address) Role {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.caps[addr]
}

// Grant adds [role] bits to [addr]. The caller must hold RoleAdmin.
func (a *Authority) Grant(caller, addr common.Address, role Role) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.caps[caller]&RoleAdmin == 0 {
		return ErrUnauthorized
	}
	if addr == (common.Address{}) {
		return ErrZeroAddress
	}

	a.caps[addr] |= role
	return nil
}

// Revoke clears [role] bits from [addr]. The caller must hold RoleAdmin.
func (a *Authority) Revoke(caller, addr common.Address, role Role) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.caps[caller]&RoleAdmin == 0 {
		return ErrUnauthorized
	}

	remaining := a.caps[addr] &^ role
	if remaining == 0 {
		delete(a.caps, addr)
	} else {
		a.caps[addr] = remaining
	}
	return nil
}
