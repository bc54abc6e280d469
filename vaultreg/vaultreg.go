// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vaultreg tracks which destination vaults the protocol will
// settle against. Deposits and withdrawals check the active flag at
// initiation; flipping a vault inactive stops new flow without
// touching in-flight operations.
package vaultreg

import (
	"errors"
	"sync"
	"time"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/crossvault/keys"
	"github.com/luxfi/crossvault/roles"
)

var (
	ErrVaultExists   = errors.New("vault already registered")
	ErrVaultNotFound = errors.New("vault not registered")
)

// VaultInfo describes one registered destination vault.
type VaultInfo struct {
	VaultAddress common.Address
	Domain       uint32
	LastUpdate   uint64
	IsActive     bool
}

// Registry is the vault table, keyed by the derived vault key. Writes
// are gated on roles.RoleVaultRegistry.
type Registry struct {
	authority *roles.Authority
	vaults    map[common.Hash]*VaultInfo
	clock     func() uint64
	mu        sync.RWMutex
}

// New creates an empty vault registry gated by [authority].
func New(authority *roles.Authority) *Registry {
	return &Registry{
		authority: authority,
		vaults:    make(map[common.Hash]*VaultInfo),
		clock:     func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetClock overrides the timestamp source. Tests only.
func (r *Registry) SetClock(clock func() uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
}

// Register records [vault] on [chainID] as active. Re-registering a
// known vault is rejected; use SetActive to flip the flag.
func (r *Registry) Register(caller common.Address, chainID uint32, vault common.Address) (common.Hash, error) {
	if !r.authority.HasRole(caller, roles.RoleVaultRegistry) {
		return common.Hash{}, roles.ErrUnauthorized
	}
	key, err := keys.VaultKey(chainID, vault)
	if err != nil {
		return common.Hash{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vaults[key] != nil {
		return common.Hash{}, ErrVaultExists
	}
	r.vaults[key] = &VaultInfo{
		VaultAddress: vault,
		Domain:       chainID,
		LastUpdate:   r.clock(),
		IsActive:     true,
	}
	return key, nil
}

// SetActive flips the active flag of a registered vault.
func (r *Registry) SetActive(caller common.Address, chainID uint32, vault common.Address, active bool) error {
	if !r.authority.HasRole(caller, roles.RoleVaultRegistry) {
		return roles.ErrUnauthorized
	}
	key, err := keys.VaultKey(chainID, vault)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	info := r.vaults[key]
	if info == nil {
		return ErrVaultNotFound
	}
	info.IsActive = active
	info.LastUpdate = r.clock()
	return nil
}

// IsVaultActive reports whether [vault] on [chainID] is registered and
// active. Invalid inputs read as inactive.
func (r *Registry) IsVaultActive(chainID uint32, vault common.Address) bool {
	key, err := keys.VaultKey(chainID, vault)
	if err != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	info := r.vaults[key]
	return info != nil && info.IsActive
}

// ResolveVault returns the record for [vault] on [chainID].
func (r *Registry) ResolveVault(chainID uint32, vault common.Address) (VaultInfo, error) {
	key, err := keys.VaultKey(chainID, vault)
	if err != nil {
		return VaultInfo{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	info := r.vaults[key]
	if info == nil {
		return VaultInfo{}, ErrVaultNotFound
	}
	return *info, nil
}
