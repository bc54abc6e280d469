// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vault implements the share accounting for destination
// vaults: asset<->share conversion at the vault's current exchange
// rate, plus the asset ledger the settlement engine debits and credits.
package vault

import (
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
)

var (
	ErrZeroShares    = errors.New("conversion yields zero shares")
	ErrZeroAssets    = errors.New("conversion yields zero assets")
	ErrVaultNotFound = errors.New("no share vault for key")
	ErrEmptyVault    = errors.New("vault has no shares outstanding")
	ErrInvalidAmount = errors.New("amount must be positive")
)

// ShareVault is one destination vault's share ledger. The exchange
// rate is totalAssets/totalShares; the first deposit mints 1:1.
type ShareVault struct {
	asset       common.Address
	decimals    uint8
	totalShares *big.Int
	totalAssets *big.Int
	mu          sync.RWMutex
}

// NewShareVault creates an empty vault denominated in [asset].
func NewShareVault(asset common.Address, decimals uint8) *ShareVault {
	return &ShareVault{
		asset:       asset,
		decimals:    decimals,
		totalShares: big.NewInt(0),
		totalAssets: big.NewInt(0),
	}
}

// Asset returns the vault's underlying asset address.
func (v *ShareVault) Asset() common.Address { return v.asset }

// Decimals returns the share token decimals.
func (v *ShareVault) Decimals() uint8 { return v.decimals }

// TotalShares returns the outstanding share supply.
func (v *ShareVault) TotalShares() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return new(big.Int).Set(v.totalShares)
}

// TotalAssets returns the assets under management.
func (v *ShareVault) TotalAssets() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return new(big.Int).Set(v.totalAssets)
}

// PreviewShares computes the shares [assets] would mint at the current
// rate without booking anything.
func (v *ShareVault) PreviewShares(assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.totalShares.Sign() == 0 {
		return new(big.Int).Set(assets), nil
	}
	shares := new(big.Int).Mul(assets, v.totalShares)
	shares.Div(shares, v.totalAssets)
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}
	return shares, nil
}

// ConvertToShares mints shares for [assets] at the current rate and
// books both sides. The first deposit into an empty vault is 1:1.
func (v *ShareVault) ConvertToShares(assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	var shares *big.Int
	if v.totalShares.Sign() == 0 {
		shares = new(big.Int).Set(assets)
	} else {
		// shares = assets * totalShares / totalAssets
		shares = new(big.Int).Mul(assets, v.totalShares)
		shares.Div(shares, v.totalAssets)
	}
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}

	v.totalShares.Add(v.totalShares, shares)
	v.totalAssets.Add(v.totalAssets, assets)
	return shares, nil
}

// ConvertToAssets burns [shares] at the current rate and books both
// sides.
func (v *ShareVault) ConvertToAssets(shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.totalShares.Sign() == 0 {
		return nil, ErrEmptyVault
	}
	if v.totalShares.Cmp(shares) < 0 {
		return nil, ErrZeroAssets
	}

	// assets = shares * totalAssets / totalShares
	assets := new(big.Int).Mul(shares, v.totalAssets)
	assets.Div(assets, v.totalShares)
	if assets.Sign() == 0 {
		return nil, ErrZeroAssets
	}

	v.totalShares.Sub(v.totalShares, shares)
	v.totalAssets.Sub(v.totalAssets, assets)
	return assets, nil
}

// Credit adds [assets] to the vault without minting shares, moving the
// exchange rate in favor of existing holders. Yield simulation in
// tests.
func (v *ShareVault) Credit(assets *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.totalAssets.Add(v.totalAssets, assets)
}

// VaultSet maps vault keys to their share ledgers.
type VaultSet struct {
	vaults map[common.Hash]*ShareVault
	mu     sync.RWMutex
}

// NewVaultSet creates an empty vault set.
func NewVaultSet() *VaultSet {
	return &VaultSet{vaults: make(map[common.Hash]*ShareVault)}
}

// Add registers [v] under [key], replacing any previous entry.
func (s *VaultSet) Add(key common.Hash, v *ShareVault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vaults[key] = v
}

// Get returns the vault under [key].
func (s *VaultSet) Get(key common.Hash) (*ShareVault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.vaults[key]
	if v == nil {
		return nil, ErrVaultNotFound
	}
	return v, nil
}

// PreviewShares previews through the vault under [key].
func (s *VaultSet) PreviewShares(key common.Hash, assets *big.Int) (*big.Int, error) {
	v, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	return v.PreviewShares(assets)
}

// ConvertToShares converts through the vault under [key].
func (s *VaultSet) ConvertToShares(key common.Hash, assets *big.Int) (*big.Int, error) {
	v, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	return v.ConvertToShares(assets)
}

// ConvertToAssets converts through the vault under [key].
func (s *VaultSet) ConvertToAssets(key common.Hash, shares *big.Int) (*big.Int, error) {
	v, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	return v.ConvertToAssets(shares)
}

// Asset returns the underlying asset of the vault under [key].
func (s *VaultSet) Asset(key common.Hash) (common.Address, error) {
	v, err := s.Get(key)
	if err != nil {
		return common.Address{}, err
	}
	return v.Asset(), nil
}
