// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/crossvault/pending"
	"github.com/luxfi/crossvault/position"
	"github.com/luxfi/crossvault/vault"
	"github.com/luxfi/crossvault/vaultreg"
)

// State is the shared arena every module implementation operates on.
// Upgrading a module swaps the code behind its proxy; the state stays
// here and survives the swap.
type State struct {
	Positions *position.Store
	Pending   *pending.Store
	Vaults    *vaultreg.Registry
	Shares    *vault.VaultSet
	Ledger    *vault.AssetLedger

	// slots is scratch key-value storage for module-private state that
	// has no dedicated store.
	slots map[common.Hash][]byte
	mu    sync.RWMutex
}

// NewState creates the arena with all stores backed by [db].
func NewState(db database.Database, vaults *vaultreg.Registry) *State {
	return &State{
		Positions: position.NewStore(db),
		Pending:   pending.NewStore(db),
		Vaults:    vaults,
		Shares:    vault.NewVaultSet(),
		Ledger:    vault.NewAssetLedger(),
		slots:     make(map[common.Hash][]byte),
	}
}

// GetSlot returns the scratch value under [key].
func (s *State) GetSlot(key common.Hash) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.slots[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

// SetSlot stores [value] under [key]. A nil value clears the slot.
func (s *State) SetSlot(key common.Hash, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value == nil {
		delete(s.slots, key)
		return
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.slots[key] = v
}
