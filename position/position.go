// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package position stores cross-chain share positions keyed by their
// derived position key. Records are never physically deleted; a
// position that reaches zero shares is deactivated and kept for the
// audit trail.
package position

import (
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
)

var (
	ErrPositionNotFound   = errors.New("position not found")
	ErrInvalidShares      = errors.New("share amount must be positive")
	ErrInsufficientShares = errors.New("insufficient unlocked shares")
	ErrInsufficientLocked = errors.New("insufficient locked shares")
)

// Position is one owner's claim on a destination vault. Shares counts
// freely usable shares; Locked counts shares pessimistically reserved
// by in-flight withdrawals.
type Position struct {
	Owner            common.Address `json:"owner"`
	SourceChain      uint32         `json:"sourceChain"`
	DestinationChain uint32         `json:"destinationChain"`
	DestinationVault common.Address `json:"destinationVault"`
	Shares           *big.Int       `json:"shares"`
	Locked           *big.Int       `json:"locked"`
	Active           bool           `json:"active"`
	Timestamp        uint64         `json:"timestamp"`
}

// Store persists positions write-through to the backing database so
// state survives restarts. All mutation goes through the store; Get
// hands out copies.
type Store struct {
	db    database.Database
	cache map[common.Hash]*Position
	clock func() uint64
	mu    sync.RWMutex
}

// NewStore creates a position store on top of [db].
func NewStore(db database.Database) *Store {
	return &Store{
		db:    db,
		cache: make(map[common.Hash]*Position),
		clock: func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetClock overrides the timestamp source. Tests only.
func (s *Store) SetClock(clock func() uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// Get returns a copy of the position under [key]. Takes the write
// lock because a database miss populates the cache.
func (s *Store) Get(key common.Hash) (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load(key)
	if err != nil {
		return Position{}, false
	}
	return copyPosition(p), true
}

// GetOrCreate returns the position under [key], creating an active
// zero-share record on first use.
func (s *Store) GetOrCreate(key common.Hash, owner common.Address, sourceChain, destChain uint32, destVault common.Address) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load(key)
	if err == nil {
		return copyPosition(p), nil
	}

	p = &Position{
		Owner:            owner,
		SourceChain:      sourceChain,
		DestinationChain: destChain,
		DestinationVault: destVault,
		Shares:           big.NewInt(0),
		Locked:           big.NewInt(0),
		Active:           true,
		Timestamp:        s.clock(),
	}
	if err := s.persist(key, p); err != nil {
		return Position{}, err
	}
	return copyPosition(p), nil
}

// AddShares credits [shares] to the position and refreshes its
// timestamp. The position must already exist.
func (s *Store) AddShares(key common.Hash, shares *big.Int) error {
	if shares == nil || shares.Sign() <= 0 {
		return ErrInvalidShares
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load(key)
	if err != nil {
		return err
	}

	p.Shares.Add(p.Shares, shares)
	p.Active = true
	p.Timestamp = s.clock()
	return s.persist(key, p)
}

// LockShares moves [shares] from the free balance to the locked
// balance. This is the pessimistic lock taken at withdrawal initiation.
func (s *Store) LockShares(key common.Hash, shares *big.Int) error {
	if shares == nil || shares.Sign() <= 0 {
		return ErrInvalidShares
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load(key)
	if err != nil {
		return err
	}
	if p.Shares.Cmp(shares) < 0 {
		return ErrInsufficientShares
	}

	p.Shares.Sub(p.Shares, shares)
	p.Locked.Add(p.Locked, shares)
	p.Timestamp = s.clock()
	return s.persist(key, p)
}

// UnlockShares returns [shares] from the locked balance to the free
// balance. Used when a withdrawal fails or expires.
func (s *Store) UnlockShares(key common.Hash, shares *big.Int) error {
	if shares == nil || shares.Sign() <= 0 {
		return ErrInvalidShares
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load(key)
	if err != nil {
		return err
	}
	if p.Locked.Cmp(shares) < 0 {
		return ErrInsufficientLocked
	}

	p.Locked.Sub(p.Locked, shares)
	p.Shares.Add(p.Shares, shares)
	p.Timestamp = s.clock()
	return s.persist(key, p)
}

// BurnLocked destroys [shares] from the locked balance on successful
// withdrawal settlement. A position that reaches zero is deactivated
// but kept.
func (s *Store) BurnLocked(key common.Hash, shares *big.Int) error {
	if shares == nil || shares.Sign() <= 0 {
		return ErrInvalidShares
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load(key)
	if err != nil {
		return err
	}
	if p.Locked.Cmp(shares) < 0 {
		return ErrInsufficientLocked
	}

	p.Locked.Sub(p.Locked, shares)
	if p.Shares.Sign() == 0 && p.Locked.Sign() == 0 {
		p.Active = false
	}
	p.Timestamp = s.clock()
	return s.persist(key, p)
}

// load returns the live record for [key], consulting the cache first
// and falling back to the database. Callers hold s.mu.
func (s *Store) load(key common.Hash) (*Position, error) {
	if p, ok := s.cache[key]; ok {
		return p, nil
	}

	raw, err := s.db.Get(key.Bytes())
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}

	p := new(Position)
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, err
	}
	s.cache[key] = p
	return p, nil
}

func (s *Store) persist(key common.Hash, p *Position) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.db.Put(key.Bytes(), raw); err != nil {
		return err
	}
	s.cache[key] = p
	return nil
}

func copyPosition(p *Position) Position {
	out := *p
	out.Shares = new(big.Int).Set(p.Shares)
	out.Locked = new(big.Int).Set(p.Locked)
	return out
}
