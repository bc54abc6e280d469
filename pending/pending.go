// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pending tracks in-flight cross-chain deposits and withdrawals
// keyed by their commitment hash. An operation moves Pending ->
// {Completed, Failed, Expired} exactly once; terminal records are kept.
//
// Completion is two-phase: the application-level status and the
// transport receipt are tracked independently, and funds are released
// only once both have landed.
package pending

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
)

// OpStatus is the settlement state of a pending operation.
type OpStatus uint8

const (
	StatusNone OpStatus = iota
	StatusPending
	StatusCompleted
	StatusFailed
	StatusExpired
)

// Terminal reports whether the status can never change again.
func (s OpStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

func (s OpStatus) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// OpKind distinguishes the two pending-operation tables.
type OpKind uint8

const (
	KindDeposit OpKind = iota + 1
	KindWithdrawal
)

var (
	ErrDuplicateOperation        = errors.New("operation with this commitment already pending")
	ErrUnknownOrExpiredOperation = errors.New("operation unknown, terminal, or past deadline")
	ErrNotYetExpired             = errors.New("operation deadline has not passed")
)

// PendingDeposit is a deposit awaiting confirmation from the
// destination chain.
type PendingDeposit struct {
	Depositor          common.Address `json:"depositor"`
	Asset              common.Address `json:"asset"`
	Amount             *big.Int       `json:"amount"`
	MinShares          *big.Int       `json:"minShares"`
	DestinationChain   uint32         `json:"destinationChain"`
	DestinationVault   common.Address `json:"destinationVault"`
	PositionKey        common.Hash    `json:"positionKey"`
	Nonce              uint64         `json:"nonce"`
	Deadline           uint64         `json:"deadline"`
	Status             OpStatus       `json:"status"`
	TransportCompleted bool           `json:"transportCompleted"`
}

// PendingWithdrawal is a withdrawal whose shares are locked until the
// destination chain confirms or the deadline passes.
type PendingWithdrawal struct {
	Owner              common.Address `json:"owner"`
	Asset              common.Address `json:"asset"`
	Shares             *big.Int       `json:"shares"`
	MinAmount          *big.Int       `json:"minAmount"`
	DestinationChain   uint32         `json:"destinationChain"`
	DestinationVault   common.Address `json:"destinationVault"`
	PositionKey        common.Hash    `json:"positionKey"`
	Nonce              uint64         `json:"nonce"`
	Deadline           uint64         `json:"deadline"`
	Status             OpStatus       `json:"status"`
	TransportCompleted bool           `json:"transportCompleted"`
}

// DepositCommitment derives the unique key for a deposit intent. The
// nonce salts otherwise-identical intents apart.
func DepositCommitment(depositor common.Address, asset common.Address, amount *big.Int, destChain uint32, destVault common.Address, nonce uint64) common.Hash {
	return commitment(byte(KindDeposit), depositor, asset, amount, destChain, destVault, nonce)
}

// WithdrawalCommitment derives the unique key for a withdrawal intent.
func WithdrawalCommitment(owner common.Address, asset common.Address, shares *big.Int, destChain uint32, destVault common.Address, nonce uint64) common.Hash {
	return commitment(byte(KindWithdrawal), owner, asset, shares, destChain, destVault, nonce)
}

func commitment(kind byte, actor, asset common.Address, amount *big.Int, destChain uint32, destVault common.Address, nonce uint64) common.Hash {
	h := sha256.New()
	h.Write([]byte{kind})
	h.Write(actor.Bytes())
	h.Write(asset.Bytes())
	h.Write(common.BigToHash(amount).Bytes())
	var chain [4]byte
	binary.BigEndian.PutUint32(chain[:], destChain)
	h.Write(chain[:])
	h.Write(destVault.Bytes())
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	h.Write(n[:])
	return common.BytesToHash(h.Sum(nil))
}

// Store is the commitment-keyed table of in-flight operations, written
// through to the backing database.
type Store struct {
	db          database.Database
	deposits    map[common.Hash]*PendingDeposit
	withdrawals map[common.Hash]*PendingWithdrawal
	mu          sync.Mutex
}

// NewStore creates a pending-operation store on top of [db].
func NewStore(db database.Database) *Store {
	return &Store{
		db:          db,
		deposits:    make(map[common.Hash]*PendingDeposit),
		withdrawals: make(map[common.Hash]*PendingWithdrawal),
	}
}

// PutDeposit records a new pending deposit. A live (non-terminal)
// record under the same commitment is a duplicate.
func (s *Store) PutDeposit(commitment common.Hash, dep *PendingDeposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.loadDeposit(commitment); existing != nil && !existing.Status.Terminal() {
		return ErrDuplicateOperation
	}
	dep.Status = StatusPending
	return s.persistDeposit(commitment, dep)
}

// PutWithdrawal records a new pending withdrawal.
func (s *Store) PutWithdrawal(commitment common.Hash, w *PendingWithdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.loadWithdrawal(commitment); existing != nil && !existing.Status.Terminal() {
		return ErrDuplicateOperation
	}
	w.Status = StatusPending
	return s.persistWithdrawal(commitment, w)
}

// GetDeposit returns a copy of the deposit under [commitment].
func (s *Store) GetDeposit(commitment common.Hash) (PendingDeposit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dep := s.loadDeposit(commitment)
	if dep == nil {
		return PendingDeposit{}, false
	}
	return copyDeposit(dep), true
}

// GetWithdrawal returns a copy of the withdrawal under [commitment].
func (s *Store) GetWithdrawal(commitment common.Hash) (PendingWithdrawal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.loadWithdrawal(commitment)
	if w == nil {
		return PendingWithdrawal{}, false
	}
	return copyWithdrawal(w), true
}

// BeginSettleDeposit returns the live deposit under [commitment] if it
// is still pending and inside its deadline. Absent, terminal, and
// past-deadline records are indistinguishable to the caller.
func (s *Store) BeginSettleDeposit(commitment common.Hash, now uint64) (PendingDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dep := s.loadDeposit(commitment)
	if dep == nil || dep.Status != StatusPending || now > dep.Deadline {
		return PendingDeposit{}, ErrUnknownOrExpiredOperation
	}
	return copyDeposit(dep), nil
}

// BeginSettleWithdrawal is BeginSettleDeposit for withdrawals.
func (s *Store) BeginSettleWithdrawal(commitment common.Hash, now uint64) (PendingWithdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.loadWithdrawal(commitment)
	if w == nil || w.Status != StatusPending || now > w.Deadline {
		return PendingWithdrawal{}, ErrUnknownOrExpiredOperation
	}
	return copyWithdrawal(w), nil
}

// Complete moves a pending operation to StatusCompleted.
func (s *Store) Complete(kind OpKind, commitment common.Hash) error {
	return s.finish(kind, commitment, StatusCompleted)
}

// Fail moves a pending operation to StatusFailed.
func (s *Store) Fail(kind OpKind, commitment common.Hash) error {
	return s.finish(kind, commitment, StatusFailed)
}

func (s *Store) finish(kind OpKind, commitment common.Hash, status OpStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case KindDeposit:
		dep := s.loadDeposit(commitment)
		if dep == nil || dep.Status != StatusPending {
			return ErrUnknownOrExpiredOperation
		}
		dep.Status = status
		return s.persistDeposit(commitment, dep)
	case KindWithdrawal:
		w := s.loadWithdrawal(commitment)
		if w == nil || w.Status != StatusPending {
			return ErrUnknownOrExpiredOperation
		}
		w.Status = status
		return s.persistWithdrawal(commitment, w)
	default:
		return ErrUnknownOrExpiredOperation
	}
}

// SetTransportCompleted marks the transport receipt for [commitment].
// Idempotent; the record may be in any status when the receipt lands.
func (s *Store) SetTransportCompleted(kind OpKind, commitment common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case KindDeposit:
		dep := s.loadDeposit(commitment)
		if dep == nil {
			return ErrUnknownOrExpiredOperation
		}
		if dep.TransportCompleted {
			return nil
		}
		dep.TransportCompleted = true
		return s.persistDeposit(commitment, dep)
	case KindWithdrawal:
		w := s.loadWithdrawal(commitment)
		if w == nil {
			return ErrUnknownOrExpiredOperation
		}
		if w.TransportCompleted {
			return nil
		}
		w.TransportCompleted = true
		return s.persistWithdrawal(commitment, w)
	default:
		return ErrUnknownOrExpiredOperation
	}
}

// SweepDeposit expires a pending deposit whose deadline has passed.
// The returned flag is true only on the transition, so compensation
// runs exactly once.
func (s *Store) SweepDeposit(commitment common.Hash, now uint64) (PendingDeposit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dep := s.loadDeposit(commitment)
	if dep == nil {
		return PendingDeposit{}, false, ErrUnknownOrExpiredOperation
	}
	if dep.Status.Terminal() {
		return copyDeposit(dep), false, nil
	}
	if now <= dep.Deadline {
		return PendingDeposit{}, false, ErrNotYetExpired
	}
	dep.Status = StatusExpired
	if err := s.persistDeposit(commitment, dep); err != nil {
		return PendingDeposit{}, false, err
	}
	return copyDeposit(dep), true, nil
}

// SweepWithdrawal is SweepDeposit for withdrawals.
func (s *Store) SweepWithdrawal(commitment common.Hash, now uint64) (PendingWithdrawal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.loadWithdrawal(commitment)
	if w == nil {
		return PendingWithdrawal{}, false, ErrUnknownOrExpiredOperation
	}
	if w.Status.Terminal() {
		return copyWithdrawal(w), false, nil
	}
	if now <= w.Deadline {
		return PendingWithdrawal{}, false, ErrNotYetExpired
	}
	w.Status = StatusExpired
	if err := s.persistWithdrawal(commitment, w); err != nil {
		return PendingWithdrawal{}, false, err
	}
	return copyWithdrawal(w), true, nil
}

// Delete removes a record outright. Only used to compensate a failed
// initiation, before any message has left the chain.
func (s *Store) Delete(kind OpKind, commitment common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case KindDeposit:
		delete(s.deposits, commitment)
	case KindWithdrawal:
		delete(s.withdrawals, commitment)
	}
	return s.db.Delete(dbKey(kind, commitment))
}

func dbKey(kind OpKind, commitment common.Hash) []byte {
	return append([]byte{byte(kind)}, commitment.Bytes()...)
}

func nonceKey(actor common.Address) []byte {
	return append([]byte("nonce."), actor.Bytes()...)
}

// NextNonce allocates the next commitment salt for [actor]. The
// counter is persisted with the pending records it salts, so a restart
// cannot reuse a nonce against a surviving commitment.
func (s *Store) NextNonce(actor common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n uint64
	raw, err := s.db.Get(nonceKey(actor))
	switch {
	case err == nil:
		n = binary.BigEndian.Uint64(raw)
	case errors.Is(err, database.ErrNotFound):
	default:
		return 0, err
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n+1)
	if err := s.db.Put(nonceKey(actor), buf[:]); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) loadDeposit(commitment common.Hash) *PendingDeposit {
	if dep, ok := s.deposits[commitment]; ok {
		return dep
	}
	raw, err := s.db.Get(dbKey(KindDeposit, commitment))
	if err != nil {
		return nil
	}
	dep := new(PendingDeposit)
	if err := json.Unmarshal(raw, dep); err != nil {
		return nil
	}
	s.deposits[commitment] = dep
	return dep
}

func (s *Store) loadWithdrawal(commitment common.Hash) *PendingWithdrawal {
	if w, ok := s.withdrawals[commitment]; ok {
		return w
	}
	raw, err := s.db.Get(dbKey(KindWithdrawal, commitment))
	if err != nil {
		return nil
	}
	w := new(PendingWithdrawal)
	if err := json.Unmarshal(raw, w); err != nil {
		return nil
	}
	s.withdrawals[commitment] = w
	return w
}

func (s *Store) persistDeposit(commitment common.Hash, dep *PendingDeposit) error {
	raw, err := json.Marshal(dep)
	if err != nil {
		return err
	}
	if err := s.db.Put(dbKey(KindDeposit, commitment), raw); err != nil {
		return err
	}
	s.deposits[commitment] = dep
	return nil
}

func (s *Store) persistWithdrawal(commitment common.Hash, w *PendingWithdrawal) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return err
	}
	if err := s.db.Put(dbKey(KindWithdrawal, commitment), raw); err != nil {
		return err
	}
	s.withdrawals[commitment] = w
	return nil
}

func copyDeposit(dep *PendingDeposit) PendingDeposit {
	out := *dep
	out.Amount = new(big.Int).Set(dep.Amount)
	out.MinShares = new(big.Int).Set(dep.MinShares)
	return out
}

func copyWithdrawal(w *PendingWithdrawal) PendingWithdrawal {
	out := *w
	out.Shares = new(big.Int).Set(w.Shares)
	out.MinAmount = new(big.Int).Set(w.MinAmount)
	return out
}
