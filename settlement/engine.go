// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package settlement is the protocol core: it takes deposit and
// withdrawal intents on the source side, escrows funds or locks
// shares, and settles or compensates when the destination chain
// confirms, rejects, or goes silent past the deadline.
package settlement

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/crossvault/keys"
	"github.com/luxfi/crossvault/pending"
	"github.com/luxfi/crossvault/router"
	"github.com/luxfi/crossvault/transport"
)

var (
	// ErrInvalidParams aliases the keys-package sentinel so errors.Is
	// matches across the call stack.
	ErrInvalidParams = keys.ErrInvalidParams

	ErrVaultInactive     = errors.New("destination vault not registered or inactive")
	ErrAssetMismatch     = errors.New("asset does not match vault underlying")
	ErrSlippageExceeded  = errors.New("confirmed amount below minimum")
	ErrUnknownCommitment = errors.New("commitment matches no pending operation")
)

// Engine drives the settlement state machine over the shared router
// state. It implements transport.SettlementSink for the inbound side.
type Engine struct {
	state     *router.State
	transport *transport.Router
	fees      FeeConfig

	// self is the engine's escrow identity on the asset ledger;
	// collector receives fees.
	self      common.Address
	collector common.Address

	// ttl is the pending-operation deadline window in seconds.
	ttl   uint64
	clock func() uint64

	log log.Logger
	mu  sync.Mutex
}

// NewEngine creates a settlement engine over [state] and [tr].
func NewEngine(state *router.State, tr *transport.Router, self, collector common.Address, fees FeeConfig, ttl uint64, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	return &Engine{
		state:     state,
		transport: tr,
		fees:      fees,
		self:      self,
		collector: collector,
		ttl:       ttl,
		clock:     func() uint64 { return uint64(time.Now().Unix()) },
		log:       logger,
	}
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(clock func() uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
}

func (e *Engine) now() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock()
}

// nextNonce allocates a commitment salt through the pending store so
// counters survive restarts along with the records they salt.
func (e *Engine) nextNonce(actor common.Address) (uint64, error) {
	return e.state.Pending.NextNonce(actor)
}

// InitiateDeposit escrows [amount] of [asset] from [depositor] and
// emits a deposit intent toward [destChain]. The returned commitment
// identifies the operation for settlement, sweeping, and queries.
//
// Validation order: amount, vault liveness, asset match. Escrow is
// taken only after everything checks out, and rolled back if the
// intent cannot leave the chain.
func (e *Engine) InitiateDeposit(ctx context.Context, depositor, asset common.Address, amount, minShares *big.Int, destChain uint32, destVault common.Address) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 || minShares == nil || minShares.Sign() < 0 {
		return common.Hash{}, ErrInvalidParams
	}
	if !e.state.Vaults.IsVaultActive(destChain, destVault) {
		return common.Hash{}, ErrVaultInactive
	}

	vaultKey, err := keys.VaultKey(destChain, destVault)
	if err != nil {
		return common.Hash{}, err
	}
	underlying, err := e.state.Shares.Asset(vaultKey)
	if err != nil {
		return common.Hash{}, err
	}
	if underlying != asset {
		return common.Hash{}, ErrAssetMismatch
	}

	fee := e.fees.Calculate(amount)
	total := new(big.Int).Add(amount, fee)
	if err := e.state.Ledger.TransferFrom(asset, e.self, depositor, e.self, total); err != nil {
		return common.Hash{}, err
	}
	// Until the intent has left the chain, principal AND fee come back
	// on any abort. Nothing partial survives a failed initiation.
	refund := func() {
		_ = e.state.Ledger.Transfer(asset, e.self, depositor, total)
	}

	posKey, err := keys.PositionKey(depositor, e.transport.LocalDomain(), destChain, destVault)
	if err != nil {
		refund()
		return common.Hash{}, err
	}
	if _, err := e.state.Positions.GetOrCreate(posKey, depositor, e.transport.LocalDomain(), destChain, destVault); err != nil {
		refund()
		return common.Hash{}, err
	}

	nonce, err := e.nextNonce(depositor)
	if err != nil {
		refund()
		return common.Hash{}, err
	}
	commitment := pending.DepositCommitment(depositor, asset, amount, destChain, destVault, nonce)
	dep := &pending.PendingDeposit{
		Depositor:        depositor,
		Asset:            asset,
		Amount:           new(big.Int).Set(amount),
		MinShares:        new(big.Int).Set(minShares),
		DestinationChain: destChain,
		DestinationVault: destVault,
		PositionKey:      posKey,
		Nonce:            nonce,
		Deadline:         e.now() + e.ttl,
	}
	if err := e.state.Pending.PutDeposit(commitment, dep); err != nil {
		refund()
		return common.Hash{}, err
	}

	msg := &transport.Message{
		Kind:       transport.KindDepositIntent,
		DestDomain: destChain,
		Commitment: commitment,
		Amount:     amount,
		Sender:     depositor,
		Nonce:      nonce,
	}
	if err := e.transport.Send(ctx, msg); err != nil {
		// Nothing has left the chain: unwind the record and the escrow.
		_ = e.state.Pending.Delete(pending.KindDeposit, commitment)
		refund()
		return common.Hash{}, err
	}

	// The intent is out: the fee is earned, only the principal stays
	// refundable from here on.
	_ = e.state.Ledger.Transfer(asset, e.self, e.collector, fee)

	e.log.Info("deposit initiated", "depositor", depositor, "amount", amount, "dest", destChain, "commitment", commitment)
	return commitment, nil
}

// SettleDeposit handles the destination's confirmation of a deposit.
// The confirmed amount is converted to shares at the vault's current
// rate; falling short of the depositor's minimum fails the operation
// and refunds the escrowed principal.
func (e *Engine) SettleDeposit(commitment common.Hash, confirmedAmount *big.Int) error {
	if confirmedAmount == nil || confirmedAmount.Sign() <= 0 {
		return ErrInvalidParams
	}

	dep, err := e.state.Pending.BeginSettleDeposit(commitment, e.now())
	if err != nil {
		// Settled, expired, and never-seen are indistinguishable here.
		e.log.Debug("deposit confirmation dropped", "commitment", commitment, "err", err)
		return err
	}

	vaultKey, err := keys.VaultKey(dep.DestinationChain, dep.DestinationVault)
	if err != nil {
		return err
	}

	shares, err := e.state.Shares.PreviewShares(vaultKey, confirmedAmount)
	if err != nil || shares.Cmp(dep.MinShares) < 0 {
		if ferr := e.state.Pending.Fail(pending.KindDeposit, commitment); ferr != nil {
			return ferr
		}
		_ = e.state.Ledger.Transfer(dep.Asset, e.self, dep.Depositor, dep.Amount)
		e.log.Info("deposit failed on slippage", "commitment", commitment, "confirmed", confirmedAmount, "minShares", dep.MinShares)
		if err != nil {
			return err
		}
		return ErrSlippageExceeded
	}

	if _, err := e.state.Shares.ConvertToShares(vaultKey, confirmedAmount); err != nil {
		return err
	}
	if err := e.state.Positions.AddShares(dep.PositionKey, shares); err != nil {
		return err
	}
	if err := e.state.Pending.Complete(pending.KindDeposit, commitment); err != nil {
		return err
	}

	e.log.Info("deposit settled", "commitment", commitment, "shares", shares)
	return nil
}

// InitiateWithdrawal locks [shares] of the caller's position and emits
// a withdrawal intent. The lock is pessimistic: the shares cannot be
// double-spent while the destination decides.
func (e *Engine) InitiateWithdrawal(ctx context.Context, owner, asset common.Address, shares, minAmount *big.Int, destChain uint32, destVault common.Address) (common.Hash, error) {
	if shares == nil || shares.Sign() <= 0 || minAmount == nil || minAmount.Sign() < 0 {
		return common.Hash{}, ErrInvalidParams
	}
	if !e.state.Vaults.IsVaultActive(destChain, destVault) {
		return common.Hash{}, ErrVaultInactive
	}

	vaultKey, err := keys.VaultKey(destChain, destVault)
	if err != nil {
		return common.Hash{}, err
	}
	underlying, err := e.state.Shares.Asset(vaultKey)
	if err != nil {
		return common.Hash{}, err
	}
	if underlying != asset {
		return common.Hash{}, ErrAssetMismatch
	}

	posKey, err := keys.PositionKey(owner, e.transport.LocalDomain(), destChain, destVault)
	if err != nil {
		return common.Hash{}, err
	}
	if err := e.state.Positions.LockShares(posKey, shares); err != nil {
		return common.Hash{}, err
	}

	nonce, err := e.nextNonce(owner)
	if err != nil {
		_ = e.state.Positions.UnlockShares(posKey, shares)
		return common.Hash{}, err
	}
	commitment := pending.WithdrawalCommitment(owner, asset, shares, destChain, destVault, nonce)
	w := &pending.PendingWithdrawal{
		Owner:            owner,
		Asset:            asset,
		Shares:           new(big.Int).Set(shares),
		MinAmount:        new(big.Int).Set(minAmount),
		DestinationChain: destChain,
		DestinationVault: destVault,
		PositionKey:      posKey,
		Nonce:            nonce,
		Deadline:         e.now() + e.ttl,
	}
	if err := e.state.Pending.PutWithdrawal(commitment, w); err != nil {
		_ = e.state.Positions.UnlockShares(posKey, shares)
		return common.Hash{}, err
	}

	msg := &transport.Message{
		Kind:       transport.KindWithdrawIntent,
		DestDomain: destChain,
		Commitment: commitment,
		Amount:     shares,
		Sender:     owner,
		Nonce:      nonce,
	}
	if err := e.transport.Send(ctx, msg); err != nil {
		_ = e.state.Pending.Delete(pending.KindWithdrawal, commitment)
		_ = e.state.Positions.UnlockShares(posKey, shares)
		return common.Hash{}, err
	}

	e.log.Info("withdrawal initiated", "owner", owner, "shares", shares, "dest", destChain, "commitment", commitment)
	return commitment, nil
}

// SettleWithdrawal handles the destination's confirmation of a
// withdrawal. Below the owner's minimum the lock is restored; on
// success the locked shares are burned and the confirmed amount paid
// out of escrow.
func (e *Engine) SettleWithdrawal(commitment common.Hash, confirmedAmount *big.Int) error {
	if confirmedAmount == nil || confirmedAmount.Sign() <= 0 {
		return ErrInvalidParams
	}

	w, err := e.state.Pending.BeginSettleWithdrawal(commitment, e.now())
	if err != nil {
		e.log.Debug("withdrawal confirmation dropped", "commitment", commitment, "err", err)
		return err
	}

	if confirmedAmount.Cmp(w.MinAmount) < 0 {
		if ferr := e.state.Pending.Fail(pending.KindWithdrawal, commitment); ferr != nil {
			return ferr
		}
		if err := e.state.Positions.UnlockShares(w.PositionKey, w.Shares); err != nil {
			return err
		}
		e.log.Info("withdrawal failed on slippage", "commitment", commitment, "confirmed", confirmedAmount, "minAmount", w.MinAmount)
		return ErrSlippageExceeded
	}

	vaultKey, err := keys.VaultKey(w.DestinationChain, w.DestinationVault)
	if err != nil {
		return err
	}
	if _, err := e.state.Shares.ConvertToAssets(vaultKey, w.Shares); err != nil {
		if ferr := e.state.Pending.Fail(pending.KindWithdrawal, commitment); ferr != nil {
			return ferr
		}
		_ = e.state.Positions.UnlockShares(w.PositionKey, w.Shares)
		return err
	}

	if err := e.state.Positions.BurnLocked(w.PositionKey, w.Shares); err != nil {
		return err
	}
	if err := e.state.Ledger.Transfer(w.Asset, e.self, w.Owner, confirmedAmount); err != nil {
		return err
	}
	if err := e.state.Pending.Complete(pending.KindWithdrawal, commitment); err != nil {
		return err
	}

	e.log.Info("withdrawal settled", "commitment", commitment, "amount", confirmedAmount)
	return nil
}

// ConfirmTransport records the transport-level receipt for an
// operation. It is independent of the application-level settlement;
// funds are available only once both have landed.
func (e *Engine) ConfirmTransport(commitment common.Hash) error {
	if err := e.state.Pending.SetTransportCompleted(pending.KindDeposit, commitment); err == nil {
		return nil
	}
	if err := e.state.Pending.SetTransportCompleted(pending.KindWithdrawal, commitment); err == nil {
		return nil
	}
	return ErrUnknownCommitment
}

// SweepExpiredDeposit expires a deposit past its deadline and refunds
// the escrowed principal. Compensation runs exactly once; repeated
// sweeps are no-ops.
func (e *Engine) SweepExpiredDeposit(commitment common.Hash) error {
	dep, swept, err := e.state.Pending.SweepDeposit(commitment, e.now())
	if err != nil {
		return err
	}
	if !swept {
		return nil
	}
	if err := e.state.Ledger.Transfer(dep.Asset, e.self, dep.Depositor, dep.Amount); err != nil {
		return err
	}
	e.log.Info("deposit expired", "commitment", commitment, "refund", dep.Amount)
	return nil
}

// SweepExpiredWithdrawal expires a withdrawal past its deadline and
// releases the share lock.
func (e *Engine) SweepExpiredWithdrawal(commitment common.Hash) error {
	w, swept, err := e.state.Pending.SweepWithdrawal(commitment, e.now())
	if err != nil {
		return err
	}
	if !swept {
		return nil
	}
	if err := e.state.Positions.UnlockShares(w.PositionKey, w.Shares); err != nil {
		return err
	}
	e.log.Info("withdrawal expired", "commitment", commitment, "unlocked", w.Shares)
	return nil
}

// FundsAvailable reports whether the operation under [commitment] has
// both settled at the application level and received its transport
// receipt.
func (e *Engine) FundsAvailable(commitment common.Hash) bool {
	if dep, ok := e.state.Pending.GetDeposit(commitment); ok {
		return dep.Status == pending.StatusCompleted && dep.TransportCompleted
	}
	if w, ok := e.state.Pending.GetWithdrawal(commitment); ok {
		return w.Status == pending.StatusCompleted && w.TransportCompleted
	}
	return false
}

var _ transport.SettlementSink = (*Engine)(nil)
