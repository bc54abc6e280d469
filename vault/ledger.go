// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"errors"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrAmountOverflow        = errors.New("amount overflows uint256")
)

// AssetLedger is the in-process token ledger the settlement engine
// pulls deposits from and pays withdrawals into. Balances are
// per-asset, per-holder.
type AssetLedger struct {
	balances   map[common.Address]map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]map[common.Address]*uint256.Int
	mu         sync.Mutex
}

// NewAssetLedger creates an empty ledger.
func NewAssetLedger() *AssetLedger {
	return &AssetLedger{
		balances:   make(map[common.Address]map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*uint256.Int),
	}
}

// BalanceOf returns [holder]'s balance of [asset].
func (l *AssetLedger) BalanceOf(asset, holder common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b := l.balances[asset][holder]; b != nil {
		return b.ToBig()
	}
	return new(big.Int)
}

// Mint credits [amount] of [asset] to [holder].
func (l *AssetLedger) Mint(asset, holder common.Address, amount *big.Int) error {
	amt, overflow := uint256.FromBig(amount)
	if overflow || amount.Sign() < 0 {
		return ErrAmountOverflow
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.credit(asset, holder, amt)
	return nil
}

// Approve lets [spender] move up to [amount] of [owner]'s [asset].
func (l *AssetLedger) Approve(asset, owner, spender common.Address, amount *big.Int) error {
	amt, overflow := uint256.FromBig(amount)
	if overflow || amount.Sign() < 0 {
		return ErrAmountOverflow
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allowances[asset] == nil {
		l.allowances[asset] = make(map[common.Address]map[common.Address]*uint256.Int)
	}
	if l.allowances[asset][owner] == nil {
		l.allowances[asset][owner] = make(map[common.Address]*uint256.Int)
	}
	l.allowances[asset][owner][spender] = amt
	return nil
}

// Allowance returns the remaining approval from [owner] to [spender].
func (l *AssetLedger) Allowance(asset, owner, spender common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if a := l.allowances[asset][owner][spender]; a != nil {
		return a.ToBig()
	}
	return new(big.Int)
}

// Transfer moves [amount] of [asset] from [from] to [to].
func (l *AssetLedger) Transfer(asset, from, to common.Address, amount *big.Int) error {
	amt, overflow := uint256.FromBig(amount)
	if overflow || amount.Sign() < 0 {
		return ErrAmountOverflow
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.move(asset, from, to, amt)
}

// TransferFrom moves [amount] of [asset] from [owner] to [to] on
// behalf of [spender], consuming allowance.
func (l *AssetLedger) TransferFrom(asset, spender, owner, to common.Address, amount *big.Int) error {
	amt, overflow := uint256.FromBig(amount)
	if overflow || amount.Sign() < 0 {
		return ErrAmountOverflow
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := l.allowances[asset][owner][spender]
	if allowance == nil || allowance.Lt(amt) {
		return ErrInsufficientAllowance
	}
	if err := l.move(asset, owner, to, amt); err != nil {
		return err
	}
	allowance.Sub(allowance, amt)
	return nil
}

// move and credit run under l.mu.
func (l *AssetLedger) move(asset, from, to common.Address, amt *uint256.Int) error {
	bal := l.balances[asset][from]
	if bal == nil || bal.Lt(amt) {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amt)
	l.credit(asset, to, amt)
	return nil
}

func (l *AssetLedger) credit(asset, holder common.Address, amt *uint256.Int) {
	if l.balances[asset] == nil {
		l.balances[asset] = make(map[common.Address]*uint256.Int)
	}
	if l.balances[asset][holder] == nil {
		l.balances[asset][holder] = new(uint256.Int)
	}
	l.balances[asset][holder].Add(l.balances[asset][holder], amt)
}
