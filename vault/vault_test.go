// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
)

var (
	usdc  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	alice = common.HexToAddress("0x2222222222222222222222222222222222222222")
	bob   = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

// TestFirstDepositOneToOne tests the empty-vault bootstrap rate
func TestFirstDepositOneToOne(t *testing.T) {
	v := NewShareVault(usdc, 6)

	shares, err := v.ConvertToShares(big.NewInt(100000))
	if err != nil {
		t.Fatalf("ConvertToShares failed: %v", err)
	}
	if shares.Cmp(big.NewInt(100000)) != 0 {
		t.Errorf("Expected 1:1 first deposit, got %s", shares)
	}
	if v.TotalShares().Cmp(big.NewInt(100000)) != 0 || v.TotalAssets().Cmp(big.NewInt(100000)) != 0 {
		t.Error("Vault totals not booked")
	}
}

// TestExchangeRate tests proportional minting after yield accrual
func TestExchangeRate(t *testing.T) {
	v := NewShareVault(usdc, 6)
	_, _ = v.ConvertToShares(big.NewInt(1000))

	// 1000 shares now back 2000 assets: rate 2.0
	v.Credit(big.NewInt(1000))

	shares, err := v.ConvertToShares(big.NewInt(500))
	if err != nil {
		t.Fatalf("ConvertToShares failed: %v", err)
	}
	if shares.Cmp(big.NewInt(250)) != 0 {
		t.Errorf("Expected 250 shares at rate 2.0, got %s", shares)
	}

	assets, err := v.ConvertToAssets(big.NewInt(250))
	if err != nil {
		t.Fatalf("ConvertToAssets failed: %v", err)
	}
	if assets.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("Expected 500 assets back, got %s", assets)
	}
}

// TestConversionErrors tests the degenerate conversion cases
func TestConversionErrors(t *testing.T) {
	v := NewShareVault(usdc, 6)

	if _, err := v.ConvertToShares(big.NewInt(0)); err != ErrInvalidAmount {
		t.Errorf("Expected ErrInvalidAmount, got %v", err)
	}
	if _, err := v.ConvertToAssets(big.NewInt(10)); err != ErrEmptyVault {
		t.Errorf("Expected ErrEmptyVault, got %v", err)
	}

	// Tiny deposit into a vault with a huge rate truncates to zero
	_, _ = v.ConvertToShares(big.NewInt(10))
	v.Credit(big.NewInt(1000000))
	if _, err := v.ConvertToShares(big.NewInt(1)); err != ErrZeroShares {
		t.Errorf("Expected ErrZeroShares, got %v", err)
	}
}

// TestVaultSet tests keyed lookup and conversion routing
func TestVaultSet(t *testing.T) {
	s := NewVaultSet()
	key := common.HexToHash("0x01")
	s.Add(key, NewShareVault(usdc, 6))

	shares, err := s.ConvertToShares(key, big.NewInt(100))
	if err != nil {
		t.Fatalf("ConvertToShares failed: %v", err)
	}
	if shares.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("Expected 100 shares, got %s", shares)
	}

	asset, err := s.Asset(key)
	if err != nil || asset != usdc {
		t.Errorf("Expected asset %s, got %s (%v)", usdc, asset, err)
	}

	if _, err := s.Get(common.HexToHash("0x02")); err != ErrVaultNotFound {
		t.Errorf("Expected ErrVaultNotFound, got %v", err)
	}
}

// TestLedgerTransferFrom tests the allowance-gated pull path
func TestLedgerTransferFrom(t *testing.T) {
	l := NewAssetLedger()
	_ = l.Mint(usdc, alice, big.NewInt(1000))

	// No allowance yet
	if err := l.TransferFrom(usdc, bob, alice, bob, big.NewInt(100)); err != ErrInsufficientAllowance {
		t.Errorf("Expected ErrInsufficientAllowance, got %v", err)
	}

	_ = l.Approve(usdc, alice, bob, big.NewInt(150))
	if err := l.TransferFrom(usdc, bob, alice, bob, big.NewInt(100)); err != nil {
		t.Fatalf("TransferFrom failed: %v", err)
	}
	if l.BalanceOf(usdc, bob).Cmp(big.NewInt(100)) != 0 {
		t.Errorf("Expected bob balance 100, got %s", l.BalanceOf(usdc, bob))
	}
	if l.Allowance(usdc, alice, bob).Cmp(big.NewInt(50)) != 0 {
		t.Errorf("Expected remaining allowance 50, got %s", l.Allowance(usdc, alice, bob))
	}

	// Allowance exhausted beyond remainder
	if err := l.TransferFrom(usdc, bob, alice, bob, big.NewInt(51)); err != ErrInsufficientAllowance {
		t.Errorf("Expected ErrInsufficientAllowance, got %v", err)
	}
}

// TestLedgerTransfer tests the direct path and balance checks
func TestLedgerTransfer(t *testing.T) {
	l := NewAssetLedger()
	_ = l.Mint(usdc, alice, big.NewInt(100))

	if err := l.Transfer(usdc, alice, bob, big.NewInt(101)); err != ErrInsufficientBalance {
		t.Errorf("Expected ErrInsufficientBalance, got %v", err)
	}
	if err := l.Transfer(usdc, alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if l.BalanceOf(usdc, alice).Cmp(big.NewInt(60)) != 0 {
		t.Errorf("Expected alice balance 60, got %s", l.BalanceOf(usdc, alice))
	}
	if l.Transfer(usdc, bob, alice, big.NewInt(-1)) != ErrAmountOverflow {
		t.Error("Expected ErrAmountOverflow for negative amount")
	}
}
