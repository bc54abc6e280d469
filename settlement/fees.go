// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package settlement

import "math/big"

// FeeConfig is the protocol fee schedule applied at deposit initiation.
type FeeConfig struct {
	BaseFee    *big.Int `json:"baseFee"`    // flat fee per operation
	PercentBps uint32   `json:"percentBps"` // proportional fee in basis points
	MinFee     *big.Int `json:"minFee"`
	MaxFee     *big.Int `json:"maxFee"` // zero disables the cap
}

// DefaultFeeConfig mirrors the production schedule: 0.3% plus a flat
// 0.001-token base, floored at the base and capped at 100 tokens.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		BaseFee:    big.NewInt(1e15),
		PercentBps: 30,
		MinFee:     big.NewInt(1e15),
		MaxFee:     new(big.Int).Mul(big.NewInt(1e18), big.NewInt(100)),
	}
}

// Calculate returns the fee on [amount]. Nil schedule fields read as
// zero, so a zero-value FeeConfig charges the proportional part only.
func (c FeeConfig) Calculate(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(int64(c.PercentBps)))
	fee.Div(fee, big.NewInt(10000))

	if c.BaseFee != nil {
		fee.Add(fee, c.BaseFee)
	}

	if c.MinFee != nil && fee.Cmp(c.MinFee) < 0 {
		fee.Set(c.MinFee)
	}
	if c.MaxFee != nil && c.MaxFee.Sign() > 0 && fee.Cmp(c.MaxFee) > 0 {
		fee.Set(c.MaxFee)
	}
	return fee
}
