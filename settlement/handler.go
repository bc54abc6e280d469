// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package settlement

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/crossvault/router"
)

// Method selectors for the settlement module
const (
	SelectorInitiateDeposit    uint32 = 0x01000000 // initiateDeposit(address,uint256,uint256,uint32,address)
	SelectorInitiateWithdrawal uint32 = 0x02000000 // initiateWithdrawal(address,uint256,uint256,uint32,address)
	SelectorSweepDeposit       uint32 = 0x03000000 // sweepDeposit(bytes32)
	SelectorSweepWithdrawal    uint32 = 0x04000000 // sweepWithdrawal(bytes32)
	SelectorFundsAvailable     uint32 = 0x05000000 // fundsAvailable(bytes32)
	SelectorGetPosition        uint32 = 0x06000000 // getPosition(bytes32)
)

var _ router.Handler = (*Handler)(nil)

// Handler exposes the settlement engine behind the module router.
// Input layout: 4-byte selector, 32-byte argument words, trailing
// 20-byte caller identity appended by the proxy.
type Handler struct {
	engine *Engine
}

// NewHandler wraps [engine] for dispatch.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// Run executes one settlement call.
func (h *Handler) Run(_ *router.State, _ common.Address, input []byte) ([]byte, error) {
	payload, caller, err := router.SplitCaller(input)
	if err != nil {
		return nil, err
	}

	selector := binary.BigEndian.Uint32(payload[:4])
	data := payload[4:]

	switch selector {
	case SelectorInitiateDeposit:
		return h.runInitiateDeposit(caller, data)
	case SelectorInitiateWithdrawal:
		return h.runInitiateWithdrawal(caller, data)
	case SelectorSweepDeposit:
		return h.runSweepDeposit(data)
	case SelectorSweepWithdrawal:
		return h.runSweepWithdrawal(data)
	case SelectorFundsAvailable:
		return h.runFundsAvailable(data)
	case SelectorGetPosition:
		return h.runGetPosition(data)
	default:
		return nil, fmt.Errorf("unknown method selector: %x", selector)
	}
}

// decodeIntentArgs parses asset(32) amount(32) min(32) destChain(32)
// destVault(32).
func decodeIntentArgs(data []byte) (asset common.Address, amount, min *big.Int, destChain uint32, destVault common.Address, err error) {
	if len(data) != 160 {
		err = ErrInvalidParams
		return
	}
	asset = common.BytesToAddress(data[12:32])
	amount = new(big.Int).SetBytes(data[32:64])
	min = new(big.Int).SetBytes(data[64:96])
	destChain = binary.BigEndian.Uint32(data[124:128])
	destVault = common.BytesToAddress(data[140:160])
	return
}

func (h *Handler) runInitiateDeposit(caller common.Address, data []byte) ([]byte, error) {
	asset, amount, minShares, destChain, destVault, err := decodeIntentArgs(data)
	if err != nil {
		return nil, err
	}
	commitment, err := h.engine.InitiateDeposit(context.Background(), caller, asset, amount, minShares, destChain, destVault)
	if err != nil {
		return nil, err
	}
	return commitment.Bytes(), nil
}

func (h *Handler) runInitiateWithdrawal(caller common.Address, data []byte) ([]byte, error) {
	asset, shares, minAmount, destChain, destVault, err := decodeIntentArgs(data)
	if err != nil {
		return nil, err
	}
	commitment, err := h.engine.InitiateWithdrawal(context.Background(), caller, asset, shares, minAmount, destChain, destVault)
	if err != nil {
		return nil, err
	}
	return commitment.Bytes(), nil
}

func (h *Handler) runSweepDeposit(data []byte) ([]byte, error) {
	if len(data) != 32 {
		return nil, ErrInvalidParams
	}
	return nil, h.engine.SweepExpiredDeposit(common.BytesToHash(data))
}

func (h *Handler) runSweepWithdrawal(data []byte) ([]byte, error) {
	if len(data) != 32 {
		return nil, ErrInvalidParams
	}
	return nil, h.engine.SweepExpiredWithdrawal(common.BytesToHash(data))
}

func (h *Handler) runFundsAvailable(data []byte) ([]byte, error) {
	if len(data) != 32 {
		return nil, ErrInvalidParams
	}
	result := make([]byte, 32)
	if h.engine.FundsAvailable(common.BytesToHash(data)) {
		result[31] = 1
	}
	return result, nil
}

func (h *Handler) runGetPosition(data []byte) ([]byte, error) {
	if len(data) != 32 {
		return nil, ErrInvalidParams
	}
	p, ok := h.engine.state.Positions.Get(common.BytesToHash(data))
	if !ok {
		return make([]byte, 96), nil
	}
	result := make([]byte, 96)
	copy(result[0:32], common.BigToHash(p.Shares).Bytes())
	copy(result[32:64], common.BigToHash(p.Locked).Bytes())
	if p.Active {
		result[95] = 1
	}
	return result, nil
}
