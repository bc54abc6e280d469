// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package keys derives the deterministic identifiers used by the
// cross-chain position protocol. A position key binds an owner to a
// (source chain, destination chain, destination vault) triple; a vault
// key binds a vault address to its chain. Keys are pure functions of
// their inputs, so stores never need a secondary index: a record exists
// iff its derived key maps to a non-default entry.
package keys

import (
	"encoding/binary"
	"errors"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
)

// ErrInvalidParams is returned when a zero address or zero chain id is
// supplied. Inputs are validated before any hashing happens.
var ErrInvalidParams = errors.New("invalid key derivation parameters")

// Domain separation prefixes. Changing either is a breaking change for
// every stored record.
var (
	positionKeyPrefix = []byte("crossvault.position.v1")
	vaultKeyPrefix    = []byte("crossvault.vault.v1")
)

// PositionKey derives the key for a position held by [owner] that was
// funded on [sourceChain] and targets [destVault] on [destChain].
// The concatenation is order-sensitive: swapping source and destination
// chains yields a different key.
func PositionKey(owner common.Address, sourceChain, destChain uint32, destVault common.Address) (common.Hash, error) {
	if owner == (common.Address{}) || destVault == (common.Address{}) {
		return common.Hash{}, ErrInvalidParams
	}
	if sourceChain == 0 || destChain == 0 {
		return common.Hash{}, ErrInvalidParams
	}

	data := make([]byte, 0, len(positionKeyPrefix)+20+4+4+20)
	data = append(data, positionKeyPrefix...)
	data = append(data, owner.Bytes()...)
	data = binary.BigEndian.AppendUint32(data, sourceChain)
	data = binary.BigEndian.AppendUint32(data, destChain)
	data = append(data, destVault.Bytes()...)

	return common.BytesToHash(crypto.Keccak256(data)), nil
}

// VaultKey derives the key for [vault] registered on [chainID].
func VaultKey(chainID uint32, vault common.Address) (common.Hash, error) {
	if vault == (common.Address{}) || chainID == 0 {
		return common.Hash{}, ErrInvalidParams
	}

	data := make([]byte, 0, len(vaultKeyPrefix)+4+20)
	data = append(data, vaultKeyPrefix...)
	data = binary.BigEndian.AppendUint32(data, chainID)
	data = append(data, vault.Bytes()...)

	return common.BytesToHash(crypto.Keccak256(data)), nil
}

// IsValidPositionKey reports whether [key] is exactly the key derived
// from the given fields. Any mismatch is an integrity violation, never
// a soft warning. Invalid inputs always report false.
func IsValidPositionKey(key common.Hash, owner common.Address, sourceChain, destChain uint32, destVault common.Address) bool {
	derived, err := PositionKey(owner, sourceChain, destChain, destVault)
	if err != nil {
		return false
	}
	return key == derived
}

// IsValidVaultKey reports whether [key] matches the freshly derived
// vault key for (chainID, vault).
func IsValidVaultKey(key common.Hash, chainID uint32, vault common.Address) bool {
	derived, err := VaultKey(chainID, vault)
	if err != nil {
		return false
	}
	return key == derived
}
