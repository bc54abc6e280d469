// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package roles

import (
	"testing"

	"github.com/luxfi/geth/common"
)

var (
	admin    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	operator = common.HexToAddress("0x2222222222222222222222222222222222222222")
	stranger = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

// TestNewAuthority tests genesis admin assignment
func TestNewAuthority(t *testing.T) {
	a := NewAuthority(admin)
	if !a.HasRole(admin, RoleAdmin) {
		t.Error("Expected genesis admin to hold RoleAdmin")
	}
	if a.HasRole(stranger, RoleAdmin) {
		t.Error("Expected stranger to hold no roles")
	}
}

// TestGrantRevoke tests the grant/revoke lifecycle
func TestGrantRevoke(t *testing.T) {
	a := NewAuthority(admin)

	if err := a.Grant(admin, operator, RoleInstaller|RoleVaultRegistry); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if !a.HasRole(operator, RoleInstaller) {
		t.Error("Expected operator to hold RoleInstaller")
	}
	if !a.HasRole(operator, RoleInstaller|RoleVaultRegistry) {
		t.Error("Expected combined mask check to pass")
	}
	if a.HasRole(operator, RoleAdmin) {
		t.Error("Operator should not hold RoleAdmin")
	}

	if err := a.Revoke(admin, operator, RoleInstaller); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if a.HasRole(operator, RoleInstaller) {
		t.Error("Expected RoleInstaller to be revoked")
	}
	if !a.HasRole(operator, RoleVaultRegistry) {
		t.Error("Expected RoleVaultRegistry to survive partial revoke")
	}
}

// TestGrantUnauthorized tests that only admins mutate the registry
func TestGrantUnauthorized(t *testing.T) {
	a := NewAuthority(admin)

	if err := a.Grant(stranger, operator, RoleInstaller); err != ErrUnauthorized {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
	if err := a.Revoke(stranger, admin, RoleAdmin); err != ErrUnauthorized {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}

	// Non-admin role holders still cannot grant
	_ = a.Grant(admin, operator, RoleInstaller)
	if err := a.Grant(operator, stranger, RoleInstaller); err != ErrUnauthorized {
		t.Errorf("Expected ErrUnauthorized for non-admin granter, got %v", err)
	}
}

// TestGrantZeroAddress tests zero principal rejection
func TestGrantZeroAddress(t *testing.T) {
	a := NewAuthority(admin)
	if err := a.Grant(admin, common.Address{}, RoleInstaller); err != ErrZeroAddress {
		t.Errorf("Expected ErrZeroAddress, got %v", err)
	}
}

// TestRolesOf tests full-mask retrieval
func TestRolesOf(t *testing.T) {
	a := NewAuthority(admin)
	_ = a.Grant(admin, operator, RoleTransport)

	if got := a.RolesOf(operator); got != RoleTransport {
		t.Errorf("Expected mask %b, got %b", RoleTransport, got)
	}
	if got := a.RolesOf(stranger); got != 0 {
		t.Errorf("Expected empty mask, got %b", got)
	}
}
