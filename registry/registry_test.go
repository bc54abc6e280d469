// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"testing"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/crossvault/roles"
)

var (
	admin     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	installer = common.HexToAddress("0x2222222222222222222222222222222222222222")
	implV1    = common.HexToAddress("0xAAAA00000000000000000000000000000000AAAA")
	implV2    = common.HexToAddress("0xBBBB00000000000000000000000000000000BBBB")
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	auth := roles.NewAuthority(admin)
	if err := auth.Grant(admin, installer, roles.RoleInstaller); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	return New(auth)
}

// TestInstall tests first installation with a proxy
func TestInstall(t *testing.T) {
	r := newTestRegistry(t)

	rec, err := r.Install(installer, 7, implV1, true)
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if rec.ID != 7 {
		t.Errorf("Expected module id 7, got %d", rec.ID)
	}
	if rec.Implementation != implV1 {
		t.Error("Implementation mismatch")
	}
	if rec.Proxy == (common.Address{}) {
		t.Fatal("Expected proxy to be created")
	}
	if rec.Proxy != ProxyAddress(7) {
		t.Error("Proxy address not deterministic")
	}

	// The proxy is immediately trusted with the fixed shortcut
	impl, moduleID, err := r.Resolve(rec.Proxy)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if impl != implV1 || moduleID != 7 {
		t.Errorf("Expected (%s, 7), got (%s, %d)", implV1, impl, moduleID)
	}
}

// TestInstallValidation tests install input validation
func TestInstallValidation(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Install(installer, ReservedModuleID, implV1, false); err != ErrInvalidModuleID {
		t.Errorf("Expected ErrInvalidModuleID, got %v", err)
	}
	if _, err := r.Install(installer, 7, common.Address{}, false); err != ErrZeroImplementation {
		t.Errorf("Expected ErrZeroImplementation, got %v", err)
	}
	stranger := common.HexToAddress("0x9999999999999999999999999999999999999999")
	if _, err := r.Install(stranger, 7, implV1, false); err != roles.ErrUnauthorized {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
}

// TestUpgradeKeepsProxy tests the essential upgrade guarantee: the
// proxy address survives and routes to the new implementation
func TestUpgradeKeepsProxy(t *testing.T) {
	r := newTestRegistry(t)

	rec1, _ := r.Install(installer, 7, implV1, true)
	rec2, err := r.Install(installer, 7, implV2, true)
	if err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}

	if rec2.Proxy != rec1.Proxy {
		t.Errorf("Proxy changed across upgrade: %s -> %s", rec1.Proxy, rec2.Proxy)
	}
	if rec2.Implementation != implV2 {
		t.Error("Implementation not upgraded")
	}

	impl, _, err := r.Resolve(rec1.Proxy)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if impl != implV2 {
		t.Errorf("Expected upgraded implementation %s, got %s", implV2, impl)
	}
}

// TestResolveUnknownCaller tests fail-closed resolution
func TestResolveUnknownCaller(t *testing.T) {
	r := newTestRegistry(t)
	_, _ = r.Install(installer, 7, implV1, true)

	stranger := common.HexToAddress("0x9999999999999999999999999999999999999999")
	impl, moduleID, err := r.Resolve(stranger)
	if err != ErrUnknownModule {
		t.Errorf("Expected ErrUnknownModule, got %v", err)
	}
	if moduleID != ReservedModuleID {
		t.Errorf("Expected reserved module id, got %d", moduleID)
	}
	if impl != (common.Address{}) {
		t.Error("Expected zero implementation for unknown caller")
	}
}

// TestSetTrustedSender tests explicit sender registration and the
// fixed-implementation family check
func TestSetTrustedSender(t *testing.T) {
	r := newTestRegistry(t)
	_, _ = r.Install(installer, 7, implV1, false)

	sender := common.HexToAddress("0x4444444444444444444444444444444444444444")

	// Fixed implementation must belong to the module
	if err := r.SetTrustedSender(installer, sender, 7, implV2); err != ErrImplementationMismatch {
		t.Errorf("Expected ErrImplementationMismatch, got %v", err)
	}

	if err := r.SetTrustedSender(installer, sender, 7, common.Address{}); err != nil {
		t.Fatalf("SetTrustedSender failed: %v", err)
	}
	impl, moduleID, err := r.Resolve(sender)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if impl != implV1 || moduleID != 7 {
		t.Errorf("Expected (%s, 7), got (%s, %d)", implV1, impl, moduleID)
	}

	// Duplicate registration is rejected
	if err := r.SetTrustedSender(installer, sender, 7, common.Address{}); err != ErrSenderExists {
		t.Errorf("Expected ErrSenderExists, got %v", err)
	}
	// Unknown module is rejected
	other := common.HexToAddress("0x5555555555555555555555555555555555555555")
	if err := r.SetTrustedSender(installer, other, 42, common.Address{}); err != ErrUnknownModule {
		t.Errorf("Expected ErrUnknownModule, got %v", err)
	}
}

// TestFixedImplementationFollowsUpgrade tests the shortcut is rewritten
// on upgrade so the old implementation is never resolved again
func TestFixedImplementationFollowsUpgrade(t *testing.T) {
	r := newTestRegistry(t)
	_, _ = r.Install(installer, 7, implV1, false)

	sender := common.HexToAddress("0x4444444444444444444444444444444444444444")
	_ = r.SetTrustedSender(installer, sender, 7, implV1)

	_, _ = r.Install(installer, 7, implV2, false)

	impl, _, err := r.Resolve(sender)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if impl != implV2 {
		t.Errorf("Fixed implementation did not follow upgrade, got %s", impl)
	}
}

// TestRevokeTrustedSender tests explicit revocation
func TestRevokeTrustedSender(t *testing.T) {
	r := newTestRegistry(t)
	_, _ = r.Install(installer, 7, implV1, false)

	sender := common.HexToAddress("0x4444444444444444444444444444444444444444")
	_ = r.SetTrustedSender(installer, sender, 7, common.Address{})

	if err := r.RevokeTrustedSender(installer, sender); err != nil {
		t.Fatalf("RevokeTrustedSender failed: %v", err)
	}
	if _, _, err := r.Resolve(sender); err != ErrUnknownModule {
		t.Errorf("Expected ErrUnknownModule after revocation, got %v", err)
	}
	if err := r.RevokeTrustedSender(installer, sender); err != ErrUnknownSender {
		t.Errorf("Expected ErrUnknownSender, got %v", err)
	}
}

// TestReadAccessors tests the unrestricted read paths
func TestReadAccessors(t *testing.T) {
	r := newTestRegistry(t)
	_, _ = r.Install(installer, 7, implV1, true)
	_, _ = r.Install(installer, 3, implV2, false)

	impl, ok := r.ModuleIDToImplementation(7)
	if !ok || impl != implV1 {
		t.Errorf("ModuleIDToImplementation: expected %s, got %s (%v)", implV1, impl, ok)
	}
	if _, ok := r.ModuleIDToImplementation(42); ok {
		t.Error("Expected miss for unknown module id")
	}

	proxy, ok := r.ModuleIDToProxy(7)
	if !ok || proxy != ProxyAddress(7) {
		t.Error("ModuleIDToProxy mismatch")
	}
	if _, ok := r.ModuleIDToProxy(3); ok {
		t.Error("Expected no proxy for proxyless module")
	}

	mods := r.InstalledModules()
	if len(mods) != 2 || mods[0].ID != 3 || mods[1].ID != 7 {
		t.Errorf("Expected deterministic [3 7] ordering, got %+v", mods)
	}
}

// TestProxyAddressStable tests derivation stability and uniqueness
func TestProxyAddressStable(t *testing.T) {
	if ProxyAddress(7) != ProxyAddress(7) {
		t.Error("Expected stable proxy derivation")
	}
	if ProxyAddress(7) == ProxyAddress(8) {
		t.Error("Expected distinct proxies for distinct module ids")
	}
	if ProxyAddress(7) == (common.Address{}) {
		t.Error("Expected non-zero proxy address")
	}
}

func BenchmarkResolve(b *testing.B) {
	auth := roles.NewAuthority(admin)
	_ = auth.Grant(admin, installer, roles.RoleInstaller)
	r := New(auth)
	rec, _ := r.Install(installer, 7, implV1, true)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = r.Resolve(rec.Proxy)
	}
}
