// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"github.com/luxfi/geth/common"
)

// ModuleProxy is the stable entry point for one module. Its address
// never changes across upgrades; the registry re-points the
// implementation underneath it.
type ModuleProxy struct {
	router  *Router
	address common.Address
}

// NewModuleProxy wraps the registered proxy [address] over [r].
func NewModuleProxy(r *Router, address common.Address) *ModuleProxy {
	return &ModuleProxy{router: r, address: address}
}

// Address returns the proxy's stable address.
func (p *ModuleProxy) Address() common.Address { return p.address }

// Call forwards [input] from [caller] into the router, with the
// original caller's identity appended so the handler sees who really
// called.
func (p *ModuleProxy) Call(caller common.Address, input []byte) ([]byte, error) {
	return p.router.Dispatch(p.address, AppendCaller(input, caller))
}
