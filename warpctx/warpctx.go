// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package warpctx carries cross-chain routing values on the context.
package warpctx

import (
	"context"

	"github.com/luxfi/ids"
)

type contextKey string

const (
	domainKey   contextKey = "domain"
	routerIDKey contextKey = "routerID"
)

// GetDomain retrieves the local chain domain from the context, or 0.
func GetDomain(ctx context.Context) uint32 {
	if v := ctx.Value(domainKey); v != nil {
		if domain, ok := v.(uint32); ok {
			return domain
		}
	}
	return 0
}

// WithDomain adds the local chain domain to the context.
func WithDomain(ctx context.Context, domain uint32) context.Context {
	return context.WithValue(ctx, domainKey, domain)
}

// GetRouterID retrieves the router instance id from the context.
func GetRouterID(ctx context.Context) ids.ID {
	if v := ctx.Value(routerIDKey); v != nil {
		if id, ok := v.(ids.ID); ok {
			return id
		}
	}
	return ids.Empty
}

// WithRouterID adds the router instance id to the context.
func WithRouterID(ctx context.Context, id ids.ID) context.Context {
	return context.WithValue(ctx, routerIDKey, id)
}
