// Package auth proves that a caller controls an address.
//
// The HTTP layer verifies a bearer token and stores the resulting Principal on
// the request context. Services then call RequireAuthorization with the
// address they are about to act for.
package auth

import (
	"context"
	"errors"
	"fmt"

	"giveaway/internal/models"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

type Role string

const (
	RoleUser Role = "user"
	// RoleAuthority may close giveaways and designate winners.
	RoleAuthority Role = "authority"
)

// Principal is the authenticated caller.
type Principal struct {
	Address models.Address
	Role    Role
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// Authorizer fails unless the caller controls identity.
type Authorizer interface {
	RequireAuthorization(ctx context.Context, identity models.Address) error
}

// ContextAuthorizer trusts the Principal placed on the context by the
// transport layer.
type ContextAuthorizer struct{}

func (ContextAuthorizer) RequireAuthorization(ctx context.Context, identity models.Address) error {
	p, ok := FromContext(ctx)
	if !ok || p.Address == "" {
		return fmt.Errorf("%w: no caller identity", ErrUnauthorized)
	}
	if p.Address != identity {
		return fmt.Errorf("%w: caller %s cannot act for %s", ErrUnauthorized, p.Address, identity)
	}
	return nil
}

// RequireRole fails unless the caller holds role.
func RequireRole(ctx context.Context, role Role) error {
	p, ok := FromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: no caller identity", ErrUnauthorized)
	}
	if p.Role != role {
		return fmt.Errorf("%w: role %q required", ErrForbidden, role)
	}
	return nil
}
