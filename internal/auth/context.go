// ABOUTME: Principal type and context helpers for passing identity to handlers
// ABOUTME: Provides WithPrincipal/FromContext for both HTTP and gRPC

package auth

import (
	"context"
)

// PrincipalKind tags a Principal.
type PrincipalKind int

const (
	PrincipalAnonymous PrincipalKind = iota
	PrincipalAccount
	PrincipalUser
)

func (k PrincipalKind) String() string {
	switch k {
	case PrincipalAccount:
		return "account"
	case PrincipalUser:
		return "user"
	default:
		return "anonymous"
	}
}

// Principal is the resolved identity of one request. It is never persisted.
type Principal struct {
	Kind      PrincipalKind
	AccountID string // empty for PrincipalAnonymous

	// PrincipalUser only. UserID is empty for an account-scoped request
	// without a token, which also has no capabilities.
	UserID       string
	Capabilities []string
}

// IsAnonymousUser reports whether p is account-scoped but carried no token.
func (p *Principal) IsAnonymousUser() bool {
	return p.Kind == PrincipalUser && p.UserID == ""
}

// principalKey is the key type for storing a Principal in context.Context.
type principalKey struct{}

// WithPrincipal returns a new context with p attached.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext retrieves the Principal from the context, returning nil if not present.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// MustFromContext retrieves the Principal from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Principal {
	p := FromContext(ctx)
	if p == nil {
		panic("auth: Principal not found in context")
	}
	return p
}
