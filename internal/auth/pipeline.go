// ABOUTME: Authentication pipeline turning request credentials into a Principal or a rejection
// ABOUTME: One terminal pass per request; every rejection carries a log-only Reason

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/scheduler-gateway/internal/metrics"
	"github.com/2389/scheduler-gateway/internal/store"
)

// Plane is a bit set of the credential planes an endpoint accepts.
type Plane uint8

const (
	PlaneManagement Plane = 1 << iota // API key
	PlaneUser                         // account id, optional bearer token
)

// Access describes what an endpoint accepts.
type Access struct {
	Planes Plane

	// AllowAnonymous admits requests with no credential material at all.
	AllowAnonymous bool

	// AllowAnonymousUser admits account-scoped requests without a token.
	AllowAnonymousUser bool
}

// Common endpoint access rules.
var (
	AccessPublic        = Access{AllowAnonymous: true}
	AccessManagement    = Access{Planes: PlaneManagement}
	AccessUser          = Access{Planes: PlaneUser}
	AccessAccountScoped = Access{Planes: PlaneUser, AllowAnonymousUser: true}
)

// AccountLookup finds accounts by the hash of their API key.
type AccountLookup interface {
	GetAccountByAPIKeyHash(ctx context.Context, hash string) (*store.Account, error)
}

// Pipeline authenticates requests.
type Pipeline struct {
	accounts AccountLookup
	keys     KeySource
	verifier *TokenVerifier
	now      func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline. keys is consulted both for account
// existence and for the active verification key.
func NewPipeline(accounts AccountLookup, keys KeySource, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		accounts: accounts,
		keys:     keys,
		verifier: NewTokenVerifier(keys),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Authenticate resolves m and returns the Principal it proves, or an *AuthError.
func (p *Pipeline) Authenticate(ctx context.Context, m CredentialMaterial, access Access) (*Principal, error) {
	principal, err := p.authenticate(ctx, Resolve(m), access)
	if err != nil {
		ae := reject(err)
		metrics.AuthDecisions.WithLabelValues(OutcomeOf(ae).String(), string(ae.Reason)).Inc()
		return nil, ae
	}
	metrics.AuthDecisions.WithLabelValues("authenticated", principal.Kind.String()).Inc()
	return principal, nil
}

func (p *Pipeline) authenticate(ctx context.Context, cred Credential, access Access) (*Principal, error) {
	switch cred.Kind {
	case CredentialAccount:
		if access.Planes&PlaneManagement == 0 {
			return nil, ErrWrongPlane
		}
		account, err := p.accounts.GetAccountByAPIKeyHash(ctx, HashAPIKey(cred.APIKey))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrInvalidAPIKey
			}
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return &Principal{Kind: PrincipalAccount, AccountID: account.ID}, nil

	case CredentialUser:
		if access.Planes&PlaneUser == 0 {
			return nil, ErrWrongPlane
		}
		if cred.Token == "" {
			return p.anonymousUser(ctx, cred.AccountID, access)
		}
		tok, err := p.verifier.Verify(ctx, cred.AccountID, cred.Token, p.now())
		if err != nil {
			return nil, err
		}
		return &Principal{
			Kind:         PrincipalUser,
			AccountID:    cred.AccountID,
			UserID:       tok.Subject,
			Capabilities: tok.Capabilities,
		}, nil

	default:
		if !access.AllowAnonymous {
			return nil, ErrMissingCredential
		}
		return &Principal{Kind: PrincipalAnonymous}, nil
	}
}

func (p *Pipeline) anonymousUser(ctx context.Context, accountID string, access Access) (*Principal, error) {
	if _, err := p.keys.GetKeySlot(ctx, accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownAccount
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !access.AllowAnonymousUser {
		return nil, ErrAnonymousUserNotPermitted
	}
	return &Principal{Kind: PrincipalUser, AccountID: accountID, Capabilities: []string{}}, nil
}

// Authorize checks principal may perform op. Account principals hold full
// rights; user principals need a matching capability; anonymous ones have none.
func (p *Pipeline) Authorize(principal *Principal, op Operation) error {
	var err error
	switch {
	case principal == nil:
		err = ErrMissingCredential
	case principal.Kind == PrincipalAccount:
		return nil
	case principal.Kind == PrincipalUser:
		err = Authorize(principal.Capabilities, op)
	default:
		err = fmt.Errorf("%w: %s", ErrDenied, op)
	}
	if err != nil {
		ae := reject(err)
		metrics.AuthDecisions.WithLabelValues(OutcomeOf(ae).String(), string(ae.Reason)).Inc()
		return ae
	}
	return nil
}
