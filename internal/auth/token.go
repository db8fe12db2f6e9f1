// ABOUTME: RS256 user-token verification against the account's active public key
// ABOUTME: Pure function of (stored key, token, now); the key slot is looked up once per call

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/scheduler-gateway/internal/metrics"
	"github.com/2389/scheduler-gateway/internal/store"
)

// PinnedAlgorithm is the only signing algorithm user tokens may declare.
var PinnedAlgorithm = jwt.SigningMethodRS256.Alg()

// Claim names.
const (
	claimSubject       = "sub"
	claimLegacySubject = "userId"
	claimPolicy        = "schedulerPolicy"
	claimAllow         = "allow"
	claimReject        = "reject"
)

// UserToken is the decoded payload of a verified user token.
type UserToken struct {
	Subject      string
	IssuedAt     time.Time // zero when the token carries no iat
	ExpiresAt    time.Time
	Capabilities []string
}

// KeySource is the read side of the account key store.
type KeySource interface {
	GetKeySlot(ctx context.Context, accountID string) (*store.KeySlot, error)
}

// TokenVerifier verifies user tokens for any account.
type TokenVerifier struct {
	keys KeySource
}

// NewTokenVerifier creates a verifier reading keys from keys.
func NewTokenVerifier(keys KeySource) *TokenVerifier {
	return &TokenVerifier{keys: keys}
}

// Verify checks tokenString against the key currently registered for accountID.
func (v *TokenVerifier) Verify(ctx context.Context, accountID, tokenString string, now time.Time) (*UserToken, error) {
	start := time.Now()
	tok, err := v.verify(ctx, accountID, tokenString, now)
	result := "ok"
	if err != nil {
		result = string(ReasonOf(err))
	}
	metrics.TokenVerifyDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return tok, err
}

func (v *TokenVerifier) verify(ctx context.Context, accountID, tokenString string, now time.Time) (*UserToken, error) {
	slot, err := v.keys.GetKeySlot(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownAccount
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if slot.Key == nil {
		return nil, ErrNoKeyRegistered
	}

	// Reject on the declared algorithm before any key is involved.
	unverified, _, _ := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if unverified == nil {
		return nil, fmt.Errorf("%w: unparseable token", ErrBadSignature)
	}
	if alg, _ := unverified.Header["alg"].(string); alg != PinnedAlgorithm {
		return nil, ErrAlgorithmNotAllowed
	}

	pub, err := verificationKey(slot.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: stored key unusable: %v", ErrBadSignature, err)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{PinnedAlgorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	claims := jwt.MapClaims{}
	_, err = parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return pub, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	return decodeClaims(claims)
}

// classifyParseError maps jwt errors onto rejection reasons. Order matters:
// claim validation errors wrap ErrTokenInvalidClaims alongside the specific cause.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenNotValidYet):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedClaim, err)
	}
}

func decodeClaims(claims jwt.MapClaims) (*UserToken, error) {
	subject, _ := claims[claimSubject].(string)
	if subject == "" {
		subject, _ = claims[claimLegacySubject].(string)
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformedClaim)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: exp", ErrMalformedClaim)
	}
	iat, err := claims.GetIssuedAt()
	if err != nil {
		return nil, fmt.Errorf("%w: iat", ErrMalformedClaim)
	}

	caps, err := decodePolicy(claims[claimPolicy])
	if err != nil {
		return nil, err
	}

	tok := &UserToken{
		Subject:      subject,
		ExpiresAt:    exp.Time,
		Capabilities: caps,
	}
	if iat != nil {
		tok.IssuedAt = iat.Time
	}
	return tok, nil
}

// decodePolicy reads the capability allow-list. Deny-lists are not supported,
// so a non-empty reject list fails the token rather than being ignored.
func decodePolicy(raw any) ([]string, error) {
	if raw == nil {
		return []string{}, nil
	}
	policy, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an object", ErrMalformedClaim, claimPolicy)
	}

	if rejects, err := stringList(policy[claimReject]); err != nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrMalformedClaim, claimPolicy, claimReject)
	} else if len(rejects) > 0 {
		return nil, fmt.Errorf("%w: %s.%s is not supported", ErrMalformedClaim, claimPolicy, claimReject)
	}

	allow, err := stringList(policy[claimAllow])
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrMalformedClaim, claimPolicy, claimAllow)
	}
	return allow, nil
}

func stringList(raw any) ([]string, error) {
	if raw == nil {
		return []string{}, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, errors.New("not a list")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok || s == "" {
			return nil, errors.New("not a list of names")
		}
		out = append(out, s)
	}
	return out, nil
}
