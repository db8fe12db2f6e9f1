// ABOUTME: Rejection reasons for the authentication pipeline and their external outcomes
// ABOUTME: Reasons are logged; callers only ever see unauthenticated, forbidden or unavailable

package auth

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Rejection errors. Each maps to exactly one Reason.
var (
	ErrInvalidAPIKey             = errors.New("invalid api key")
	ErrUnknownAccount            = errors.New("unknown account")
	ErrNoKeyRegistered           = errors.New("no public key registered")
	ErrBadSignature              = errors.New("bad signature")
	ErrExpired                   = errors.New("token expired")
	ErrMalformedClaim            = errors.New("malformed claim")
	ErrDenied                    = errors.New("operation denied")
	ErrMissingCredential         = errors.New("missing credential")
	ErrWrongPlane                = errors.New("credential not accepted on this endpoint")
	ErrAnonymousUserNotPermitted = errors.New("token required")
	ErrStoreUnavailable          = errors.New("key store unavailable")

	// ErrAlgorithmNotAllowed is returned for any token whose header declares
	// an algorithm other than RS256. No signature check is attempted.
	ErrAlgorithmNotAllowed = fmt.Errorf("%w: algorithm not allowed", ErrBadSignature)
)

// Reason is the internal, log-only classification of a rejection.
type Reason string

const (
	ReasonInvalidAPIKey             Reason = "invalid_api_key"
	ReasonUnknownAccount            Reason = "unknown_account"
	ReasonNoKeyRegistered           Reason = "no_key_registered"
	ReasonBadSignature              Reason = "bad_signature"
	ReasonExpired                   Reason = "expired"
	ReasonMalformedClaim            Reason = "malformed_claim"
	ReasonDenied                    Reason = "denied"
	ReasonMissingCredential         Reason = "missing_credential"
	ReasonWrongPlane                Reason = "wrong_plane"
	ReasonAnonymousUserNotPermitted Reason = "anonymous_user_not_permitted"
	ReasonStoreUnavailable          Reason = "store_unavailable"
)

var reasonOrder = []struct {
	err    error
	reason Reason
}{
	{ErrStoreUnavailable, ReasonStoreUnavailable},
	{ErrInvalidAPIKey, ReasonInvalidAPIKey},
	{ErrUnknownAccount, ReasonUnknownAccount},
	{ErrNoKeyRegistered, ReasonNoKeyRegistered},
	{ErrBadSignature, ReasonBadSignature},
	{ErrExpired, ReasonExpired},
	{ErrMalformedClaim, ReasonMalformedClaim},
	{ErrDenied, ReasonDenied},
	{ErrMissingCredential, ReasonMissingCredential},
	{ErrWrongPlane, ReasonWrongPlane},
	{ErrAnonymousUserNotPermitted, ReasonAnonymousUserNotPermitted},
}

// AuthError is a rejection carrying its internal reason.
type AuthError struct {
	Reason Reason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// reject wraps err in an AuthError with the reason its sentinel maps to.
func reject(err error) *AuthError {
	return &AuthError{Reason: ReasonOf(err), Err: err}
}

// ReasonOf classifies err. Unrecognised errors are treated as bad credentials.
func ReasonOf(err error) Reason {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	for _, r := range reasonOrder {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonBadSignature
}

// Outcome is what the caller is told.
type Outcome int

const (
	OutcomeUnauthenticated Outcome = iota
	OutcomeForbidden
	OutcomeUnavailable
)

// OutcomeOf collapses an error to its external outcome.
func OutcomeOf(err error) Outcome {
	switch ReasonOf(err) {
	case ReasonDenied:
		return OutcomeForbidden
	case ReasonStoreUnavailable:
		return OutcomeUnavailable
	default:
		return OutcomeUnauthenticated
	}
}

func (o Outcome) String() string {
	switch o {
	case OutcomeForbidden:
		return "forbidden"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unauthenticated"
	}
}

// HTTPStatus returns the status code reported for o.
func (o Outcome) HTTPStatus() int {
	switch o {
	case OutcomeForbidden:
		return http.StatusForbidden
	case OutcomeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

// GRPCCode returns the status code reported for o.
func (o Outcome) GRPCCode() codes.Code {
	switch o {
	case OutcomeForbidden:
		return codes.PermissionDenied
	case OutcomeUnavailable:
		return codes.Unavailable
	default:
		return codes.Unauthenticated
	}
}
