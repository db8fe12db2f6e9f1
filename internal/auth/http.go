// ABOUTME: HTTP middleware running the authentication pipeline on API endpoints
// ABOUTME: Reads x-api-key, nettu-account and Authorization headers; rejections are uniform

package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Authenticator is the pipeline as seen by the transport boundaries.
type Authenticator interface {
	Authenticate(ctx context.Context, m CredentialMaterial, access Access) (*Principal, error)
	Authorize(principal *Principal, op Operation) error
}

// MaterialFromHeader extracts credential material from HTTP headers.
func MaterialFromHeader(h http.Header) CredentialMaterial {
	m := CredentialMaterial{
		APIKey:    strings.TrimSpace(h.Get(HeaderAPIKey)),
		AccountID: strings.TrimSpace(h.Get(HeaderAccountID)),
	}
	if v := h.Get(HeaderAuthorization); v != "" {
		m.BearerToken = bearerToken(v)
	}
	return m
}

// WriteError writes the uniform response for a rejection. The body only
// names the outcome, never the reason.
func WriteError(w http.ResponseWriter, err error) {
	outcome := OutcomeOf(err)
	w.Header().Set("Content-Type", "application/json")
	if outcome == OutcomeUnauthenticated {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.WriteHeader(outcome.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]string{"error": outcome.String()})
}

func logHTTPFailure(logger *slog.Logger, r *http.Request, m CredentialMaterial, err error) {
	if logger == nil {
		return
	}
	logger.Warn("auth failure",
		"reason", string(ReasonOf(err)),
		"account_id", m.AccountID,
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
		"error", err.Error(),
	)
}

// HTTPAuthMiddleware authenticates each request against access and adds the
// Principal to the request context.
func HTTPAuthMiddleware(authn Authenticator, access Access, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := MaterialFromHeader(r.Header)
			principal, err := authn.Authenticate(r.Context(), m, access)
			if err != nil {
				logHTTPFailure(logger, r, m, err)
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireOperation rejects requests whose principal lacks op.
// Must be used after HTTPAuthMiddleware.
func RequireOperation(authn Authenticator, op Operation, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := FromContext(r.Context())
			if err := authn.Authorize(principal, op); err != nil {
				logHTTPFailure(logger, r, MaterialFromHeader(r.Header), err)
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
