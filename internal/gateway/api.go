// ABOUTME: HTTP API handlers for account management and user-plane checks
// ABOUTME: Management routes take x-api-key; user routes take nettu-account plus a bearer token

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/2389/scheduler-gateway/internal/account"
	"github.com/2389/scheduler-gateway/internal/auth"
	"github.com/2389/scheduler-gateway/internal/keycache"
	"github.com/2389/scheduler-gateway/internal/store"
)

// maxBodyBytes bounds request bodies; a PEM certificate chain fits easily.
const maxBodyBytes = 64 << 10

// CreateAccountRequest is the body of POST /api/v1/account.
type CreateAccountRequest struct {
	Code string `json:"code"`
}

// AccountResponse describes an account without its secret.
type AccountResponse struct {
	ID             string  `json:"id"`
	PublicJWTKey   *string `json:"publicJwtKey"`
	KeyFingerprint string  `json:"keyFingerprint,omitempty"`
	KeyVersion     int64   `json:"keyVersion"`
}

// CreateAccountResponse is returned once, on creation.
type CreateAccountResponse struct {
	Account      AccountResponse `json:"account"`
	SecretAPIKey string          `json:"secretApiKey"`
}

// SetPublicKeyRequest is the body of PUT /api/v1/account/pubkey. A null key removes it.
type SetPublicKeyRequest struct {
	PublicJWTKey *string `json:"publicJwtKey"`
}

// MeResponse describes the authenticated end user.
type MeResponse struct {
	AccountID    string   `json:"accountId"`
	UserID       string   `json:"userId"`
	Capabilities []string `json:"capabilities"`
}

// AuthorizeRequest is the body of POST /api/v1/authorize.
type AuthorizeRequest struct {
	Operation string `json:"operation"`
}

// AuthorizeResponse confirms a permitted operation.
type AuthorizeResponse struct {
	Operation string `json:"operation"`
	Allowed   bool   `json:"allowed"`
}

// registerHTTPAPIRoutes wires the API endpoints with their access rules.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux, authLogger *slog.Logger) {
	guard := func(access auth.Access, h http.HandlerFunc) http.Handler {
		return auth.HTTPAuthMiddleware(g.authn, access, authLogger)(h)
	}

	mux.HandleFunc("POST /api/v1/account", g.handleCreateAccount)
	mux.Handle("GET /api/v1/account", guard(auth.AccessManagement, g.handleGetAccount))
	mux.Handle("PUT /api/v1/account/pubkey", guard(auth.AccessManagement, g.handleSetPublicKey))
	mux.Handle("GET /api/v1/me", guard(auth.AccessUser, g.handleMe))
	mux.Handle("POST /api/v1/authorize", guard(auth.AccessAccountScoped, g.handleAuthorize))
}

func toAccountResponse(a *store.Account) AccountResponse {
	resp := AccountResponse{ID: a.ID, KeyVersion: a.KeyVersion}
	if a.PublicKey != nil {
		pemKey := a.PublicKey.PEM
		resp.PublicJWTKey = &pemKey
		resp.KeyFingerprint = a.PublicKey.Fingerprint
	}
	return resp
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// handleCreateAccount registers an account if the creation gate admits the request.
func (g *Gateway) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	created, err := g.accounts.Create(r.Context(), req.Code)
	switch {
	case errors.Is(err, account.ErrCreationDisabled):
		g.sendJSONError(w, http.StatusForbidden, "account creation is disabled")
		return
	case errors.Is(err, account.ErrInvalidCode):
		g.sendJSONError(w, http.StatusUnauthorized, "invalid code")
		return
	case err != nil:
		g.logger.Error("account creation failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	g.writeJSON(w, http.StatusCreated, CreateAccountResponse{
		Account:      toAccountResponse(created.Account),
		SecretAPIKey: created.APIKey,
	})
}

// handleGetAccount returns the calling account.
func (g *Gateway) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	principal := auth.MustFromContext(r.Context())

	a, err := g.accounts.Get(r.Context(), principal.AccountID)
	if err != nil {
		g.writeStoreError(w, principal.AccountID, err)
		return
	}
	g.writeJSON(w, http.StatusOK, toAccountResponse(a))
}

// handleSetPublicKey replaces or removes the calling account's public key.
func (g *Gateway) handleSetPublicKey(w http.ResponseWriter, r *http.Request) {
	principal := auth.MustFromContext(r.Context())

	var req SetPublicKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	_, err := g.accounts.SetPublicKey(r.Context(), principal.AccountID, req.PublicJWTKey)
	if errors.Is(err, auth.ErrInvalidPublicKey) {
		g.sendJSONError(w, http.StatusBadRequest, "malformed public key")
		return
	}
	if err != nil {
		g.writeStoreError(w, principal.AccountID, err)
		return
	}

	a, err := g.accounts.Get(r.Context(), principal.AccountID)
	if err != nil {
		g.writeStoreError(w, principal.AccountID, err)
		return
	}
	g.writeJSON(w, http.StatusOK, toAccountResponse(a))
}

// handleMe describes the end user the bearer token names.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	principal := auth.MustFromContext(r.Context())
	caps := principal.Capabilities
	if caps == nil {
		caps = []string{}
	}
	g.writeJSON(w, http.StatusOK, MeResponse{
		AccountID:    principal.AccountID,
		UserID:       principal.UserID,
		Capabilities: caps,
	})
}

// handleAuthorize answers whether the caller may perform an operation.
func (g *Gateway) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	op := auth.Operation(req.Operation)
	if !slices.Contains(auth.Operations, op) {
		g.sendJSONError(w, http.StatusBadRequest, "unknown operation")
		return
	}

	principal := auth.MustFromContext(r.Context())
	if err := g.authn.Authorize(principal, op); err != nil {
		g.logger.Info("operation denied",
			"account_id", principal.AccountID,
			"user_id", principal.UserID,
			"operation", req.Operation,
		)
		auth.WriteError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, AuthorizeResponse{Operation: req.Operation, Allowed: true})
}

// writeStoreError maps a store failure after authentication. An account that
// vanished mid-request is reported like any other bad credential.
func (g *Gateway) writeStoreError(w http.ResponseWriter, accountID string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		auth.WriteError(w, auth.ErrInvalidAPIKey)
		return
	}
	if errors.Is(err, keycache.ErrCacheWrite) {
		g.logger.Warn("key update refused, cache unreachable", "account_id", accountID, "error", err)
	} else {
		g.logger.Error("store failure", "account_id", accountID, "error", err)
	}
	auth.WriteError(w, auth.ErrStoreUnavailable)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
