// ABOUTME: End-to-end scenario tests for auth using real SQLite
// ABOUTME: Key upload, token use, rotation and removal without any mocking

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/2389/scheduler-gateway/internal/store"
)

// createTestStore creates a real SQLite store in a temp directory.
func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create SQLite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// userRequest performs a user-plane request through the HTTP middleware.
func userRequest(h http.Handler, accountID, token string) int {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set(HeaderAccountID, accountID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestScenario_UploadUseRemove(t *testing.T) {
	// 1. Create real SQLite store and an account
	s := createTestStore(t)
	ctx := context.Background()

	apiKey, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	if err := s.CreateAccount(ctx, &store.Account{ID: "acct-e2e", APIKeyHash: HashAPIKey(apiKey)}); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}

	p := NewPipeline(s, s)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := HTTPAuthMiddleware(p, AccessUser, nil)(ok)

	// 2. The API key authenticates the account holder
	principal, err := p.Authenticate(ctx, CredentialMaterial{APIKey: apiKey}, AccessManagement)
	if err != nil {
		t.Fatalf("API key rejected: %v", err)
	}
	if principal.AccountID != "acct-e2e" {
		t.Fatalf("expected account acct-e2e, got %s", principal.AccountID)
	}

	// 3. Upload public key P1
	key1 := testPrivateKey(t, 0)
	pk, err := ParsePublicKey(publicPEM(t, key1))
	if err != nil {
		t.Fatalf("ParsePublicKey() error = %v", err)
	}
	if _, err := s.SetPublicKey(ctx, "acct-e2e", pk); err != nil {
		t.Fatalf("SetPublicKey() error = %v", err)
	}

	// 4. Issue T1 with the matching private key; request succeeds
	t1, err := NewIssuer(key1).Issue(TokenRequest{Subject: "user-1", Capabilities: []string{"*"}, TTL: time.Hour})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if code := userRequest(h, "acct-e2e", t1); code != http.StatusOK {
		t.Fatalf("expected 200 with T1, got %d", code)
	}

	// 5. Remove the key; the same request now fails
	if _, err := s.SetPublicKey(ctx, "acct-e2e", nil); err != nil {
		t.Fatalf("SetPublicKey(nil) error = %v", err)
	}
	if code := userRequest(h, "acct-e2e", t1); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after key removal, got %d", code)
	}

	_, err = p.Authenticate(ctx, CredentialMaterial{AccountID: "acct-e2e", BearerToken: t1}, AccessUser)
	if ReasonOf(err) != ReasonNoKeyRegistered {
		t.Errorf("expected no_key_registered, got %v", err)
	}
}

func TestScenario_RotationInvalidatesOutstandingTokens(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	if err := s.CreateAccount(ctx, &store.Account{ID: "acct-rot", APIKeyHash: HashAPIKey("sk_rot")}); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	v := NewTokenVerifier(s)

	key1, key2 := testPrivateKey(t, 0), testPrivateKey(t, 1)
	if _, err := s.SetPublicKey(ctx, "acct-rot", storedKey(t, key1)); err != nil {
		t.Fatalf("SetPublicKey(key1) error = %v", err)
	}

	t1, _ := NewIssuer(key1).Issue(TokenRequest{Subject: "u", TTL: time.Hour})
	if _, err := v.Verify(ctx, "acct-rot", t1, time.Now()); err != nil {
		t.Fatalf("T1 should verify under key1: %v", err)
	}

	if _, err := s.SetPublicKey(ctx, "acct-rot", storedKey(t, key2)); err != nil {
		t.Fatalf("SetPublicKey(key2) error = %v", err)
	}

	// T1 is not expired, but its key is gone.
	if _, err := v.Verify(ctx, "acct-rot", t1, time.Now()); ReasonOf(err) != ReasonBadSignature {
		t.Errorf("T1 after rotation: expected bad_signature, got %v", err)
	}

	t2, _ := NewIssuer(key2).Issue(TokenRequest{Subject: "u", TTL: time.Hour})
	if _, err := v.Verify(ctx, "acct-rot", t2, time.Now()); err != nil {
		t.Errorf("T2 should verify under key2: %v", err)
	}
}

func TestScenario_NoVerificationStartedAfterRotationUsesOldKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	if err := s.CreateAccount(ctx, &store.Account{ID: "acct-race", APIKeyHash: HashAPIKey("sk_race")}); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	v := NewTokenVerifier(s)

	key1, key2 := testPrivateKey(t, 0), testPrivateKey(t, 1)
	if _, err := s.SetPublicKey(ctx, "acct-race", storedKey(t, key1)); err != nil {
		t.Fatalf("SetPublicKey(key1) error = %v", err)
	}
	t1, _ := NewIssuer(key1).Issue(TokenRequest{Subject: "u", TTL: time.Hour})

	// Verifications race with the rotation; any may succeed while it is in flight.
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_, _ = v.Verify(ctx, "acct-race", t1, time.Now())
				}
			}
		}()
	}

	if _, err := s.SetPublicKey(ctx, "acct-race", storedKey(t, key2)); err != nil {
		t.Fatalf("SetPublicKey(key2) error = %v", err)
	}

	// Once the write has returned, nothing may succeed with the old key.
	for i := 0; i < 50; i++ {
		if _, err := v.Verify(ctx, "acct-race", t1, time.Now()); err == nil {
			t.Fatalf("verification %d after rotation succeeded with the old key", i)
		}
	}
	close(stop)
	wg.Wait()
}

func TestScenario_UnknownAndKeylessAccountsLookAlike(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	if err := s.CreateAccount(ctx, &store.Account{ID: "acct-keyless", APIKeyHash: HashAPIKey("sk_k")}); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}

	p := NewPipeline(s, s)
	h := HTTPAuthMiddleware(p, AccessUser, nil)(http.NotFoundHandler())
	tok, _ := NewIssuer(testPrivateKey(t, 0)).Issue(TokenRequest{Subject: "u", TTL: time.Hour})

	unknown := userRequest(h, "acct-does-not-exist", tok)
	keyless := userRequest(h, "acct-keyless", tok)
	if unknown != http.StatusUnauthorized || keyless != http.StatusUnauthorized {
		t.Errorf("expected 401/401, got %d/%d", unknown, keyless)
	}
}
