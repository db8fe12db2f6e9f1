// ABOUTME: Shared fixtures for auth tests: RSA key pairs, stores and signed tokens
// ABOUTME: Key generation is cached per test binary since 2048-bit keys are slow to make

package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/scheduler-gateway/internal/store"
)

var (
	keyPairsOnce sync.Once
	keyPairs     [2]*rsa.PrivateKey
	keyPairsErr  error
)

// testPrivateKey returns one of two fixed-for-this-run RSA keys.
func testPrivateKey(t *testing.T, i int) *rsa.PrivateKey {
	t.Helper()
	keyPairsOnce.Do(func() {
		for n := range keyPairs {
			keyPairs[n], keyPairsErr = rsa.GenerateKey(rand.Reader, 2048)
			if keyPairsErr != nil {
				return
			}
		}
	})
	require.NoError(t, keyPairsErr)
	return keyPairs[i]
}

func publicPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func storedKey(t *testing.T, key *rsa.PrivateKey) *store.PublicKey {
	t.Helper()
	pk, err := ParsePublicKey(publicPEM(t, key))
	require.NoError(t, err)
	return pk
}

// testNow is the fixed clock used by token tests.
var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func issue(t *testing.T, key *rsa.PrivateKey, sub string, caps []string, ttl time.Duration) string {
	t.Helper()
	tok, err := NewIssuer(key).Issue(TokenRequest{Subject: sub, Capabilities: caps, TTL: ttl, Now: testNow})
	require.NoError(t, err)
	return tok
}

const testAPIKey = "sk_testtesttesttesttesttesttestte"

// newTestStore returns a memory store holding account "acct-1" with testAPIKey.
func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateAccount(context.Background(), &store.Account{
		ID:         "acct-1",
		APIKeyHash: HashAPIKey(testAPIKey),
	}))
	return s
}

// failingKeys simulates a storage outage.
type failingKeys struct{}

func (failingKeys) GetKeySlot(context.Context, string) (*store.KeySlot, error) {
	return nil, errStorageDown
}

func (failingKeys) GetAccountByAPIKeyHash(context.Context, string) (*store.Account, error) {
	return nil, errStorageDown
}

var errStorageDown = errors.New("connection refused")

func privatePEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}
