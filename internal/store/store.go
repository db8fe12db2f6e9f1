// ABOUTME: Account and key-slot types plus the persistence interfaces for scheduler-gateway
// ABOUTME: Every backend (memory, SQLite, Postgres) implements AccountStore

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested account does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateAccount is returned when an account id or API key hash is already taken
var ErrDuplicateAccount = errors.New("account already exists")

// AlgorithmRS256 is the only signing algorithm a registered public key may carry.
const AlgorithmRS256 = "RS256"

// PublicKey is an account's registered token-verification key.
type PublicKey struct {
	PEM         string // canonical PKIX PEM
	Algorithm   string // always AlgorithmRS256
	Fingerprint string // "SHA256:..." as printed by ssh-keygen
}

// Account is the tenant root.
type Account struct {
	ID         string
	APIKeyHash string // hex SHA-256 of the secret API key; the raw key is never stored
	PublicKey  *PublicKey
	KeyVersion int64 // bumped on every SetPublicKey, including removals
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// KeySlot is the single public-key slot of an account at a given version.
// Key is nil when no key is registered.
type KeySlot struct {
	AccountID string
	Key       *PublicKey
	Version   int64
}

// KeySlotStore is the source of truth for an account's active public key.
// SetPublicKey atomically replaces the slot (nil removes the key) and returns the new slot;
// once it returns, every GetKeySlot observes the new value.
type KeySlotStore interface {
	GetKeySlot(ctx context.Context, accountID string) (*KeySlot, error)
	SetPublicKey(ctx context.Context, accountID string, key *PublicKey) (*KeySlot, error)
}

// AccountStore defines the interface for account persistence
type AccountStore interface {
	KeySlotStore

	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByAPIKeyHash(ctx context.Context, hash string) (*Account, error)
	CountAccounts(ctx context.Context) (int, error)

	// Ping checks the store is reachable without touching account rows.
	Ping(ctx context.Context) error
	Close() error
}

func copyKey(k *PublicKey) *PublicKey {
	if k == nil {
		return nil
	}
	cp := *k
	return &cp
}

func slotOf(a *Account) *KeySlot {
	return &KeySlot{
		AccountID: a.ID,
		Key:       copyKey(a.PublicKey),
		Version:   a.KeyVersion,
	}
}
