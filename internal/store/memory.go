// ABOUTME: In-memory AccountStore guarded by a single RWMutex
// ABOUTME: Used for tests and the "memory" database driver

package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory AccountStore. Reads and writes go through one lock,
// so a SetPublicKey is visible to every GetKeySlot that starts after it returns.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account // keyed by account ID
	byAPIKey map[string]string   // keyed by API key hash -> account ID
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byAPIKey: make(map[string]string),
	}
}

// CreateAccount stores a new account.
func (m *MemoryStore) CreateAccount(ctx context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[account.ID]; ok {
		return ErrDuplicateAccount
	}
	if _, ok := m.byAPIKey[account.APIKeyHash]; ok {
		return ErrDuplicateAccount
	}

	a := *account
	a.PublicKey = copyKey(account.PublicKey)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	m.accounts[a.ID] = &a
	m.byAPIKey[a.APIKeyHash] = a.ID
	return nil
}

// GetAccount retrieves an account by ID.
func (m *MemoryStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(a), nil
}

// GetAccountByAPIKeyHash retrieves an account by the hash of its secret API key.
func (m *MemoryStore) GetAccountByAPIKeyHash(ctx context.Context, hash string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byAPIKey[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(m.accounts[id]), nil
}

// CountAccounts returns the number of stored accounts.
func (m *MemoryStore) CountAccounts(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts), nil
}

// GetKeySlot returns the account's current key slot.
func (m *MemoryStore) GetKeySlot(ctx context.Context, accountID string) (*KeySlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	return slotOf(a), nil
}

// SetPublicKey replaces the account's key slot. A nil key removes the registered key.
func (m *MemoryStore) SetPublicKey(ctx context.Context, accountID string, key *PublicKey) (*KeySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	a.PublicKey = copyKey(key)
	a.KeyVersion++
	a.UpdatedAt = time.Now().UTC()
	return slotOf(a), nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func cloneAccount(a *Account) *Account {
	cp := *a
	cp.PublicKey = copyKey(a.PublicKey)
	return &cp
}
