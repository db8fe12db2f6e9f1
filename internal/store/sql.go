// ABOUTME: database/sql implementation of AccountStore shared by the SQLite and Postgres backends
// ABOUTME: Dialects differ only in placeholder syntax and constraint-violation detection

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// dialect captures what differs between SQL backends.
type dialect struct {
	name                  string
	bind                  func(query string) string
	isConstraintViolation func(err error) bool
}

// questionMarks leaves ? placeholders untouched (SQLite).
func questionMarks(query string) string { return query }

// dollarNumbers rewrites ? placeholders as $1, $2, ... (Postgres).
func dollarNumbers(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlAccounts implements AccountStore over database/sql.
type sqlAccounts struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

const accountColumns = `id, api_key_hash, public_key_pem, public_key_alg, public_key_fp, key_version, created_at, updated_at`

// CreateAccount inserts a new account.
// Returns ErrDuplicateAccount if the id or API key hash is already taken.
func (s *sqlAccounts) CreateAccount(ctx context.Context, account *Account) error {
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = account.CreatedAt
	}

	pem, alg, fp := keyColumns(account.PublicKey)
	query := s.dialect.bind(`
		INSERT INTO accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.APIKeyHash,
		pem,
		alg,
		fp,
		account.KeyVersion,
		account.CreatedAt.UTC().Format(time.RFC3339Nano),
		account.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if s.dialect.isConstraintViolation(err) {
			return ErrDuplicateAccount
		}
		return fmt.Errorf("inserting account: %w", err)
	}

	s.logger.Debug("created account", "id", account.ID)
	return nil
}

// GetAccount retrieves an account by ID.
// Returns ErrNotFound if the account doesn't exist.
func (s *sqlAccounts) GetAccount(ctx context.Context, id string) (*Account, error) {
	query := s.dialect.bind(`SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`)
	return s.queryAccount(ctx, query, id)
}

// GetAccountByAPIKeyHash retrieves an account by the hash of its secret API key.
// Returns ErrNotFound if no account has that key.
func (s *sqlAccounts) GetAccountByAPIKeyHash(ctx context.Context, hash string) (*Account, error) {
	query := s.dialect.bind(`SELECT ` + accountColumns + ` FROM accounts WHERE api_key_hash = ?`)
	return s.queryAccount(ctx, query, hash)
}

// CountAccounts returns the number of stored accounts.
func (s *sqlAccounts) CountAccounts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting accounts: %w", err)
	}
	return n, nil
}

// Ping verifies a connection to the database is alive.
func (s *sqlAccounts) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging %s: %w", s.dialect.name, err)
	}
	return nil
}

// GetKeySlot returns the account's current key slot.
// Returns ErrNotFound if the account doesn't exist.
func (s *sqlAccounts) GetKeySlot(ctx context.Context, accountID string) (*KeySlot, error) {
	query := s.dialect.bind(`
		SELECT public_key_pem, public_key_alg, public_key_fp, key_version
		FROM accounts
		WHERE id = ?
	`)

	var pem, alg, fp sql.NullString
	slot := &KeySlot{AccountID: accountID}
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(&pem, &alg, &fp, &slot.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying key slot: %w", err)
	}
	slot.Key = keyFromColumns(pem, alg, fp)
	return slot, nil
}

// SetPublicKey replaces the key slot in a single UPDATE and returns the new version.
// A nil key clears the slot. Returns ErrNotFound if the account doesn't exist.
func (s *sqlAccounts) SetPublicKey(ctx context.Context, accountID string, key *PublicKey) (*KeySlot, error) {
	pem, alg, fp := keyColumns(key)
	query := s.dialect.bind(`
		UPDATE accounts
		SET public_key_pem = ?, public_key_alg = ?, public_key_fp = ?,
			key_version = key_version + 1, updated_at = ?
		WHERE id = ?
		RETURNING key_version
	`)

	var version int64
	err := s.db.QueryRowContext(ctx, query,
		pem,
		alg,
		fp,
		time.Now().UTC().Format(time.RFC3339Nano),
		accountID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating public key: %w", err)
	}

	s.logger.Debug("replaced public key", "account_id", accountID, "version", version, "removed", key == nil)
	return &KeySlot{AccountID: accountID, Key: copyKey(key), Version: version}, nil
}

func (s *sqlAccounts) queryAccount(ctx context.Context, query string, arg string) (*Account, error) {
	var a Account
	var pem, alg, fp sql.NullString
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&a.ID,
		&a.APIKeyHash,
		&pem,
		&alg,
		&fp,
		&a.KeyVersion,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}

	a.PublicKey = keyFromColumns(pem, alg, fp)
	if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err != nil {
		s.logger.Warn("failed to parse account created_at", "id", a.ID, "error", err)
	} else {
		a.CreatedAt = parsed
	}
	if parsed, err := time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		s.logger.Warn("failed to parse account updated_at", "id", a.ID, "error", err)
	} else {
		a.UpdatedAt = parsed
	}
	return &a, nil
}

func keyColumns(k *PublicKey) (pem, alg, fp sql.NullString) {
	if k == nil {
		return
	}
	return sql.NullString{String: k.PEM, Valid: true},
		sql.NullString{String: k.Algorithm, Valid: true},
		sql.NullString{String: k.Fingerprint, Valid: true}
}

func keyFromColumns(pem, alg, fp sql.NullString) *PublicKey {
	if !pem.Valid || pem.String == "" {
		return nil
	}
	return &PublicKey{PEM: pem.String, Algorithm: alg.String, Fingerprint: fp.String}
}
