// Package store provides account persistence for the gateway.
//
// # Architecture
//
// AccountStore is the single interface every backend implements:
//
//   - MemoryStore: map guarded by one RWMutex (tests, "memory" driver)
//   - SQLiteStore: modernc.org/sqlite in WAL mode (default)
//   - PostgresStore: database/sql with the pgx driver
//
// The SQL backends share one implementation and differ only in placeholder
// syntax and how a UNIQUE violation is reported.
//
// # Key slots
//
// Each account has exactly one public-key slot. SetPublicKey replaces it in a
// single statement (UPDATE ... RETURNING key_version), so the slot never holds
// two keys and a read that starts after the write returns sees the new value.
// KeyVersion increases on every write, removals included; internal/keycache
// relies on it to order concurrent cache updates.
//
// # Error Handling
//
//   - ErrNotFound: account does not exist
//   - ErrDuplicateAccount: id or API key hash already taken
//
// Any other error is a storage failure and is wrapped with %w.
package store
