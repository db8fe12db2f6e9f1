// ABOUTME: PostgreSQL implementation of AccountStore over database/sql with the pgx driver
// ABOUTME: Shares query logic with SQLiteStore; only placeholders and error codes differ

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// uniqueViolation is the Postgres SQLSTATE for a UNIQUE constraint failure.
const uniqueViolation = "23505"

// PostgresStore implements AccountStore using PostgreSQL.
type PostgresStore struct {
	sqlAccounts
}

// NewPostgresStore wraps an open database handle. Call Migrate before first use
// on a fresh database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{sqlAccounts{
		db: db,
		dialect: dialect{
			name:                  "postgres",
			bind:                  dollarNumbers,
			isConstraintViolation: isPostgresUniqueViolation,
		},
		logger: slog.Default().With("component", "store", "driver", "postgres"),
	}}
}

// OpenPostgresStore connects to dsn with the pgx driver and applies the schema.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := NewPostgresStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("Postgres store initialized")
	return s, nil
}

// Migrate creates the accounts table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id             TEXT PRIMARY KEY,
			api_key_hash   TEXT NOT NULL UNIQUE,
			public_key_pem TEXT,
			public_key_alg TEXT,
			public_key_fp  TEXT,
			key_version    BIGINT NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL,

			CHECK (public_key_alg IS NULL OR public_key_alg = 'RS256')
		)
	`)
	return err
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	s.logger.Info("closing Postgres store")
	return s.db.Close()
}

func isPostgresUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
