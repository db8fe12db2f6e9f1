// ABOUTME: Account management plane: registration behind a configurable gate and key upload
// ABOUTME: The API key is returned once on creation; only its hash is kept

package account

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/scheduler-gateway/internal/auth"
	"github.com/2389/scheduler-gateway/internal/metrics"
	"github.com/2389/scheduler-gateway/internal/store"
)

// CreationMode controls who may register an account.
type CreationMode string

const (
	CreationOpen     CreationMode = "open"
	CreationCode     CreationMode = "code"
	CreationDisabled CreationMode = "disabled"
)

// Creation errors.
var (
	ErrCreationDisabled = errors.New("account creation is disabled")
	ErrInvalidCode      = errors.New("invalid account creation code")
)

// Store defines the store operations needed for account management.
type Store interface {
	CreateAccount(ctx context.Context, a *store.Account) error
	GetAccount(ctx context.Context, id string) (*store.Account, error)
}

// Config holds the account creation gate.
type Config struct {
	Creation CreationMode
	Code     string // required when Creation is CreationCode
}

// Service implements account management.
type Service struct {
	accounts Store
	keys     store.KeySlotStore
	cfg      Config
	logger   *slog.Logger
}

// NewService creates an account service. keys receives every public key
// write; pass the key cache here when one is configured so it is fenced.
func NewService(accounts Store, keys store.KeySlotStore, cfg Config, logger *slog.Logger) (*Service, error) {
	switch cfg.Creation {
	case CreationOpen, CreationDisabled:
	case CreationCode:
		if cfg.Code == "" {
			return nil, errors.New("account creation mode \"code\" needs a code")
		}
	default:
		return nil, fmt.Errorf("unknown account creation mode %q", cfg.Creation)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		accounts: accounts,
		keys:     keys,
		cfg:      cfg,
		logger:   logger.With("component", "account"),
	}, nil
}

// Created is the result of a successful registration.
type Created struct {
	Account *store.Account
	APIKey  string // plaintext; never retrievable again
}

// Create registers a new account if the gate admits code.
func (s *Service) Create(ctx context.Context, code string) (*Created, error) {
	switch s.cfg.Creation {
	case CreationDisabled:
		return nil, ErrCreationDisabled
	case CreationCode:
		if subtle.ConstantTimeCompare([]byte(code), []byte(s.cfg.Code)) != 1 {
			s.logger.Warn("account creation rejected", "reason", "invalid_code")
			return nil, ErrInvalidCode
		}
	}

	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a := &store.Account{
		ID:         uuid.New().String(),
		APIKeyHash: auth.HashAPIKey(apiKey),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.accounts.CreateAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}

	metrics.AccountsCreated.Inc()
	s.logger.Info("account created", "account_id", a.ID)
	return &Created{Account: a, APIKey: apiKey}, nil
}

// Get returns the account with id.
func (s *Service) Get(ctx context.Context, id string) (*store.Account, error) {
	return s.accounts.GetAccount(ctx, id)
}

// SetPublicKey replaces the account's public key with keyData, or removes it
// when keyData is nil. Malformed keys wrap auth.ErrInvalidPublicKey.
func (s *Service) SetPublicKey(ctx context.Context, accountID string, keyData *string) (*store.KeySlot, error) {
	var key *store.PublicKey
	if keyData != nil {
		parsed, err := auth.ParsePublicKey(*keyData)
		if err != nil {
			return nil, err
		}
		key = parsed
	}

	slot, err := s.keys.SetPublicKey(ctx, accountID, key)
	if err != nil {
		return nil, err
	}

	if key == nil {
		metrics.KeyUpdates.WithLabelValues("remove").Inc()
		s.logger.Info("public key removed", "account_id", accountID, "key_version", slot.Version)
	} else {
		metrics.KeyUpdates.WithLabelValues("set").Inc()
		s.logger.Info("public key set", "account_id", accountID, "fingerprint", key.Fingerprint, "key_version", slot.Version)
	}
	return slot, nil
}
