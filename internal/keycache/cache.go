// ABOUTME: Redis-backed key-slot cache shared by every gateway instance
// ABOUTME: Invalidated synchronously on write; never serves a slot older than the last completed write

package keycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/2389/scheduler-gateway/internal/metrics"
	"github.com/2389/scheduler-gateway/internal/store"
)

// DefaultPrefix namespaces cache keys.
const DefaultPrefix = "sgw:keyslot:"

// pendingReply is what lookup answers while any writer is in flight.
const pendingReply = "pending"

// ErrCacheWrite is returned when a key update cannot be fenced in Redis.
// The backing store is left untouched in that case.
var ErrCacheWrite = errors.New("key cache write failed")

// lookup returns the cached slot, or pendingReply while the pending set is non-empty.
var lookup = redis.NewScript(`
if redis.call('SCARD', KEYS[2]) > 0 then
	return 'pending'
end
return redis.call('GET', KEYS[1])
`)

// publish stores ARGV[2] (version ARGV[1]) unless the slot already holds that version
// or newer. A writer passes its token in ARGV[3] and leaves the pending set in the same
// step. Readers pass an empty ARGV[3] and populate only when no writer is pending.
var publish = redis.NewScript(`
if ARGV[3] ~= '' then
	redis.call('SREM', KEYS[2], ARGV[3])
elseif redis.call('SCARD', KEYS[2]) > 0 then
	return 0
end
local cur = redis.call('GET', KEYS[1])
if cur then
	local v = string.match(cur, '^(%d+):')
	if v and tonumber(v) >= tonumber(ARGV[1]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[2])
return 1
`)

// Store wraps a store.KeySlotStore with a Redis cache. It implements store.KeySlotStore itself.
//
// Write protocol: add a writer-unique token to the slot's pending set, write the backing
// store, then publish the new version and remove the token atomically. Readers bypass the
// cache while any token is present. If the token cannot be added the update is refused
// before the backing store changes. If publishing fails the token stays, so the slot is
// never served from cache again until the token is cleared by an operator.
type Store struct {
	backing store.KeySlotStore
	rdb     redis.UniversalClient
	prefix  string
	logger  *slog.Logger
}

// Config configures a Store.
type Config struct {
	Backing store.KeySlotStore
	Client  redis.UniversalClient
	Prefix  string
	Logger  *slog.Logger
}

// New creates a cache in front of cfg.Backing.
func New(cfg Config) *Store {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backing: cfg.Backing,
		rdb:     cfg.Client,
		prefix:  prefix,
		logger:  logger.With("component", "keycache"),
	}
}

type cachedKey struct {
	PEM         string `json:"pem"`
	Algorithm   string `json:"alg"`
	Fingerprint string `json:"fp"`
}

type cachedSlot struct {
	Key *cachedKey `json:"key,omitempty"`
}

// keys returns the slot key and its pending set. The hash tag keeps both in one cluster slot.
func (s *Store) keys(accountID string) []string {
	slot := s.prefix + "{" + accountID + "}"
	return []string{slot, slot + ":pending"}
}

func encodeSlot(slot *store.KeySlot) (string, error) {
	var c cachedSlot
	if slot.Key != nil {
		c.Key = &cachedKey{PEM: slot.Key.PEM, Algorithm: slot.Key.Algorithm, Fingerprint: slot.Key.Fingerprint}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(slot.Version, 10) + ":" + string(data), nil
}

// decodeSlot returns nil, nil while a write is pending.
func decodeSlot(accountID, raw string) (*store.KeySlot, error) {
	if raw == pendingReply {
		return nil, nil
	}
	versionStr, payload, ok := strings.Cut(raw, ":")
	if !ok {
		return nil, fmt.Errorf("malformed cache entry")
	}
	version, err := strconv.ParseInt(versionStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed cache version: %w", err)
	}
	var c cachedSlot
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("malformed cache payload: %w", err)
	}
	slot := &store.KeySlot{AccountID: accountID, Version: version}
	if c.Key != nil {
		slot.Key = &store.PublicKey{PEM: c.Key.PEM, Algorithm: c.Key.Algorithm, Fingerprint: c.Key.Fingerprint}
	}
	return slot, nil
}

// GetKeySlot serves a versioned cache hit, otherwise reads the backing store.
func (s *Store) GetKeySlot(ctx context.Context, accountID string) (*store.KeySlot, error) {
	raw, err := lookup.Run(ctx, s.rdb, s.keys(accountID)).Text()
	switch {
	case errors.Is(err, redis.Nil):
		metrics.KeyCacheOperations.WithLabelValues("miss").Inc()
		return s.loadAndPopulate(ctx, accountID)
	case err != nil:
		metrics.KeyCacheOperations.WithLabelValues("error").Inc()
		s.logger.Warn("cache read failed, using backing store", "account_id", accountID, "error", err)
		return s.backing.GetKeySlot(ctx, accountID)
	}

	slot, err := decodeSlot(accountID, raw)
	if err != nil {
		metrics.KeyCacheOperations.WithLabelValues("error").Inc()
		s.logger.Warn("discarding cache entry", "account_id", accountID, "error", err)
		return s.backing.GetKeySlot(ctx, accountID)
	}
	if slot == nil {
		metrics.KeyCacheOperations.WithLabelValues("pending").Inc()
		return s.backing.GetKeySlot(ctx, accountID)
	}

	metrics.KeyCacheOperations.WithLabelValues("hit").Inc()
	return slot, nil
}

func (s *Store) loadAndPopulate(ctx context.Context, accountID string) (*store.KeySlot, error) {
	slot, err := s.backing.GetKeySlot(ctx, accountID)
	if err != nil {
		return nil, err
	}

	value, err := encodeSlot(slot)
	if err != nil {
		return slot, nil
	}
	if err := publish.Run(ctx, s.rdb, s.keys(accountID), slot.Version, value, "").Err(); err != nil {
		s.logger.Warn("cache populate failed", "account_id", accountID, "error", err)
	}
	return slot, nil
}

// SetPublicKey fences the cache, writes the backing store, then publishes the new slot.
func (s *Store) SetPublicKey(ctx context.Context, accountID string, key *store.PublicKey) (*store.KeySlot, error) {
	keys := s.keys(accountID)
	token := uuid.NewString()

	if err := s.rdb.SAdd(ctx, keys[1], token).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheWrite, err)
	}

	slot, err := s.backing.SetPublicKey(ctx, accountID, key)
	if err != nil {
		// Only a definite no-op may lift the fence; anything else may have committed.
		if errors.Is(err, store.ErrNotFound) {
			if rerr := s.rdb.SRem(ctx, keys[1], token).Err(); rerr != nil {
				s.logger.Warn("cache fence release failed", "account_id", accountID, "error", rerr)
			}
		}
		return nil, err
	}

	value, err := encodeSlot(slot)
	if err == nil {
		err = publish.Run(ctx, s.rdb, keys, slot.Version, value, token).Err()
	}
	if err != nil {
		metrics.KeyCacheOperations.WithLabelValues("error").Inc()
		s.logger.Warn("cache publish failed, slot bypasses cache until its pending set is cleared",
			"account_id", accountID, "version", slot.Version, "pending_key", keys[1], "error", err)
	}
	return slot, nil
}

// Ping checks connectivity to Redis.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
