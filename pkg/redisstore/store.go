// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package redisstore is an hpkp.Store backed by Redis, so several processes
// can share the pins they have noted.
//
// Each hostname is one string key holding the JSON encoded policy. The key
// expires together with the policy. Updates run in a WATCH/MULTI
// transaction, which makes the compare-and-replace of hpkp.Store.Add atomic
// across clients.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jeremyhahn/go-hpkp/pkg/hpkp"
)

const (
	// DefaultKeyPrefix namespaces policy keys.
	DefaultKeyPrefix = "hpkp:policy:"

	// DefaultMaxRetries bounds optimistic transaction retries per Add.
	DefaultMaxRetries = 10

	scanBatch = 256
)

// Config configures a Store.
type Config struct {
	// Client is the Redis connection. Required.
	Client redis.UniversalClient

	// KeyPrefix is prepended to every normalized hostname. Defaults to
	// DefaultKeyPrefix.
	KeyPrefix string

	// Clock is the time source for expiry. Defaults to hpkp.SystemClock.
	Clock hpkp.Clock

	// MaxRetries bounds the WATCH retries of one Add. Defaults to
	// DefaultMaxRetries.
	MaxRetries int

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store implements hpkp.Store on Redis.
type Store struct {
	client     redis.UniversalClient
	prefix     string
	clock      hpkp.Clock
	maxRetries int
	logger     *slog.Logger
}

var _ hpkp.Store = (*Store)(nil)

// New creates a Store. It does not contact the server.
func New(cfg *Config) (*Store, error) {
	if cfg == nil || cfg.Client == nil {
		return nil, fmt.Errorf("%w: redis client is required", hpkp.ErrInvalidConfig)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	clock := cfg.Clock
	if clock == nil {
		clock = hpkp.SystemClock
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:     cfg.Client,
		prefix:     prefix,
		clock:      clock,
		maxRetries: retries,
		logger:     logger.With("component", "hpkp_redis_store"),
	}, nil
}

func (s *Store) key(normalized string) string {
	return s.prefix + normalized
}

// Add implements hpkp.Store.
func (s *Store) Add(ctx context.Context, hostname string, policy *hpkp.Policy) error {
	if err := hpkp.ValidateForStore(policy); err != nil {
		return err
	}
	host := hpkp.NormalizeHostname(hostname)
	key := s.key(host)

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			return s.update(ctx, tx, host, key, policy)
		}, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("policy update raced, retrying", "host", host, "attempt", attempt+1)
			continue
		}
		if !errors.Is(err, hpkp.ErrStore) {
			err = fmt.Errorf("%w: %w", hpkp.ErrStore, err)
		}
		return err
	}
	return fmt.Errorf("%w: %w: %s", hpkp.ErrStore, ErrTooManyRetries, host)
}

func (s *Store) update(ctx context.Context, tx *redis.Tx, host, key string, incoming *hpkp.Policy) error {
	existing, err := s.decode(tx.Get(ctx, key))
	if err != nil {
		return err
	}

	now := s.clock.Now()
	action := hpkp.DecideUpdate(existing, incoming, now)
	if action == hpkp.ActionReject {
		s.logger.Debug("pin set mismatch, keeping existing policy", "host", host)
		return nil
	}

	var value []byte
	if action != hpkp.ActionRemove {
		if value, err = json.Marshal(incoming); err != nil {
			return fmt.Errorf("%w: encode policy: %w", hpkp.ErrStore, err)
		}
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if action == hpkp.ActionRemove {
			pipe.Del(ctx, key)
			return nil
		}
		pipe.Set(ctx, key, value, ttl(incoming, now))
		return nil
	})
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return err
		}
		return fmt.Errorf("%w: %w", hpkp.ErrStore, err)
	}
	s.logger.Debug("policy updated", "host", host, "action", action.String())
	return nil
}

// ttl is the remaining lifetime of p, rounded up to whole milliseconds.
func ttl(p *hpkp.Policy, now time.Time) time.Duration {
	d := p.ExpiresAt().Sub(now)
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d.Round(time.Millisecond)
}

// decode returns the policy held by a GET reply, nil when the key is absent.
func (s *Store) decode(cmd *redis.StringCmd) (*hpkp.Policy, error) {
	raw, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", hpkp.ErrStore, err)
	}
	var p hpkp.Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: decode policy: %w", hpkp.ErrStore, err)
	}
	return &p, nil
}

// FindPinningInformation implements hpkp.Store. All candidate keys are
// fetched in one pipeline; the most specific stored, unexpired key decides.
func (s *Store) FindPinningInformation(ctx context.Context, hostname string) (*hpkp.Policy, error) {
	candidates := hpkp.CandidateKeys(hostname)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(candidates))
	for i, c := range candidates {
		cmds[i] = pipe.Get(ctx, s.key(c))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %w", hpkp.ErrStore, err)
	}

	now := s.clock.Now()
	for i, cmd := range cmds {
		p, err := s.decode(cmd)
		if err != nil {
			return nil, err
		}
		if p == nil || p.Expired(now) {
			continue
		}
		if hpkp.Governs(p, i+1, now) {
			return p, nil
		}
		return nil, hpkp.ErrNoPolicy
	}
	return nil, hpkp.ErrNoPolicy
}

// ListAll implements hpkp.Store using SCAN over the key prefix. Keys that
// vanish between SCAN and GET are skipped.
func (s *Store) ListAll(ctx context.Context) (map[string]*hpkp.Policy, error) {
	out := make(map[string]*hpkp.Policy)
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		p, err := s.decode(s.client.Get(ctx, key))
		if err != nil {
			return nil, err
		}
		if p != nil {
			out[strings.TrimPrefix(key, s.prefix)] = p
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", hpkp.ErrStore, err)
	}
	return out, nil
}
