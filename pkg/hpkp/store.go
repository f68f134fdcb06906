// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package hpkp

//go:generate mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks Store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Store remembers pinning policies per hostname. Implementations must be
// safe for concurrent use and must apply the update rule of Add atomically
// per hostname.
type Store interface {
	// Add notes policy for hostname. A policy with max-age 0 removes the
	// host. An existing, unexpired policy is only replaced when the
	// incoming pin set is identical; otherwise the update is discarded
	// without error. A nil policy or an empty pin set is ErrInvalidArgument.
	Add(ctx context.Context, hostname string, policy *Policy) error

	// FindPinningInformation returns the policy governing hostname, or
	// ErrNoPolicy.
	FindPinningInformation(ctx context.Context, hostname string) (*Policy, error)

	// ListAll returns a snapshot of the stored policies keyed by normalized
	// hostname. Entries that expired but were not swept yet are included.
	ListAll(ctx context.Context) (map[string]*Policy, error)
}

// UpdateAction is the outcome of applying an incoming policy to a host.
type UpdateAction int

const (
	// ActionInstall stores the incoming policy for a host with no live entry.
	ActionInstall UpdateAction = iota

	// ActionReplace replaces a live entry carrying the same pin set.
	ActionReplace

	// ActionReject keeps a live entry whose pin set differs from the
	// incoming one.
	ActionReject

	// ActionRemove forgets the host (max-age=0).
	ActionRemove
)

// String returns the action name used in logs.
func (a UpdateAction) String() string {
	switch a {
	case ActionInstall:
		return "install"
	case ActionReplace:
		return "replace"
	case ActionReject:
		return "reject"
	case ActionRemove:
		return "remove"
	default:
		return fmt.Sprintf("UpdateAction(%d)", int(a))
	}
}

// DecideUpdate applies the store update rule. existing may be nil. An
// expired existing entry counts as absent.
func DecideUpdate(existing, incoming *Policy, now time.Time) UpdateAction {
	switch {
	case incoming.MaxAge() == 0:
		return ActionRemove
	case existing == nil || existing.Expired(now):
		return ActionInstall
	case existing.SamePins(incoming):
		return ActionReplace
	default:
		return ActionReject
	}
}

// ValidateForStore rejects policies that a Store must never hold.
func ValidateForStore(policy *Policy) error {
	if policy == nil {
		return fmt.Errorf("%w: policy cannot be nil", ErrInvalidArgument)
	}
	if policy.PinCount() == 0 {
		return fmt.Errorf("%w: policy pins list cannot be empty", ErrInvalidArgument)
	}
	return nil
}

// DefaultShardCount is the number of independently locked partitions in a
// MemoryStore.
const DefaultShardCount = 32

// StoreConfig configures a MemoryStore.
type StoreConfig struct {
	// Clock is the time source for expiry. Defaults to SystemClock.
	Clock Clock

	// Shards is the number of lock partitions. Defaults to DefaultShardCount.
	Shards int

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

type shard struct {
	mu       sync.RWMutex
	policies map[string]*Policy
}

// MemoryStore is an in-process Store. Hostnames are partitioned into
// shards, each guarded by its own RWMutex, so writers to different hosts
// rarely contend.
type MemoryStore struct {
	shards []*shard
	clock  Clock
	logger *slog.Logger
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore. A nil config uses defaults.
func NewMemoryStore(cfg *StoreConfig) *MemoryStore {
	if cfg == nil {
		cfg = &StoreConfig{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	n := cfg.Shards
	if n <= 0 {
		n = DefaultShardCount
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{policies: make(map[string]*Policy)}
	}
	return &MemoryStore{
		shards: shards,
		clock:  clock,
		logger: logger.With("component", "hpkp_memory_store"),
	}
}

func (s *MemoryStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Add implements Store. The compare-and-replace runs under the shard's
// write lock.
func (s *MemoryStore) Add(_ context.Context, hostname string, policy *Policy) error {
	if err := ValidateForStore(policy); err != nil {
		return err
	}

	key := NormalizeHostname(hostname)
	sh := s.shardFor(key)
	now := s.clock.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.sweepLocked(now)

	action := DecideUpdate(sh.policies[key], policy, now)
	switch action {
	case ActionRemove:
		delete(sh.policies, key)
	case ActionInstall, ActionReplace:
		sh.policies[key] = policy
	case ActionReject:
		s.logger.Debug("pin set mismatch, keeping existing policy", "host", key)
		return nil
	}
	s.logger.Debug("policy updated", "host", key, "action", action.String())
	return nil
}

// sweepLocked drops expired policies from the shard. Caller holds mu.
func (sh *shard) sweepLocked(now time.Time) {
	for key, p := range sh.policies {
		if p.Expired(now) {
			delete(sh.policies, key)
		}
	}
}

// FindPinningInformation implements Store. Candidate keys are searched
// from the full hostname towards the registrable suffix; the first stored,
// unexpired key decides the outcome. Expired entries count as absent
// whether or not they were swept.
func (s *MemoryStore) FindPinningInformation(_ context.Context, hostname string) (*Policy, error) {
	now := s.clock.Now()
	for i, key := range CandidateKeys(hostname) {
		sh := s.shardFor(key)
		sh.mu.RLock()
		p, ok := sh.policies[key]
		sh.mu.RUnlock()
		if !ok || p.Expired(now) {
			continue
		}
		if Governs(p, i+1, now) {
			return p, nil
		}
		return nil, ErrNoPolicy
	}
	return nil, ErrNoPolicy
}

// ListAll implements Store.
func (s *MemoryStore) ListAll(_ context.Context) (map[string]*Policy, error) {
	out := make(map[string]*Policy)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for key, p := range sh.policies {
			out[key] = p
		}
		sh.mu.RUnlock()
	}
	return out, nil
}

// Len returns the number of stored entries, including expired ones that
// were not swept yet.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.policies)
		sh.mu.RUnlock()
	}
	return n
}
