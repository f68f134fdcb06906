// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-hpkp/pkg/hpkp"
)

const (
	pinOne   = "cUPcTAZWKaASuYWhhneDttWpY3oBAkE3h2+soZS7sWs="
	pinTwo   = "M8HztCzM3elUxkcjR2S5P4hhyBNf6lHkmjAHKhpGPWE="
	pinThree = "AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE="
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *fixedClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fixedClock{now: time.Now()}
	s, err := New(&Config{Client: client, Clock: clock})
	require.NoError(t, err)
	return s, mr, clock
}

func policy(t *testing.T, value string, now time.Time) *hpkp.Policy {
	t.Helper()
	p, err := hpkp.ParseAt(hpkp.PublicKeyPinsHeader, value, now)
	require.NoError(t, err)
	return p
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, hpkp.ErrInvalidConfig)

	_, err = New(&Config{})
	assert.ErrorIs(t, err, hpkp.ErrInvalidConfig)
}

func TestStore_AddAndFind(t *testing.T) {
	s, mr, clock := newTestStore(t)
	ctx := context.Background()

	p := policy(t, `pin-sha256="`+pinOne+`"; max-age=3600; report-uri="https://r.example/"`, clock.Now())
	require.NoError(t, s.Add(ctx, "www.example.com", p))

	assert.True(t, mr.Exists(DefaultKeyPrefix+"example.com"))
	ttl := mr.TTL(DefaultKeyPrefix + "example.com")
	assert.InDelta(t, float64(time.Hour), float64(ttl), float64(time.Second))

	got, err := s.FindPinningInformation(ctx, "example.com")
	require.NoError(t, err)
	assert.True(t, p.Equal(got))
	assert.Equal(t, p.ExpiresAtEpochMillis(), got.ExpiresAtEpochMillis())
}

func TestStore_FindUnknown(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.FindPinningInformation(context.Background(), "nothing.example")
	assert.ErrorIs(t, err, hpkp.ErrNoPolicy)
}

func TestStore_UpdateRule(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	original := policy(t, `pin-sha256="`+pinOne+`"; max-age=100`, clock.Now())
	require.NoError(t, s.Add(ctx, "example.com", original))

	require.NoError(t, s.Add(ctx, "example.com", policy(t, `pin-sha256="`+pinTwo+`"; max-age=100`, clock.Now())))
	got, err := s.FindPinningInformation(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{pinOne}, got.Pins())

	renewal := policy(t, `pin-sha256="`+pinOne+`"; max-age=200; includeSubdomains`, clock.Now())
	require.NoError(t, s.Add(ctx, "example.com", renewal))
	got, err = s.FindPinningInformation(ctx, "example.com")
	require.NoError(t, err)
	assert.True(t, renewal.Equal(got))
}

func TestStore_RejectsSubsetAndSupersetPins(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	original := policy(t, `pin-sha256="`+pinOne+`"; pin-sha256="`+pinTwo+`"; max-age=100`, clock.Now())
	require.NoError(t, s.Add(ctx, "example.com", original))

	for _, value := range []string{
		`pin-sha256="` + pinOne + `"; max-age=500; includeSubdomains`,
		`pin-sha256="` + pinOne + `"; pin-sha256="` + pinTwo + `"; pin-sha256="` + pinThree + `"; max-age=500`,
	} {
		require.NoError(t, s.Add(ctx, "example.com", policy(t, value, clock.Now())))

		got, err := s.FindPinningInformation(ctx, "example.com")
		require.NoError(t, err)
		assert.True(t, original.Equal(got), value)
	}
}

func TestStore_Unpin(t *testing.T) {
	s, mr, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "example.com", policy(t, `pin-sha256="`+pinOne+`"; max-age=100`, clock.Now())))
	require.NoError(t, s.Add(ctx, "example.com", policy(t, `pin-sha256="`+pinTwo+`"; max-age=0`, clock.Now())))

	assert.False(t, mr.Exists(DefaultKeyPrefix+"example.com"))
	_, err := s.FindPinningInformation(ctx, "example.com")
	assert.ErrorIs(t, err, hpkp.ErrNoPolicy)
}

func TestStore_ExpiredEntryIsAbsent(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "example.com", policy(t, `pin-sha256="`+pinOne+`"; max-age=10`, clock.Now())))
	clock.Advance(11 * time.Second)

	_, err := s.FindPinningInformation(ctx, "example.com")
	assert.ErrorIs(t, err, hpkp.ErrNoPolicy)

	fresh := policy(t, `pin-sha256="`+pinTwo+`"; max-age=10`, clock.Now())
	require.NoError(t, s.Add(ctx, "example.com", fresh))
	got, err := s.FindPinningInformation(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{pinTwo}, got.Pins())
}

func TestStore_KeyExpiresWithPolicy(t *testing.T) {
	s, mr, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "example.com", policy(t, `pin-sha256="`+pinOne+`"; max-age=10`, clock.Now())))
	mr.FastForward(11 * time.Second)
	assert.False(t, mr.Exists(DefaultKeyPrefix+"example.com"))
}

func TestStore_HierarchicalLookup(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	parent := policy(t, `pin-sha256="`+pinOne+`"; max-age=100; includeSubdomains`, clock.Now())
	require.NoError(t, s.Add(ctx, "example.net", parent))

	got, err := s.FindPinningInformation(ctx, "app.demo.example.net")
	require.NoError(t, err)
	assert.True(t, parent.Equal(got))

	require.NoError(t, s.Add(ctx, "demo.example.net", policy(t, `pin-sha256="`+pinTwo+`"; max-age=100`, clock.Now())))
	_, err = s.FindPinningInformation(ctx, "app.demo.example.net")
	assert.ErrorIs(t, err, hpkp.ErrNoPolicy)
}

func TestStore_ExpiredEntrySkippedInHierarchy(t *testing.T) {
	s, mr, clock := newTestStore(t)
	ctx := context.Background()

	parent := policy(t, `pin-sha256="`+pinOne+`"; max-age=1000; includeSubdomains`, clock.Now())
	require.NoError(t, s.Add(ctx, "example.net", parent))
	require.NoError(t, s.Add(ctx, "a.example.net", policy(t, `pin-sha256="`+pinTwo+`"; max-age=10`, clock.Now())))

	// The store clock moves past the child's expiry before Redis drops it.
	clock.Advance(time.Minute)
	require.True(t, mr.Exists(DefaultKeyPrefix+"a.example.net"))

	got, err := s.FindPinningInformation(ctx, "a.example.net")
	require.NoError(t, err)
	assert.True(t, parent.Equal(got))
}

func TestStore_AddInvalid(t *testing.T) {
	s, _, _ := newTestStore(t)
	assert.ErrorIs(t, s.Add(context.Background(), "example.com", nil), hpkp.ErrInvalidArgument)
}

func TestStore_ListAll(t *testing.T) {
	s, mr, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "example.com", policy(t, `pin-sha256="`+pinOne+`"; max-age=100`, clock.Now())))
	require.NoError(t, s.Add(ctx, "example.org", policy(t, `pin-sha256="`+pinTwo+`"; max-age=100`, clock.Now())))
	require.NoError(t, mr.Set("unrelated", "value"))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, []string{pinTwo}, all["example.org"].Pins())
}

func TestStore_CorruptValue(t *testing.T) {
	s, mr, _ := newTestStore(t)
	require.NoError(t, mr.Set(DefaultKeyPrefix+"example.com", "{broken"))

	_, err := s.FindPinningInformation(context.Background(), "example.com")
	assert.ErrorIs(t, err, hpkp.ErrStore)
}

func TestStore_ServerDown(t *testing.T) {
	s, mr, clock := newTestStore(t)
	mr.Close()
	ctx := context.Background()

	_, err := s.FindPinningInformation(ctx, "example.com")
	assert.ErrorIs(t, err, hpkp.ErrStore)

	err = s.Add(ctx, "example.com", policy(t, `pin-sha256="`+pinOne+`"; max-age=100`, clock.Now()))
	assert.ErrorIs(t, err, hpkp.ErrStore)
}

func TestStore_ConcurrentAddsKeepOnePinSet(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	candidates := []*hpkp.Policy{
		policy(t, `pin-sha256="`+pinOne+`"; max-age=100`, clock.Now()),
		policy(t, `pin-sha256="`+pinTwo+`"; max-age=100`, clock.Now()),
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Add(ctx, "contended.example", candidates[i%2]); err != nil {
				assert.ErrorIs(t, err, ErrTooManyRetries)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.FindPinningInformation(ctx, "contended.example")
	require.NoError(t, err)
	assert.Equal(t, 1, got.PinCount())
}

func TestStore_WithEnforcer(t *testing.T) {
	s, _, clock := newTestStore(t)
	enforcer, err := hpkp.NewEnforcer(&hpkp.EnforcerConfig{Store: s, Clock: clock})
	require.NoError(t, err)
	assert.Same(t, s, enforcer.Store())
}
