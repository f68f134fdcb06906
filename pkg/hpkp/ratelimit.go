// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package hpkp

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// reportBucket is the token bucket of one noted host.
type reportBucket struct {
	tokens *rate.Limiter
	used   time.Time
}

// reportThrottle caps how many violation reports each noted host may emit,
// so a host that keeps failing validation cannot flood its report-uri.
// Buckets idle for longer than idleAfter are dropped during Allow.
type reportThrottle struct {
	clock     Clock
	limit     rate.Limit
	burst     int
	idleAfter time.Duration

	mu        sync.Mutex
	buckets   map[string]*reportBucket
	nextSweep time.Time
}

func newReportThrottle(clock Clock, perSecond float64, burst int, idleAfter time.Duration) *reportThrottle {
	return &reportThrottle{
		clock:     clock,
		limit:     rate.Limit(perSecond),
		burst:     burst,
		idleAfter: idleAfter,
		buckets:   make(map[string]*reportBucket),
	}
}

// Allow spends a token of host's bucket at the clock's current time.
func (t *reportThrottle) Allow(host string) bool {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if !now.Before(t.nextSweep) {
		t.sweepLocked(now)
		t.nextSweep = now.Add(t.idleAfter)
	}

	b, ok := t.buckets[host]
	if !ok {
		b = &reportBucket{tokens: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[host] = b
	}
	b.used = now
	return b.tokens.AllowN(now, 1)
}

func (t *reportThrottle) sweepLocked(now time.Time) {
	for host, b := range t.buckets {
		if now.Sub(b.used) > t.idleAfter {
			delete(t.buckets, host)
		}
	}
}

// tracked returns the number of hosts holding a bucket.
func (t *reportThrottle) tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}
