// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit implements a per-plugin token bucket guarding the
// unauthenticated and bearer-verified route surfaces.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultMax is the bucket capacity in tokens.
	DefaultMax = 100
	// DefaultRefillPerSecond is the steady-state refill rate, tokens/s.
	DefaultRefillPerSecond = 100.0 / 60.0
)

// Limiter holds one independent token bucket per plugin id. Separate
// plugins never share bucket state. Guarded by a single mutex, short
// enough that contention is irrelevant at design rates.
type Limiter struct {
	max    float64
	refill float64
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// New constructs a Limiter with the default capacity and refill rate.
func New() *Limiter {
	return NewWithRates(DefaultMax, DefaultRefillPerSecond)
}

// NewWithRates constructs a Limiter with an explicit capacity and
// refill rate, for tests that need to control elapsed-time granularity.
func NewWithRates(max, refillPerSecond float64) *Limiter {
	return &Limiter{
		max:     max,
		refill:  refillPerSecond,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether pluginID may make one more call right now,
// refilling its bucket by the elapsed time since its last check and
// consuming one token on admission.
func (l *Limiter) Allow(pluginID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[pluginID]
	if !ok {
		b = &bucket{tokens: l.max, lastRefill: now}
		l.buckets[pluginID] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = minFloat(l.max, b.tokens+elapsed*l.refill)
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
