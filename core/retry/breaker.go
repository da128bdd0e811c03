// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package retry

import (
	"sync"
	"time"

	"github.com/pmylund/go-cache"
)

const (
	// DefaultBreakerThreshold is the number of consecutive failures that
	// open a destination's breaker.
	DefaultBreakerThreshold = 3

	// DefaultBreakerCooldown is how long an open breaker stays open.
	DefaultBreakerCooldown = 30 * time.Second

	failPrefix = "fail/"
	openPrefix = "open/"
)

// Breaker is a set of per-destination circuit breakers.  A destination's
// breaker opens after Threshold consecutive failures and closes again on
// its own once the cooldown expires, or immediately on a success.
type Breaker struct {
	sync.Mutex

	threshold int
	cooldown  time.Duration
	c         *cache.Cache
}

// Allow returns true iff dest may be tried.
func (b *Breaker) Allow(dest string) bool {
	_, open := b.c.Get(openPrefix + dest)
	return !open
}

// Success records a successful attempt, closing dest's breaker.
func (b *Breaker) Success(dest string) {
	b.Lock()
	defer b.Unlock()

	b.c.Delete(failPrefix + dest)
	b.c.Delete(openPrefix + dest)
}

// Failure records a failed attempt and returns true iff this failure opened
// dest's breaker.
func (b *Breaker) Failure(dest string) bool {
	b.Lock()
	defer b.Unlock()

	n, err := b.c.IncrementInt(failPrefix+dest, 1)
	if err != nil {
		b.c.Set(failPrefix+dest, 1, cache.NoExpiration)
		n = 1
	}
	if n < b.threshold {
		return false
	}
	b.c.Delete(failPrefix + dest)
	b.c.Set(openPrefix+dest, time.Now(), b.cooldown)
	return true
}

// Open returns the destinations among dests whose breakers are open.
func (b *Breaker) Open(dests []string) []string {
	var open []string
	for _, d := range dests {
		if !b.Allow(d) {
			open = append(open, d)
		}
	}
	return open
}

// NewBreaker returns a Breaker that opens after threshold consecutive
// failures for cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	// No janitor: expired breakers are dropped lazily by Get, and the
	// set of destinations is fixed by the configuration.
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		c:         cache.New(cooldown, 0),
	}
}
