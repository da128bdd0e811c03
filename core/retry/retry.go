// retry.go - Shared retry logic with exponential backoff.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package retry provides the backoff and circuit breaking used when
// forwarding bundles to peer relays.
package retry

import (
	"context"
	"math"
	"net"
	"strings"
	"time"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/crowdlog/core/failure"
)

// Default retry configuration constants
const (
	// DefaultBaseDelay is the default base delay between retries
	DefaultBaseDelay = 100 * time.Millisecond

	// DefaultMaxDelay is the default maximum delay between retries
	DefaultMaxDelay = 10 * time.Second

	// DefaultJitter is the default jitter factor (0.0 to 1.0)
	DefaultJitter = 0.2
)

// Policy is a capped exponential backoff policy.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64
}

// DefaultPolicy returns the default backoff policy.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay: DefaultBaseDelay,
		MaxDelay:  DefaultMaxDelay,
		Jitter:    DefaultJitter,
	}
}

// Delay returns the delay before retry number attempt (zero based).
func (p Policy) Delay(attempt int) time.Duration {
	return Delay(p.BaseDelay, p.MaxDelay, p.Jitter, attempt)
}

// Wait sleeps for the delay of the given attempt, returning early with the
// context's error if ctx is cancelled first.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(p.Delay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delay calculates the delay for a given retry attempt using exponential
// backoff with jitter.  The result never exceeds maxDelay*(1+jitter).
func Delay(baseDelay, maxDelay time.Duration, jitter float64, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	if jitter > 0 {
		r := rand.NewMath()
		jitterFactor := 1 - jitter + r.Float64()*2*jitter
		delay *= jitterFactor
	}

	return time.Duration(delay)
}

// IsTransientError returns true if the error is likely transient and worth
// retrying.  Any failure.TransportError qualifies, as do the usual network
// errors.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if failure.IsTransport(err) {
		return true
	}

	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"connection timed out",
		"timeout",
		"temporary failure",
		"no route to host",
		"network is unreachable",
		"i/o timeout",
		"eof",
		"broken pipe",
		"connection closed",
	}

	lowerErr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(lowerErr, pattern) {
			return true
		}
	}

	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}

	return false
}
