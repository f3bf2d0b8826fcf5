// Package client implements the client side of the voice chat protocol:
// a connection manager that keeps one logical WebSocket connection to the
// server alive across transient failures with bounded exponential backoff.
package client

import "time"

// Backoff computes retry delays for a reconnect attempt sequence. It is a
// pure value: Delay and Exhausted depend only on the attempt number and the
// configured parameters.
type Backoff struct {
	// Base is the delay before the second attempt; each subsequent attempt
	// doubles it.
	Base time.Duration

	// Cap bounds the delay growth.
	Cap time.Duration

	// MaxRetries is the number of reconnect attempts allowed before the
	// sequence is terminal.
	MaxRetries int
}

// DefaultBackoff matches the protocol defaults: 1s base, 30s cap, 5 retries.
var DefaultBackoff = Backoff{
	Base:       time.Second,
	Cap:        30 * time.Second,
	MaxRetries: 5,
}

// Delay returns the wait before attempt n (1-based):
// min(base * 2^(n-1), cap). Attempts below 1 are treated as 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.Cap {
			return b.Cap
		}
	}
	if delay > b.Cap {
		return b.Cap
	}
	return delay
}

// Exhausted reports whether attempt n is past the allowed retries, i.e. no
// further attempt should be scheduled.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt > b.MaxRetries
}
