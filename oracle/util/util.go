// Package util contains utility oracle functionality.
package util

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	initialTimeoutLowerBound = 0
	maximumTimeoutUpperBound = math.MaxInt64 / 2
)

// Backoff implements retry backoff on failure.
type Backoff struct {
	initialTimeout time.Duration
	currentTimeout time.Duration
	maximumTimeout time.Duration
}

// NewBackoff returns a new backoff.
func NewBackoff(initialTimeout time.Duration, maximumTimeout time.Duration) (*Backoff, error) {
	if initialTimeout <= initialTimeoutLowerBound {
		return nil, fmt.Errorf(
			"initial timeout %fs less than lower bound %ds",
			initialTimeout.Seconds(),
			initialTimeoutLowerBound,
		)
	}
	if maximumTimeout.Seconds() >= math.MaxInt64/2 {
		return nil, fmt.Errorf(
			"maximum timeout %fs greater than upper bound %ds",
			maximumTimeout.Seconds(),
			maximumTimeoutUpperBound,
		)
	}
	return &Backoff{initialTimeout, initialTimeout, maximumTimeout}, nil
}

// Wait waits for the appropriate backoff interval, or until the context is
// canceled, whichever comes first.
func (b *Backoff) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.currentTimeout):
	}
	b.currentTimeout *= 2
	if b.currentTimeout > b.maximumTimeout {
		b.currentTimeout = b.maximumTimeout
	}
	return nil
}

// Reset resets the backoff.
func (b *Backoff) Reset() {
	b.currentTimeout = b.initialTimeout
}

// Timeout returns the backoff timeout.
func (b *Backoff) Timeout() time.Duration {
	return b.currentTimeout
}

// ClosingChannel returns a channel that closes when the wait group `wg` is done.
func ClosingChannel(wg *sync.WaitGroup) <-chan struct{} {
	closer := make(chan struct{})
	go func() {
		wg.Wait()
		close(closer)
	}()
	return closer
}
