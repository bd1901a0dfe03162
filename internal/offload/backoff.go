package offload

import (
	"context"
	"time"
)

// Default backoff bounds.
const (
	DefaultBase    = 1 * time.Second
	DefaultCeiling = 60 * time.Second
)

// Backoff is the retry delay of a single scheduler run. It starts at Base,
// doubles after every consecutive transient failure, is capped at Ceiling
// and drops back to Base on success.
type Backoff struct {
	Base    time.Duration
	Ceiling time.Duration
	current time.Duration
}

// NewBackoff returns a Backoff at its base delay. Non-positive bounds fall
// back to the defaults, and a ceiling below base is raised to base.
func NewBackoff(base, ceiling time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBase
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if ceiling < base {
		ceiling = base
	}
	return &Backoff{Base: base, Ceiling: ceiling, current: base}
}

// Current is the delay the next failure will wait.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Next returns the delay for the failure just observed and advances the
// state for the one after it.
func (b *Backoff) Next() time.Duration {
	d := b.current
	if b.current > b.Ceiling-b.current {
		b.current = b.Ceiling
	} else {
		b.current *= 2
	}
	return d
}

// Reset returns the delay to Base.
func (b *Backoff) Reset() {
	b.current = b.Base
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
