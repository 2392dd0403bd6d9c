package retry

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff"
)

const (
	DefaultBase      = 10 * time.Second
	DefaultMaxJitter = 10 * time.Second
)

// SearchBackOff yields base*2^(n-1) plus jitter for the n-th failed attempt.
type SearchBackOff struct {
	Base   time.Duration
	Jitter func() time.Duration
	n      int
}

var _ backoff.BackOff = (*SearchBackOff)(nil)

func (b *SearchBackOff) NextBackOff() time.Duration {
	b.n++
	d := b.Base << (b.n - 1)
	if b.Jitter != nil {
		d += b.Jitter()
	}
	return d
}

func (b *SearchBackOff) Reset() {
	b.n = 0
}

// NewSearchBackOff bounds the schedule so it yields exactly maxAttempts-1 delays
// before returning backoff.Stop.
func NewSearchBackOff(base time.Duration, jitter func() time.Duration, maxAttempts int) backoff.BackOff {
	if maxAttempts <= 1 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(&SearchBackOff{Base: base, Jitter: jitter}, uint64(maxAttempts-1))
}

// UniformJitter returns a jitter source drawing uniformly from [0, max).
func UniformJitter(max time.Duration) func() time.Duration {
	return func() time.Duration {
		if max <= 0 {
			return 0
		}
		return rand.N(max)
	}
}
