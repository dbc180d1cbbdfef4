package threat

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// WithTimeout bounds every lookup on p by d. A zero d returns p unchanged,
// leaving the outbound call unbounded.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return ProviderFunc(func(ctx context.Context, digest string) (*Result, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return p.Lookup(ctx, digest)
	})
}

// WithRateLimit makes every lookup on p wait for a token from l first.
// A nil l returns p unchanged.
func WithRateLimit(p Provider, l *rate.Limiter) Provider {
	if l == nil {
		return p
	}
	return ProviderFunc(func(ctx context.Context, digest string) (*Result, error) {
		if err := l.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return p.Lookup(ctx, digest)
	})
}

// PerMinute returns a limiter allowing n lookups per minute with a burst of n.
// n <= 0 yields nil (no limit).
func PerMinute(n int) *rate.Limiter {
	if n <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
}

// ObserveFunc receives the result of every lookup made through Instrument.
type ObserveFunc func(res *Result, err error, elapsed time.Duration)

// Instrument reports each lookup on p to fn.
func Instrument(p Provider, fn ObserveFunc) Provider {
	if fn == nil {
		return p
	}
	return ProviderFunc(func(ctx context.Context, digest string) (*Result, error) {
		start := time.Now()
		res, err := p.Lookup(ctx, digest)
		fn(res, err, time.Since(start))
		return res, err
	})
}
