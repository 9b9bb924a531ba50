// Package ratelimit gates admission onto the Front Socket's invoke path
// with a per-caller token bucket, so one noisy connection cannot
// starve the worker pool. It only decides whether a request is admitted;
// it has no say in which worker the Dispatcher later picks.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Limiter wraps an in-memory token bucket keyed by caller identity. The
// front socket passes the peer's RemoteAddr().String() as the key, which for
// an anonymous UNIX-domain client is empty and is replaced by one fixed key,
// so such clients all share a single bucket per listening socket.
type Limiter struct {
	inst *limiter.Limiter
}

// New builds a limiter admitting ratePerSec invoke frames per second, per
// key, with bursting up to the same figure.
func New(ratePerSec int) (*Limiter, error) {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	rate, err := limiter.NewRateFromFormatted(fmt.Sprintf("%d-S", ratePerSec))
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parsing rate: %w", err)
	}
	store := memory.NewStore()
	return &Limiter{inst: limiter.New(store, rate)}, nil
}

// Allow reports whether key may proceed right now, consuming one token if
// so.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := l.inst.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("ratelimit: get: %w", err)
	}
	return !res.Reached, nil
}
