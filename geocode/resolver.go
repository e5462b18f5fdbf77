package geocode

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"listing-geocoder/models"
	"listing-geocoder/storage"
	"listing-geocoder/utils"
)

// ResolverConfig tunes the provider budget and retries.
type ResolverConfig struct {
	RPS            float64
	Burst          int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// CallTimeout bounds one collapsed lookup, all retries included.
	CallTimeout time.Duration
	// MaxRateLimitWaits bounds how often a lookup backs off after the
	// provider itself reports rate limiting.
	MaxRateLimitWaits int
}

// Stats are cumulative resolver counters.
type Stats struct {
	CacheHits     int64 `json:"cache_hits"`
	Lookups       int64 `json:"lookups"`
	ProviderCalls int64 `json:"provider_calls"`
	Collapsed     int64 `json:"collapsed"`
	RateLimited   int64 `json:"rate_limited"`
	Unresolved    int64 `json:"unresolved"`
}

// Resolver turns normalised addresses into coordinates. Every provider call
// goes through one token bucket shared by all crawls, and concurrent
// requests for the same key share a single lookup.
type Resolver struct {
	provider Provider
	cache    storage.CoordinateCache
	limiter  *rate.Limiter
	group    singleflight.Group
	cfg      ResolverConfig
	logger   *utils.Logger

	// lookups run on base so a caller giving up does not cancel a call
	// other callers are waiting on.
	base context.Context
	stop context.CancelFunc

	cacheHits     atomic.Int64
	lookups       atomic.Int64
	providerCalls atomic.Int64
	collapsed     atomic.Int64
	rateLimited   atomic.Int64
	unresolved    atomic.Int64
}

// NewResolver creates a Resolver over provider and cache.
func NewResolver(provider Provider, cache storage.CoordinateCache, cfg ResolverConfig, logger *utils.Logger) *Resolver {
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = time.Minute
	}
	if cfg.MaxRateLimitWaits < 0 {
		cfg.MaxRateLimitWaits = 0
	}

	base, stop := context.WithCancel(context.Background())
	return &Resolver{
		provider: provider,
		cache:    cache,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		cfg:      cfg,
		logger:   logger,
		base:     base,
		stop:     stop,
	}
}

// Resolve returns the coordinate for addr. Failures are reported as
// ErrUnresolved wrapping the cause; ctx only bounds this caller's wait.
func (r *Resolver) Resolve(ctx context.Context, addr models.NormalizedAddress) (*models.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if addr.IsZero() {
		r.unresolved.Add(1)
		return nil, fmt.Errorf("%w: empty address", ErrUnresolved)
	}

	coord, ok, err := r.cache.Get(ctx, addr.Key)
	if err != nil {
		r.logger.Warn("[geocode] cache read %q: %v", addr.Key, err)
	} else if ok {
		r.cacheHits.Add(1)
		return coord, nil
	}

	// leader is set only when this caller's function runs the flight.
	var leader bool
	ch := r.group.DoChan(addr.Key, func() (interface{}, error) {
		leader = true
		return r.lookup(addr)
	})

	select {
	case res := <-ch:
		if res.Shared && !leader {
			r.collapsed.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		c := *res.Val.(*models.Coordinate)
		return &c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) lookup(addr models.NormalizedAddress) (*models.Coordinate, error) {
	ctx, cancel := context.WithTimeout(r.base, r.cfg.CallTimeout)
	defer cancel()

	// A flight that just finished may have filled the cache.
	if coord, ok, err := r.cache.Get(ctx, addr.Key); err == nil && ok {
		r.cacheHits.Add(1)
		return coord, nil
	}

	r.lookups.Add(1)
	retry := &utils.RetryConfig{
		MaxAttempts: r.cfg.MaxRetries,
		BaseDelay:   r.cfg.RetryBaseDelay,
		MaxDelay:    r.cfg.RetryMaxDelay,
		Logger:      r.logger,
		Retryable:   transient,
	}

	var coord *models.Coordinate
	rateLimitWaits := 0
	err := retry.Do(ctx, "geocode "+addr.Key, func(int) error {
		for {
			if err := r.limiter.Wait(ctx); err != nil {
				// Wait fails early when no token arrives before the deadline.
				if ctx.Err() == nil {
					err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
				}
				return err
			}
			r.providerCalls.Add(1)
			c, err := r.provider.Geocode(ctx, addr.Query)
			if !errors.Is(err, ErrRateLimited) {
				coord = c
				return err
			}

			r.rateLimited.Add(1)
			rateLimitWaits++
			if rateLimitWaits > r.cfg.MaxRateLimitWaits {
				return err
			}
			wait := time.Duration(float64(time.Second) / r.cfg.RPS * float64(int(1)<<min(rateLimitWaits, 6)))
			r.logger.Debug("[geocode] %s rate limited %q, waiting %v", r.provider.Name(), addr.Query, wait)
			if err := utils.Sleep(ctx, wait); err != nil {
				return err
			}
		}
	})

	if err != nil {
		r.unresolved.Add(1)
		r.logger.Debug("[geocode] unresolved %q: %v", addr.Query, err)
		return nil, fmt.Errorf("%w: %w", ErrUnresolved, err)
	}
	if coord == nil {
		r.unresolved.Add(1)
		return nil, fmt.Errorf("%w: provider returned no coordinate", ErrUnresolved)
	}

	if err := r.cache.Put(ctx, addr.Key, *coord); err != nil {
		r.logger.Warn("[geocode] cache write %q: %v", addr.Key, err)
	}
	return coord, nil
}

func transient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	return false
}

// Invalidate drops the cached coordinate for addr.
func (r *Resolver) Invalidate(ctx context.Context, addr models.NormalizedAddress) error {
	return r.cache.Delete(ctx, addr.Key)
}

// Stats returns a snapshot of the counters.
func (r *Resolver) Stats() Stats {
	return Stats{
		CacheHits:     r.cacheHits.Load(),
		Lookups:       r.lookups.Load(),
		ProviderCalls: r.providerCalls.Load(),
		Collapsed:     r.collapsed.Load(),
		RateLimited:   r.rateLimited.Load(),
		Unresolved:    r.unresolved.Load(),
	}
}

// Close aborts lookups still in flight.
func (r *Resolver) Close() {
	r.stop()
}
