// Package rat resolves the repair-authorization status of each line item.
package rat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/minutron/minutron/constants"
	"github.com/minutron/minutron/internal/common"
	"github.com/minutron/minutron/internal/entity"
)

// ErrLookupTimeout is reported when a lookup outlives timeout plus grace.
var ErrLookupTimeout = errors.New("rat: lookup timed out")

// Resolver fills ResolvedStatus on every line item.
type Resolver struct {
	lookup      Lookup
	cache       Cache
	logger      *slog.Logger
	concurrency int
	grace       time.Duration
}

type Option func(*Resolver)

func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithGrace(d time.Duration) Option {
	return func(r *Resolver) {
		if d >= 0 {
			r.grace = d
		}
	}
}

func NewResolver(lookup Lookup, cache Cache, logger *slog.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	r := &Resolver{
		lookup:      lookup,
		cache:       cache,
		logger:      logger,
		concurrency: 2,
		grace:       10 * time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve sets ResolvedStatus on each item in place. Items keep their
// order; lookups run concurrently up to the configured bound. Every item
// is resolved even when ctx is cancelled, in which case ctx.Err() is
// returned after fallbacks have been applied.
func (r *Resolver) Resolve(ctx context.Context, items []entity.LineItem, timeout time.Duration) error {
	start := time.Now()
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)

	var looked, cached int
	pending := make([]int, 0, len(items))
	for i := range items {
		it := &items[i]
		switch {
		case it.RawStatus == constants.RawStatusDOA:
			it.SetResolved(constants.ResolvedDOA)
		case it.RawStatus == constants.RawStatusGood:
			it.SetResolved(constants.ResolvedGood)
		case !it.HasOccurrence():
			it.SetResolved(constants.ResolvedNone)
		case common.Occurrence("occurrence", it.Occurrence) != nil:
			// never type a malformed code into the portal
			r.logger.Warn("rat.occurrence.invalid", "occurrence", it.Occurrence, "product", it.ProductCode)
			it.SetResolved(constants.ResolvedNone)
		default:
			if v, ok := r.cache.Get(ctx, Key{it.Occurrence, it.ProductCode}); ok {
				it.SetResolved(v)
				cached++
				continue
			}
			pending = append(pending, i)
		}
	}

	for _, i := range pending {
		it := &items[i]
		looked++
		g.Go(func() error {
			r.resolveOne(ctx, it, timeout)
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("rat.resolve.done",
		"items", len(items),
		"lookups", looked,
		"cache_hits", cached,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return ctx.Err()
}

func (r *Resolver) resolveOne(ctx context.Context, it *entity.LineItem, timeout time.Duration) {
	key := Key{it.Occurrence, it.ProductCode}
	// another worker may have populated the key meanwhile
	if v, ok := r.cache.Get(ctx, key); ok {
		it.SetResolved(v)
		return
	}

	token, err := r.call(ctx, key, timeout)
	if err != nil || token == "" {
		fb := fallback(it.RawStatus)
		r.logger.Warn("rat.lookup.fallback",
			"occurrence", key.Occurrence,
			"product", key.Product,
			"fallback", fb,
			"error", err,
		)
		it.SetResolved(fb)
		return
	}

	it.SetResolved(token)
	if err := r.cache.Put(ctx, key, token); err != nil {
		r.logger.Warn("rat.cache.put_failed", "occurrence", key.Occurrence, "error", err)
	}
}

// call runs the lookup with its own timeout and enforces an outer bound of
// timeout plus grace, so a lookup that ignores its context cannot stall
// the batch.
func (r *Resolver) call(ctx context.Context, key Key, timeout time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		token string
		err   error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("rat: lookup panic: %v", p)}
			}
		}()
		token, err := r.lookup.Lookup(lctx, key.Occurrence, key.Product)
		done <- result{token, err}
	}()

	outer := time.NewTimer(timeout + r.grace)
	defer outer.Stop()

	select {
	case res := <-done:
		r.logger.Debug("rat.lookup.done",
			"occurrence", key.Occurrence,
			"product", key.Product,
			"token", res.token,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", res.err,
		)
		return res.token, res.err
	case <-outer.C:
		return "", ErrLookupTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// fallback is the status used when no lookup result is available.
func fallback(raw constants.RawStatus) string {
	if raw == constants.RawStatusBad {
		return constants.ResolvedBad
	}
	return constants.ResolvedNone
}
