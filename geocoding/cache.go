package geocoding

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"apartment-ranker/models"
	"apartment-ranker/utils"
)

// Lookup results reported to a LookupObserver.
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupError = "error"
)

// LookupObserver receives one call per Resolve with the lookup result.
type LookupObserver interface {
	ObserveGeocodeLookup(result string)
}

// sharedLookupTimeout bounds a deduplicated lookup. The flight outlives the
// caller that started it, so it cannot run under that caller's context.
const sharedLookupTimeout = time.Minute

// Store is a shared second-level cache, e.g. Redis.
type Store interface {
	Get(ctx context.Context, key string) (models.Coordinates, bool, error)
	Set(ctx context.Context, key string, coords models.Coordinates) error
}

// CachingGeocoder memoises successful resolutions in memory and, when a
// Store is configured, in the shared store. Concurrent lookups of the same
// address share one upstream call; a caller that gives up stops waiting
// without failing the others. Failures are never cached.
type CachingGeocoder struct {
	next     Geocoder
	store    Store
	observer LookupObserver
	logger   *utils.Logger

	mu    sync.RWMutex
	mem   map[string]models.Coordinates
	group singleflight.Group
}

// NewCachingGeocoder wraps next. store and observer may be nil.
func NewCachingGeocoder(next Geocoder, store Store, observer LookupObserver, logger *utils.Logger) *CachingGeocoder {
	if logger == nil {
		logger = utils.Discard()
	}
	return &CachingGeocoder{
		next:     next,
		store:    store,
		observer: observer,
		logger:   logger,
		mem:      make(map[string]models.Coordinates),
	}
}

// Resolve implements Geocoder.
func (g *CachingGeocoder) Resolve(ctx context.Context, address string) (models.Coordinates, error) {
	key := NormalizeAddress(address)
	if key == "" {
		g.observe(LookupError)
		return models.Coordinates{}, &GeocodeError{Address: address, Err: ErrEmptyAddress}
	}

	if c, ok := g.fromMemory(key); ok {
		g.observe(LookupHit)
		return c, nil
	}

	ch := g.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()
		return g.load(fctx, key, address)
	})

	select {
	case <-ctx.Done():
		g.observe(LookupError)
		return models.Coordinates{}, &GeocodeError{Address: address, Err: ctx.Err()}
	case r := <-ch:
		if r.Err != nil {
			g.observe(LookupError)
			return models.Coordinates{}, r.Err
		}
		res := r.Val.(lookup)
		g.observe(res.result)
		return res.coords, nil
	}
}

// load runs one deduplicated lookup: memory, then the store, then upstream.
func (g *CachingGeocoder) load(ctx context.Context, key, address string) (lookup, error) {
	if c, ok := g.fromMemory(key); ok {
		return lookup{c, LookupHit}, nil
	}
	if g.store != nil {
		c, ok, err := g.store.Get(ctx, key)
		if err != nil {
			g.logger.Warn("[geocode] cache store read failed for %q: %v", key, err)
		} else if ok {
			g.remember(key, c)
			return lookup{c, LookupHit}, nil
		}
	}

	c, err := g.next.Resolve(ctx, strings.TrimSpace(address))
	if err != nil {
		return lookup{}, err
	}
	g.remember(key, c)
	if g.store != nil {
		if err := g.store.Set(ctx, key, c); err != nil {
			g.logger.Warn("[geocode] cache store write failed for %q: %v", key, err)
		}
	}
	return lookup{c, LookupMiss}, nil
}

type lookup struct {
	coords models.Coordinates
	result string
}

// Len returns the number of addresses held in memory.
func (g *CachingGeocoder) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.mem)
}

func (g *CachingGeocoder) fromMemory(key string) (models.Coordinates, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.mem[key]
	return c, ok
}

func (g *CachingGeocoder) remember(key string, c models.Coordinates) {
	g.mu.Lock()
	g.mem[key] = c
	g.mu.Unlock()
}

func (g *CachingGeocoder) observe(result string) {
	if g.observer != nil {
		g.observer.ObserveGeocodeLookup(result)
	}
}
