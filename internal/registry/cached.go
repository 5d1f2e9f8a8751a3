package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
)

type cachedLookup struct {
	rec   models.VehicleRecord
	found bool
}

// CachedRegistry memoizes hits and misses of an underlying registry.
// Unavailability is never cached.
type CachedRegistry struct {
	next   Registry
	cache  *cache.Cache
	logger *slog.Logger
}

// NewCachedRegistry wraps next with a cache whose entries live for ttl.
func NewCachedRegistry(next Registry, ttl time.Duration, logger *slog.Logger) *CachedRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedRegistry{
		next:   next,
		cache:  cache.New(ttl, ttl*2),
		logger: logger,
	}
}

// Lookup serves from cache when possible.
func (c *CachedRegistry) Lookup(ctx context.Context, plate string) (models.VehicleRecord, error) {
	key := models.Normalize(plate)
	if v, found := c.cache.Get(key); found {
		entry := v.(cachedLookup)
		if !entry.found {
			return models.VehicleRecord{}, ErrPlateNotFound
		}
		return entry.rec, nil
	}

	rec, err := c.next.Lookup(ctx, plate)
	switch {
	case err == nil:
		c.cache.Set(key, cachedLookup{rec: rec, found: true}, cache.DefaultExpiration)
	case errors.Is(err, ErrPlateNotFound):
		c.cache.Set(key, cachedLookup{}, cache.DefaultExpiration)
	default:
		c.logger.Debug("registry lookup not cached", "plate", plate, "error", err)
	}
	return rec, err
}

// Flush drops every cached entry, e.g. after the registry was re-seeded.
func (c *CachedRegistry) Flush() {
	c.cache.Flush()
}

// Close closes the wrapped registry.
func (c *CachedRegistry) Close() error {
	return c.next.Close()
}
