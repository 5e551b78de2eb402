package geo

import (
	"context"
	"errors"
	"io"

	"proxyscraper/internal/logger"
)

// Resolver maps IP addresses to geo records through an ordered list of strategies.
type Resolver struct {
	cache      Cache
	strategies []Strategy
	log        *logger.Logger
}

// NewResolver creates a resolver. cache may be nil.
func NewResolver(cache Cache, strategies ...Strategy) *Resolver {
	return &Resolver{
		cache:      cache,
		strategies: strategies,
		log:        logger.New("geo"),
	}
}

// Strategies returns the names of the configured tiers in lookup order.
func (r *Resolver) Strategies() []string {
	names := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Resolve returns the geo record for ip. It never fails: when every tier
// comes up empty the result carries only the IP and is not cached.
func (r *Resolver) Resolve(ctx context.Context, ip string) Record {
	if r.cache != nil {
		rec, ok, err := r.cache.Get(ctx, ip)
		if err != nil {
			r.log.WarnBg("Cache lookup failed for %s: %v", ip, err)
		} else if ok {
			r.log.DebugBg("Cache hit for %s", ip)
			return rec
		}
	}

	for _, s := range r.strategies {
		if ctx.Err() != nil {
			break
		}

		rec, err := s.Lookup(ctx, ip)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				r.log.DebugBg("%s has no record for %s", s.Name(), ip)
			} else {
				r.log.WarnBg("%s lookup failed for %s: %v", s.Name(), ip, err)
			}
			continue
		}
		if rec.Empty() {
			continue
		}

		rec.IP = ip
		if rec.Source == "" {
			rec.Source = s.Name()
		}

		if r.cache != nil {
			if err := r.cache.Put(ctx, rec); err != nil {
				r.log.WarnBg("Failed to cache record for %s: %v", ip, err)
			}
		}
		return rec
	}

	r.log.WarnBg("All geo tiers failed for %s", ip)
	return Record{IP: ip}
}

// Close releases every strategy that holds resources.
func (r *Resolver) Close() error {
	var errs []error
	for _, s := range r.strategies {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
