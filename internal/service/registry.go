package service

import (
	"context"
	"sync"
	"time"

	"github.com/otpbay/otpbay/internal/models"

	"github.com/sirupsen/logrus"
)

// ProviderSource is the backing store behind the registry cache.
type ProviderSource interface {
	ListEnabled(ctx context.Context) ([]models.Provider, error)
}

// Registry resolves provider names against an in-memory snapshot of the
// api_providers collection. The snapshot is refreshed wholesale once the TTL
// has passed; invalidation is time-based only, so an edited provider is
// served stale for up to one TTL. Concurrent cold-cache callers may each
// trigger a bulk read; the read is idempotent and cheap.
type Registry struct {
	source ProviderSource
	ttl    time.Duration
	now    func() time.Time
	logger *logrus.Logger

	mu        sync.RWMutex
	providers map[string]models.Provider
	fetchedAt time.Time
}

func NewRegistry(source ProviderSource, ttl time.Duration, logger *logrus.Logger) *Registry {
	return &Registry{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock overrides the registry clock. Tests use this to control expiry.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) Resolve(ctx context.Context, name string) (*models.Provider, error) {
	if provider, fresh := r.lookup(name); fresh {
		if provider == nil {
			return nil, models.ErrProviderNotFound
		}
		return provider, nil
	}

	if err := r.refresh(ctx); err != nil {
		return nil, err
	}

	provider, _ := r.lookup(name)
	if provider == nil {
		return nil, models.ErrProviderNotFound
	}
	return provider, nil
}

// lookup reports whether the snapshot is fresh and, if so, the provider for
// name (nil when the name is absent from a fresh snapshot).
func (r *Registry) lookup(name string) (*models.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.providers == nil || r.now().Sub(r.fetchedAt) >= r.ttl {
		return nil, false
	}

	provider, ok := r.providers[name]
	if !ok {
		return nil, true
	}
	return &provider, true
}

func (r *Registry) refresh(ctx context.Context) error {
	providers, err := r.source.ListEnabled(ctx)
	if err != nil {
		r.logger.WithError(err).Error("Failed to load provider registry")
		return models.ErrRegistryUnavailable
	}

	snapshot := make(map[string]models.Provider, len(providers))
	for _, p := range providers {
		snapshot[p.Name] = p
	}

	r.mu.Lock()
	r.providers = snapshot
	r.fetchedAt = r.now()
	r.mu.Unlock()

	r.logger.WithField("providers", len(snapshot)).Debug("Refreshed provider registry")
	return nil
}
