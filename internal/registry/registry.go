// Package registry holds per-model metadata and answers availability
// lookups through a time-bounded cache.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/vertexgw/vertex-gateway/internal/domain"
)

// DefaultTTL bounds how long a fetched descriptor list is served from cache.
const DefaultTTL = time.Hour

var versionPattern = regexp.MustCompile(`^@\d{8}$`)

// Registry resolves model identifiers to descriptors. The cached list is
// replaced atomically; readers never observe a half-updated state.
type Registry struct {
	catalog Catalog
	ttl     time.Duration

	mu        sync.RWMutex
	list      []domain.ProviderDescriptor
	byID      map[string]*domain.ProviderDescriptor
	fetchedAt time.Time
}

func New(catalog Catalog) *Registry {
	return &Registry{catalog: catalog, ttl: DefaultTTL}
}

// NewWithTTL is for tests that need a short cache window.
func NewWithTTL(catalog Catalog, ttl time.Duration) *Registry {
	return &Registry{catalog: catalog, ttl: ttl}
}

// Resolve returns the descriptor for modelID or a model-not-found error.
func (r *Registry) Resolve(ctx context.Context, modelID string) (*domain.ProviderDescriptor, error) {
	if err := r.ensure(ctx, true); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byID[modelID]
	if !ok {
		return nil, domain.NewModelNotFound(modelID, "", nil)
	}
	out := *d
	return &out, nil
}

// ListAvailable returns all descriptors, refetching when the cache is older
// than the TTL or useCache is false.
func (r *Registry) ListAvailable(ctx context.Context, useCache bool) ([]domain.ProviderDescriptor, error) {
	if err := r.ensure(ctx, useCache); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ProviderDescriptor, len(r.list))
	copy(out, r.list)
	return out, nil
}

// ValidateRegion reports whether region is declared available for the model.
func (r *Registry) ValidateRegion(d *domain.ProviderDescriptor, region string) bool {
	return d.HasRegion(region)
}

// ValidateVersion checks the version string format and, for pinned versions,
// membership in the descriptor's known versions. Empty means "use latest".
func (r *Registry) ValidateVersion(d *domain.ProviderDescriptor, version string) error {
	if version == "" || version == "latest" {
		return nil
	}
	if !versionPattern.MatchString(version) {
		return domain.NewInvalidRequest(
			fmt.Sprintf("model version %q has invalid format", version),
			"use 'latest' or a pinned version like '@20250929'",
		).WithContext("model_id", d.ModelID)
	}
	if !d.HasVersion(version) {
		e := domain.NewModelNotFound(d.ModelID, "", nil)
		e.Message = fmt.Sprintf("model %q has no version %q", d.ModelID, version)
		e.Remediation = fmt.Sprintf("known versions: %v", d.KnownVersions)
		return e.WithContext("version", version)
	}
	return nil
}

// DefaultRegion returns the model's default region.
func (r *Registry) DefaultRegion(d *domain.ProviderDescriptor) string {
	return d.DefaultRegion
}

// ensure loads or refreshes the cached list as needed.
func (r *Registry) ensure(ctx context.Context, useCache bool) error {
	r.mu.RLock()
	fresh := r.byID != nil && time.Since(r.fetchedAt) < r.ttl
	r.mu.RUnlock()

	if useCache && fresh {
		return nil
	}

	list, err := r.catalog.Fetch(ctx)
	if err != nil {
		r.mu.RLock()
		stale := r.byID != nil
		r.mu.RUnlock()
		if useCache && stale {
			// Serving stale metadata beats failing a listing call.
			slog.Warn("model catalog refresh failed, serving stale cache", "error", err)
			return nil
		}
		return fmt.Errorf("fetch model catalog: %w", err)
	}

	byID := make(map[string]*domain.ProviderDescriptor, len(list))
	for i := range list {
		byID[list[i].ModelID] = &list[i]
	}

	r.mu.Lock()
	r.list = list
	r.byID = byID
	r.fetchedAt = time.Now()
	r.mu.Unlock()

	slog.Debug("model catalog refreshed", "models", len(list))
	return nil
}
