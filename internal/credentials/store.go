// Package credentials resolves, validates, caches and refreshes the
// authentication material used on every outbound call. Sources are tried in
// a fixed priority order and never merged; the first source that yields a
// parseable, non-expired credential wins.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vertexgw/vertex-gateway/internal/config"
	"github.com/vertexgw/vertex-gateway/internal/domain"
	"github.com/vertexgw/vertex-gateway/internal/metrics"
)

// expiryMargin is subtracted from a credential's expiry when deciding
// whether it can still be handed out.
const expiryMargin = 60 * time.Second

// Store caches one credential at a time and refreshes it before handing it
// to a caller. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	sources []Source

	cached     *domain.Credentials
	cachedFrom int // index into sources that produced cached
}

// NewStore builds a store with the default source chain, narrowed to one
// source when cfg.AuthMethod is not auto.
func NewStore(cfg *config.Config) *Store {
	all := []Source{
		&ServiceAccountSource{Path: cfg.ServiceAccountPath},
		&GcloudSource{},
		&AmbientSource{},
	}

	switch cfg.AuthMethod {
	case config.AuthServiceAccount:
		return NewStoreWithSources(all[0])
	case config.AuthUserLogin:
		return NewStoreWithSources(all[1])
	case config.AuthAmbient:
		return NewStoreWithSources(all[2])
	default:
		return NewStoreWithSources(all...)
	}
}

// NewStoreWithSources builds a store over an explicit source chain, in
// priority order.
func NewStoreWithSources(sources ...Source) *Store {
	return &Store{sources: sources, cachedFrom: -1}
}

// Acquire returns a credential that is guaranteed not to be expired at
// return time. A cached credential is reused until its expiry minus a 60s
// margin; past that point the store refreshes against the source that
// produced it, falling back to the full priority chain.
func (s *Store) Acquire(ctx context.Context) (*domain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && !s.cached.Expired(expiryMargin) {
		return s.cached, nil
	}

	if s.cached != nil && s.cachedFrom >= 0 && s.cachedFrom < len(s.sources) {
		src := s.sources[s.cachedFrom]
		cred, err := s.obtain(ctx, src)
		if err == nil {
			metrics.RecordCredentialRefresh(string(src.Kind()), "ok")
			s.cached = cred
			return cred, nil
		}
		if ctx.Err() != nil {
			return nil, domain.NewCancelledError().WithCause(ctx.Err())
		}
		metrics.RecordCredentialRefresh(string(src.Kind()), "failed")
		slog.Warn("credential refresh failed, rerunning source chain",
			"source", src.Name(), "error", err)
		s.cached = nil
		s.cachedFrom = -1
	}

	return s.runChain(ctx)
}

// Clear forcibly invalidates the cache. The next Acquire reruns the chain.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	s.cachedFrom = -1
}

// runChain tries each source in priority order. Caller holds s.mu.
func (s *Store) runChain(ctx context.Context) (*domain.Credentials, error) {
	var attempted []string
	var hints []string

	for i, src := range s.sources {
		cred, err := s.obtain(ctx, src)
		if err == nil {
			slog.Info("credentials acquired", "source", src.Name(), "expires_at", cred.ExpiresAt)
			s.cached = cred
			s.cachedFrom = i
			return cred, nil
		}
		if ctx.Err() != nil {
			return nil, domain.NewCancelledError().WithCause(ctx.Err())
		}
		attempted = append(attempted, src.Name())
		hints = append(hints, fmt.Sprintf("%s: %s", src.Name(), src.Remediation()))
		if !errors.Is(err, ErrNotConfigured) {
			slog.Warn("credential source failed", "source", src.Name(), "error", err)
		}
	}

	return nil, domain.NewAuthenticationError(
		"no valid credentials found after trying all sources",
		strings.Join(hints, "; "),
	).WithContext("attempted_sources", attempted)
}

// obtain fetches from one source and probes the result before trusting it.
func (s *Store) obtain(ctx context.Context, src Source) (*domain.Credentials, error) {
	cred, err := src.Credential(ctx)
	if err != nil {
		return nil, err
	}
	if err := probe(cred); err != nil {
		return nil, fmt.Errorf("probe %s credential: %w", src.Name(), err)
	}
	return cred, nil
}

// probe is the format/expiry check applied before a freshly obtained
// credential is cached.
func probe(cred *domain.Credentials) error {
	if cred == nil || cred.Token == "" {
		return fmt.Errorf("empty access token")
	}
	if strings.ContainsAny(cred.Token, " \t\r\n") {
		return fmt.Errorf("access token contains whitespace")
	}
	if cred.Expired(expiryMargin) {
		return fmt.Errorf("token already expired at %s", cred.ExpiresAt)
	}
	return nil
}
