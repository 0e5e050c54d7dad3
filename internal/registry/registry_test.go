package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vertexgw/vertex-gateway/internal/domain"
)

type countingCatalog struct {
	fetches int
	list    []domain.ProviderDescriptor
	err     error
}

func (c *countingCatalog) Fetch(ctx context.Context) ([]domain.ProviderDescriptor, error) {
	c.fetches++
	if c.err != nil {
		return nil, c.err
	}
	out := make([]domain.ProviderDescriptor, len(c.list))
	copy(out, c.list)
	return out, nil
}

func testDescriptors() []domain.ProviderDescriptor {
	return []domain.ProviderDescriptor{
		{
			ModelID:          "deepseek-v3.1-maas",
			Publisher:        "deepseek-ai",
			Transport:        domain.TransportRest,
			AvailableRegions: []string{"us-west2"},
			DefaultRegion:    "us-west2",
		},
		{
			ModelID:          "claude-sonnet-4-5",
			Publisher:        "anthropic",
			Transport:        domain.TransportNativeSDK,
			AvailableRegions: []string{"us-east5", "europe-west1"},
			DefaultRegion:    "us-east5",
			LatestVersion:    "@20250929",
			KnownVersions:    []string{"@20250929"},
		},
	}
}

func TestResolve_KnownModel(t *testing.T) {
	r := New(&countingCatalog{list: testDescriptors()})

	d, err := r.Resolve(context.Background(), "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Transport != domain.TransportNativeSDK {
		t.Errorf("expected native_sdk transport, got %s", d.Transport)
	}
}

func TestResolve_UnknownModel(t *testing.T) {
	r := New(&countingCatalog{list: testDescriptors()})

	_, err := r.Resolve(context.Background(), "gpt-5")
	if domain.KindOf(err) != domain.KindModelNotFound {
		t.Errorf("expected model_not_found, got %v", err)
	}
}

func TestResolve_ReturnsCopy(t *testing.T) {
	r := New(&countingCatalog{list: testDescriptors()})

	d1, _ := r.Resolve(context.Background(), "deepseek-v3.1-maas")
	d1.DefaultRegion = "mutated"

	d2, _ := r.Resolve(context.Background(), "deepseek-v3.1-maas")
	if d2.DefaultRegion != "us-west2" {
		t.Errorf("caller mutation leaked into the registry: %q", d2.DefaultRegion)
	}
}

func TestListAvailable_CachesWithinTTL(t *testing.T) {
	catalog := &countingCatalog{list: testDescriptors()}
	r := New(catalog)

	for i := 0; i < 3; i++ {
		if _, err := r.ListAvailable(context.Background(), true); err != nil {
			t.Fatalf("list %d: %v", i, err)
		}
	}
	if catalog.fetches != 1 {
		t.Errorf("expected a single fetch within the TTL, got %d", catalog.fetches)
	}
}

func TestListAvailable_BypassCacheRefetches(t *testing.T) {
	catalog := &countingCatalog{list: testDescriptors()}
	r := New(catalog)

	_, _ = r.ListAvailable(context.Background(), true)
	_, _ = r.ListAvailable(context.Background(), false)

	if catalog.fetches != 2 {
		t.Errorf("expected refetch when the cache is bypassed, got %d fetches", catalog.fetches)
	}
}

func TestListAvailable_ExpiredTTLRefetches(t *testing.T) {
	catalog := &countingCatalog{list: testDescriptors()}
	r := NewWithTTL(catalog, 10*time.Millisecond)

	_, _ = r.ListAvailable(context.Background(), true)
	time.Sleep(20 * time.Millisecond)
	_, _ = r.ListAvailable(context.Background(), true)

	if catalog.fetches != 2 {
		t.Errorf("expected refetch after TTL expiry, got %d fetches", catalog.fetches)
	}
}

func TestListAvailable_ServesStaleOnFetchFailure(t *testing.T) {
	catalog := &countingCatalog{list: testDescriptors()}
	r := NewWithTTL(catalog, 10*time.Millisecond)

	_, _ = r.ListAvailable(context.Background(), true)

	catalog.err = errors.New("catalog endpoint down")
	time.Sleep(20 * time.Millisecond)

	list, err := r.ListAvailable(context.Background(), true)
	if err != nil {
		t.Fatalf("expected stale cache to be served, got %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 stale descriptors, got %d", len(list))
	}
}

func TestValidateRegion(t *testing.T) {
	r := New(&countingCatalog{list: testDescriptors()})
	d, _ := r.Resolve(context.Background(), "deepseek-v3.1-maas")

	if !r.ValidateRegion(d, "us-west2") {
		t.Error("us-west2 should be valid for deepseek-v3.1-maas")
	}
	if r.ValidateRegion(d, "us-central1") {
		t.Error("us-central1 should not be valid for deepseek-v3.1-maas")
	}
}

func TestValidateVersion(t *testing.T) {
	r := New(&countingCatalog{list: testDescriptors()})
	d, _ := r.Resolve(context.Background(), "claude-sonnet-4-5")

	cases := []struct {
		version  string
		wantKind domain.ErrorKind
	}{
		{"", ""},
		{"latest", ""},
		{"@20250929", ""},
		{"v2", domain.KindInvalidRequest},
		{"@2025", domain.KindInvalidRequest},
		{"@20240101", domain.KindModelNotFound},
	}
	for _, tc := range cases {
		err := r.ValidateVersion(d, tc.version)
		if domain.KindOf(err) != tc.wantKind {
			t.Errorf("version %q: expected kind %q, got %v", tc.version, tc.wantKind, err)
		}
	}
}

func TestDefaultCatalog_DescriptorsAreComplete(t *testing.T) {
	list, err := DefaultCatalog().Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) == 0 {
		t.Fatal("expected a non-empty default catalog")
	}

	for _, d := range list {
		if d.ModelID == "" || d.Publisher == "" {
			t.Errorf("descriptor missing identity: %+v", d)
		}
		if d.Transport != domain.TransportRest && d.Transport != domain.TransportNativeSDK {
			t.Errorf("%s: unknown transport %q", d.ModelID, d.Transport)
		}
		if len(d.AvailableRegions) == 0 {
			t.Errorf("%s: no regions", d.ModelID)
		}
		if !d.HasRegion(d.DefaultRegion) {
			t.Errorf("%s: default region %q not in available regions", d.ModelID, d.DefaultRegion)
		}
	}
}
