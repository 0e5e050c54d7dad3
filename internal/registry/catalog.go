package registry

import (
	"context"

	"github.com/vertexgw/vertex-gateway/internal/domain"
)

// Catalog is the upstream source of model descriptors. The static catalog
// below mirrors what the Vertex model garden currently serves; tests swap in
// counting fakes.
type Catalog interface {
	Fetch(ctx context.Context) ([]domain.ProviderDescriptor, error)
}

// StaticCatalog serves a fixed descriptor set.
type StaticCatalog struct {
	Descriptors []domain.ProviderDescriptor
}

func (c *StaticCatalog) Fetch(ctx context.Context) ([]domain.ProviderDescriptor, error) {
	out := make([]domain.ProviderDescriptor, len(c.Descriptors))
	copy(out, c.Descriptors)
	return out, nil
}

// DefaultCatalog returns the supported model set: the model-as-a-service
// partner models plus the Anthropic models reachable through the native SDK.
func DefaultCatalog() *StaticCatalog {
	return &StaticCatalog{Descriptors: []domain.ProviderDescriptor{
		{
			ModelID:          "deepseek-v3.1-maas",
			DisplayName:      "DeepSeek V3.1",
			Publisher:        "deepseek-ai",
			Transport:        domain.TransportRest,
			AvailableRegions: []string{"us-west2"},
			DefaultRegion:    "us-west2",
			LatestVersion:    "latest",
			KnownVersions:    []string{"latest"},
		},
		{
			ModelID:          "deepseek-r1-0528-maas",
			DisplayName:      "DeepSeek R1 0528",
			Publisher:        "deepseek-ai",
			Transport:        domain.TransportRest,
			AvailableRegions: []string{"us-central1"},
			DefaultRegion:    "us-central1",
			LatestVersion:    "latest",
			KnownVersions:    []string{"latest"},
		},
		{
			ModelID:          "qwen3-coder-480b-a35b-instruct-maas",
			DisplayName:      "Qwen3 Coder",
			Publisher:        "qwen",
			Transport:        domain.TransportRest,
			AvailableRegions: []string{"us-south1"},
			DefaultRegion:    "us-south1",
			LatestVersion:    "latest",
			KnownVersions:    []string{"latest"},
			Pricing:          &domain.Pricing{InputPer1M: 0.10, OutputPer1M: 0.40},
		},
		{
			ModelID:          "kimi-k2-thinking-maas",
			DisplayName:      "Kimi K2 Thinking",
			Publisher:        "moonshotai",
			Transport:        domain.TransportRest,
			AvailableRegions: []string{"global"},
			DefaultRegion:    "global",
			LatestVersion:    "latest",
			KnownVersions:    []string{"latest"},
		},
		{
			ModelID:          "gpt-oss-120b-maas",
			DisplayName:      "GPT OSS 120B",
			Publisher:        "openai",
			Transport:        domain.TransportRest,
			AvailableRegions: []string{"us-central1"},
			DefaultRegion:    "us-central1",
			LatestVersion:    "latest",
			KnownVersions:    []string{"latest"},
		},
		{
			ModelID:          "llama-3.1-405b-instruct-maas",
			DisplayName:      "Llama 3.1 405B",
			Publisher:        "meta",
			Transport:        domain.TransportRest,
			AvailableRegions: []string{"us-central1"},
			DefaultRegion:    "us-central1",
			LatestVersion:    "latest",
			KnownVersions:    []string{"latest"},
		},
		{
			ModelID:          "gemini-2.5-pro",
			DisplayName:      "Gemini 2.5 Pro",
			Publisher:        "google",
			Transport:        domain.TransportRest,
			AvailableRegions: []string{"global"},
			DefaultRegion:    "global",
			LatestVersion:    "latest",
			KnownVersions:    []string{"latest"},
			Pricing:          &domain.Pricing{InputPer1M: 0.50, OutputPer1M: 1.50},
		},
		{
			ModelID:          "claude-sonnet-4-5",
			DisplayName:      "Claude Sonnet 4.5",
			Publisher:        "anthropic",
			Transport:        domain.TransportNativeSDK,
			AvailableRegions: []string{"us-east5", "europe-west1", "asia-southeast1"},
			DefaultRegion:    "us-east5",
			LatestVersion:    "@20250929",
			KnownVersions:    []string{"latest", "@20250929"},
			Pricing:          &domain.Pricing{InputPer1M: 3.00, OutputPer1M: 15.00},
		},
		{
			ModelID:          "claude-opus-4-1",
			DisplayName:      "Claude Opus 4.1",
			Publisher:        "anthropic",
			Transport:        domain.TransportNativeSDK,
			AvailableRegions: []string{"us-east5"},
			DefaultRegion:    "us-east5",
			LatestVersion:    "@20250805",
			KnownVersions:    []string{"latest", "@20250805"},
			Pricing:          &domain.Pricing{InputPer1M: 15.00, OutputPer1M: 75.00},
		},
	}}
}
