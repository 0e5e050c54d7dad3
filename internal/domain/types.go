package domain

import "time"

// CredentialKind identifies which source produced a credential.
type CredentialKind string

const (
	CredentialServiceAccount  CredentialKind = "service_account"
	CredentialUserLogin       CredentialKind = "user_login"
	CredentialAmbientPlatform CredentialKind = "ambient_platform"
)

// Credentials is authentication material ready to use on an outbound call.
// Instances are immutable; a refresh produces a replacement, never a mutation.
type Credentials struct {
	Kind        CredentialKind
	Token       string
	ExpiresAt   time.Time
	ValidatedAt time.Time
}

// Expired reports whether the credential is past its expiry minus margin.
// Credentials without a known expiry never report expired.
func (c *Credentials) Expired(margin time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !time.Now().Before(c.ExpiresAt.Add(-margin))
}

// TransportKind is the closed set of access patterns a model can use.
type TransportKind string

const (
	// TransportRest is the stateless model-as-a-service REST pattern.
	TransportRest TransportKind = "rest"
	// TransportNativeSDK is the provider-specific SDK pattern.
	TransportNativeSDK TransportKind = "native_sdk"
)

// Pricing is USD per one million tokens.
type Pricing struct {
	InputPer1M  float64 `yaml:"input_per_1m" json:"input_per_1m"`
	OutputPer1M float64 `yaml:"output_per_1m" json:"output_per_1m"`
}

// ProviderDescriptor is static metadata about one model. Created by the
// registry, never mutated by callers.
type ProviderDescriptor struct {
	ModelID          string   `json:"model_id"`
	DisplayName      string   `json:"display_name"`
	Publisher        string   `json:"publisher"`
	Transport        TransportKind `json:"transport"`
	AvailableRegions []string `json:"available_regions"`
	DefaultRegion    string   `json:"default_region"`
	LatestVersion    string   `json:"latest_version"`
	KnownVersions    []string `json:"known_versions"`
	Pricing          *Pricing `json:"pricing,omitempty"`
}

// HasRegion reports whether the model is declared available in region.
func (d *ProviderDescriptor) HasRegion(region string) bool {
	for _, r := range d.AvailableRegions {
		if r == region {
			return true
		}
	}
	return false
}

// HasVersion reports whether version is a known version for this model.
func (d *ProviderDescriptor) HasVersion(version string) bool {
	for _, v := range d.KnownVersions {
		if v == version {
			return true
		}
	}
	return false
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CallRequest is one generation request, constructed per call.
type CallRequest struct {
	ModelID      string
	ModelVersion string
	Region       string
	Messages     []Message
	Temperature  *float64
	MaxTokens    *int
	Stream       bool
}

// Validate checks structural validity before dispatch. Region and version
// checks against the descriptor are the registry's job.
func (r *CallRequest) Validate() error {
	if r.ModelID == "" {
		return NewInvalidRequest("model id is required", "set a model id on the request or default_model in the config")
	}
	if len(r.Messages) == 0 {
		return NewInvalidRequest("at least one message is required", "provide a non-empty messages list")
	}
	for i, m := range r.Messages {
		if m.Content == "" {
			return NewInvalidRequest("message content must not be empty", "remove or fill empty messages").WithContext("message_index", i)
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return NewInvalidRequest("temperature must be between 0.0 and 2.0", "adjust the temperature parameter")
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return NewInvalidRequest("max tokens must be positive", "adjust the max tokens parameter")
	}
	return nil
}

// CallResult is the normalized outcome of a completed call, identical in
// shape regardless of which transport produced it.
type CallResult struct {
	Content          string
	InputTokens      int
	OutputTokens     int
	FinishReason     string
	LatencyMs        int64
	ProviderMetadata map[string]string
}

func (r *CallResult) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// StreamChunk is one normalized piece of a streaming response. Token counts
// appear only on the chunks that carry usage data (typically the last one);
// consumers keep the most recent non-zero values.
type StreamChunk struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// UsageRecord is an append-only account of one completed call.
type UsageRecord struct {
	Timestamp        time.Time
	RequestID        string
	ModelID          string
	Region           string
	InputTokens      int
	OutputTokens     int
	EstimatedCostUSD float64
	PriceKnown       bool
	LatencyMs        int64
}
