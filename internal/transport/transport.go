// Package transport holds the two access patterns behind the gateway: the
// stateless model-as-a-service REST call and the stateful native SDK call.
// Both normalize into the same result shape; failure classification happens
// here, where the provider response is first observed.
package transport

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/vertexgw/vertex-gateway/internal/domain"
	"github.com/vertexgw/vertex-gateway/internal/metrics"
)

// Transport invokes one access pattern. Implementations are stateless with
// respect to calls; credentials arrive per invocation.
type Transport interface {
	Kind() domain.TransportKind

	Invoke(ctx context.Context, desc *domain.ProviderDescriptor, req domain.CallRequest, creds *domain.Credentials) (*domain.CallResult, error)

	// Stream delivers normalized chunks until the provider finishes or the
	// context is cancelled. The error channel carries at most one error.
	// Cancelling ctx releases the underlying connection.
	Stream(ctx context.Context, desc *domain.ProviderDescriptor, req domain.CallRequest, creds *domain.Credentials) (<-chan domain.StreamChunk, <-chan error)
}

// wireModel builds the provider-side model name, applying a pinned version
// or the descriptor's latest pinned version when the model uses them.
func wireModel(desc *domain.ProviderDescriptor, req domain.CallRequest) string {
	name := desc.ModelID
	switch {
	case req.ModelVersion != "" && req.ModelVersion != "latest":
		name += req.ModelVersion
	case desc.LatestVersion != "" && desc.LatestVersion != "latest":
		name += desc.LatestVersion
	}
	return name
}

// classifyStatus maps a provider HTTP status onto the closed error taxonomy.
func classifyStatus(kind domain.TransportKind, status int, detail string, header http.Header) error {
	var err *domain.Error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		err = domain.NewAuthenticationError(
			"provider rejected the credentials",
			"verify the account has the Vertex AI User role, or re-authenticate with 'gcloud auth login'",
		).WithContext("status_code", status)
	case status == http.StatusNotFound:
		err = domain.NewModelNotFound("", "", nil)
		err.Message = "provider endpoint not found"
		err.Remediation = "verify the model id, version and region against 'vertexgw models'"
		err.WithContext("status_code", status)
	case status == http.StatusTooManyRequests:
		err = domain.NewRateLimitError("provider rate limit exceeded", retryAfter(header))
	case status >= 500:
		err = domain.NewTransientAPIError("provider returned a server error", status)
	default:
		err = domain.NewInvalidRequest(
			"provider rejected the request",
			"inspect the request parameters; the provider considered them malformed",
		).WithContext("status_code", status)
	}
	if detail != "" {
		err.WithContext("provider_detail", truncate(detail, 512))
	}
	metrics.RecordTransportError(string(kind), string(err.Kind))
	return err
}

// retryAfter extracts a Retry-After hint, either delta-seconds or HTTP date.
func retryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
