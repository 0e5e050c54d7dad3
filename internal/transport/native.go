package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vertexgw/vertex-gateway/internal/domain"
)

// vertexAnthropicVersion is the API version Vertex expects in the request
// body in place of the anthropic-version header.
const vertexAnthropicVersion = "vertex-2023-10-16"

// NativeSDK is the provider-SDK access pattern: Anthropic models served by
// Vertex, driven through the official Anthropic Go SDK. A request middleware
// rewrites the SDK's /v1/messages call into the Vertex rawPredict form and
// injects the credential minted by the store, so the SDK's own Google auth
// is bypassed.
type NativeSDK struct {
	projectID  string
	httpClient *http.Client

	// BaseURL overrides the regional Vertex host; used by tests.
	BaseURL string
}

func NewNativeSDK(projectID string, client *http.Client) *NativeSDK {
	return &NativeSDK{projectID: projectID, httpClient: client}
}

func (t *NativeSDK) Kind() domain.TransportKind {
	return domain.TransportNativeSDK
}

func (t *NativeSDK) client(region string, creds *domain.Credentials) anthropic.Client {
	base := t.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s-aiplatform.googleapis.com", region)
	}
	return anthropic.NewClient(
		option.WithBaseURL(base),
		option.WithAuthToken(creds.Token),
		option.WithHTTPClient(t.httpClient),
		option.WithMaxRetries(0), // retries belong to the resilience policy
		option.WithMiddleware(vertexRouting(t.projectID, region)),
	)
}

// vertexRouting turns the SDK's POST /v1/messages into the Vertex endpoint
// form: the model moves from the body into the URL, the body gains
// anthropic_version, and streaming selects streamRawPredict.
func vertexRouting(projectID, region string) option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		if req.Body == nil || !strings.HasSuffix(req.URL.Path, "/v1/messages") {
			return next(req)
		}

		raw, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read sdk request body: %w", err)
		}

		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("parse sdk request body: %w", err)
		}

		model, _ := body["model"].(string)
		delete(body, "model")
		body["anthropic_version"] = vertexAnthropicVersion

		verb := "rawPredict"
		if stream, ok := body["stream"].(bool); ok && stream {
			verb = "streamRawPredict"
		}

		rewritten, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal vertex request body: %w", err)
		}

		req.URL.Path = fmt.Sprintf("/v1/projects/%s/locations/%s/publishers/anthropic/models/%s:%s",
			projectID, region, model, verb)
		req.Body = io.NopCloser(bytes.NewReader(rewritten))
		req.ContentLength = int64(len(rewritten))
		req.Header.Del("X-Api-Key")

		return next(req)
	}
}

func (t *NativeSDK) buildParams(desc *domain.ProviderDescriptor, req domain.CallRequest) anthropic.MessageNewParams {
	var system string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system":
			system = m.Content
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(4096)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(wireModel(desc, req)),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}

func (t *NativeSDK) Invoke(ctx context.Context, desc *domain.ProviderDescriptor, req domain.CallRequest, creds *domain.Credentials) (*domain.CallResult, error) {
	client := t.client(req.Region, creds)

	start := time.Now()
	message, err := client.Messages.New(ctx, t.buildParams(desc, req))
	if err != nil {
		return nil, t.classify(ctx, err)
	}

	var content strings.Builder
	for _, blockUnion := range message.Content {
		if block, ok := blockUnion.AsAny().(anthropic.TextBlock); ok {
			content.WriteString(block.Text)
		}
	}

	return &domain.CallResult{
		Content:      content.String(),
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
		FinishReason: normalizeStopReason(string(message.StopReason)),
		LatencyMs:    time.Since(start).Milliseconds(),
		ProviderMetadata: map[string]string{
			"provider_request_id": message.ID,
			"provider_model":      string(message.Model),
		},
	}, nil
}

func (t *NativeSDK) Stream(ctx context.Context, desc *domain.ProviderDescriptor, req domain.CallRequest, creds *domain.Credentials) (<-chan domain.StreamChunk, <-chan error) {
	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		client := t.client(req.Region, creds)
		stream := client.Messages.NewStreaming(ctx, t.buildParams(desc, req))
		defer stream.Close()

		var inputTokens, outputTokens int
		var stopReason string

		for stream.Next() {
			event := stream.Current()

			chunk := domain.StreamChunk{}
			emit := false

			switch evt := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				inputTokens = int(evt.Message.Usage.InputTokens)
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					chunk.Content = delta.Text
					emit = true
				}
			case anthropic.MessageDeltaEvent:
				outputTokens = int(evt.Usage.OutputTokens)
				stopReason = string(evt.Delta.StopReason)
			case anthropic.MessageStopEvent:
				chunk.FinishReason = normalizeStopReason(stopReason)
				chunk.InputTokens = inputTokens
				chunk.OutputTokens = outputTokens
				emit = true
			}

			if !emit {
				continue
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			errs <- t.classify(ctx, err)
		}
	}()

	return chunks, errs
}

// classify maps SDK failures onto the closed taxonomy.
func (t *NativeSDK) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return domain.NewCancelledError().WithCause(ctx.Err())
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		var header http.Header
		if apierr.Response != nil {
			header = apierr.Response.Header
		}
		return classifyStatus(t.Kind(), apierr.StatusCode, apierr.Error(), header)
	}

	return domain.NewTransientAPIError("request failed before a response arrived", 0).WithCause(err)
}

// normalizeStopReason maps Anthropic stop reasons onto the finish reasons
// the REST pattern reports, so both transports look alike to callers.
func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
