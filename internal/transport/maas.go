package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vertexgw/vertex-gateway/internal/domain"
)

// MaaS is the stateless REST access pattern: the Vertex OpenAI-compatible
// chat completions endpoint served per region for partner models.
type MaaS struct {
	projectID string
	client    *http.Client

	// BaseURL overrides the regional endpoint; used by tests.
	BaseURL string
}

func NewMaaS(projectID string, client *http.Client) *MaaS {
	return &MaaS{projectID: projectID, client: client}
}

func (t *MaaS) Kind() domain.TransportKind {
	return domain.TransportRest
}

func (t *MaaS) endpoint(region string) string {
	if t.BaseURL != "" {
		return fmt.Sprintf("%s/v1/projects/%s/locations/%s/endpoints/openapi/chat/completions",
			t.BaseURL, t.projectID, region)
	}
	host := "aiplatform.googleapis.com"
	if region != "global" {
		host = region + "-aiplatform.googleapis.com"
	}
	return fmt.Sprintf("https://%s/v1/projects/%s/locations/%s/endpoints/openapi/chat/completions",
		host, t.projectID, region)
}

type maasMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type maasRequest struct {
	Model         string            `json:"model"`
	Messages      []maasMessage     `json:"messages"`
	Temperature   *float64          `json:"temperature,omitempty"`
	MaxTokens     *int              `json:"max_tokens,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	StreamOptions *maasStreamOption `json:"stream_options,omitempty"`
}

type maasStreamOption struct {
	IncludeUsage bool `json:"include_usage"`
}

type maasUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type maasChoice struct {
	Index        int          `json:"index"`
	Message      *maasMessage `json:"message,omitempty"`
	Delta        *maasMessage `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

type maasResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []maasChoice `json:"choices"`
	Usage   *maasUsage   `json:"usage,omitempty"`
}

func (t *MaaS) buildRequest(desc *domain.ProviderDescriptor, req domain.CallRequest, stream bool) maasRequest {
	messages := make([]maasMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, maasMessage{Role: strings.ToLower(m.Role), Content: m.Content})
	}
	out := maasRequest{
		Model:       desc.Publisher + "/" + wireModel(desc, req),
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if stream {
		out.StreamOptions = &maasStreamOption{IncludeUsage: true}
	}
	return out
}

func (t *MaaS) post(ctx context.Context, region string, body []byte, creds *domain.Credentials, stream bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint(region), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+creds.Token)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.NewCancelledError().WithCause(ctx.Err())
		}
		return nil, domain.NewTransientAPIError("request failed before a response arrived", 0).WithCause(err)
	}
	return resp, nil
}

func (t *MaaS) Invoke(ctx context.Context, desc *domain.ProviderDescriptor, req domain.CallRequest, creds *domain.Credentials) (*domain.CallResult, error) {
	body, err := json.Marshal(t.buildRequest(desc, req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	resp, err := t.post(ctx, req.Region, body, creds, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(t.Kind(), resp.StatusCode, string(detail), resp.Header)
	}

	var maasResp maasResponse
	if err := json.NewDecoder(resp.Body).Decode(&maasResp); err != nil {
		return nil, domain.NewTransientAPIError("provider returned an unparseable response", resp.StatusCode).WithCause(err)
	}

	result := &domain.CallResult{
		LatencyMs: time.Since(start).Milliseconds(),
		ProviderMetadata: map[string]string{
			"provider_request_id": maasResp.ID,
			"provider_model":      maasResp.Model,
		},
	}
	if len(maasResp.Choices) > 0 {
		choice := maasResp.Choices[0]
		if choice.Message != nil {
			result.Content = choice.Message.Content
		}
		result.FinishReason = choice.FinishReason
	}
	if maasResp.Usage != nil {
		result.InputTokens = maasResp.Usage.PromptTokens
		result.OutputTokens = maasResp.Usage.CompletionTokens
	}
	return result, nil
}

func (t *MaaS) Stream(ctx context.Context, desc *domain.ProviderDescriptor, req domain.CallRequest, creds *domain.Credentials) (<-chan domain.StreamChunk, <-chan error) {
	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		body, err := json.Marshal(t.buildRequest(desc, req, true))
		if err != nil {
			errs <- fmt.Errorf("marshal request: %w", err)
			return
		}

		resp, err := t.post(ctx, req.Region, body, creds, true)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			detail, _ := io.ReadAll(resp.Body)
			errs <- classifyStatus(t.Kind(), resp.StatusCode, string(detail), resp.Header)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var event maasResponse
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}

			chunk := domain.StreamChunk{}
			if len(event.Choices) > 0 {
				if event.Choices[0].Delta != nil {
					chunk.Content = event.Choices[0].Delta.Content
				}
				chunk.FinishReason = event.Choices[0].FinishReason
			}
			if event.Usage != nil {
				chunk.InputTokens = event.Usage.PromptTokens
				chunk.OutputTokens = event.Usage.CompletionTokens
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			errs <- domain.NewTransientAPIError("stream ended unexpectedly", 0).WithCause(err)
		}
	}()

	return chunks, errs
}
