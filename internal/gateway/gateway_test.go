package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/vertexgw/vertex-gateway/internal/config"
	"github.com/vertexgw/vertex-gateway/internal/credentials"
	"github.com/vertexgw/vertex-gateway/internal/domain"
	"github.com/vertexgw/vertex-gateway/internal/registry"
	"github.com/vertexgw/vertex-gateway/internal/resilience"
	"github.com/vertexgw/vertex-gateway/internal/transport"
	"github.com/vertexgw/vertex-gateway/internal/usage"
)

type fakeSource struct{}

func (fakeSource) Name() string                { return "fake" }
func (fakeSource) Kind() domain.CredentialKind { return domain.CredentialServiceAccount }
func (fakeSource) Remediation() string         { return "n/a" }
func (fakeSource) Credential(ctx context.Context) (*domain.Credentials, error) {
	return &domain.Credentials{
		Kind:      domain.CredentialServiceAccount,
		Token:     "ya29.fake",
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

type failingSource struct{}

func (failingSource) Name() string                { return "failing" }
func (failingSource) Kind() domain.CredentialKind { return domain.CredentialUserLogin }
func (failingSource) Remediation() string         { return "run 'gcloud auth login'" }
func (failingSource) Credential(ctx context.Context) (*domain.Credentials, error) {
	return nil, credentials.ErrNotConfigured
}

type fakeTransport struct {
	kind    domain.TransportKind
	invokes int
	streams int
	lastReq domain.CallRequest

	result    *domain.CallResult
	err       error
	chunks    []domain.StreamChunk
	streamErr error
}

func (f *fakeTransport) Kind() domain.TransportKind { return f.kind }

func (f *fakeTransport) Invoke(ctx context.Context, desc *domain.ProviderDescriptor, req domain.CallRequest, creds *domain.Credentials) (*domain.CallResult, error) {
	f.invokes++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeTransport) Stream(ctx context.Context, desc *domain.ProviderDescriptor, req domain.CallRequest, creds *domain.Credentials) (<-chan domain.StreamChunk, <-chan error) {
	f.streams++
	f.lastReq = req
	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, c := range f.chunks {
			chunks <- c
		}
		if f.streamErr != nil {
			errs <- f.streamErr
		}
	}()
	return chunks, errs
}

func testCatalog() registry.Catalog {
	return &registry.StaticCatalog{Descriptors: []domain.ProviderDescriptor{
		{
			ModelID:          "rest-model",
			Publisher:        "partner",
			Transport:        domain.TransportRest,
			AvailableRegions: []string{"us-central1", "us-west2"},
			DefaultRegion:    "us-central1",
			Pricing:          &domain.Pricing{InputPer1M: 1.00, OutputPer1M: 2.00},
		},
		{
			ModelID:          "sdk-model",
			Publisher:        "anthropic",
			Transport:        domain.TransportNativeSDK,
			AvailableRegions: []string{"us-east5"},
			DefaultRegion:    "us-east5",
		},
		{
			ModelID:          "unpriced-model",
			Publisher:        "partner",
			Transport:        domain.TransportRest,
			AvailableRegions: []string{"us-central1"},
			DefaultRegion:    "us-central1",
		},
	}}
}

func testGateway(t *testing.T, transports ...transport.Transport) (*Gateway, *usage.Ledger) {
	t.Helper()

	cfg := config.Default()
	cfg.ProjectID = "test-project"

	manager := resilience.NewManager(resilience.BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	policy := resilience.NewPolicy(manager, resilience.PolicyConfig{
		MaxRetries:        2,
		InitialWait:       time.Millisecond,
		MaxWait:           2 * time.Millisecond,
		BackoffBase:       2.0,
		PerAttemptTimeout: time.Second,
	})
	ledger := usage.NewLedger(nil)

	gw := NewWithDeps(
		cfg,
		credentials.NewStoreWithSources(fakeSource{}),
		registry.New(testCatalog()),
		policy,
		transports,
		ledger,
	)
	return gw, ledger
}

func userRequest(modelID string) domain.CallRequest {
	return domain.CallRequest{
		ModelID:  modelID,
		Messages: []domain.Message{{Role: "user", Content: "hello"}},
	}
}

// waitForRecords polls the ledger; usage recording is fire-and-forget.
func waitForRecords(t *testing.T, ledger *usage.Ledger, want int) usage.Summary {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s := ledger.Summary(); s.Requests >= want {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("ledger never reached %d records", want)
	return usage.Summary{}
}

func TestGenerate_HappyPathRecordsUsage(t *testing.T) {
	rest := &fakeTransport{
		kind: domain.TransportRest,
		result: &domain.CallResult{
			Content:      "hi",
			InputTokens:  10,
			OutputTokens: 15,
			FinishReason: "stop",
		},
	}
	gw, ledger := testGateway(t, rest)

	result, err := gw.Generate(context.Background(), userRequest("rest-model"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "hi" {
		t.Errorf("wrong content: %q", result.Content)
	}

	s := waitForRecords(t, ledger, 1)
	if s.InputTokens != 10 || s.OutputTokens != 15 || s.TotalTokens != 25 {
		t.Errorf("wrong ledger totals: %d in, %d out, %d total", s.InputTokens, s.OutputTokens, s.TotalTokens)
	}
	wantCost := 10.0/1e6*1.00 + 15.0/1e6*2.00
	if diff := s.EstimatedCostUSD - wantCost; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("wrong cost: got %g want %g", s.EstimatedCostUSD, wantCost)
	}
}

func TestGenerate_DispatchesByTransportKind(t *testing.T) {
	rest := &fakeTransport{kind: domain.TransportRest, result: &domain.CallResult{Content: "rest"}}
	sdk := &fakeTransport{kind: domain.TransportNativeSDK, result: &domain.CallResult{Content: "sdk"}}
	gw, _ := testGateway(t, rest, sdk)

	result, err := gw.Generate(context.Background(), userRequest("sdk-model"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "sdk" {
		t.Errorf("expected the native transport, got %q", result.Content)
	}
	if rest.invokes != 0 || sdk.invokes != 1 {
		t.Errorf("wrong dispatch: rest=%d sdk=%d", rest.invokes, sdk.invokes)
	}
}

func TestGenerate_DefaultsToModelRegion(t *testing.T) {
	rest := &fakeTransport{kind: domain.TransportRest, result: &domain.CallResult{}}
	gw, _ := testGateway(t, rest)

	if _, err := gw.Generate(context.Background(), userRequest("rest-model")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rest.lastReq.Region != "us-central1" {
		t.Errorf("expected the model default region, got %q", rest.lastReq.Region)
	}
}

func TestGenerate_RegionNotAvailable(t *testing.T) {
	rest := &fakeTransport{kind: domain.TransportRest, result: &domain.CallResult{}}
	gw, _ := testGateway(t, rest)

	req := userRequest("rest-model")
	req.Region = "europe-west4"

	_, err := gw.Generate(context.Background(), req)
	e, ok := domain.AsError(err)
	if !ok || e.Kind != domain.KindModelNotFound {
		t.Fatalf("expected model_not_found, got %v", err)
	}
	regions, _ := e.Context["available_regions"].([]string)
	if len(regions) != 2 {
		t.Errorf("expected the available regions in the error, got %v", regions)
	}
	if rest.invokes != 0 {
		t.Error("no network call may happen for an invalid region")
	}
}

func TestGenerate_UnknownModel(t *testing.T) {
	gw, _ := testGateway(t, &fakeTransport{kind: domain.TransportRest})

	_, err := gw.Generate(context.Background(), userRequest("missing-model"))
	if domain.KindOf(err) != domain.KindModelNotFound {
		t.Errorf("expected model_not_found, got %v", err)
	}
}

func TestGenerate_AuthenticationFailureSkipsTransport(t *testing.T) {
	rest := &fakeTransport{kind: domain.TransportRest, result: &domain.CallResult{}}
	gw, _ := testGateway(t, rest)
	gw.creds = credentials.NewStoreWithSources(failingSource{})

	_, err := gw.Generate(context.Background(), userRequest("rest-model"))
	if domain.KindOf(err) != domain.KindAuthentication {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if rest.invokes != 0 {
		t.Error("transport must not be reached without credentials")
	}
}

func TestGenerate_RetriesTransientFailures(t *testing.T) {
	rest := &fakeTransport{kind: domain.TransportRest, err: domain.NewTransientAPIError("down", 500)}
	gw, _ := testGateway(t, rest)

	_, err := gw.Generate(context.Background(), userRequest("rest-model"))
	if domain.KindOf(err) != domain.KindTransientAPI {
		t.Fatalf("expected transient_api, got %v", err)
	}
	if rest.invokes != 3 {
		t.Errorf("expected 3 attempts for 2 retries, got %d", rest.invokes)
	}
}

func TestGenerate_BreakerOpensAndRejects(t *testing.T) {
	rest := &fakeTransport{kind: domain.TransportRest, err: domain.NewTransientAPIError("down", 500)}
	gw, _ := testGateway(t, rest)

	// Three failed attempts hit the threshold of three on the first call.
	_, _ = gw.Generate(context.Background(), userRequest("rest-model"))

	before := rest.invokes
	_, err := gw.Generate(context.Background(), userRequest("rest-model"))
	if domain.KindOf(err) != domain.KindCircuitOpen {
		t.Fatalf("expected circuit_open, got %v", err)
	}
	if rest.invokes != before {
		t.Error("open breaker must reject before any transport call")
	}

	states := gw.BreakerStates(context.Background())
	if states["rest-model/us-central1"] != "open" {
		t.Errorf("expected the breaker open, got %v", states)
	}
}

func TestGenerate_FailedCallNotRecorded(t *testing.T) {
	rest := &fakeTransport{kind: domain.TransportRest, err: domain.NewTransientAPIError("down", 500)}
	gw, ledger := testGateway(t, rest)

	_, _ = gw.Generate(context.Background(), userRequest("rest-model"))

	time.Sleep(10 * time.Millisecond)
	if got := ledger.Summary().Requests; got != 0 {
		t.Errorf("failed calls must not appear in the ledger, got %d", got)
	}
}

func TestGenerateStream_DeliversAndRecords(t *testing.T) {
	rest := &fakeTransport{
		kind: domain.TransportRest,
		chunks: []domain.StreamChunk{
			{Content: "hel"},
			{Content: "lo"},
			{FinishReason: "stop", InputTokens: 10, OutputTokens: 15},
		},
	}
	gw, ledger := testGateway(t, rest)

	chunks, errs := gw.GenerateStream(context.Background(), userRequest("rest-model"))
	var got string
	for c := range chunks {
		got += c.Content
	}
	if err := <-errs; err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if got != "hello" {
		t.Errorf("wrong streamed content: %q", got)
	}

	s := waitForRecords(t, ledger, 1)
	if s.InputTokens != 10 || s.OutputTokens != 15 {
		t.Errorf("wrong stream usage: %d in, %d out", s.InputTokens, s.OutputTokens)
	}
}

func TestGenerateStream_NoRetryOnFailure(t *testing.T) {
	rest := &fakeTransport{
		kind:      domain.TransportRest,
		chunks:    []domain.StreamChunk{{Content: "partial"}},
		streamErr: domain.NewTransientAPIError("connection lost", 0),
	}
	gw, _ := testGateway(t, rest)

	chunks, errs := gw.GenerateStream(context.Background(), userRequest("rest-model"))
	for range chunks {
	}
	if err := <-errs; domain.KindOf(err) != domain.KindTransientAPI {
		t.Fatalf("expected transient_api, got %v", err)
	}
	if rest.streams != 1 {
		t.Errorf("streams are never retried, got %d attempts", rest.streams)
	}
}

func TestGenerateStream_PreflightErrorOnChannel(t *testing.T) {
	gw, _ := testGateway(t, &fakeTransport{kind: domain.TransportRest})

	chunks, errs := gw.GenerateStream(context.Background(), userRequest("missing-model"))
	for range chunks {
		t.Error("expected no chunks")
	}
	if err := <-errs; domain.KindOf(err) != domain.KindModelNotFound {
		t.Errorf("expected model_not_found, got %v", err)
	}
}

func TestGenerate_InvalidRequestRejectedLocally(t *testing.T) {
	rest := &fakeTransport{kind: domain.TransportRest, result: &domain.CallResult{}}
	gw, _ := testGateway(t, rest)

	_, err := gw.Generate(context.Background(), domain.CallRequest{ModelID: "rest-model"})
	if domain.KindOf(err) != domain.KindInvalidRequest {
		t.Fatalf("expected invalid_request, got %v", err)
	}
	if rest.invokes != 0 {
		t.Error("invalid requests must not reach the transport")
	}
}

func TestListModels_ReturnsCatalog(t *testing.T) {
	gw, _ := testGateway(t, &fakeTransport{kind: domain.TransportRest})

	models, err := gw.ListModels(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(models) != 3 {
		t.Errorf("expected 3 models, got %d", len(models))
	}
}

func TestUsage_FlagsUnpricedModels(t *testing.T) {
	rest := &fakeTransport{
		kind:   domain.TransportRest,
		result: &domain.CallResult{InputTokens: 5, OutputTokens: 5},
	}
	gw, ledger := testGateway(t, rest)

	if _, err := gw.Generate(context.Background(), userRequest("unpriced-model")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForRecords(t, ledger, 1)
	s := gw.Usage()
	if len(s.PriceUnknownModels) != 1 || s.PriceUnknownModels[0] != "unpriced-model" {
		t.Errorf("expected unpriced-model flagged, got %v", s.PriceUnknownModels)
	}
}
