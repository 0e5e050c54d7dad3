// Package gateway is the single entry point for generation calls. It binds
// model resolution, credential acquisition, transport dispatch, resilience
// and usage accounting into one orchestration path.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/vertexgw/vertex-gateway/internal/config"
	"github.com/vertexgw/vertex-gateway/internal/credentials"
	"github.com/vertexgw/vertex-gateway/internal/domain"
	"github.com/vertexgw/vertex-gateway/internal/httputil"
	"github.com/vertexgw/vertex-gateway/internal/metrics"
	"github.com/vertexgw/vertex-gateway/internal/registry"
	"github.com/vertexgw/vertex-gateway/internal/resilience"
	"github.com/vertexgw/vertex-gateway/internal/telemetry"
	"github.com/vertexgw/vertex-gateway/internal/transport"
	"github.com/vertexgw/vertex-gateway/internal/usage"
)

// Gateway orchestrates one generation call end to end. It is safe for
// concurrent use; per-call state lives on the stack of each method call.
type Gateway struct {
	cfg        *config.Config
	creds      *credentials.Store
	registry   *registry.Registry
	policy     *resilience.Policy
	transports map[domain.TransportKind]transport.Transport
	ledger     *usage.Ledger
}

// New wires a production gateway from the configuration: the static model
// catalog, the credential chain, per-model-region breakers (Redis-backed
// when configured) and the optional Postgres usage sink.
func New(ctx context.Context, cfg *config.Config) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var managerOpts []resilience.ManagerOption
	if cfg.RedisURL != "" {
		managerOpts = append(managerOpts, resilience.WithRedis(cfg.RedisURL))
	}
	manager := resilience.NewManager(resilience.BreakerConfig{
		FailureThreshold: cfg.CircuitFailureThreshold,
		RecoveryTimeout:  cfg.CircuitRecoveryTimeout,
	}, managerOpts...)

	var sink usage.Sink
	if cfg.DatabaseURL != "" {
		pg, err := usage.NewPostgresSink(ctx, cfg.DatabaseURL)
		if err != nil {
			// Accounting is best-effort; a dead database must not block calls.
			slog.Warn("usage database unavailable, keeping records in memory only", "error", err)
		} else {
			sink = pg
		}
	}

	httpClient := httputil.DefaultClient()

	return NewWithDeps(
		cfg,
		credentials.NewStore(cfg),
		registry.New(registry.DefaultCatalog()),
		resilience.NewPolicy(manager, resilience.PolicyConfigFrom(cfg)),
		[]transport.Transport{
			transport.NewMaaS(cfg.ProjectID, httpClient),
			transport.NewNativeSDK(cfg.ProjectID, httpClient),
		},
		usage.NewLedger(sink),
	), nil
}

// NewWithDeps assembles a gateway from explicit collaborators.
func NewWithDeps(cfg *config.Config, creds *credentials.Store, reg *registry.Registry, policy *resilience.Policy, transports []transport.Transport, ledger *usage.Ledger) *Gateway {
	byKind := make(map[domain.TransportKind]transport.Transport, len(transports))
	for _, t := range transports {
		byKind[t.Kind()] = t
	}
	return &Gateway{
		cfg:        cfg,
		creds:      creds,
		registry:   reg,
		policy:     policy,
		transports: byKind,
		ledger:     ledger,
	}
}

// prepare validates the request, resolves the model and settles region and
// version. Precedence for region: request, then config, then model default.
func (g *Gateway) prepare(ctx context.Context, req domain.CallRequest) (*domain.ProviderDescriptor, domain.CallRequest, transport.Transport, error) {
	if req.ModelID == "" {
		req.ModelID = g.cfg.ModelID
	}
	if req.ModelVersion == "" {
		req.ModelVersion = g.cfg.ModelVersion
	}

	if err := req.Validate(); err != nil {
		return nil, req, nil, err
	}

	desc, err := g.registry.Resolve(ctx, req.ModelID)
	if err != nil {
		return nil, req, nil, err
	}

	if req.Region == "" {
		req.Region = g.cfg.Region
	}
	if req.Region == "" {
		req.Region = g.registry.DefaultRegion(desc)
	}
	if !g.registry.ValidateRegion(desc, req.Region) {
		return nil, req, nil, domain.NewModelNotFound(desc.ModelID, req.Region, desc.AvailableRegions)
	}

	if err := g.registry.ValidateVersion(desc, req.ModelVersion); err != nil {
		return nil, req, nil, err
	}

	tr, ok := g.transports[desc.Transport]
	if !ok {
		return nil, req, nil, fmt.Errorf("no transport registered for kind %q", desc.Transport)
	}

	return desc, req, tr, nil
}

// Generate runs one blocking generation call: resolve, authenticate, invoke
// behind the resilience policy, account, return the normalized result.
func (g *Gateway) Generate(ctx context.Context, req domain.CallRequest) (*domain.CallResult, error) {
	requestID := uuid.NewString()
	ctx, span := telemetry.StartSpan(ctx, "gateway.generate")
	defer span.End()

	desc, req, tr, err := g.prepare(ctx, req)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		return nil, err
	}

	telemetry.AddCallAttributes(span, requestID, desc.ModelID, req.Region, string(desc.Transport))

	key := resilience.BreakerKey(desc.ModelID, req.Region)
	start := time.Now()

	result, err := resilience.Execute(ctx, g.policy, key, func(ctx context.Context) (*domain.CallResult, error) {
		creds, err := g.creds.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return tr.Invoke(ctx, desc, req, creds)
	})

	duration := time.Since(start)

	if err != nil {
		metrics.RecordRequest(desc.ModelID, req.Region, string(desc.Transport), "error", duration.Seconds())
		telemetry.AddErrorAttribute(span, err)
		slog.Error("generation failed",
			"request_id", requestID,
			"model", desc.ModelID,
			"region", req.Region,
			"error_kind", domain.KindOf(err),
			"error", err,
		)
		return nil, err
	}

	metrics.RecordRequest(desc.ModelID, req.Region, string(desc.Transport), "success", duration.Seconds())
	telemetry.AddTokenAttributes(span, result.InputTokens, result.OutputTokens)

	g.account(ctx, span, requestID, desc, req.Region, result.InputTokens, result.OutputTokens, result.LatencyMs)

	slog.Info("generation completed",
		"request_id", requestID,
		"model", desc.ModelID,
		"region", req.Region,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"latency_ms", result.LatencyMs,
	)
	return result, nil
}

// GenerateStream runs one streaming call. The breaker gates the attempt, but
// there is no retry: once the first byte reaches the consumer, replaying
// would duplicate output. Failures surface on the error channel.
func (g *Gateway) GenerateStream(ctx context.Context, req domain.CallRequest) (<-chan domain.StreamChunk, <-chan error) {
	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)

	requestID := uuid.NewString()
	ctx, span := telemetry.StartSpan(ctx, "gateway.generate_stream")

	fail := func(err error) {
		telemetry.AddErrorAttribute(span, err)
		span.End()
		errs <- err
		close(errs)
		close(chunks)
	}

	desc, req, tr, err := g.prepare(ctx, req)
	if err != nil {
		fail(err)
		return chunks, errs
	}
	req.Stream = true

	telemetry.AddCallAttributes(span, requestID, desc.ModelID, req.Region, string(desc.Transport))

	key := resilience.BreakerKey(desc.ModelID, req.Region)
	br := g.policy.Breaker(key)
	if err := br.Allow(ctx); err != nil {
		fail(err)
		return chunks, errs
	}

	creds, err := g.creds.Acquire(ctx)
	if err != nil {
		fail(err)
		return chunks, errs
	}

	srcChunks, srcErrs := tr.Stream(ctx, desc, req, creds)

	go func() {
		defer close(chunks)
		defer close(errs)
		defer span.End()

		metrics.ActiveStreams.Inc()
		defer metrics.ActiveStreams.Dec()

		start := time.Now()
		var inputTokens, outputTokens int
		delivered := false

		for chunk := range srcChunks {
			if chunk.InputTokens > 0 {
				inputTokens = chunk.InputTokens
			}
			if chunk.OutputTokens > 0 {
				outputTokens = chunk.OutputTokens
			}
			select {
			case chunks <- chunk:
				delivered = true
			case <-ctx.Done():
				// Indeterminate outcome: the breaker records nothing.
				errs <- domain.NewCancelledError().WithCause(ctx.Err())
				return
			}
		}

		duration := time.Since(start)

		if err := <-srcErrs; err != nil {
			if domain.KindOf(err) != domain.KindCancelled {
				br.RecordFailure(ctx)
			}
			metrics.RecordRequest(desc.ModelID, req.Region, string(desc.Transport), "error", duration.Seconds())
			telemetry.AddErrorAttribute(span, err)
			slog.Error("stream failed",
				"request_id", requestID,
				"model", desc.ModelID,
				"region", req.Region,
				"delivered", delivered,
				"error_kind", domain.KindOf(err),
				"error", err,
			)
			errs <- err
			return
		}

		br.RecordSuccess(ctx)
		metrics.RecordRequest(desc.ModelID, req.Region, string(desc.Transport), "success", duration.Seconds())
		telemetry.AddTokenAttributes(span, inputTokens, outputTokens)

		g.account(ctx, span, requestID, desc, req.Region, inputTokens, outputTokens, duration.Milliseconds())

		slog.Info("stream completed",
			"request_id", requestID,
			"model", desc.ModelID,
			"region", req.Region,
			"input_tokens", inputTokens,
			"output_tokens", outputTokens,
			"latency_ms", duration.Milliseconds(),
		)
	}()

	return chunks, errs
}

// account records the call in the ledger off the caller's critical path.
func (g *Gateway) account(ctx context.Context, span trace.Span, requestID string, desc *domain.ProviderDescriptor, region string, inputTokens, outputTokens int, latencyMs int64) {
	cost, known := usage.Cost(desc.Pricing, inputTokens, outputTokens)
	if known {
		telemetry.AddCostAttribute(span, cost)
	}
	rec := domain.UsageRecord{
		Timestamp:        time.Now().UTC(),
		RequestID:        requestID,
		ModelID:          desc.ModelID,
		Region:           region,
		InputTokens:      inputTokens,
		OutputTokens:     outputTokens,
		EstimatedCostUSD: cost,
		PriceKnown:       known,
		LatencyMs:        latencyMs,
	}
	go g.ledger.Record(context.WithoutCancel(ctx), rec)
}

// ListModels returns the catalog, bypassing the cache when useCache is false.
func (g *Gateway) ListModels(ctx context.Context, useCache bool) ([]domain.ProviderDescriptor, error) {
	return g.registry.ListAvailable(ctx, useCache)
}

// Usage aggregates everything recorded since the gateway started.
func (g *Gateway) Usage() usage.Summary {
	return g.ledger.Summary()
}

// BreakerStates reports the current circuit breaker states, keyed by
// model/region.
func (g *Gateway) BreakerStates(ctx context.Context) map[string]string {
	return g.policy.BreakerStates(ctx)
}

// Close flushes the usage sink.
func (g *Gateway) Close() error {
	return g.ledger.Close()
}
