// Package usage accounts for every completed call: token counts, estimated
// cost and latency. Recording is best-effort by contract; a ledger problem
// must never fail the call that produced the record.
package usage

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vertexgw/vertex-gateway/internal/domain"
	"github.com/vertexgw/vertex-gateway/internal/metrics"
)

const tokensPerMillion = 1_000_000

// Cost estimates the USD cost of a call from per-million-token prices.
// The second return reports whether a price was known at all.
func Cost(p *domain.Pricing, inputTokens, outputTokens int) (float64, bool) {
	if p == nil {
		return 0, false
	}
	in := float64(inputTokens) / tokensPerMillion * p.InputPer1M
	out := float64(outputTokens) / tokensPerMillion * p.OutputPer1M
	return in + out, true
}

// Sink persists records beyond the process lifetime.
type Sink interface {
	Write(ctx context.Context, rec domain.UsageRecord) error
	Close() error
}

// ModelUsage aggregates the records of one model.
type ModelUsage struct {
	ModelID          string  `json:"model_id"`
	Requests         int     `json:"requests"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// Summary is a point-in-time aggregation of everything recorded so far.
type Summary struct {
	Requests         int          `json:"requests"`
	InputTokens      int          `json:"input_tokens"`
	OutputTokens     int          `json:"output_tokens"`
	TotalTokens      int          `json:"total_tokens"`
	EstimatedCostUSD float64      `json:"estimated_cost_usd"`
	ByModel          []ModelUsage `json:"by_model"`

	// PriceUnknownModels lists models whose cost is excluded from the
	// estimate because no price was configured for them.
	PriceUnknownModels []string `json:"price_unknown_models,omitempty"`
}

// Ledger is the in-process usage store, optionally mirrored to a sink.
type Ledger struct {
	mu      sync.Mutex
	records []domain.UsageRecord
	sink    Sink
}

// NewLedger returns a ledger. sink may be nil for in-memory-only accounting.
func NewLedger(sink Sink) *Ledger {
	return &Ledger{sink: sink}
}

// Record appends rec and mirrors it to the sink. Sink failures are logged
// and swallowed; the caller already has its result.
func (l *Ledger) Record(ctx context.Context, rec domain.UsageRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()

	metrics.RecordTokens(rec.ModelID, rec.InputTokens, rec.OutputTokens)
	if rec.PriceKnown {
		metrics.RecordCost(rec.ModelID, rec.EstimatedCostUSD)
	}

	if l.sink == nil {
		return
	}
	if err := l.sink.Write(ctx, rec); err != nil {
		slog.Warn("usage sink write failed",
			"request_id", rec.RequestID,
			"model", rec.ModelID,
			"error", err,
		)
	}
}

// Records returns a copy of everything recorded so far, oldest first.
func (l *Ledger) Records() []domain.UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.UsageRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Summary aggregates the in-process records. Models without a known price
// contribute tokens but not cost, and are called out separately so the
// estimate is never silently low.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	var s Summary
	byModel := make(map[string]*ModelUsage)
	unknown := make(map[string]bool)

	for _, rec := range l.records {
		s.Requests++
		s.InputTokens += rec.InputTokens
		s.OutputTokens += rec.OutputTokens
		s.EstimatedCostUSD += rec.EstimatedCostUSD

		m, ok := byModel[rec.ModelID]
		if !ok {
			m = &ModelUsage{ModelID: rec.ModelID}
			byModel[rec.ModelID] = m
		}
		m.Requests++
		m.InputTokens += rec.InputTokens
		m.OutputTokens += rec.OutputTokens
		m.EstimatedCostUSD += rec.EstimatedCostUSD

		if !rec.PriceKnown {
			unknown[rec.ModelID] = true
		}
	}

	s.TotalTokens = s.InputTokens + s.OutputTokens

	s.ByModel = make([]ModelUsage, 0, len(byModel))
	for _, m := range byModel {
		s.ByModel = append(s.ByModel, *m)
	}
	sort.Slice(s.ByModel, func(i, j int) bool { return s.ByModel[i].ModelID < s.ByModel[j].ModelID })

	for id := range unknown {
		s.PriceUnknownModels = append(s.PriceUnknownModels, id)
	}
	sort.Strings(s.PriceUnknownModels)

	return s
}

// Close flushes the sink, if any.
func (l *Ledger) Close() error {
	if l.sink == nil {
		return nil
	}
	return l.sink.Close()
}
