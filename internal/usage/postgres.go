package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/vertexgw/vertex-gateway/internal/domain"
)

// PostgresSink mirrors usage records into Postgres for accounting that
// outlives the process.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink connects to databaseURL and ensures the usage table exists.
func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresSink{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) ensureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS usage_records (
			id BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL,
			model TEXT NOT NULL,
			region TEXT NOT NULL,
			input_tokens BIGINT NOT NULL,
			output_tokens BIGINT NOT NULL,
			estimated_cost_usd DOUBLE PRECISION NOT NULL,
			price_known BOOLEAN NOT NULL,
			latency_ms BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure usage schema: %w", err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, rec domain.UsageRecord) error {
	query := `
		INSERT INTO usage_records (request_id, model, region, input_tokens, output_tokens, estimated_cost_usd, price_known, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.RequestID,
		rec.ModelID,
		rec.Region,
		rec.InputTokens,
		rec.OutputTokens,
		rec.EstimatedCostUSD,
		rec.PriceKnown,
		rec.LatencyMs,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// TotalCost sums the persisted cost estimates since the given time.
func (s *PostgresSink) TotalCost(ctx context.Context, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(estimated_cost_usd), 0)
		FROM usage_records
		WHERE created_at >= $1
	`

	var total float64
	if err := s.db.QueryRowContext(ctx, query, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("query total cost: %w", err)
	}
	return total, nil
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
