package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foundryproxy/foundry-gateway/internal/cost"
)

// PostgresUsageRepository implements cost.Tracker on a usage_records table.
type PostgresUsageRepository struct {
	db *sql.DB
}

func NewPostgresUsageRepository(db *sql.DB) *PostgresUsageRepository {
	return &PostgresUsageRepository{db: db}
}

func (r *PostgresUsageRepository) Record(ctx context.Context, record cost.UsageRecord) error {
	query := `
		INSERT INTO usage_records (user_id, request_id, route, model, resource, prompt_tokens, completion_tokens, cost_usd, errored, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.UserID,
		record.RequestID,
		record.Route,
		record.Model,
		record.Resource,
		record.PromptTokens,
		record.CompletionTokens,
		record.CostUSD,
		record.Errored,
		record.LatencyMs,
		record.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	return nil
}

func (r *PostgresUsageRepository) GetUserUsage(ctx context.Context, userID string, since time.Time) ([]cost.UsageRecord, error) {
	query := `
		SELECT user_id, request_id, route, model, resource, prompt_tokens, completion_tokens, cost_usd, created_at
		FROM usage_records
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var records []cost.UsageRecord
	for rows.Next() {
		var record cost.UsageRecord
		err := rows.Scan(
			&record.UserID,
			&record.RequestID,
			&record.Route,
			&record.Model,
			&record.Resource,
			&record.PromptTokens,
			&record.CompletionTokens,
			&record.CostUSD,
			&record.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

func (r *PostgresUsageRepository) GetUserTotalCost(ctx context.Context, userID string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_records
		WHERE user_id = $1 AND created_at >= $2
	`

	var total float64
	err := r.db.QueryRowContext(ctx, query, userID, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("query total cost: %w", err)
	}

	return total, nil
}
