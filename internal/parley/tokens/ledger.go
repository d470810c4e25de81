package tokens

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// pricePerThousand is the provider price table in dollars per 1000 tokens.
// Unknown models are recorded with zero cost rather than rejected — the
// ledger is an estimate, not billing.
var pricePerThousand = map[string]struct{ input, output float64 }{
	"gpt-4o-mini":            {input: 0.00015, output: 0.0006},
	"gpt-4o":                 {input: 0.0025, output: 0.01},
	"gpt-4":                  {input: 0.03, output: 0.06},
	"gpt-3.5-turbo":          {input: 0.0015, output: 0.002},
	"text-embedding-3-small": {input: 0.00002, output: 0},
}

// Ledger records per-call token consumption and estimated cost in the
// application database. One row per completion call, keyed by timestamp.
// Safe for concurrent use — SQLite serializes writers through the single
// shared connection.
type Ledger struct {
	db *sql.DB
}

// NewLedger creates a Ledger backed by the given database connection.
// The token_costs table must exist (created by migration).
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Record inserts one usage row for a completed model call.
func (l *Ledger) Record(ctx context.Context, model string, inputTokens, outputTokens int) error {
	price := pricePerThousand[model]
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO token_costs
			(recorded_at, model, n_input_tokens, n_output_tokens, cost_input, cost_output)
		VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().UnixNano(),
		model,
		inputTokens,
		outputTokens,
		float64(inputTokens)*price.input/1000.0,
		float64(outputTokens)*price.output/1000.0,
	)
	if err != nil {
		return fmt.Errorf("tokens: record usage: %w", err)
	}
	return nil
}

// ModelTotals is the accumulated usage for one model.
type ModelTotals struct {
	Model        string
	FirstUse     time.Time
	InputTokens  int64
	OutputTokens int64
	CostInput    float64
	CostOutput   float64
}

// Totals returns accumulated usage grouped by model, oldest first use first.
func (l *Ledger) Totals(ctx context.Context) ([]ModelTotals, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT
			model,
			MIN(recorded_at),
			SUM(n_input_tokens),
			SUM(n_output_tokens),
			SUM(cost_input),
			SUM(cost_output)
		FROM token_costs
		GROUP BY model
		ORDER BY MIN(recorded_at)`)
	if err != nil {
		return nil, fmt.Errorf("tokens: query totals: %w", err)
	}
	defer rows.Close()

	var totals []ModelTotals
	for rows.Next() {
		var t ModelTotals
		var firstUse int64
		if err := rows.Scan(&t.Model, &firstUse, &t.InputTokens, &t.OutputTokens, &t.CostInput, &t.CostOutput); err != nil {
			return nil, fmt.Errorf("tokens: scan totals: %w", err)
		}
		t.FirstUse = time.Unix(0, firstUse).UTC()
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tokens: iterate totals: %w", err)
	}
	return totals, nil
}
