// Package query serves read-only lookups against the persisted fact log and
// the market state projection. Results are eventually consistent with the
// in-memory engine.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// FactRecord is a persisted fact returned to API clients.
type FactRecord struct {
	Sequence   int64           `json:"sequence"`
	FactID     string          `json:"fact_id"`
	FactType   string          `json:"fact_type"`
	MarketAddr string          `json:"market"`
	Payload    json.RawMessage `json:"payload"`
	Emitted    time.Time       `json:"emitted"`
}

// MarketState is a projected market row.
type MarketState struct {
	MarketAddr   string `json:"market"`
	PairID       string `json:"pair_id"`
	Status       string `json:"status"`
	Outcome      string `json:"outcome"`
	TotalUp      string `json:"total_up"`
	TotalDown    string `json:"total_down"`
	Claims       int64  `json:"claims"`
	LastSequence int64  `json:"last_sequence"`
}

// Service wraps the read path. All methods are safe for concurrent use.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// EventsByMarket returns the market's facts with sequence greater than
// afterSequence, in sequence order. Pass -1 for the start of the log.
func (s *Service) EventsByMarket(ctx context.Context, marketAddr string, afterSequence int64, limit int) ([]FactRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, fact_id, fact_type, market_addr, payload, emitted
		FROM pari.events
		WHERE market_addr = $1 AND sequence > $2
		ORDER BY sequence
		LIMIT $3
	`, marketAddr, afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []FactRecord
	for rows.Next() {
		var r FactRecord
		if err := rows.Scan(&r.Sequence, &r.FactID, &r.FactType, &r.MarketAddr, &r.Payload, &r.Emitted); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarketStates returns projected state for every market, optionally filtered
// by pair.
func (s *Service) MarketStates(ctx context.Context, pairID string) ([]MarketState, error) {
	query := `
		SELECT market_addr, pair_id, status, outcome, total_up::text, total_down::text, claims, last_sequence
		FROM pari.market_state
	`
	args := []interface{}{}
	if pairID != "" {
		query += " WHERE pair_id = $1"
		args = append(args, pairID)
	}
	query += " ORDER BY last_sequence"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query market states: %w", err)
	}
	defer rows.Close()

	var out []MarketState
	for rows.Next() {
		var m MarketState
		if err := rows.Scan(&m.MarketAddr, &m.PairID, &m.Status, &m.Outcome,
			&m.TotalUp, &m.TotalDown, &m.Claims, &m.LastSequence); err != nil {
			return nil, fmt.Errorf("scan market state: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarketState returns one projected market row.
func (s *Service) MarketState(ctx context.Context, marketAddr string) (*MarketState, error) {
	var m MarketState
	err := s.db.QueryRowContext(ctx, `
		SELECT market_addr, pair_id, status, outcome, total_up::text, total_down::text, claims, last_sequence
		FROM pari.market_state
		WHERE market_addr = $1
	`, marketAddr).Scan(&m.MarketAddr, &m.PairID, &m.Status, &m.Outcome,
		&m.TotalUp, &m.TotalDown, &m.Claims, &m.LastSequence)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query market state: %w", err)
	}
	return &m, nil
}

// Watermark returns the projection worker's last applied sequence.
func (s *Service) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM pari.watermark WHERE worker_id = 'market_state'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query watermark: %w", err)
	}
	return seq, nil
}
