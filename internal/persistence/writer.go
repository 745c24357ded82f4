// Package persistence batch-writes settlement facts to Postgres. The fact
// log in pari.events is the authoritative record; pari.markets mirrors the
// registry for query joins.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"PariLedger/internal/event"
)

// FactRow represents a row in pari.events.
type FactRow struct {
	Sequence   int64
	FactID     string
	FactType   string
	MarketAddr string
	Payload    []byte
	Emitted    time.Time
}

// MarketRow represents a row in pari.markets, mirrored from MarketCreated
// facts.
type MarketRow struct {
	MarketAddr      string
	PairID          string
	WindowType      int32
	StartTime       int64
	EndTime         int64
	RakeBps         uint16
	CreatedSequence int64
}

// RowsFromOutput converts a recorded fact into its persistence rows.
func RowsFromOutput(out event.Output) (FactRow, *MarketRow, error) {
	payload, err := json.Marshal(out.Fact)
	if err != nil {
		return FactRow{}, nil, fmt.Errorf("marshal fact payload: %w", err)
	}

	fact := FactRow{
		Sequence:   out.Envelope.Sequence,
		FactID:     out.Envelope.FactID.String(),
		FactType:   out.Envelope.Type.String(),
		MarketAddr: out.Fact.Market().Hex(),
		Payload:    payload,
		Emitted:    out.Envelope.Emitted,
	}

	created, ok := out.Fact.(*event.MarketCreated)
	if !ok {
		return fact, nil, nil
	}
	return fact, &MarketRow{
		MarketAddr:      created.MarketAddr.Hex(),
		PairID:          created.PairID.Hex(),
		WindowType:      created.WindowType,
		StartTime:       created.StartTime,
		EndTime:         created.EndTime,
		RakeBps:         created.RakeBps,
		CreatedSequence: out.Envelope.Sequence,
	}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// FactLogWriter writes fact and market rows using multi-row INSERT.
// ON CONFLICT DO NOTHING keeps retried batches idempotent.
type FactLogWriter struct {
	db *sql.DB
}

func NewFactLogWriter(db *sql.DB) *FactLogWriter {
	return &FactLogWriter{db: db}
}

// WriteFactBatch writes a batch of facts to pari.events.
func (w *FactLogWriter) WriteFactBatch(ctx context.Context, ex execer, facts []FactRow) error {
	if len(facts) == 0 {
		return nil
	}

	query := `INSERT INTO pari.events
		(sequence, fact_id, fact_type, market_addr, payload, emitted)
		VALUES `

	values := make([]string, 0, len(facts))
	args := make([]interface{}, 0, len(facts)*6)

	for i, f := range facts {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			f.Sequence, f.FactID, f.FactType, f.MarketAddr, f.Payload, f.Emitted,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteMarketBatch writes registry mirror rows to pari.markets.
func (w *FactLogWriter) WriteMarketBatch(ctx context.Context, ex execer, markets []MarketRow) error {
	if len(markets) == 0 {
		return nil
	}

	query := `INSERT INTO pari.markets
		(market_addr, pair_id, window_type, start_time, end_time, rake_bps, created_sequence)
		VALUES `

	values := make([]string, 0, len(markets))
	args := make([]interface{}, 0, len(markets)*7)

	for i, m := range markets {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			m.MarketAddr, m.PairID, m.WindowType, m.StartTime,
			m.EndTime, m.RakeBps, m.CreatedSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (market_addr) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}
