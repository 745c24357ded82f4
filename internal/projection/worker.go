// Package projection maintains the pari.market_state read model from the
// fact stream. The projection channel is non-blocking with drop; state here
// is eventually consistent and rebuildable from pari.events.
package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PariLedger/internal/event"
	"PariLedger/internal/market"
	pmath "PariLedger/internal/math"
	"PariLedger/internal/observability"
)

// Worker applies facts to the market state projection.
type Worker struct {
	db        *sql.DB
	inputChan <-chan event.Output
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan event.Output, metrics *observability.Metrics, logger zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection loop. Blocks until ctx is cancelled or the
// input channel closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := w.apply(ctx, out); err != nil {
				// Continue; the projection can be rebuilt from the
				// fact log.
				w.logger.Warn().
					Int64("sequence", out.Envelope.Sequence).
					Err(err).
					Msg("projection update failed")
				continue
			}

			w.lastSeq = out.Envelope.Sequence
			if w.metrics != nil {
				w.metrics.ProjectionUpdateDur.Observe(time.Since(start).Seconds())
				w.metrics.ProjectionLastSeq.Set(float64(w.lastSeq))
			}
		}
	}
}

func (w *Worker) apply(ctx context.Context, out event.Output) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := w.applyFact(ctx, tx, out); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pari.watermark (worker_id, last_sequence, updated_at)
		VALUES ('market_state', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, out.Envelope.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (w *Worker) applyFact(ctx context.Context, tx *sql.Tx, out event.Output) error {
	seq := out.Envelope.Sequence

	switch f := out.Fact.(type) {
	case *event.MarketCreated:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pari.market_state
				(market_addr, pair_id, status, outcome, total_up, total_down, claims, last_sequence)
			VALUES ($1, $2, 'open', 'unresolved', 0, 0, 0, $3)
			ON CONFLICT (market_addr) DO NOTHING
		`, f.MarketAddr.Hex(), f.PairID.Hex(), seq)
		return err

	case *event.Deposited:
		column := "total_up"
		if market.Side(f.Side) == market.SideDown {
			column = "total_down"
		}
		// Fact amounts are asset-native; totals track the engine's
		// normalized accumulators.
		norm := pmath.Normalize(f.Amount, f.Decimals)
		query := fmt.Sprintf(`
			UPDATE pari.market_state
			SET %s = %s + $1::numeric, last_sequence = $2
			WHERE market_addr = $3
		`, column, column)
		_, err := tx.ExecContext(ctx, query, norm.String(), seq, f.MarketAddr.Hex())
		return err

	case *event.BettingClosed:
		_, err := tx.ExecContext(ctx, `
			UPDATE pari.market_state
			SET status = 'betting_closed', last_sequence = $1
			WHERE market_addr = $2
		`, seq, f.MarketAddr.Hex())
		return err

	case *event.Resolved:
		_, err := tx.ExecContext(ctx, `
			UPDATE pari.market_state
			SET status = 'resolved', outcome = $1, last_sequence = $2
			WHERE market_addr = $3
		`, market.Outcome(f.Outcome).String(), seq, f.MarketAddr.Hex())
		return err

	case *event.Claimed:
		_, err := tx.ExecContext(ctx, `
			UPDATE pari.market_state
			SET claims = claims + 1, last_sequence = $1
			WHERE market_addr = $2
		`, seq, f.MarketAddr.Hex())
		return err

	case *event.Refunded:
		// Refunds shrink the pool; mirror the engine's accumulator
		// subtraction per side.
		_, err := tx.ExecContext(ctx, `
			UPDATE pari.market_state
			SET total_up = total_up - $1::numeric,
			    total_down = total_down - $2::numeric,
			    last_sequence = $3
			WHERE market_addr = $4
		`, f.Up.String(), f.Down.String(), seq, f.MarketAddr.Hex())
		return err

	case *event.RakeCollected:
		_, err := tx.ExecContext(ctx, `
			UPDATE pari.market_state
			SET status = 'settled', last_sequence = $1
			WHERE market_addr = $2
		`, seq, f.MarketAddr.Hex())
		return err

	default:
		return nil
	}
}

// Rebuild replays pari.events into a fresh market state projection.
func Rebuild(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	statements := []string{
		`TRUNCATE pari.market_state`,
		`DELETE FROM pari.watermark WHERE worker_id = 'market_state'`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO pari.market_state
			(market_addr, pair_id, status, outcome, total_up, total_down, claims, last_sequence)
		SELECT
			m.market_addr,
			m.pair_id,
			'open',
			'unresolved',
			0,
			0,
			0,
			m.created_sequence
		FROM pari.markets m
		ON CONFLICT (market_addr) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("rebuild market rows: %w", err)
	}

	logger.Info().Msg("projection reset; facts will be replayed by the worker")
	return nil
}
