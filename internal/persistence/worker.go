package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PariLedger/internal/event"
	"PariLedger/internal/observability"
)

// Worker drains the persist channel and batch-writes to Postgres. The
// persist channel uses BLOCKING sends from the engine, so if this worker
// falls behind the engine stalls, guaranteeing no fact is lost.
type Worker struct {
	db           *sql.DB
	writer       *FactLogWriter
	inputChan    <-chan event.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan event.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Worker {
	return &Worker{
		db:           db,
		writer:       NewFactLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run starts the worker loop. It batches incoming facts and flushes either
// when the batch is full or the flush timeout expires. Blocks until ctx is
// cancelled or the input channel closes.
func (w *Worker) Run(ctx context.Context) error {
	factBatch := make([]FactRow, 0, w.batchSize)
	marketBatch := make([]MarketRow, 0, 4)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(factBatch) > 0 {
				if err := w.flush(context.Background(), factBatch, marketBatch); err != nil {
					w.logger.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if len(factBatch) > 0 {
					if err := w.flush(context.Background(), factBatch, marketBatch); err != nil {
						w.logger.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			fact, market, err := RowsFromOutput(out)
			if err != nil {
				w.logger.Error().Int64("sequence", out.Envelope.Sequence).Err(err).Msg("skipping unmarshalable fact")
				continue
			}
			factBatch = append(factBatch, fact)
			if market != nil {
				marketBatch = append(marketBatch, *market)
			}

			if len(factBatch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, factBatch, marketBatch); err != nil {
					w.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				factBatch = factBatch[:0]
				marketBatch = marketBatch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(factBatch) > 0 {
				if err := w.flushWithRetry(ctx, factBatch, marketBatch); err != nil {
					w.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				factBatch = factBatch[:0]
				marketBatch = marketBatch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops
// facts; it retries until the write succeeds or the context is cancelled,
// in which case it attempts one final flush with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, facts []FactRow, markets []MarketRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("facts", len(facts)).
				Msg("persistence retry")
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), facts, markets); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, facts, markets)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, facts []FactRow, markets []MarketRow) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteFactBatch(ctx, tx, facts); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_facts").Inc()
		}
		return err
	}
	if err := w.writer.WriteMarketBatch(ctx, tx, markets); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_markets").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(facts)))
		w.metrics.PersistFactsWritten.Add(float64(len(facts)))
		w.metrics.PersistLastSequence.Set(float64(facts[len(facts)-1].Sequence))
	}
	return nil
}
