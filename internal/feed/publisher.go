// Package feed publishes settlement facts to NATS JetStream for external
// indexers. The feed is best-effort; the persisted event log in Postgres is
// the authoritative record.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PariLedger/internal/event"
	"PariLedger/internal/observability"
)

// Subjects follow the pattern: pari.markets.events.{fact_type}.{market_addr}
const subjectPrefix = "pari.markets.events"

// wireFact is the published JSON shape.
type wireFact struct {
	FactID   string      `json:"fact_id"`
	Sequence int64       `json:"sequence"`
	Type     string      `json:"type"`
	Market   string      `json:"market"`
	Emitted  time.Time   `json:"emitted"`
	Payload  interface{} `json:"payload"`
}

// Publisher drains the publish channel and pushes facts to JetStream.
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan event.Output
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, inputChan <-chan event.Output, metrics *observability.Metrics, logger zerolog.Logger) *Publisher {
	return &Publisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the publisher loop. Blocks until ctx is cancelled or the
// input channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.inputChan:
			if !ok {
				return nil
			}

			if err := p.publish(ctx, out); err != nil {
				// Non-fatal: indexers can rebuild from the event log.
				p.logger.Warn().
					Int64("sequence", out.Envelope.Sequence).
					Str("fact_type", out.Envelope.Type.String()).
					Err(err).
					Msg("outbound publish failed")
				if p.metrics != nil {
					p.metrics.FeedPublishErrors.Inc()
				}
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, out event.Output) error {
	data, err := json.Marshal(wireFact{
		FactID:   out.Envelope.FactID.String(),
		Sequence: out.Envelope.Sequence,
		Type:     out.Envelope.Type.String(),
		Market:   out.Fact.Market().Hex(),
		Emitted:  out.Envelope.Emitted,
		Payload:  out.Fact,
	})
	if err != nil {
		return fmt.Errorf("marshal fact: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.%s", subjectPrefix, out.Envelope.Type, out.Fact.Market().Hex())
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return err
	}

	if p.metrics != nil {
		p.metrics.FeedPublished.WithLabelValues(out.Envelope.Type.String()).Inc()
	}
	return nil
}

// EnsureStream creates or updates the outbound facts stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PARI_MARKET_EVENTS",
		Subjects:  []string{subjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Msg("ensured outbound stream PARI_MARKET_EVENTS")
	return nil
}
