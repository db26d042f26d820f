package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slotbook/libs/otel"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Publisher struct {
	db        db.Querier
	repo      *Repository
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
	writer    MessageWriter
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
}

func NewPublisher(q db.Querier, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		db:        q,
		repo:      repo,
		logger:    logger,
		brokers:   kafkax.SplitBrokers(cfg.Brokers),
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

// WithWriter replaces the Kafka writer Run would otherwise create.
func (p *Publisher) WithWriter(w MessageWriter) *Publisher {
	p.writer = w
	return p
}

func (p *Publisher) Run(ctx context.Context) {
	if p.writer == nil {
		if len(p.brokers) == 0 {
			p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
			return
		}
		writer := &kafka.Writer{
			Addr:                   kafka.TCP(p.brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		}
		defer writer.Close()
		p.writer = writer
	}

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishBatch(ctx); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

// PublishBatch sends up to one batch of pending events and marks them
// published. It returns how many were sent.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, tx.Commit(ctx)
	}

	msgs := make([]kafka.Message, 0, len(records))
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
		meta := kafkax.EventMeta{EventID: r.EventID, EventType: r.EventType}
		msgs = append(msgs, kafka.Message{
			Topic:   r.EventType,
			Key:     []byte(r.AggregateID),
			Value:   r.Payload,
			Headers: kafkax.InjectTraceHeaders(msgCtx, meta.Headers()),
		})
		ids = append(ids, r.ID)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, err
	}
	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	return len(records), tx.Commit(ctx)
}
