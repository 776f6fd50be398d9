package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/db"
	"github.com/md-rashed-zaman/studiobook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/studiobook/libs/otel"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	pool        *db.Pool
	repo        *Repository
	logger      *slog.Logger
	brokers     []string
	pollEvery   time.Duration
	batchSize   int
	maxAttempts int
	retention   int
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
	// MaxAttempts parks a row after this many permanent write failures. Temporary broker
	// errors never count.
	MaxAttempts int
	// RetentionDays keeps published rows for inspection before pruning. Zero disables pruning.
	RetentionDays int
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Publisher{
		pool:        pool,
		repo:        repo,
		logger:      logger,
		brokers:     kafkax.SplitBrokers(cfg.Brokers),
		pollEvery:   cfg.PollEvery,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		retention:   cfg.RetentionDays,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	p.run(ctx, writer)
}

func (p *Publisher) run(ctx context.Context, writer MessageWriter) {
	defer writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	pruneTicker := time.NewTicker(time.Hour)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishBatch(ctx, writer); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		case <-pruneTicker.C:
			p.prune(ctx)
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context, writer MessageWriter) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.FetchPending(ctx, tx, p.batchSize, p.maxAttempts)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return tx.Commit(ctx)
	}

	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, toMessage(ctx, r))
	}
	// A crash between write and commit republishes the batch; consumers dedupe by event_id.
	res, err := sortWriteResult(records, writer.WriteMessages(ctx, msgs...))
	if err != nil {
		return err
	}
	if err := p.repo.MarkPublished(ctx, tx, res.published); err != nil {
		return err
	}
	for _, f := range res.failed {
		if err := p.repo.MarkFailed(ctx, tx, f.record.ID, f.err.Error()); err != nil {
			return err
		}
		level := slog.LevelWarn
		if f.record.Attempts+1 >= p.maxAttempts {
			level = slog.LevelError
		}
		p.logger.Log(ctx, level, "outbox event rejected by kafka",
			"event_id", f.record.EventID,
			"event_type", f.record.EventType,
			"attempt", f.record.Attempts+1,
			"err", f.err,
		)
	}
	if res.retry > 0 {
		p.logger.Warn("outbox events left pending after temporary kafka errors", "count", res.retry)
	}
	return tx.Commit(ctx)
}

type failedRecord struct {
	record Record
	err    error
}

type writeResult struct {
	published []int64
	failed    []failedRecord
	retry     int
}

// sortWriteResult splits a batch write outcome per record. Errors that are not per-message,
// and temporary per-message errors, leave rows pending without counting an attempt.
func sortWriteResult(records []Record, err error) (writeResult, error) {
	var res writeResult
	if err == nil {
		for _, r := range records {
			res.published = append(res.published, r.ID)
		}
		return res, nil
	}
	var perMsg kafka.WriteErrors
	if !errors.As(err, &perMsg) || len(perMsg) != len(records) {
		return res, err
	}
	for i, r := range records {
		switch e := perMsg[i]; {
		case e == nil:
			res.published = append(res.published, r.ID)
		case permanent(e):
			res.failed = append(res.failed, failedRecord{record: r, err: e})
		default:
			res.retry++
		}
	}
	return res, nil
}

func permanent(err error) bool {
	var ke kafka.Error
	return errors.As(err, &ke) && !ke.Temporary()
}

func (p *Publisher) prune(ctx context.Context) {
	if p.retention <= 0 {
		return
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		p.logger.Error("outbox prune failed", "err", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()
	n, err := p.repo.Prune(ctx, tx, p.retention)
	if err == nil {
		err = tx.Commit(ctx)
	}
	if err != nil {
		p.logger.Error("outbox prune failed", "err", err)
		return
	}
	if n > 0 {
		p.logger.Info("outbox pruned", "rows", n)
	}
}

func toMessage(ctx context.Context, r Record) kafka.Message {
	msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
	return kafkax.NewMessage(msgCtx, kafkax.EventMeta{EventID: r.EventID, EventType: r.EventType}, r.Key, r.Payload)
}
