// Package consumer reads booking events from Kafka with at-least-once semantics: an offset is
// committed only after the event was handled and recorded in the inbox.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/codes"
)

type Handler func(ctx context.Context, meta kafkax.EventMeta, msg kafka.Message) error

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Inbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID, eventType string) (bool, error)
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
	// RetryBackoff is the pause before a failed message is fetched again.
	RetryBackoff time.Duration
}

type Consumer struct {
	groupID string
	reader  Reader
	logger  *slog.Logger
	inbox   Inbox
	handler Handler
	backoff time.Duration
}

func New(logger *slog.Logger, inbox Inbox, cfg Config, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newWithReader(reader, logger, inbox, cfg, handler)
}

func newWithReader(reader Reader, logger *slog.Logger, inbox Inbox, cfg Config, handler Handler) *Consumer {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Consumer{
		groupID: cfg.GroupID,
		reader:  reader,
		logger:  logger,
		inbox:   inbox,
		handler: handler,
		backoff: cfg.RetryBackoff,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			if !sleep(ctx, c.backoff) {
				return
			}
			continue
		}

		// Retry the same message until it is handled; the offset must not move past it.
		for {
			if err := c.process(ctx, msg); err == nil {
				break
			} else if ctx.Err() != nil {
				return
			} else {
				c.logger.Error("event processing failed", "err", err, "topic", msg.Topic, "offset", msg.Offset)
			}
			if !sleep(ctx, c.backoff) {
				return
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) (err error) {
	ctxSpan, span := kafkax.StartConsumeSpan(ctx, c.groupID, msg)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID == "" {
		// Without an id the inbox cannot dedupe it; retrying would block the partition forever.
		c.logger.Warn("event without event_id dropped", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		return c.reader.CommitMessages(ctx, msg)
	}
	seen, err := c.inbox.Seen(ctxSpan, meta.EventID)
	if err != nil {
		return err
	}
	if seen {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return c.reader.CommitMessages(ctx, msg)
	}

	if err := c.handler(ctxSpan, meta, msg); err != nil {
		return err
	}
	if _, err := c.inbox.Record(ctxSpan, meta.EventID, meta.EventType); err != nil {
		return err
	}
	return c.reader.CommitMessages(ctx, msg)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
