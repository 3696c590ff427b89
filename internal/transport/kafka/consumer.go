// Package kafka consumes settlement results published by the transaction
// service.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"payrollx/internal/domain/payroll"
	"payrollx/internal/platform/events"
)

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        group,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: 0,
	})
}

type ResultHandler interface {
	OnItemResult(ctx context.Context, key payroll.IdempotencyKey, outcome payroll.Outcome) (payroll.Run, error)
}

// Consumer applies each result exactly as the webhook would. A message is
// committed once it has been applied or found permanently invalid;
// retryable failures hold the partition and retry with backoff.
type Consumer struct {
	reader     Reader
	handler    ResultHandler
	log        *slog.Logger
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewConsumer(reader Reader, handler ResultHandler, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{reader: reader, handler: handler, log: log, backoff: 200 * time.Millisecond, maxBackoff: 10 * time.Second}
}

func (c *Consumer) WithBackoff(initial, maxWait time.Duration) *Consumer {
	c.backoff, c.maxBackoff = initial, maxWait
	return c
}

// Run blocks until ctx is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("results consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// process returns an error only when ctx ends before the message settles.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	var result payroll.ResultMessage
	if err := json.Unmarshal(msg.Value, &result); err != nil {
		c.log.Warn("results message dropped", "offset", msg.Offset, "partition", msg.Partition, "err", err)
		return nil
	}
	key, outcome, err := result.Decode()
	if err != nil {
		c.log.Warn("results message dropped", "offset", msg.Offset, "partition", msg.Partition, "idempotencyKey", result.IdempotencyKey, "err", err)
		return nil
	}

	msgCtx := events.ExtractHeaders(ctx, msg.Headers)
	wait := c.backoff
	for {
		_, err := c.handler.OnItemResult(msgCtx, key, outcome)
		switch {
		case err == nil:
			return nil
		case payroll.Retryable(err):
			c.log.Warn("results message retry", "runId", key.RunID, "itemId", key.ItemID, "wait", wait.String(), "err", err)
		case errors.Is(err, payroll.ErrConflictingCompletion):
			return nil
		default:
			c.log.Warn("results message rejected", "runId", key.RunID, "itemId", key.ItemID, "err", err)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, c.maxBackoff)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
