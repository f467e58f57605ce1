package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	LogStatusDelivered = "DELIVERED"
	LogStatusMalformed = "MALFORMED"
)

// LogStore records every notification the worker receives.
type LogStore interface {
	Insert(ctx context.Context, n Notification, status string) error
}

type PgLogStore struct {
	pool *pgxpool.Pool
}

func NewPgLogStore(pool *pgxpool.Pool) *PgLogStore {
	return &PgLogStore{pool: pool}
}

func (s *PgLogStore) Insert(ctx context.Context, n Notification, status string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_logs (recipient, subject, body, status, received_at)
		VALUES ($1, $2, $3, $4, now())
	`, n.Recipient, n.Subject, n.Body, status)
	if err != nil {
		return fmt.Errorf("insert notification log: %w", err)
	}
	return nil
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads notifications from the topic, hands them to a Sender and
// writes an entry to the log store. Offsets are committed only after the log
// entry is stored, so a crash replays rather than loses messages.
type Consumer struct {
	reader messageReader
	sender Sender
	store  LogStore
	log    *zap.Logger
}

func NewConsumer(brokers []string, topic, group string, sender Sender, store LogStore, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  group,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(r, sender, store, log)
}

func newConsumer(r messageReader, sender Sender, store LogStore, log *zap.Logger) *Consumer {
	return &Consumer{reader: r, sender: sender, store: store, log: log}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := c.handle(ctx, msg); err != nil {
			c.log.Error("failed to handle notification", zap.Error(err), zap.Int64("offset", msg.Offset))
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("failed to commit offset", zap.Error(err), zap.Int64("offset", msg.Offset))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	n, err := Decode(msg.Value)
	if err != nil {
		c.log.Warn("malformed notification", zap.Error(err), zap.Int64("offset", msg.Offset))
		n = Notification{Recipient: string(msg.Key), Body: string(msg.Value)}
		return c.store.Insert(ctx, n, LogStatusMalformed)
	}

	if err := c.sender.Send(ctx, n); err != nil {
		return err
	}
	return c.store.Insert(ctx, n, LogStatusDelivered)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
