package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
)

// Entry is one audit record as published to Kafka.
type Entry struct {
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	Details    string    `json:"details"`
	RecordedAt time.Time `json:"recorded_at"`
}

// PostgresSink writes entries to the admin_logs table.
type PostgresSink struct {
	db *pgxpool.Pool
}

func NewPostgresSink(db *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Record(ctx context.Context, actorID, action, details string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO order_service.admin_logs (actor_id, action, details) VALUES ($1, $2, $3)`,
		actorID, action, details)
	if err != nil {
		return fmt.Errorf("audit: failed to insert admin log: %w", err)
	}
	return nil
}

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// kafkaBatchTimeout bounds how long a synchronous audit write waits for its batch to fill.
const kafkaBatchTimeout = 10 * time.Millisecond

// NewKafkaWriter returns a writer that keeps all entries of one actor on the same partition.
// Every entry is flushed on its own so a status change is not held back by batching.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    1,
		BatchTimeout: kafkaBatchTimeout,
	}
}

// KafkaSink publishes entries as JSON keyed by actor id.
type KafkaSink struct {
	writer MessageWriter
	clock  func() time.Time
}

func NewKafkaSink(writer MessageWriter) *KafkaSink {
	return &KafkaSink{writer: writer, clock: time.Now}
}

func (s *KafkaSink) Record(ctx context.Context, actorID, action, details string) error {
	now := s.clock().UTC()
	data, err := json.Marshal(Entry{ActorID: actorID, Action: action, Details: details, RecordedAt: now})
	if err != nil {
		return fmt.Errorf("audit: failed to encode entry: %w", err)
	}

	if err := s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(actorID), Value: data, Time: now}); err != nil {
		return fmt.Errorf("audit: failed to publish entry: %w", err)
	}
	return nil
}

// Close closes the underlying writer when it supports it.
func (s *KafkaSink) Close() error {
	if c, ok := s.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type Recorder interface {
	Record(ctx context.Context, actorID, action, details string) error
}

// Multi fans an entry out to every sink. All sinks are attempted; their errors are joined.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, actorID, action, details string) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Record(ctx, actorID, action, details); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) Record(context.Context, string, string, string) error { return nil }
