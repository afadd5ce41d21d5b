// Package events publishes ledger events (transaction.completed, ...) for
// downstream consumers such as reporting and receipts.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
)

const (
	TransactionEventsChannel = "transaction_events"

	TransactionCompleted = "transaction.completed"
	TransactionPending   = "transaction.pending"
	TransactionFailed    = "transaction.failed"
	CommissionPaid       = "commission.paid"
	RankPromoted         = "rank.promoted"
)

type TransactionEvent struct {
	EventType       string                 `json:"event_type"`
	UserID          string                 `json:"user_id"`
	TransactionID   string                 `json:"transaction_id,omitempty"`
	Reference       string                 `json:"reference"`
	TransactionType string                 `json:"transaction_type"`
	Status          string                 `json:"status"`
	Amount          string                 `json:"amount"`
	Currency        string                 `json:"currency"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, event *TransactionEvent) error
}

// RedisPublisher publishes to a Redis pub/sub channel.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, event *TransactionEvent) error {
	event.Timestamp = time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.rdb.Publish(ctx, TransactionEventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// KafkaPublisher writes events keyed by reference so one transaction's events
// stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaWriter(brokers []string, topic string, log *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Warn(fmt.Sprintf(msg, args...))
		}),
	}
}

func NewKafkaPublisher(w *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *TransactionEvent) error {
	event.Timestamp = time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Reference),
		Value: payload,
		Time:  event.Timestamp,
	})
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// Nop drops events.
type Nop struct{}

func (Nop) Publish(context.Context, *TransactionEvent) error { return nil }

// Recorder keeps events in memory, for tests.
type Recorder struct {
	Events []TransactionEvent
}

func (r *Recorder) Publish(_ context.Context, event *TransactionEvent) error {
	r.Events = append(r.Events, *event)
	return nil
}

// Count returns how many recorded events have eventType.
func (r *Recorder) Count(eventType string) int {
	n := 0
	for _, e := range r.Events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

// FromTransaction builds the event describing t.
func FromTransaction(eventType string, t *models.Transaction) *TransactionEvent {
	e := &TransactionEvent{
		EventType:       eventType,
		UserID:          t.UserID.String(),
		TransactionID:   t.ID.String(),
		Reference:       t.Reference,
		TransactionType: string(t.Type),
		Status:          string(t.Status),
		Amount:          t.Amount.StringFixed(2),
		Currency:        "NGN",
	}
	if len(t.Metadata) > 0 {
		var md map[string]interface{}
		if err := json.Unmarshal(t.Metadata, &md); err == nil {
			e.Metadata = md
		}
	}
	return e
}
