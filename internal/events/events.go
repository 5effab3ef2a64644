// Package events publishes transaction lifecycle changes for downstream
// consumers (notifications, accounting).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"voucher_backend/internal/domain"
)

const DefaultTopic = "voucher.transactions"

// Publisher receives one message per status transition. Publishing is best
// effort: the database row is the source of truth.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
	Close() error
}

// Log writes events to the structured log only.
type Log struct {
	Logger *slog.Logger
}

func (l *Log) Publish(_ context.Context, ev domain.Event) error {
	l.Logger.Info("transaction event",
		"tx_id", ev.TransactionID,
		"from", string(ev.From),
		"to", string(ev.To),
		"actor", ev.Actor,
		"note", ev.Note,
	)
	return nil
}

func (l *Log) Close() error { return nil }

// Kafka writes events keyed by transaction id so one transaction's history
// stays ordered within a partition.
type Kafka struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewKafka(brokers []string, topic string, logger *slog.Logger) *Kafka {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka")
		}),
	}
	return &Kafka{writer: w, logger: logger}
}

// Message builds the kafka message for ev.
func Message(ev domain.Event) (kafka.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.TransactionID),
		Value: data,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(ev.To)},
		},
	}, nil
}

func (k *Kafka) Publish(ctx context.Context, ev domain.Event) error {
	msg, err := Message(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.TransactionID, err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.writer.Close() }

// Recorder keeps events in memory. Tests use it to assert what was sent.
type Recorder struct {
	ch chan domain.Event
}

func NewRecorder(size int) *Recorder { return &Recorder{ch: make(chan domain.Event, size)} }

func (r *Recorder) Publish(_ context.Context, ev domain.Event) error {
	select {
	case r.ch <- ev:
		return nil
	default:
		return fmt.Errorf("recorder full")
	}
}

func (r *Recorder) Close() error { return nil }

// Drain returns everything recorded so far.
func (r *Recorder) Drain() []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev := <-r.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}
