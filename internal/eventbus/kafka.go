package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"campushub.org/internal/obs"
)

// KafkaPublisher writes notices as JSON to one topic, keyed by event id so a
// single event's notices stay ordered within a partition. Writes are
// asynchronous: Publish only enqueues, and delivery failures are logged.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher returns nil when brokers or topic are empty.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	p := &KafkaPublisher{}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion:   p.delivered,
	}
	return p
}

func (p *KafkaPublisher) Publish(ctx context.Context, n Notice) error {
	if p == nil || p.writer == nil {
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	// the notice outlives the request that produced it
	return p.writer.WriteMessages(context.WithoutCancel(ctx), kafka.Message{
		Key:   []byte(n.EventID),
		Value: payload,
		Time:  n.At,
	})
}

// delivered runs on the writer's goroutine once a batch is acknowledged or fails.
func (p *KafkaPublisher) delivered(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	keys := make([]string, 0, len(messages))
	for _, m := range messages {
		keys = append(keys, string(m.Key))
	}
	obs.Logger().Warn("kafka delivery failed",
		slog.String("event", "eventbus.kafka_failed"),
		slog.String("module", "eventbus"),
		slog.Int("messages", len(messages)),
		slog.Any("event_ids", keys),
		slog.String("error", err.Error()),
	)
}

// Close flushes pending messages and closes the writer. Safe on nil.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
