package outbox

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
	"github.com/segmentio/kafka-go"
)

// Header names set on every published message.
const (
	HeaderEventType     = "event-type"
	HeaderEventID       = "event-id"
	HeaderAggregateType = "aggregate-type"
)

// KafkaPublisher writes events to a single topic, keyed by aggregate ID so
// that events for one order stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(csv string) []string {
	return lo.Compact(lo.Map(strings.Split(csv, ","), func(b string, _ int) string {
		return strings.TrimSpace(b)
	}))
}

// NewKafkaPublisher creates a publisher for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

// Publish writes events as one batch.
func (p *KafkaPublisher) Publish(ctx context.Context, events []Event) error {
	msgs := lo.Map(events, func(e Event, _ int) kafka.Message { return toMessage(e) })
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrap(err, "write messages")
	}
	return nil
}

// Close flushes pending writes and closes connections.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func toMessage(e Event) kafka.Message {
	return kafka.Message{
		Key:   []byte(e.AggregateID),
		Value: e.Payload,
		Time:  e.CreatedAt.UTC(),
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(e.Type)},
			{Key: HeaderEventID, Value: []byte(e.ID)},
			{Key: HeaderAggregateType, Value: []byte(e.AggregateType)},
		},
	}
}

// LogPublisher discards events after logging them. It stands in for Kafka
// when no brokers are configured, so the outbox still drains.
type LogPublisher struct {
	Log func(e Event)
}

// Publish implements Publisher.
func (p LogPublisher) Publish(_ context.Context, events []Event) error {
	if p.Log == nil {
		return nil
	}
	for _, e := range events {
		p.Log(e)
	}
	return nil
}
