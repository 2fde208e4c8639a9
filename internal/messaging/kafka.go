// Package messaging forwards domain events to Kafka.
package messaging

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/spec-kit/helpdesk-service/internal/events"
)

// Producer writes ticket events to a Kafka topic. With no brokers configured
// every call is a no-op.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a producer for topic.
func NewProducer(brokers []string, topic string) *Producer {
	if len(brokers) == 0 || topic == "" {
		return &Producer{}
	}
	return &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Enabled reports whether events are actually sent.
func (p *Producer) Enabled() bool {
	return p != nil && p.writer != nil
}

// Send publishes the event keyed by ticket id so one ticket's events stay ordered.
func (p *Producer) Send(ctx context.Context, event events.Event) error {
	if !p.Enabled() {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.TicketID, 10)),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	if !p.Enabled() {
		return nil
	}
	return p.writer.Close()
}
