package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is one keyed payload headed for the trades topic.
type Message struct {
	Key   []byte
	Value []byte
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Send writes msgs synchronously. Messages sharing a key (the market) land on
// the same partition, so per-market trade order is preserved.
func (p *Producer) Send(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		out[i] = kafka.Message{Key: m.Key, Value: m.Value}
	}
	return p.writer.WriteMessages(ctx, out...)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
