package events

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher delivers events to a Kafka cluster, one topic per event
// name. Writes are asynchronous at the engine layer, so the writer itself
// runs in synchronous mode to surface broker errors to the engine's
// swallow-and-log path.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher connects to brokers. Topics are auto-created on first
// publish when the cluster allows it.
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafka.RequireOne,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Value: payload,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
