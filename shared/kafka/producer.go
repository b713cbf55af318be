package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"feedtriage/logging"

	"github.com/IBM/sarama"
	"github.com/charmbracelet/log"
)

// Producer publishes JSON messages to a single topic.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	log      *log.Logger
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers []string
	Topic   string
}

// NewProducer connects a synchronous producer that waits for all in-sync
// replicas to acknowledge each message.
func NewProducer(config ProducerConfig, logger *log.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newProducer(p, config.Topic, logger), nil
}

func newProducer(p sarama.SyncProducer, topic string, logger *log.Logger) *Producer {
	return &Producer{
		producer: p,
		topic:    topic,
		log:      logging.OrDiscard(logger).WithPrefix("kafka"),
	}
}

// Topic returns the topic messages are published to.
func (p *Producer) Topic() string { return p.topic }

// Publish encodes v as JSON and sends it keyed by key.
func (p *Producer) Publish(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(body),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	p.log.Debug("message published", "topic", p.topic, "key", key, "partition", partition, "offset", offset)
	return nil
}

// Close flushes and closes the producer.
func (p *Producer) Close() error {
	return p.producer.Close()
}
