package events

import (
	"context"
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/pquerna/ffjson/ffjson"
	"github.com/sirupsen/logrus"
)

// KafkaConfig configures the Kafka run notification sink.
type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers" mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `json:"topic" yaml:"topic" mapstructure:"topic" validate:"required_if=Enabled true"`
}

// KafkaPublisher writes run events to a topic with a sync producer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   logrus.FieldLogger
}

// NewKafkaPublisher connects a sync producer to the configured brokers.
func NewKafkaPublisher(cfg KafkaConfig, logger logrus.FieldLogger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	// Strong consistency: wait for all in-sync replicas and retry.
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 10
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to start kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, cfg.Topic, logger), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger logrus.FieldLogger) *KafkaPublisher {
	if logger == nil {
		logger = logrus.New()
	}
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

// Publish sends the event keyed by run id.
func (p *KafkaPublisher) Publish(ctx context.Context, event *RunEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := ffjson.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode run event: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.RunID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("failed to send run event %s: %w", event.RunID, err)
	}
	p.logger.WithFields(logrus.Fields{
		"topic":     p.topic,
		"partition": partition,
		"offset":    offset,
		"run_id":    event.RunID,
	}).Debug("Run event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
