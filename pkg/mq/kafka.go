package mq

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
)

// EventPublisher publishes group lifecycle events keyed by group id. The
// group service treats a nil publisher as "eventing disabled" and keeps
// running in degraded mode.
type EventPublisher interface {
	Publish(key string, payload any) error
	Close() error
}

// KafkaProducer is a synchronous Kafka publisher for lifecycle events.
type KafkaProducer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaProducer connects a sync producer to the given brokers. Events are
// acked by all in-sync replicas before Publish returns.
func NewKafkaProducer(brokers []string, topic string) (*KafkaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to start sarama producer: %w", err)
	}

	return &KafkaProducer{
		producer: producer,
		topic:    topic,
	}, nil
}

// Publish marshals the payload to JSON and sends it keyed by key, so all
// events for one group land on the same partition in order.
func (k *KafkaProducer) Publish(key string, payload any) error {
	bytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(bytes),
	}

	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send event to kafka: %w", err)
	}
	return nil
}

func (k *KafkaProducer) Close() error {
	return k.producer.Close()
}
