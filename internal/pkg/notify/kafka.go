package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/agistaffers/backoffice/internal/pkg/env"
)

// KafkaSink publishes every notification as JSON for downstream services.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaSink(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

// NewKafkaSinkFromEnv returns nil when NOTIFY_KAFKA_BROKERS is unset.
func NewKafkaSinkFromEnv() (*KafkaSink, error) {
	brokers := env.GetEnvList("NOTIFY_KAFKA_BROKERS")
	if len(brokers) == 0 {
		return nil, nil
	}

	config := sarama.NewConfig()
	config.ClientID = "agistaffers-backoffice"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 3
	config.Producer.Timeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaSink(producer, env.GetEnv("NOTIFY_KAFKA_TOPIC", "backoffice.notifications")), nil
}

func (k *KafkaSink) Name() string { return "kafka" }

// Send blocks until the broker acks; sarama's SyncProducer has no context hook.
func (k *KafkaSink) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(n.Kind),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("notification-id"), Value: []byte(n.ID)},
		},
	}
	_, _, err = k.producer.SendMessage(msg)
	return err
}

func (k *KafkaSink) Close() error {
	return k.producer.Close()
}
