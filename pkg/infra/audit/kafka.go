package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/sirupsen/logrus"

	"github.com/passhub/gatekeeper/pkg/config"
)

// KafkaSink publishes audit events to the external collector's topic.
// Emission is best effort: a produce failure is logged, never surfaced to
// the request path.
type KafkaSink struct {
	producer *kafka.Producer
	topic    string
	logger   *logrus.Logger
}

func NewKafkaSink(cfg config.KafkaConfig, logger *logrus.Logger) (*KafkaSink, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &KafkaSink{
		producer: producer,
		topic:    cfg.Topic,
		logger:   logger,
	}, nil
}

func (s *KafkaSink) Emit(_ context.Context, evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		s.logger.WithError(err).Error("failed to marshal audit event")
		return
	}
	err = s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &s.topic, Partition: kafka.PartitionAny},
		Key:            []byte(evt.Key),
		Value:          data,
	}, nil)
	if err != nil {
		s.logger.WithError(err).Error("failed to produce audit event")
	}
}

func (s *KafkaSink) Close() {
	s.producer.Flush(5000)
	s.producer.Close()
}
