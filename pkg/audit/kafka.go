package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tinyland-inc/picorelay/pkg/logger"
)

const DefaultTopic = "picorelay.deliveries"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes records as JSON, keyed by source id so the attempts
// of one source stay ordered within a partition.
type KafkaSink struct {
	w     messageWriter
	topic string
}

// NewKafkaSink creates an asynchronous writer. Write errors surface in the
// log through the writer's completion callback.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("audit: at least one broker is required")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.WarnCF("audit", "Kafka write failed", map[string]any{
					"messages": len(msgs),
					"error":    err.Error(),
				})
			}
		},
	}
	logger.InfoCF("audit", "Kafka audit sink configured", map[string]any{
		"brokers": brokers,
		"topic":   topic,
	})
	return &KafkaSink{w: w, topic: topic}, nil
}

func (k *KafkaSink) Topic() string {
	return k.topic
}

func (k *KafkaSink) Record(ctx context.Context, r Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("audit: encode record: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(r.SourceID),
		Value: payload,
		Time:  r.StartedAt,
		Headers: []kafka.Header{
			{Key: "record_id", Value: []byte(r.ID)},
			{Key: "outcome", Value: []byte(r.Outcome)},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("audit: publish: %w", err)
	}
	return nil
}

// Close flushes pending records.
func (k *KafkaSink) Close() error {
	return k.w.Close()
}
