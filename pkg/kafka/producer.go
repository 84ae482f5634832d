package kafka

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"

	"github.com/streamwin/streamwin/pkg/avro"
	"github.com/streamwin/streamwin/pkg/config"
)

const batchTimeout = 100 * time.Millisecond

var jsonFast = jsoniter.ConfigFastest

// Producer wraps a kafka.Writer with optional Confluent-wire Avro encoding.
type Producer struct {
	writer  *kafka.Writer
	useAvro bool
	codec   *avro.Codec
}

func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		RequiredAcks: int(kafka.RequireAll),
	})

	var codec *avro.Codec
	if cfg.UseAvro {
		codec = avro.NewCodec(cfg.SchemaRegistry)
	}

	return &Producer{writer: w, useAvro: cfg.UseAvro, codec: codec}, nil
}

// Publish encodes value as Avro or JSON and sends one message. The Hash
// balancer keeps identical keys on the same partition.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value map[string]any) error {
	var (
		payload []byte
		err     error
	)

	if p.useAvro {
		payload, err = p.codec.Encode(topic+"-value", value)
		if err != nil {
			return fmt.Errorf("avro encode failed: %w", err)
		}
	} else {
		payload, err = jsonFast.Marshal(value)
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: payload,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// PublishRaw sends an already-encoded payload unchanged, used to forward
// late measurements in their original form.
func (p *Producer) PublishRaw(ctx context.Context, topic string, key, payload []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: payload,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
