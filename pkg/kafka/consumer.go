package kafka

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/streamwin/streamwin/pkg/logger"
	"github.com/streamwin/streamwin/pkg/state"
)

const maxInt32 = 0x7FFFFFFF

// Message is one raw record off the input topic. Payload stays opaque here;
// decoding is the engine's job. Arrival is the local wall-clock time the
// message was read, which feeds idle detection downstream.
type Message struct {
	Key       []byte
	Payload   []byte
	Arrival   time.Time
	Partition int
	Offset    int64
}

// Consumer reads raw measurements from Kafka, restoring partition offsets
// from the offset store on rebalance so a restart resumes where it left off.
type Consumer struct {
	c       *ck.Consumer
	topic   string
	offsets *state.OffsetStore
}

func NewConsumer(brokers []string, topic, groupID string, offsets *state.OffsetStore) (*Consumer, error) {
	log := logger.Get("kafka-consumer")

	cm := &ck.ConfigMap{
		"bootstrap.servers":               strings.Join(brokers, ","),
		"group.id":                        groupID,
		"enable.auto.commit":              false,
		"auto.offset.reset":               "earliest",
		"go.application.rebalance.enable": true,
	}
	c, err := ck.NewConsumer(cm)
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	cons := &Consumer{c: c, topic: topic, offsets: offsets}

	// Rebalance callback restores the initial offset per assigned partition
	// from the local store.
	err = c.SubscribeTopics([]string{topic}, func(con *ck.Consumer, ev ck.Event) error {
		switch e := ev.(type) {
		case ck.AssignedPartitions:
			parts := e.Partitions
			for i := range parts {
				off, offsetErr := offsets.Get(topic, int(parts[i].Partition))
				if offsetErr != nil {
					log.Info().Str("topic", topic).Int32("partition", int32(parts[i].Partition)).
						Msg("no stored offset, starting from beginning")
					parts[i].Offset = ck.OffsetBeginning
				} else {
					log.Info().Str("topic", topic).Int32("partition", int32(parts[i].Partition)).
						Int64("offset", off).Msg("resuming from stored offset")
					parts[i].Offset = ck.Offset(off + 1)
				}
			}
			return con.Assign(parts)
		case ck.RevokedPartitions:
			return con.Unassign()
		default:
			return nil
		}
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	return cons, nil
}

// Read blocks for up to the given timeout and returns the next message, or
// (nil, nil) when the timeout elapses without one.
func (c *Consumer) Read(timeout time.Duration) (*Message, error) {
	msg, err := c.c.ReadMessage(timeout)
	if err != nil {
		var ke ck.Error
		if errors.As(err, &ke) && ke.Code() == ck.ErrTimedOut {
			return nil, nil
		}
		return nil, err
	}

	return &Message{
		Key:       msg.Key,
		Payload:   msg.Value,
		Arrival:   time.Now(),
		Partition: int(msg.TopicPartition.Partition),
		Offset:    int64(msg.TopicPartition.Offset),
	}, nil
}

// CommitBatch commits a group of messages in one RPC, taking the highest
// offset per partition, and persists those offsets locally.
func (c *Consumer) CommitBatch(msgs []*Message) error {
	byPart := make(map[int]int64)
	for _, m := range msgs {
		next := m.Offset + 1
		if curr, ok := byPart[m.Partition]; !ok || next > curr {
			byPart[m.Partition] = next
		}
	}

	tps := make([]ck.TopicPartition, 0, len(byPart))
	for p, off := range byPart {
		if p > maxInt32 {
			return fmt.Errorf("partition %d exceeds int32 limit", p)
		}
		tps = append(tps, ck.TopicPartition{
			Topic:     &c.topic,
			Partition: int32(p), //nolint:gosec // Bounded by int32 max check above
			Offset:    ck.Offset(off),
		})
	}

	if _, err := c.c.CommitOffsets(tps); err != nil {
		return fmt.Errorf("commit batch failed: %w", err)
	}

	for p, off := range byPart {
		if err := c.offsets.Save(c.topic, p, off-1); err != nil {
			return fmt.Errorf("persist offset for partition %d: %w", p, err)
		}
	}
	return nil
}

func (c *Consumer) Close() error { return c.c.Close() }

func (c *Consumer) Stats() string { return c.c.String() }
