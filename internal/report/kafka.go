package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each record as JSON, keyed by session ID so one
// session's reports stay ordered on a partition.
type KafkaSink struct {
	w     messageWriter
	topic string
}

// NewKafkaSink creates a synchronous writer for topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{w: w, topic: topic}
}

// Write publishes r.
func (s *KafkaSink) Write(ctx context.Context, r Record) error {
	val, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(r.SessionID),
		Value: val,
		Time:  r.At,
		Headers: []kafka.Header{
			{Key: "outcome", Value: []byte(r.Outcome)},
		},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish report to %s: %w", s.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.w.Close()
}
