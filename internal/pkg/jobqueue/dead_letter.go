package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/segmentio/kafka-go"

	"github.com/ManuelReschke/PixelBoost/internal/pkg/env"
)

// DefaultDeadLetterTopic receives jobs that exhausted their retries
const DefaultDeadLetterTopic = "pixelboost.jobs.dead"

// DeadLetterSink receives jobs that will not be retried again
type DeadLetterSink interface {
	Publish(ctx context.Context, job *Job) error
}

// LogDeadLetterSink only logs the dead job
type LogDeadLetterSink struct{}

func (LogDeadLetterSink) Publish(_ context.Context, job *Job) error {
	log.Errorf("[JobQueue] Dead job %s (type=%s, retries=%d): %s", job.ID, job.Type, job.RetryCount, job.ErrorMsg)
	return nil
}

// MultiDeadLetterSink fans a dead job out to every sink and returns the first error
type MultiDeadLetterSink []DeadLetterSink

func (m MultiDeadLetterSink) Publish(ctx context.Context, job *Job) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, job); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// messageWriter is the part of kafka.Writer the sink needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDeadLetterSink publishes dead jobs as JSON to a Kafka topic, keyed by job ID
type KafkaDeadLetterSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaDeadLetterSink creates a sink writing to the given brokers
func NewKafkaDeadLetterSink(brokers []string, topic string) *KafkaDeadLetterSink {
	if topic == "" {
		topic = DefaultDeadLetterTopic
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	log.Infof("[JobQueue] Kafka dead letter sink initialized (brokers=%v, topic=%s)", brokers, topic)
	return &KafkaDeadLetterSink{writer: writer, topic: topic}
}

// KafkaDeadLetterSinkFromEnv returns nil when KAFKA_BROKERS is unset
func KafkaDeadLetterSinkFromEnv() *KafkaDeadLetterSink {
	brokers := ParseBrokers(env.GetEnv("KAFKA_BROKERS", ""))
	if len(brokers) == 0 {
		return nil
	}
	return NewKafkaDeadLetterSink(brokers, env.GetEnv("KAFKA_DEAD_LETTER_TOPIC", DefaultDeadLetterTopic))
}

// ParseBrokers splits a comma separated broker list
func ParseBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (k *KafkaDeadLetterSink) Publish(ctx context.Context, job *Job) error {
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal dead job %s: %w", job.ID, err)
	}
	msg := kafka.Message{
		Topic: k.topic,
		Key:   []byte(job.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "job_type", Value: []byte(job.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing dead job to kafka topic %q: %w", k.topic, err)
	}
	log.Debugf("[JobQueue] Dead job %s published to %s", job.ID, k.topic)
	return nil
}

// Close shuts down the Kafka writer
func (k *KafkaDeadLetterSink) Close() error {
	if k.writer != nil {
		return k.writer.Close()
	}
	return nil
}
