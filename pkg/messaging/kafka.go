package messaging

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer wraps a kafka.Writer for publishing keyed messages.
// Messages with the same key always land on the same partition, so
// per-key ordering is preserved end to end.
type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Publish writes a single message and blocks until the broker acks it.
func (p *KafkaProducer) Publish(ctx context.Context, key string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

// PublishAsync writes a message in the background and returns a channel
// that resolves with the outcome. Callers may await it or discard it.
func (p *KafkaProducer) PublishAsync(key string, value []byte) <-chan error {
	result := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		result <- p.Publish(ctx, key, value)
	}()
	return result
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// Handler processes a single fetched message. A nil return commits the
// offset; a non-nil return leaves it uncommitted so the message is
// redelivered after a rebalance or restart (at-least-once).
type Handler func(ctx context.Context, key string, value []byte) error

// KafkaConsumer runs a fixed number of group readers against one topic.
// Each worker owns its own reader; the group assigns partitions among
// them, so messages for one key are handled by one worker in order.
type KafkaConsumer struct {
	brokers     []string
	topic       string
	groupID     string
	concurrency int
}

func NewKafkaConsumer(brokers []string, topic, groupID string, concurrency int) *KafkaConsumer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &KafkaConsumer{
		brokers:     brokers,
		topic:       topic,
		groupID:     groupID,
		concurrency: concurrency,
	}
}

// Run blocks until ctx is cancelled, consuming with manual offset
// commits. The handler decides whether an offset is committed. After a
// handler error the worker keeps fetching, so a later commit on the
// same partition moves the group offset past the failed message;
// redelivery of a failed message is only guaranteed while nothing after
// it on that partition commits, which is why handlers treat everything
// but a persistence failure as committable.
func (c *KafkaConsumer) Run(ctx context.Context, handler Handler) {
	var wg sync.WaitGroup
	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			c.runWorker(ctx, worker, handler)
		}(i)
	}
	wg.Wait()
}

func (c *KafkaConsumer) runWorker(ctx context.Context, worker int, handler Handler) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.brokers,
		Topic:    c.topic,
		GroupID:  c.groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer reader.Close()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("kafka worker %d: error fetching from %s: %v", worker, c.topic, err)
			continue
		}

		if err := handler(ctx, string(m.Key), m.Value); err != nil {
			// Offset is not committed; the event stays on the log and
			// comes back after a rebalance or restart.
			log.Printf("kafka worker %d: handler error on %s, offset not committed: %v", worker, c.topic, err)
			continue
		}

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			log.Printf("kafka worker %d: commit failed on %s: %v", worker, c.topic, err)
		}
	}
}

// EnsureTopic creates a topic with the given partition count if it does
// not already exist. Existing topics are left untouched.
func EnsureTopic(ctx context.Context, brokers []string, topic string, partitions int) error {
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to resolve kafka controller: %w", err)
	}

	controllerConn, err := kafka.DialContext(ctx, "tcp",
		net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	return nil
}
