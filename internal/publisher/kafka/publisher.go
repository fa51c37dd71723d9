// Package kafka implements a MessageQueue backed by a Kafka topic per crawl.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/family-crawler/internal/crawler"
	"github.com/JakeFAU/family-crawler/internal/hash/sha256"
)

// Message headers set on every write.
const (
	HeaderItemID = "item_id"
	HeaderDigest = "body_sha256"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type topicAdmin interface {
	CreateTopics(ctx context.Context, req *kafka.CreateTopicsRequest) (*kafka.CreateTopicsResponse, error)
}

// Config describes the Kafka cluster.
type Config struct {
	Brokers           []string
	Partitions        int
	ReplicationFactor int
	BatchTimeout      time.Duration
}

// Queue publishes outbound items to Kafka.
type Queue struct {
	writer messageWriter
	admin  topicAdmin
	cfg    Config
	logger *zap.Logger
}

// NewQueue creates a Kafka queue for the configured brokers.
func NewQueue(cfg Config, logger *zap.Logger) (*Queue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	addr := kafka.TCP(cfg.Brokers...)
	writer := &kafka.Writer{
		Addr:                   addr,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: false,
	}
	return NewQueueWithWriter(writer, &kafka.Client{Addr: addr}, cfg, logger), nil
}

// NewQueueWithWriter builds a queue using a custom writer and admin (tests).
func NewQueueWithWriter(writer messageWriter, admin topicAdmin, cfg Config, logger *zap.Logger) *Queue {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{writer: writer, admin: admin, cfg: cfg, logger: logger}
}

// Provision creates the crawl topic. An existing topic is reused.
func (q *Queue) Provision(ctx context.Context, crawlID string) (string, error) {
	name := crawler.QueueName(crawlID)
	resp, err := q.admin.CreateTopics(ctx, &kafka.CreateTopicsRequest{
		Topics: []kafka.TopicConfig{{
			Topic:             name,
			NumPartitions:     q.cfg.Partitions,
			ReplicationFactor: q.cfg.ReplicationFactor,
		}},
	})
	if err != nil {
		return "", fmt.Errorf("create topic %s: %w", name, err)
	}
	if resp != nil {
		if terr := resp.Errors[name]; terr != nil {
			if !errors.Is(terr, kafka.TopicAlreadyExists) {
				return "", fmt.Errorf("create topic %s: %w", name, terr)
			}
			q.logger.Info("reusing existing topic", zap.String("topic", name))
		}
	}
	return name, nil
}

// SendBatch writes the items in one call. Per-message failures are mapped
// back to item ids.
func (q *Queue) SendBatch(ctx context.Context, queueID string, items []crawler.OutboundItem) error {
	now := time.Now().UTC()
	msgs := make([]kafka.Message, 0, len(items))
	for _, item := range items {
		msgs = append(msgs, kafka.Message{
			Topic: queueID,
			Key:   []byte(item.ID),
			Value: item.Body,
			Headers: []kafka.Header{
				{Key: HeaderItemID, Value: []byte(item.ID)},
				{Key: HeaderDigest, Value: []byte(sha256.Digest(item.Body))},
			},
			Time: now,
		})
	}

	err := q.writer.WriteMessages(ctx, msgs...)
	if err == nil {
		return nil
	}
	var failed []string
	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) && len(werrs) == len(items) {
		for i, werr := range werrs {
			if werr != nil {
				failed = append(failed, items[i].ID)
			}
		}
	} else {
		for _, item := range items {
			failed = append(failed, item.ID)
		}
	}
	return &crawler.BatchError{Failed: failed, Err: fmt.Errorf("write to %s: %w", queueID, err)}
}

// Close shuts down the underlying writer.
func (q *Queue) Close() error {
	if err := q.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
