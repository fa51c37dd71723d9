// Package pubsub implements a Google Cloud Pub/Sub MessageQueue with one
// topic per crawl.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JakeFAU/family-crawler/internal/crawler"
	"github.com/JakeFAU/family-crawler/internal/hash/sha256"
)

// Message attributes set on every publish.
const (
	AttributeItemID = "item_id"
	AttributeDigest = "body_sha256"
)

// Queue wraps a Pub/Sub client.
type Queue struct {
	client *pubsub.Client
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Queue for the provided client.
func New(client *pubsub.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger, topics: make(map[string]*pubsub.Topic)}
}

// Provision creates the crawl topic, reusing it if it already exists.
func (q *Queue) Provision(ctx context.Context, crawlID string) (string, error) {
	if q.client == nil {
		return "", errors.New("pubsub client is not configured")
	}
	name := crawler.QueueName(crawlID)
	topic, err := q.client.CreateTopic(ctx, name)
	switch {
	case status.Code(err) == codes.AlreadyExists:
		q.logger.Info("reusing existing topic", zap.String("topic", name))
		topic = q.client.Topic(name)
	case err != nil:
		return "", fmt.Errorf("create topic %s: %w", name, err)
	}

	q.mu.Lock()
	q.topics[name] = topic
	q.mu.Unlock()
	return name, nil
}

// SendBatch publishes every item and waits for each result. Items whose
// publish failed are reported in a *crawler.BatchError.
func (q *Queue) SendBatch(ctx context.Context, queueID string, items []crawler.OutboundItem) error {
	if q.client == nil {
		return errors.New("pubsub client is not configured")
	}
	topic := q.topic(queueID)

	results := make([]*pubsub.PublishResult, len(items))
	for i, item := range items {
		results[i] = topic.Publish(ctx, &pubsub.Message{
			Data: item.Body,
			Attributes: map[string]string{
				AttributeItemID: item.ID,
				AttributeDigest: sha256.Digest(item.Body),
			},
		})
	}

	var failed []string
	var firstErr error
	for i, res := range results {
		if _, err := res.Get(ctx); err != nil {
			failed = append(failed, items[i].ID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if len(failed) > 0 {
		return &crawler.BatchError{Failed: failed, Err: fmt.Errorf("publish to %s: %w", queueID, firstErr)}
	}
	return nil
}

// Close flushes pending publishes and closes the client.
func (q *Queue) Close() error {
	q.mu.Lock()
	for _, t := range q.topics {
		t.Stop()
	}
	q.topics = make(map[string]*pubsub.Topic)
	q.mu.Unlock()
	if q.client == nil {
		return nil
	}
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func (q *Queue) topic(name string) *pubsub.Topic {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.topics[name]
	if !ok {
		t = q.client.Topic(name)
		q.topics[name] = t
	}
	return t
}
