// Package memory contains an in-memory MessageQueue for tests and dry runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/family-crawler/internal/crawler"
)

// FailureFunc picks the ids of a batch that should fail delivery.
type FailureFunc func(queueID string, items []crawler.OutboundItem) []string

// Batch captures one SendBatch call.
type Batch struct {
	QueueID string
	Items   []crawler.OutboundItem
}

// Queue stores delivered items for inspection.
type Queue struct {
	mu           sync.RWMutex
	provisioned  map[string]bool
	batches      []Batch
	delivered    []crawler.OutboundItem
	failures     FailureFunc
	provisionErr error
	closed       bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithFailures injects per-item delivery failures.
func WithFailures(fn FailureFunc) Option {
	return func(q *Queue) { q.failures = fn }
}

// WithProvisionError makes Provision fail.
func WithProvisionError(err error) Option {
	return func(q *Queue) { q.provisionErr = err }
}

// New returns a memory Queue.
func New(opts ...Option) *Queue {
	q := &Queue{provisioned: make(map[string]bool)}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Provision implements crawler.MessageQueue.
func (q *Queue) Provision(_ context.Context, crawlID string) (string, error) {
	if q.provisionErr != nil {
		return "", fmt.Errorf("provision queue: %w", q.provisionErr)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	id := crawler.QueueName(crawlID)
	q.provisioned[id] = true
	return id, nil
}

// SendBatch implements crawler.MessageQueue. Every call is recorded; only
// delivered items reach Delivered.
func (q *Queue) SendBatch(ctx context.Context, queueID string, items []crawler.OutboundItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var failed []string
	if q.failures != nil {
		failed = q.failures(queueID, items)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("queue closed")
	}
	if !q.provisioned[queueID] {
		return fmt.Errorf("queue %s not provisioned", queueID)
	}
	q.batches = append(q.batches, Batch{QueueID: queueID, Items: append([]crawler.OutboundItem(nil), items...)})

	skip := make(map[string]struct{}, len(failed))
	for _, id := range failed {
		skip[id] = struct{}{}
	}
	for _, item := range items {
		if _, bad := skip[item.ID]; !bad {
			q.delivered = append(q.delivered, item)
		}
	}
	if len(failed) > 0 {
		return &crawler.BatchError{Failed: failed, Err: errors.New("injected failure")}
	}
	return nil
}

// Close implements crawler.MessageQueue.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Batches returns every recorded SendBatch call.
func (q *Queue) Batches() []Batch {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Batch, len(q.batches))
	copy(out, q.batches)
	return out
}

// Delivered returns the items accepted so far.
func (q *Queue) Delivered() []crawler.OutboundItem {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]crawler.OutboundItem, len(q.delivered))
	copy(out, q.delivered)
	return out
}
