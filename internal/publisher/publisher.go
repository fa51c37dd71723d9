// Package publisher drains the outbound queue into a MessageQueue in bounded
// batches.
package publisher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/family-crawler/internal/crawler"
	"github.com/JakeFAU/family-crawler/internal/dispatcher"
	"github.com/JakeFAU/family-crawler/internal/metrics"
	"github.com/JakeFAU/family-crawler/internal/queue/memory"
)

// Waiter paces SendBatch calls per queue id.
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

// Config controls batching and redelivery.
type Config struct {
	BatchLimit int
	// MaxAttempts bounds deliveries per item; zero means unlimited.
	MaxAttempts int
	EmptySleep  time.Duration
	// Redelivery spaces out attempts of failed items. Nil uses the
	// crawler.RetryConfig defaults.
	Redelivery *crawler.ExponentialRetryPolicy
}

// Shared is the crawl state publishers hold by reference.
type Shared struct {
	Outbound    *memory.Queue[crawler.OutboundItem]
	Coordinator *dispatcher.Coordinator
	Stats       *crawler.Stats
	Failures    *crawler.FailureLog
}

// Publisher is one member of the commit pool.
type Publisher struct {
	id      int
	queue   crawler.MessageQueue
	queueID string
	limiter Waiter
	shared  Shared
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Publisher sending to queueID. limiter may be nil.
func New(
	id int,
	queue crawler.MessageQueue,
	queueID string,
	limiter Waiter,
	shared Shared,
	cfg Config,
	logger *zap.Logger,
) *Publisher {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 10
	}
	if cfg.EmptySleep <= 0 {
		cfg.EmptySleep = time.Second
	}
	if cfg.Redelivery == nil {
		cfg.Redelivery = crawler.NewExponentialRetryPolicy(crawler.RetryConfig{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		id:      id,
		queue:   queue,
		queueID: queueID,
		limiter: limiter,
		shared:  shared,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run publishes batches until the commit pool reaches idle consensus (which
// requires the coordinator to be armed) or ctx ends.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		first, outcome := dispatcher.Poll(p.shared.Coordinator, p.id, p.shared.Outbound)
		switch outcome {
		case dispatcher.OutcomeDone:
			p.logger.Info("publisher terminating")
			return nil
		case dispatcher.OutcomeEmpty:
			if !sleep(ctx, p.cfg.EmptySleep) {
				return nil
			}
			continue
		}
		batch := append([]crawler.OutboundItem{first}, p.shared.Outbound.DrainUpTo(p.cfg.BatchLimit-1)...)
		p.send(ctx, batch)
		metrics.SetOutboundDepth(p.shared.Outbound.Len())
	}
}

func (p *Publisher) send(ctx context.Context, batch []crawler.OutboundItem) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, p.queueID); err != nil {
			// Only cancellation gets here; hand the batch back untouched.
			p.shared.Outbound.PushAll(batch...)
			return
		}
	}

	start := time.Now()
	err := p.queue.SendBatch(ctx, p.queueID, batch)
	elapsed := time.Since(start)
	if err == nil {
		p.commit(batch)
		p.shared.Stats.BatchesPublished.Add(1)
		metrics.ObserveBatch("success", len(batch), elapsed)
		p.logger.Debug("batch published", zap.Int("items", len(batch)), zap.Duration("elapsed", elapsed))
		return
	}

	failed := failedSet(batch, err)
	var delivered []crawler.OutboundItem
	var retry []crawler.OutboundItem
	for _, item := range batch {
		if _, bad := failed[item.ID]; bad {
			retry = append(retry, item)
		} else {
			delivered = append(delivered, item)
		}
	}
	p.commit(delivered)
	p.shared.Stats.BatchesFailed.Add(1)
	metrics.ObserveBatch("failed", len(delivered), elapsed)

	if ctx.Err() != nil {
		p.shared.Outbound.PushAll(retry...)
		return
	}

	var dead []string
	var again []crawler.OutboundItem
	attempts := 0
	for _, item := range retry {
		item.Attempts++
		if p.cfg.MaxAttempts > 0 && item.Attempts >= p.cfg.MaxAttempts {
			p.shared.Failures.AddDeadLetter(item.ID)
			dead = append(dead, item.ID)
			continue
		}
		again = append(again, item)
		attempts = max(attempts, item.Attempts)
	}
	if len(dead) > 0 {
		p.shared.Stats.ItemsDeadLettered.Add(int64(len(dead)))
		metrics.ObserveDeadLetters(len(dead))
	}
	p.logger.Warn("batch publish failed",
		zap.Int("items", len(batch)),
		zap.Int("failed", len(retry)),
		zap.Strings("dead_lettered", dead),
		zap.Error(err),
	)
	if len(again) == 0 {
		return
	}

	// The items stay held by this publisher while it waits, so the commit
	// pool cannot reach idle consensus with them outstanding.
	_ = sleep(ctx, p.cfg.Redelivery.Backoff(attempts-1))
	p.shared.Outbound.PushAll(again...)
}

func (p *Publisher) commit(items []crawler.OutboundItem) {
	if len(items) == 0 {
		return
	}
	groups := 0
	for _, item := range items {
		groups += item.Groups
	}
	p.shared.Stats.ItemsCommitted.Add(int64(len(items)))
	p.shared.Stats.GroupsCommitted.Add(int64(groups))
}

// failedSet returns the ids to redeliver. Without a *BatchError the whole
// batch is treated as failed.
func failedSet(batch []crawler.OutboundItem, err error) map[string]struct{} {
	out := make(map[string]struct{}, len(batch))
	var be *crawler.BatchError
	if errors.As(err, &be) && len(be.Failed) > 0 {
		for _, id := range be.Failed {
			out[id] = struct{}{}
		}
		return out
	}
	for _, item := range batch {
		out[item.ID] = struct{}{}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
