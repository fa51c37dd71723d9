// Package redis provides a Redis-backed crawl registry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/family-crawler/internal/crawler"
)

type client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// Config configures the Redis registry.
type Config struct {
	Addr   string
	Prefix string
	TTL    time.Duration
}

// CrawlStore stores CrawlRecords as JSON under prefix+crawl_id.
type CrawlStore struct {
	client client
	prefix string
	ttl    time.Duration
}

// NewCrawlStore initializes a Redis-backed CrawlStore.
func NewCrawlStore(cfg Config) (*CrawlStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("registry.redis.addr is required")
	}
	return NewCrawlStoreWithClient(redis.NewClient(&redis.Options{Addr: cfg.Addr}), cfg.Prefix, cfg.TTL), nil
}

// NewCrawlStoreWithClient builds a store around an existing client (tests).
func NewCrawlStoreWithClient(c client, prefix string, ttl time.Duration) *CrawlStore {
	if prefix == "" {
		prefix = "crawl:"
	}
	return &CrawlStore{client: c, prefix: prefix, ttl: ttl}
}

// Close closes the Redis client.
func (s *CrawlStore) Close() error {
	return s.client.Close()
}

// Insert writes the initial record. A second insert for the same id fails.
func (s *CrawlStore) Insert(ctx context.Context, record crawler.CrawlRecord) error {
	if record.CrawlID == "" {
		return errors.New("crawl id is required")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal crawl: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.prefix+record.CrawlID, payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("insert crawl: %w", err)
	}
	if !ok {
		return fmt.Errorf("insert crawl %s: already exists", record.CrawlID)
	}
	return nil
}

// Update sets the terminal status and end time of a crawl.
func (s *CrawlStore) Update(ctx context.Context, crawlID string, status crawler.CrawlStatus, endedOn time.Time) error {
	key := s.prefix + crawlID
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("update crawl %s: %w", crawlID, crawler.ErrCrawlNotFound)
		}
		return fmt.Errorf("read crawl: %w", err)
	}
	var record crawler.CrawlRecord
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return fmt.Errorf("decode crawl: %w", err)
	}
	record.Status = status
	record.EndedOn = &endedOn

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal crawl: %w", err)
	}
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("update crawl: %w", err)
	}
	return nil
}
