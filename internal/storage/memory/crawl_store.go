package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/family-crawler/internal/crawler"
)

// CrawlStore provides an in-memory crawl registry for development/testing.
type CrawlStore struct {
	mu        sync.RWMutex
	crawls    map[string]crawler.CrawlRecord
	insertErr error
	updateErr error
}

// NewCrawlStore constructs a CrawlStore.
func NewCrawlStore() *CrawlStore {
	return &CrawlStore{crawls: make(map[string]crawler.CrawlRecord)}
}

// FailInserts makes every Insert return err.
func (s *CrawlStore) FailInserts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErr = err
}

// FailUpdates makes every Update return err.
func (s *CrawlStore) FailUpdates(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateErr = err
}

// Insert stores a new crawl record.
func (s *CrawlStore) Insert(_ context.Context, record crawler.CrawlRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	if _, exists := s.crawls[record.CrawlID]; exists {
		return errors.New("crawl already exists")
	}
	s.crawls[record.CrawlID] = record
	return nil
}

// Update sets the terminal status of a crawl.
func (s *CrawlStore) Update(_ context.Context, crawlID string, status crawler.CrawlStatus, endedOn time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	record, ok := s.crawls[crawlID]
	if !ok {
		return fmt.Errorf("update crawl %s: %w", crawlID, crawler.ErrCrawlNotFound)
	}
	record.Status = status
	record.EndedOn = &endedOn
	s.crawls[crawlID] = record
	return nil
}

// Get returns a stored record.
func (s *CrawlStore) Get(crawlID string) (crawler.CrawlRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.crawls[crawlID]
	return record, ok
}
