package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/family-crawler/internal/crawler"
)

type fakeClient struct {
	mu     sync.Mutex
	data   map[string]string
	ttls   map[string]time.Duration
	setErr error
	closed bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, exists := f.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = string(value.([]byte))
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.data[key] = string(value.([]byte))
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestCrawlStoreLifecycle(t *testing.T) {
	t.Parallel()

	fake := newFakeClient()
	store := NewCrawlStoreWithClient(fake, "", time.Hour)
	started := time.Unix(1700000000, 0).UTC()
	ended := started.Add(time.Minute)

	require.NoError(t, store.Insert(context.Background(), crawler.CrawlRecord{
		CrawlID:   "abc",
		StartedOn: started,
		Status:    crawler.CrawlStatusRunning,
	}))
	require.Equal(t, time.Hour, fake.ttls["crawl:abc"])

	require.NoError(t, store.Update(context.Background(), "abc", crawler.CrawlStatusComplete, ended))

	var got crawler.CrawlRecord
	require.NoError(t, json.Unmarshal([]byte(fake.data["crawl:abc"]), &got))
	require.Equal(t, crawler.CrawlStatusComplete, got.Status)
	require.True(t, started.Equal(got.StartedOn))
	require.NotNil(t, got.EndedOn)
	require.True(t, ended.Equal(*got.EndedOn))

	require.NoError(t, store.Close())
	require.True(t, fake.closed)
}

func TestCrawlStoreDuplicateInsert(t *testing.T) {
	t.Parallel()

	store := NewCrawlStoreWithClient(newFakeClient(), "p:", 0)
	rec := crawler.CrawlRecord{CrawlID: "dup", Status: crawler.CrawlStatusRunning}
	require.NoError(t, store.Insert(context.Background(), rec))
	require.Error(t, store.Insert(context.Background(), rec))
}

func TestCrawlStoreUpdateMissing(t *testing.T) {
	t.Parallel()

	store := NewCrawlStoreWithClient(newFakeClient(), "", 0)
	err := store.Update(context.Background(), "ghost", crawler.CrawlStatusFailed, time.Now())
	require.ErrorIs(t, err, crawler.ErrCrawlNotFound)
}

func TestCrawlStoreInsertError(t *testing.T) {
	t.Parallel()

	fake := newFakeClient()
	fake.setErr = errors.New("redis down")
	store := NewCrawlStoreWithClient(fake, "", 0)
	err := store.Insert(context.Background(), crawler.CrawlRecord{CrawlID: "x"})
	require.ErrorIs(t, err, fake.setErr)
}

func TestNewCrawlStoreRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := NewCrawlStore(Config{})
	require.Error(t, err)
}
