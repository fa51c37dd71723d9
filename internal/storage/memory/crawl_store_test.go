package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/family-crawler/internal/crawler"
)

func TestCrawlStoreInsertAndUpdate(t *testing.T) {
	t.Parallel()

	store := NewCrawlStore()
	ctx := context.Background()
	start := time.Unix(100, 0).UTC()
	if err := store.Insert(ctx, crawler.CrawlRecord{CrawlID: "c1", StartedOn: start, Status: crawler.CrawlStatusRunning}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := store.Insert(ctx, crawler.CrawlRecord{CrawlID: "c1"}); err == nil {
		t.Fatal("expected duplicate insert to fail")
	}

	end := start.Add(time.Minute)
	if err := store.Update(ctx, "c1", crawler.CrawlStatusComplete, end); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	rec, ok := store.Get("c1")
	if !ok || rec.Status != crawler.CrawlStatusComplete || rec.EndedOn == nil || !rec.EndedOn.Equal(end) {
		t.Fatalf("unexpected record %+v", rec)
	}

	if err := store.Update(ctx, "missing", crawler.CrawlStatusFailed, end); !errors.Is(err, crawler.ErrCrawlNotFound) {
		t.Fatalf("expected ErrCrawlNotFound, got %v", err)
	}
}

func TestCrawlStoreInjectedFailures(t *testing.T) {
	t.Parallel()

	store := NewCrawlStore()
	boom := errors.New("db down")
	store.FailInserts(boom)
	if err := store.Insert(context.Background(), crawler.CrawlRecord{CrawlID: "x"}); !errors.Is(err, boom) {
		t.Fatalf("expected injected insert error, got %v", err)
	}
	store.FailUpdates(boom)
	if err := store.Update(context.Background(), "x", crawler.CrawlStatusFailed, time.Now()); !errors.Is(err, boom) {
		t.Fatalf("expected injected update error, got %v", err)
	}
}
