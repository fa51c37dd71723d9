package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/family-crawler/internal/crawler"
)

func items(ids ...string) []crawler.OutboundItem {
	out := make([]crawler.OutboundItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, crawler.OutboundItem{ID: id, Body: []byte(`{}`)})
	}
	return out
}

func TestQueueStoresBatches(t *testing.T) {
	t.Parallel()

	q := New()
	id, err := q.Provision(context.Background(), "abc")
	if err != nil || id != "crawl_abc" {
		t.Fatalf("unexpected provision result id=%s err=%v", id, err)
	}
	if err := q.SendBatch(context.Background(), id, items("0", "1")); err != nil {
		t.Fatalf("send batch: %v", err)
	}
	if err := q.SendBatch(context.Background(), id, items("2")); err != nil {
		t.Fatalf("send batch: %v", err)
	}

	batches := q.Batches()
	if len(batches) != 2 || len(batches[0].Items) != 2 || batches[1].QueueID != "crawl_abc" {
		t.Fatalf("batches not recorded correctly: %+v", batches)
	}
	if got := len(q.Delivered()); got != 3 {
		t.Fatalf("expected 3 delivered items, got %d", got)
	}

	batches[0].QueueID = "modified"
	if q.Batches()[0].QueueID == "modified" {
		t.Fatal("expected Batches() to return a copy")
	}
}

func TestQueueInjectedFailures(t *testing.T) {
	t.Parallel()

	q := New(WithFailures(func(_ string, batch []crawler.OutboundItem) []string {
		return []string{batch[0].ID}
	}))
	id, _ := q.Provision(context.Background(), "x")

	err := q.SendBatch(context.Background(), id, items("a", "b"))
	var be *crawler.BatchError
	if !errors.As(err, &be) || len(be.Failed) != 1 || be.Failed[0] != "a" {
		t.Fatalf("expected batch error for a, got %v", err)
	}
	if !errors.Is(err, crawler.ErrQueueTransport) {
		t.Fatal("batch errors must match ErrQueueTransport")
	}
	if d := q.Delivered(); len(d) != 1 || d[0].ID != "b" {
		t.Fatalf("expected only b delivered, got %+v", d)
	}
}

func TestQueueRejectsUnprovisionedAndClosed(t *testing.T) {
	t.Parallel()

	q := New()
	if err := q.SendBatch(context.Background(), "crawl_nope", items("0")); err == nil {
		t.Fatal("expected error for unprovisioned queue")
	}
	id, _ := q.Provision(context.Background(), "y")
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if err := q.SendBatch(context.Background(), id, items("0")); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestQueueProvisionError(t *testing.T) {
	t.Parallel()

	boom := errors.New("quota")
	q := New(WithProvisionError(boom))
	if _, err := q.Provision(context.Background(), "z"); !errors.Is(err, boom) {
		t.Fatalf("expected quota error, got %v", err)
	}
}
