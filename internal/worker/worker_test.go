package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/family-crawler/internal/crawler"
	"github.com/JakeFAU/family-crawler/internal/dispatcher"
	"github.com/JakeFAU/family-crawler/internal/grouper"
	listingmem "github.com/JakeFAU/family-crawler/internal/listing/memory"
	"github.com/JakeFAU/family-crawler/internal/queue/memory"
)

var fastRetry = crawler.RetryConfig{
	BaseDelay:   time.Millisecond,
	MaxDelay:    2 * time.Millisecond,
	MaxAttempts: 3,
}

var fastIdle = Config{
	BaseURL:        "https://example.org",
	IdleBackoffMin: time.Millisecond,
	IdleBackoffMax: 2 * time.Millisecond,
}

func newShared(workers int, roots ...string) Shared {
	frontier := memory.NewQueue[crawler.DirectoryTask]()
	for _, r := range roots {
		frontier.Push(crawler.DirectoryTask(r))
	}
	return Shared{
		Frontier:    frontier,
		Outbound:    memory.NewQueue[crawler.OutboundItem](),
		Coordinator: dispatcher.NewCoordinator(workers, true),
		Stats:       &crawler.Stats{},
		Failures:    crawler.NewFailureLog(),
		IDs:         &crawler.Sequence{},
	}
}

func runPool(t *testing.T, workers int, listing crawler.ListingClient, g crawler.Grouper, shared Shared) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool := make([]dispatcher.Runner, 0, workers)
	for i := 0; i < workers; i++ {
		pool = append(pool, New(i, listing, g, shared,
			crawler.NewExponentialRetryPolicy(fastRetry), fastIdle, zap.NewNop()))
	}
	err := dispatcher.New(pool...).Run(ctx)
	require.NoError(t, ctx.Err(), "pool did not terminate on its own")
	return err
}

func drainFamilies(t *testing.T, q *memory.Queue[crawler.OutboundItem]) ([]string, []crawler.Family) {
	t.Helper()
	var ids []string
	var families []crawler.Family
	for {
		item, ok := q.TryPop()
		if !ok {
			return ids, families
		}
		var fam crawler.Family
		require.NoError(t, json.Unmarshal(item.Body, &fam))
		ids = append(ids, item.ID)
		families = append(families, fam)
	}
}

func familyPaths(families []crawler.Family) []string {
	var out []string
	for _, fam := range families {
		for p := range fam.Files {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func TestWorkerCrawlsTree(t *testing.T) {
	t.Parallel()

	listing := listingmem.NewClient().
		AddFile("/a.txt", 10).
		AddFile("/sub/b.csv", 5)
	shared := newShared(3, "/")

	require.NoError(t, runPool(t, 3, listing, grouper.ExtensionGrouper{}, shared))

	ids, families := drainFamilies(t, shared.Outbound)
	require.Len(t, families, 2)
	require.NotEqual(t, ids[0], ids[1])
	require.Equal(t, []string{"/a.txt", "/sub/b.csv"}, familyPaths(families))
	for _, fam := range families {
		require.Equal(t, "https://example.org", fam.BaseURL)
		for _, rec := range fam.Files {
			require.Equal(t, "globus", rec.SourceKind)
		}
	}

	snap := shared.Stats.Snapshot()
	require.Equal(t, int64(2), snap.FilesCrawled)
	require.Equal(t, int64(15), snap.BytesCrawled)
	require.Equal(t, int64(2), snap.GroupsCrawled)
	require.Equal(t, int64(2), snap.DirectoriesListed)
	require.Empty(t, shared.Failures.Directories())
}

func TestWorkerEveryFileExactlyOnce(t *testing.T) {
	t.Parallel()

	listing := listingmem.NewClient()
	var want []string
	for _, dir := range []string{"/a", "/a/b", "/a/b/c", "/d", "/d/e"} {
		for _, name := range []string{"x.txt", "y.gz", "z"} {
			listing.AddFile(dir+"/"+name, 1)
			want = append(want, dir+"/"+name)
		}
	}
	sort.Strings(want)
	shared := newShared(4, "/")

	require.NoError(t, runPool(t, 4, listing, grouper.DirectoryGrouper{}, shared))

	ids, families := drainFamilies(t, shared.Outbound)
	require.Equal(t, want, familyPaths(families))
	unique := map[string]struct{}{}
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	require.Len(t, unique, len(ids))
	require.Len(t, families, 5)
}

func TestWorkerRecordsTooLargeDirectory(t *testing.T) {
	t.Parallel()

	listing := listingmem.NewClient().
		AddFile("/ok.txt", 3).
		AddFile("/big/hidden.txt", 100).
		Fail("/big", crawler.NewListingError("/big", crawler.KindTooLarge, crawler.ErrDirectoryTooLarge))
	shared := newShared(2, "/")

	require.NoError(t, runPool(t, 2, listing, grouper.ExtensionGrouper{}, shared))

	require.Equal(t, []crawler.Failure{{Path: "/big", Reason: crawler.ReasonTooLarge}}, shared.Failures.Directories())
	require.Equal(t, 1, listing.Calls("/big"), "too large is not retried")
	_, families := drainFamilies(t, shared.Outbound)
	require.Equal(t, []string{"/ok.txt"}, familyPaths(families))
}

func TestWorkerRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	flaky := errors.New("connection reset")
	listing := listingmem.NewClient().
		AddFile("/a.txt", 1).
		Fail("/", flaky, flaky)
	shared := newShared(1, "/")

	require.NoError(t, runPool(t, 1, listing, grouper.ExtensionGrouper{}, shared))

	require.Equal(t, 3, listing.Calls("/"))
	require.Equal(t, int64(2), shared.Stats.Snapshot().ListingRetries)
	_, families := drainFamilies(t, shared.Outbound)
	require.Len(t, families, 1, "a retried listing must not duplicate entries")
}

func TestWorkerAbandonsAfterRetriesExhausted(t *testing.T) {
	t.Parallel()

	flaky := crawler.NewListingError("/x", crawler.KindTransient, crawler.ErrTransient)
	listing := listingmem.NewClient().
		AddFile("/x/a.txt", 1).
		Fail("/x", flaky, flaky, flaky)
	shared := newShared(1, "/x")

	require.NoError(t, runPool(t, 1, listing, grouper.ExtensionGrouper{}, shared))

	require.Equal(t, 3, listing.Calls("/x"))
	require.Equal(t, []crawler.Failure{{Path: "/x", Reason: crawler.ReasonRetriesExhausted}}, shared.Failures.Directories())
	require.Equal(t, int64(1), shared.Stats.Snapshot().DirectoriesFailed)
}

func TestWorkerFatalErrorStopsPool(t *testing.T) {
	t.Parallel()

	listing := listingmem.NewClient().
		AddFile("/a/one.txt", 1).
		Fail("/a", crawler.NewListingError("/a", crawler.KindFatal, crawler.ErrAuthExpired))
	shared := newShared(2, "/")

	err := runPool(t, 2, listing, grouper.ExtensionGrouper{}, shared)
	require.ErrorIs(t, err, crawler.ErrAuthExpired)
	require.Equal(t, crawler.KindFatal, crawler.KindOf(err))
}

func TestWorkerRejectsIllegalFileNames(t *testing.T) {
	t.Parallel()

	listing := listingmem.NewClient().
		AddFile("/good.txt", 1).
		AddFile("/bad\x01name.txt", 1)
	shared := newShared(1, "/")

	require.NoError(t, runPool(t, 1, listing, grouper.ExtensionGrouper{}, shared))

	require.Equal(t, map[string][]string{
		crawler.ReasonIllegalChar: {"/bad\x01name.txt"},
	}, shared.Failures.FailedGroupsDocument())
	_, families := drainFamilies(t, shared.Outbound)
	require.Equal(t, []string{"/good.txt"}, familyPaths(families))
}

type danglingGrouper struct{}

func (danglingGrouper) Group(files []crawler.FileRecord) ([]crawler.Family, error) {
	fam := crawler.Family{Files: map[string]crawler.FileRecord{}}
	var paths []string
	for _, f := range files {
		fam.Files[f.Path] = f
		paths = append(paths, f.Path)
	}
	fam.Groups = []crawler.Group{
		{ParserID: "ok", Files: paths},
		{ParserID: "bad", Files: []string{"/ghost.txt"}},
	}
	return []crawler.Family{fam}, nil
}

func TestWorkerDropsGroupsWithUnknownFiles(t *testing.T) {
	t.Parallel()

	listing := listingmem.NewClient().AddFile("/real.txt", 4)
	shared := newShared(1, "/")

	require.NoError(t, runPool(t, 1, listing, danglingGrouper{}, shared))

	require.Equal(t, []crawler.Failure{{Path: "/ghost.txt", Reason: crawler.ReasonUnknownFile}}, shared.Failures.Groups())
	_, families := drainFamilies(t, shared.Outbound)
	require.Len(t, families, 1)
	require.Len(t, families[0].Groups, 1)
	require.Equal(t, "ok", families[0].Groups[0].ParserID)
	require.Equal(t, int64(1), shared.Stats.Snapshot().GroupsCrawled)
	require.Equal(t, int64(4), shared.Stats.Snapshot().BytesCrawled)
}

type failingGrouper struct{}

func (failingGrouper) Group([]crawler.FileRecord) ([]crawler.Family, error) {
	return nil, errors.New("parser registry offline")
}

func TestWorkerRecordsGrouperFailure(t *testing.T) {
	t.Parallel()

	listing := listingmem.NewClient().AddFile("/a.txt", 1)
	shared := newShared(1, "/")

	require.NoError(t, runPool(t, 1, listing, failingGrouper{}, shared))

	require.Equal(t, []crawler.Failure{{Path: "/a.txt", Reason: crawler.ReasonGrouperError}}, shared.Failures.Groups())
	require.Zero(t, shared.Outbound.Len())
}

func TestWorkerStopsOnCancel(t *testing.T) {
	t.Parallel()

	shared := newShared(2)
	shared.Coordinator = dispatcher.NewCoordinator(2, false)
	w := New(0, listingmem.NewClient(), grouper.ExtensionGrouper{}, shared, nil, fastIdle, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestExtension(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"a.txt":          "txt",
		"archive.tar.gz": "gz",
		"README":         "",
		"/d.x/noext":     "",
		".hidden":        "hidden",
		"trailing.":      "",
	}
	for in, want := range cases {
		require.Equal(t, want, Extension(in), in)
	}
}
