// Package worker implements the directory crawl loop run by each pool member.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/family-crawler/internal/crawler"
	"github.com/JakeFAU/family-crawler/internal/dispatcher"
	"github.com/JakeFAU/family-crawler/internal/grouper"
	"github.com/JakeFAU/family-crawler/internal/metrics"
	"github.com/JakeFAU/family-crawler/internal/queue/memory"
)

// Config controls Worker behavior.
type Config struct {
	BaseURL        string
	SourceKind     string
	IdleBackoffMin time.Duration
	IdleBackoffMax time.Duration
}

// Shared is the crawl state every worker of one crawl holds by reference.
type Shared struct {
	Frontier    *memory.Queue[crawler.DirectoryTask]
	Outbound    *memory.Queue[crawler.OutboundItem]
	Coordinator *dispatcher.Coordinator
	Stats       *crawler.Stats
	Failures    *crawler.FailureLog
	IDs         *crawler.Sequence
}

// Worker expands directories popped from the frontier.
type Worker struct {
	id      int
	listing crawler.ListingClient
	grouper crawler.Grouper
	shared  Shared
	retry   *crawler.ExponentialRetryPolicy
	cfg     Config
	logger  *zap.Logger
}

var errRetriesExhausted = errors.New("retries exhausted")

// New constructs a Worker. id must be unique within the pool and below the
// coordinator's worker count.
func New(
	id int,
	listing crawler.ListingClient,
	grouper crawler.Grouper,
	shared Shared,
	retry *crawler.ExponentialRetryPolicy,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry == nil {
		retry = crawler.NewExponentialRetryPolicy(crawler.RetryConfig{})
	}
	if cfg.SourceKind == "" {
		cfg.SourceKind = "globus"
	}
	if cfg.IdleBackoffMin <= 0 {
		cfg.IdleBackoffMin = time.Second
	}
	if cfg.IdleBackoffMax < cfg.IdleBackoffMin {
		cfg.IdleBackoffMax = cfg.IdleBackoffMin
	}
	return &Worker{
		id:      id,
		listing: listing,
		grouper: grouper,
		shared:  shared,
		retry:   retry,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run polls the frontier until the pool reaches idle consensus or ctx ends.
// It returns an error only for fatal listing failures.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		task, outcome := dispatcher.Poll(w.shared.Coordinator, w.id, w.shared.Frontier)
		switch outcome {
		case dispatcher.OutcomeDone:
			w.logger.Info("crawl worker terminating")
			return nil
		case dispatcher.OutcomeEmpty:
			if !sleep(ctx, crawler.RandomBetween(w.cfg.IdleBackoffMin, w.cfg.IdleBackoffMax)) {
				return nil
			}
			continue
		}
		if err := w.expand(ctx, string(task)); err != nil {
			return err
		}
	}
}

func (w *Worker) expand(ctx context.Context, dir string) error {
	w.logger.Debug("expanding directory", zap.String("dir", dir))
	entries, err := w.list(ctx, dir)
	if err != nil {
		switch classify(ctx, err) {
		case crawler.KindFatal:
			w.logger.Error("fatal listing error", zap.String("dir", dir), zap.Error(err))
			return fmt.Errorf("expand %s: %w", dir, err)
		case crawler.KindCanceled:
			return nil
		case crawler.KindTooLarge:
			w.abandon(dir, crawler.ReasonTooLarge, err)
		case crawler.KindRejected:
			w.abandon(dir, crawler.ReasonRejected, err)
		default:
			w.abandon(dir, crawler.ReasonRetriesExhausted, err)
		}
		return nil
	}
	w.shared.Stats.DirectoriesListed.Add(1)
	metrics.ObserveDirectory("listed")

	records := make([]crawler.FileRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.Name == "" || entry.Name == "." || entry.Name == ".." {
			continue
		}
		full := path.Join(dir, entry.Name)
		switch entry.Type {
		case crawler.EntryDir:
			w.shared.Frontier.Push(crawler.DirectoryTask(full))
		case crawler.EntryFile:
			if !legalPath(full) {
				w.shared.Failures.AddGroup(full, crawler.ReasonIllegalChar)
				continue
			}
			records = append(records, crawler.FileRecord{
				Path:       full,
				Size:       entry.Size,
				Extension:  Extension(entry.Name),
				SourceKind: w.cfg.SourceKind,
			})
		default:
			w.logger.Warn("skipping entry of unknown type",
				zap.String("path", full),
				zap.String("type", string(entry.Type)),
			)
		}
	}
	if len(records) == 0 {
		return nil
	}

	families, err := w.grouper.Group(records)
	if err != nil {
		w.logger.Error("grouping failed", zap.String("dir", dir), zap.Error(err))
		for _, rec := range records {
			w.shared.Failures.AddGroup(rec.Path, crawler.ReasonGrouperError)
		}
		return nil
	}
	for _, family := range families {
		w.enqueueFamily(family)
	}
	return nil
}

// list calls the ListingClient, retrying transient failures per the retry
// policy. Each attempt starts from scratch, so a retried listing never
// duplicates entries.
func (w *Worker) list(ctx context.Context, dir string) ([]crawler.Entry, error) {
	start := time.Now()
	for attempt := 0; ; attempt++ {
		entries, err := w.listing.List(ctx, dir)
		if err == nil {
			return entries, nil
		}
		if classify(ctx, err) != crawler.KindTransient {
			return nil, err
		}
		if !w.retry.ShouldRetry(attempt+1, time.Since(start)) {
			return nil, fmt.Errorf("%w after %d attempt(s): %w", errRetriesExhausted, attempt+1, err)
		}
		w.shared.Stats.ListingRetries.Add(1)
		metrics.ObserveListingRetry()
		w.logger.Warn("transient listing error; retrying",
			zap.String("dir", dir),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if !sleep(ctx, w.retry.Backoff(attempt)) {
			return nil, fmt.Errorf("list %s: %w", dir, ctx.Err())
		}
	}
}

func (w *Worker) abandon(dir, reason string, err error) {
	w.shared.Failures.AddDirectory(dir, reason)
	w.shared.Stats.DirectoriesFailed.Add(1)
	metrics.ObserveDirectory(reason)
	w.logger.Error("abandoning directory",
		zap.String("dir", dir),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func (w *Worker) enqueueFamily(family crawler.Family) {
	family.BaseURL = w.cfg.BaseURL
	groups := make([]crawler.Group, 0, len(family.Groups))
	tracked := make(map[string]struct{}, len(family.Files))
	var files, bytes int64
	byCategory := make(map[string]int64)
	for _, group := range family.Groups {
		if missing := missingFiles(group, family.Files); len(missing) > 0 {
			for _, p := range missing {
				w.shared.Failures.AddGroup(p, crawler.ReasonUnknownFile)
			}
			w.logger.Warn("dropping group referencing unknown files",
				zap.String("parser", group.ParserID),
				zap.Strings("missing", missing),
			)
			continue
		}
		groups = append(groups, group)
		metrics.ObserveGroup(group.ParserID)
		for _, p := range group.Files {
			if _, seen := tracked[p]; seen {
				continue
			}
			tracked[p] = struct{}{}
			f := family.Files[p]
			files++
			bytes += f.Size
			byCategory[grouper.Category(f.Extension)] += f.Size
		}
	}
	family.Groups = groups
	if len(family.Files) == 0 {
		return
	}

	body, err := json.Marshal(family)
	if err != nil {
		w.logger.Error("marshal family failed", zap.Error(err))
		for p := range family.Files {
			w.shared.Failures.AddGroup(p, crawler.ReasonGrouperError)
		}
		return
	}

	w.shared.Stats.GroupsCrawled.Add(int64(len(groups)))
	w.shared.Stats.FilesCrawled.Add(files)
	w.shared.Stats.BytesCrawled.Add(bytes)
	w.shared.Stats.FamiliesQueued.Add(1)
	metrics.ObserveFamily(files, byCategory)

	w.shared.Outbound.Push(crawler.OutboundItem{
		ID:     w.shared.IDs.Next(),
		Body:   body,
		Groups: len(groups),
	})
}

// classify treats a deadline raised inside the listing client as transient;
// only cancellation of the crawl itself counts as canceled.
func classify(ctx context.Context, err error) crawler.ErrorKind {
	kind := crawler.KindOf(err)
	if kind == crawler.KindCanceled && ctx.Err() == nil {
		return crawler.KindTransient
	}
	return kind
}

func missingFiles(group crawler.Group, files map[string]crawler.FileRecord) []string {
	var missing []string
	for _, p := range group.Files {
		if _, ok := files[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// Extension returns the text after the last dot of the final path element,
// or "" when the name has no dot.
func Extension(name string) string {
	base := name
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	i := strings.LastIndex(base, ".")
	if i < 0 {
		return ""
	}
	return base[i+1:]
}

func legalPath(p string) bool {
	if !utf8.ValidString(p) {
		return false
	}
	for _, r := range p {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
