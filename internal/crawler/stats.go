package crawler

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
)

// Stats holds the crawl-wide counters. One Stats is owned by each crawl and
// shared by reference with its workers and publishers.
type Stats struct {
	DirectoriesListed atomic.Int64
	DirectoriesFailed atomic.Int64
	ListingRetries    atomic.Int64
	FamiliesQueued    atomic.Int64
	GroupsCrawled     atomic.Int64
	FilesCrawled      atomic.Int64
	BytesCrawled      atomic.Int64
	BatchesPublished  atomic.Int64
	BatchesFailed     atomic.Int64
	ItemsCommitted    atomic.Int64
	GroupsCommitted   atomic.Int64
	ItemsDeadLettered atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	DirectoriesListed int64 `json:"directories_listed"`
	DirectoriesFailed int64 `json:"directories_failed"`
	ListingRetries    int64 `json:"listing_retries"`
	FamiliesQueued    int64 `json:"families_queued"`
	GroupsCrawled     int64 `json:"groups_crawled"`
	FilesCrawled      int64 `json:"files_crawled"`
	BytesCrawled      int64 `json:"bytes_crawled"`
	BatchesPublished  int64 `json:"batches_published"`
	BatchesFailed     int64 `json:"batches_failed"`
	ItemsCommitted    int64 `json:"items_committed"`
	GroupsCommitted   int64 `json:"groups_committed"`
	ItemsDeadLettered int64 `json:"items_dead_lettered"`
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		DirectoriesListed: s.DirectoriesListed.Load(),
		DirectoriesFailed: s.DirectoriesFailed.Load(),
		ListingRetries:    s.ListingRetries.Load(),
		FamiliesQueued:    s.FamiliesQueued.Load(),
		GroupsCrawled:     s.GroupsCrawled.Load(),
		FilesCrawled:      s.FilesCrawled.Load(),
		BytesCrawled:      s.BytesCrawled.Load(),
		BatchesPublished:  s.BatchesPublished.Load(),
		BatchesFailed:     s.BatchesFailed.Load(),
		ItemsCommitted:    s.ItemsCommitted.Load(),
		GroupsCommitted:   s.GroupsCommitted.Load(),
		ItemsDeadLettered: s.ItemsDeadLettered.Load(),
	}
}

// Sequence hands out crawl-scoped monotonic ids.
type Sequence struct {
	next atomic.Int64
}

// Next returns the next id, starting at "0".
func (s *Sequence) Next() string {
	return strconv.FormatInt(s.next.Add(1)-1, 10)
}

// Failure reasons recorded in the FailureLog.
const (
	ReasonIllegalChar      = "illegal_char"
	ReasonUnknownFile      = "unknown_file"
	ReasonTooLarge         = "too_large"
	ReasonRejected         = "rejected"
	ReasonRetriesExhausted = "retries exhausted"
	ReasonGrouperError     = "grouper_error"
)

// Failure is one (path, reason) pair.
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// FailureLog accumulates per-crawl failures. It is append-only and safe for
// concurrent use.
type FailureLog struct {
	mu          sync.Mutex
	directories []Failure
	groups      []Failure
	deadLetters []string
}

// NewFailureLog returns an empty FailureLog.
func NewFailureLog() *FailureLog {
	return &FailureLog{}
}

// AddDirectory records a directory that could not be expanded.
func (l *FailureLog) AddDirectory(path, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.directories = append(l.directories, Failure{Path: path, Reason: reason})
}

// AddGroup records a file path excluded from grouping.
func (l *FailureLog) AddGroup(path, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.groups = append(l.groups, Failure{Path: path, Reason: reason})
}

// AddDeadLetter records an outbound item id that exhausted its publish attempts.
func (l *FailureLog) AddDeadLetter(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deadLetters = append(l.deadLetters, id)
}

// Directories returns a copy of the failed directories.
func (l *FailureLog) Directories() []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Failure(nil), l.directories...)
}

// Groups returns a copy of the failed group paths.
func (l *FailureLog) Groups() []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Failure(nil), l.groups...)
}

// DeadLetters returns a copy of the dead-lettered ids.
func (l *FailureLog) DeadLetters() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.deadLetters...)
}

// FailedDirsDocument is the persisted shape of failed_dirs.json.
type FailedDirsDocument struct {
	Failed []string `json:"failed"`
}

// FailedDirsDocument renders the failed directories artifact.
func (l *FailureLog) FailedDirsDocument() FailedDirsDocument {
	doc := FailedDirsDocument{Failed: []string{}}
	for _, f := range l.Directories() {
		doc.Failed = append(doc.Failed, f.Path)
	}
	return doc
}

// FailedGroupsDocument renders failed_groups.json: paths keyed by reason.
// The illegal_char key is always present.
func (l *FailureLog) FailedGroupsDocument() map[string][]string {
	doc := map[string][]string{ReasonIllegalChar: {}}
	for _, f := range l.Groups() {
		doc[f.Reason] = append(doc[f.Reason], f.Path)
	}
	for reason := range doc {
		sort.Strings(doc[reason])
	}
	return doc
}
