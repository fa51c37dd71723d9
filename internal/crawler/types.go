package crawler

import (
	"time"
)

// DirectoryTask identifies a directory awaiting expansion.
type DirectoryTask string

// EntryType distinguishes listing rows.
type EntryType string

// Entry types returned by a ListingClient.
const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"
)

// Entry is a single row of a directory listing.
type Entry struct {
	Name string    `json:"name"`
	Type EntryType `json:"type"`
	Size int64     `json:"size"`
}

// FileRecord holds the metadata captured for one discovered file.
type FileRecord struct {
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	Extension  string `json:"extension,omitempty"`
	SourceKind string `json:"path_type"`
}

// Group is a related subset of a Family's files sharing a parser.
type Group struct {
	ParserID string   `json:"parser"`
	Files    []string `json:"files"`
}

// Family is the unit published downstream: a set of files plus the groups
// derived from them.
type Family struct {
	Files   map[string]FileRecord `json:"files"`
	Groups  []Group               `json:"groups"`
	BaseURL string                `json:"base_url"`
}

// OutboundItem is a serialized Family awaiting publication.
// Groups is the number of valid groups in the family, used for tallies.
type OutboundItem struct {
	ID       string `json:"id"`
	Body     []byte `json:"message_body"`
	Groups   int    `json:"-"`
	Attempts int    `json:"-"`
}

// WorkerState is the per-worker slot consulted by the idle consensus.
type WorkerState int

// Worker states. The zero value is StateStarting.
const (
	StateStarting WorkerState = iota
	StateActive
	StateIdle
)

func (s WorkerState) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StateIdle:
		return "IDLE"
	default:
		return "UNKNOWN"
	}
}

// CrawlStatus is the status persisted in the crawl registry.
type CrawlStatus string

// Crawl registry statuses.
const (
	CrawlStatusRunning  CrawlStatus = "running"
	CrawlStatusComplete CrawlStatus = "complete"
	CrawlStatusFailed   CrawlStatus = "failed"
)

// CrawlRecord is the persisted lifecycle anchor of a crawl.
type CrawlRecord struct {
	CrawlID   string      `json:"crawl_id"`
	StartedOn time.Time   `json:"started_on"`
	EndedOn   *time.Time  `json:"ended_on,omitempty"`
	Status    CrawlStatus `json:"status"`
}

// QueueName returns the per-crawl queue name.
func QueueName(crawlID string) string {
	return "crawl_" + crawlID
}
