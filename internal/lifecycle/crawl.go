// Package lifecycle drives one crawl from queue provisioning through the
// crawl and commit pools to its persisted terminal status.
package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/family-crawler/internal/clock/system"
	"github.com/JakeFAU/family-crawler/internal/crawler"
	"github.com/JakeFAU/family-crawler/internal/dispatcher"
	"github.com/JakeFAU/family-crawler/internal/metrics"
	"github.com/JakeFAU/family-crawler/internal/progress"
	"github.com/JakeFAU/family-crawler/internal/publisher"
	"github.com/JakeFAU/family-crawler/internal/queue/memory"
	"github.com/JakeFAU/family-crawler/internal/worker"
)

// State is a crawl lifecycle state.
type State string

// Lifecycle states.
const (
	StateStarting   State = "STARTING"
	StateCrawling   State = "CRAWLING"
	StateCommitting State = "COMMITTING"
	StateSucceeded  State = "SUCCEEDED"
	StateFailed     State = "FAILED"
)

var transitions = map[State][]State{
	StateStarting:   {StateCrawling, StateFailed},
	StateCrawling:   {StateCommitting, StateFailed},
	StateCommitting: {StateSucceeded, StateFailed},
}

// Artifact names written under <prefix>/<crawl_id>/.
const (
	ArtifactFailedDirs   = "failed_dirs.json"
	ArtifactFailedGroups = "failed_groups.json"
	ArtifactDeadLetters  = "dead_letter.json"
)

// ErrInvalidTransition reports a state change the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

const persistTimeout = 10 * time.Second

// Config holds the per-crawl settings.
type Config struct {
	CrawlID    string
	RootPath   string
	BaseURL    string
	SourceKind string

	CrawlThreads       int
	CommitThreads      int
	BatchLimit         int
	MaxPublishAttempts int

	IdleBackoffMin time.Duration
	IdleBackoffMax time.Duration
	EmptySleep     time.Duration

	ArtifactPrefix    string
	HeartbeatInterval time.Duration
}

// Deps are the collaborators a crawl drives. Artifacts, Limiter, Retry,
// Clock and Events are optional.
type Deps struct {
	Listing   crawler.ListingClient
	Grouper   crawler.Grouper
	Queue     crawler.MessageQueue
	Registry  crawler.CrawlRegistry
	Artifacts crawler.BlobStore
	Limiter   publisher.Waiter
	Retry     *crawler.ExponentialRetryPolicy
	Clock     crawler.Clock
	Events    progress.Emitter
	Logger    *zap.Logger
}

// Transition is one entry of the lifecycle history.
type Transition struct {
	From State     `json:"from,omitempty"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// Snapshot is a point-in-time view of a crawl.
type Snapshot struct {
	CrawlID       string                `json:"crawl_id"`
	State         State                 `json:"state"`
	QueueID       string                `json:"queue_id,omitempty"`
	StartedOn     *time.Time            `json:"started_on,omitempty"`
	EndedOn       *time.Time            `json:"ended_on,omitempty"`
	History       []Transition          `json:"history"`
	Stats         crawler.StatsSnapshot `json:"stats"`
	FrontierDepth int                   `json:"frontier_depth"`
	OutboundDepth int                   `json:"outbound_depth"`
	CrawlIdle     int                   `json:"crawl_idle"`
	CommitIdle    int                   `json:"commit_idle"`
	Artifacts     map[string]string     `json:"artifacts,omitempty"`
	Error         string                `json:"error,omitempty"`
}

// Crawl is a single run of the crawler. It is not reusable.
type Crawl struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	stats    *crawler.Stats
	failures *crawler.FailureLog
	ids      *crawler.Sequence
	frontier *memory.Queue[crawler.DirectoryTask]
	outbound *memory.Queue[crawler.OutboundItem]

	mu          sync.Mutex
	state       State
	history     []Transition
	queueID     string
	startedOn   time.Time
	endedOn     time.Time
	inserted    bool
	crawlCoord  *dispatcher.Coordinator
	commitCoord *dispatcher.Coordinator
	artifacts   map[string]string
	runErr      error
	ran         bool

	artifactsOnce sync.Once
}

// New validates cfg and deps and returns a crawl in STARTING.
func New(cfg Config, deps Deps) (*Crawl, error) {
	if cfg.CrawlID == "" {
		return nil, errors.New("lifecycle: crawl id is required")
	}
	if cfg.RootPath == "" {
		return nil, errors.New("lifecycle: root path is required")
	}
	if deps.Listing == nil || deps.Grouper == nil || deps.Queue == nil || deps.Registry == nil {
		return nil, errors.New("lifecycle: listing, grouper, queue and registry are required")
	}
	if cfg.CrawlThreads <= 0 {
		cfg.CrawlThreads = 8
	}
	if cfg.CommitThreads <= 0 {
		cfg.CommitThreads = 10
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 10
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("crawl_id", cfg.CrawlID))

	c := &Crawl{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		stats:    &crawler.Stats{},
		failures: crawler.NewFailureLog(),
		ids:      &crawler.Sequence{},
		frontier: memory.NewQueue[crawler.DirectoryTask](),
		outbound: memory.NewQueue[crawler.OutboundItem](),
		state:    StateStarting,
	}
	c.history = []Transition{{To: StateStarting, At: deps.Clock.Now()}}
	metrics.SetCrawlState(stateLabel(StateStarting))
	return c, nil
}

// Run executes the crawl to a terminal state. It returns nil only when the
// crawl reaches SUCCEEDED. Run may be called once.
func (c *Crawl) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return errors.New("lifecycle: crawl already ran")
	}
	c.ran = true
	c.startedOn = c.deps.Clock.Now()
	c.mu.Unlock()

	queueID, err := c.deps.Queue.Provision(ctx, c.cfg.CrawlID)
	if err != nil {
		return c.fail(ctx, fmt.Errorf("provision queue: %w", err))
	}
	c.mu.Lock()
	c.queueID = queueID
	c.mu.Unlock()
	c.logger.Info("queue provisioned", zap.String("queue_id", queueID))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	commitCoord := dispatcher.NewCoordinator(c.cfg.CommitThreads, false,
		dispatcher.WithObserver(func(idle, _ int) { metrics.SetIdleWorkers("commit", idle) }))
	crawlCoord := dispatcher.NewCoordinator(c.cfg.CrawlThreads, true,
		dispatcher.WithObserver(func(idle, _ int) { metrics.SetIdleWorkers("crawl", idle) }))
	c.mu.Lock()
	c.commitCoord, c.crawlCoord = commitCoord, crawlCoord
	c.mu.Unlock()

	published := make(chan error, 1)
	go func() {
		published <- dispatcher.New(c.publishers(queueID, commitCoord)...).Run(runCtx)
	}()
	stopHeartbeat := c.startHeartbeat(runCtx)
	defer stopHeartbeat()

	if err := c.deps.Registry.Insert(ctx, crawler.CrawlRecord{
		CrawlID:   c.cfg.CrawlID,
		StartedOn: c.startedOn,
		Status:    crawler.CrawlStatusRunning,
	}); err != nil {
		cancel()
		<-published
		return c.fail(ctx, fmt.Errorf("insert crawl record: %w", err))
	}
	c.mu.Lock()
	c.inserted = true
	c.mu.Unlock()

	c.frontier.Push(crawler.DirectoryTask(c.cfg.RootPath))
	if err := c.transition(StateCrawling, ""); err != nil {
		cancel()
		<-published
		return c.fail(ctx, err)
	}

	crawlErr := dispatcher.New(c.workers(crawlCoord)...).Run(runCtx)
	if crawlErr == nil && ctx.Err() != nil {
		crawlErr = fmt.Errorf("crawl interrupted: %w", ctx.Err())
	}
	if crawlErr != nil {
		cancel()
		<-published
		return c.fail(ctx, crawlErr)
	}
	c.logger.Info("crawl pool finished", zap.Int("outbound", c.outbound.Len()))

	if err := c.transition(StateCommitting, ""); err != nil {
		cancel()
		<-published
		return c.fail(ctx, err)
	}
	commitCoord.Arm()
	pubErr := <-published
	if pubErr == nil && ctx.Err() != nil {
		pubErr = fmt.Errorf("commit interrupted: %w", ctx.Err())
	}
	if pubErr != nil {
		return c.fail(ctx, pubErr)
	}

	c.writeArtifacts(ctx)

	ended := c.deps.Clock.Now()
	if err := c.deps.Registry.Update(ctx, c.cfg.CrawlID, crawler.CrawlStatusComplete, ended); err != nil {
		return c.fail(ctx, fmt.Errorf("update crawl record: %w", err))
	}
	c.mu.Lock()
	c.endedOn = ended
	c.mu.Unlock()
	if err := c.transition(StateSucceeded, ""); err != nil {
		return err
	}
	snap := c.stats.Snapshot()
	c.logger.Info("crawl succeeded",
		zap.Int64("directories", snap.DirectoriesListed),
		zap.Int64("files", snap.FilesCrawled),
		zap.Int64("bytes", snap.BytesCrawled),
		zap.Int64("groups", snap.GroupsCrawled),
		zap.Int64("items_committed", snap.ItemsCommitted),
		zap.Int64("dead_lettered", snap.ItemsDeadLettered),
	)
	return nil
}

// State returns the current lifecycle state.
func (c *Crawl) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns the ordered transitions so far.
func (c *Crawl) History() []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transition(nil), c.history...)
}

// Stats returns the crawl's live counters.
func (c *Crawl) Stats() *crawler.Stats {
	return c.stats
}

// Failures returns the crawl's failure log.
func (c *Crawl) Failures() *crawler.FailureLog {
	return c.failures
}

// Snapshot returns a consistent view for status reporting.
func (c *Crawl) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		CrawlID:       c.cfg.CrawlID,
		State:         c.state,
		QueueID:       c.queueID,
		History:       append([]Transition(nil), c.history...),
		Stats:         c.stats.Snapshot(),
		FrontierDepth: c.frontier.Len(),
		OutboundDepth: c.outbound.Len(),
	}
	if !c.startedOn.IsZero() {
		started := c.startedOn
		snap.StartedOn = &started
	}
	if !c.endedOn.IsZero() {
		ended := c.endedOn
		snap.EndedOn = &ended
	}
	if c.crawlCoord != nil {
		snap.CrawlIdle = c.crawlCoord.IdleCount()
	}
	if c.commitCoord != nil {
		snap.CommitIdle = c.commitCoord.IdleCount()
	}
	if len(c.artifacts) > 0 {
		snap.Artifacts = make(map[string]string, len(c.artifacts))
		for k, v := range c.artifacts {
			snap.Artifacts[k] = v
		}
	}
	if c.runErr != nil {
		snap.Error = c.runErr.Error()
	}
	return snap
}

func (c *Crawl) workers(coord *dispatcher.Coordinator) []dispatcher.Runner {
	shared := worker.Shared{
		Frontier:    c.frontier,
		Outbound:    c.outbound,
		Coordinator: coord,
		Stats:       c.stats,
		Failures:    c.failures,
		IDs:         c.ids,
	}
	cfg := worker.Config{
		BaseURL:        c.cfg.BaseURL,
		SourceKind:     c.cfg.SourceKind,
		IdleBackoffMin: c.cfg.IdleBackoffMin,
		IdleBackoffMax: c.cfg.IdleBackoffMax,
	}
	runners := make([]dispatcher.Runner, 0, c.cfg.CrawlThreads)
	for id := 0; id < c.cfg.CrawlThreads; id++ {
		runners = append(runners, worker.New(id, c.deps.Listing, c.deps.Grouper, shared, c.deps.Retry, cfg,
			c.logger.Named("worker").With(zap.Int("worker", id))))
	}
	return runners
}

func (c *Crawl) publishers(queueID string, coord *dispatcher.Coordinator) []dispatcher.Runner {
	shared := publisher.Shared{
		Outbound:    c.outbound,
		Coordinator: coord,
		Stats:       c.stats,
		Failures:    c.failures,
	}
	cfg := publisher.Config{
		BatchLimit:  c.cfg.BatchLimit,
		MaxAttempts: c.cfg.MaxPublishAttempts,
		EmptySleep:  c.cfg.EmptySleep,
		Redelivery:  c.deps.Retry,
	}
	runners := make([]dispatcher.Runner, 0, c.cfg.CommitThreads)
	for id := 0; id < c.cfg.CommitThreads; id++ {
		runners = append(runners, publisher.New(id, c.deps.Queue, queueID, c.deps.Limiter, shared, cfg,
			c.logger.Named("publisher").With(zap.Int("publisher", id))))
	}
	return runners
}

func (c *Crawl) transition(to State, note string) error {
	c.mu.Lock()
	from := c.state
	if !allowed(from, to) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	c.state = to
	at := c.deps.Clock.Now()
	c.history = append(c.history, Transition{From: from, To: to, At: at, Note: note})
	c.mu.Unlock()

	metrics.SetCrawlState(stateLabel(to))
	c.logger.Info("crawl state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	c.emit(progress.Event{
		Stage: progress.StageTransition,
		TS:    at,
		From:  string(from),
		To:    string(to),
		Note:  note,
	})
	return nil
}

// fail drives the crawl to FAILED and persists the failed status on a
// context detached from ctx, since ctx may be the reason for failing.
func (c *Crawl) fail(ctx context.Context, cause error) error {
	c.mu.Lock()
	c.runErr = cause
	inserted := c.inserted
	c.mu.Unlock()

	c.logger.Error("crawl failed", zap.Error(cause))
	if err := c.transition(StateFailed, cause.Error()); err != nil {
		c.logger.Error("cannot mark crawl failed", zap.Error(err))
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	c.writeArtifacts(pctx)

	ended := c.deps.Clock.Now()
	c.mu.Lock()
	c.endedOn = ended
	started := c.startedOn
	c.mu.Unlock()

	var err error
	if inserted {
		err = c.deps.Registry.Update(pctx, c.cfg.CrawlID, crawler.CrawlStatusFailed, ended)
	} else {
		err = c.deps.Registry.Insert(pctx, crawler.CrawlRecord{
			CrawlID:   c.cfg.CrawlID,
			StartedOn: started,
			EndedOn:   &ended,
			Status:    crawler.CrawlStatusFailed,
		})
	}
	if err != nil {
		c.logger.Warn("persist failed status", zap.Error(err))
	}
	return cause
}

// writeArtifacts persists the failure documents at most once per crawl.
// Write errors are logged; they do not change the crawl outcome.
func (c *Crawl) writeArtifacts(ctx context.Context) {
	if c.deps.Artifacts == nil {
		return
	}
	c.artifactsOnce.Do(func() {
		docs := []struct {
			name string
			body any
		}{
			{ArtifactFailedDirs, c.failures.FailedDirsDocument()},
			{ArtifactFailedGroups, c.failures.FailedGroupsDocument()},
		}
		if dead := c.failures.DeadLetters(); len(dead) > 0 {
			docs = append(docs, struct {
				name string
				body any
			}{ArtifactDeadLetters, map[string][]string{"dead_letters": dead}})
		}
		written := make(map[string]string, len(docs))
		for _, doc := range docs {
			uri, err := c.putJSON(ctx, doc.name, doc.body)
			if err != nil {
				c.logger.Error("write artifact failed", zap.String("artifact", doc.name), zap.Error(err))
				continue
			}
			written[doc.name] = uri
		}
		c.mu.Lock()
		c.artifacts = written
		c.mu.Unlock()
	})
}

func (c *Crawl) putJSON(ctx context.Context, name string, body any) (string, error) {
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", name, err)
	}
	key := path.Join(c.cfg.ArtifactPrefix, c.cfg.CrawlID, name)
	uri, err := c.deps.Artifacts.PutObject(ctx, key, "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return uri, nil
}

func (c *Crawl) startHeartbeat(ctx context.Context) func() {
	if c.deps.Events == nil {
		return func() {}
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				c.emit(progress.Event{Stage: progress.StageHeartbeat, TS: c.deps.Clock.Now()})
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func (c *Crawl) emit(evt progress.Event) {
	if c.deps.Events == nil {
		return
	}
	evt.CrawlID = c.cfg.CrawlID
	evt.Stats = c.stats.Snapshot()
	evt.FrontierDepth = c.frontier.Len()
	evt.OutboundDepth = c.outbound.Len()
	c.deps.Events.Emit(evt)
}

func allowed(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func stateLabel(s State) string {
	switch s {
	case StateStarting:
		return "starting"
	case StateCrawling:
		return "crawling"
	case StateCommitting:
		return "committing"
	case StateSucceeded:
		return "succeeded"
	default:
		return "failed"
	}
}
