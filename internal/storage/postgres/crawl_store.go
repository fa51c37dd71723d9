// Package postgres provides the Postgres-backed crawl registry.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/family-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// CrawlStoreConfig controls the Postgres connection pool used for crawl rows.
type CrawlStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// CrawlStore persists CrawlRecords.
type CrawlStore struct {
	pool  execCloser
	table string
}

// NewCrawlStore creates a Postgres-backed CrawlStore using the provided config.
func NewCrawlStore(ctx context.Context, cfg CrawlStoreConfig) (*CrawlStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("registry.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CrawlStore{pool: pool, table: table}, nil
}

// NewCrawlStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCrawlStoreWithPool(pool execCloser, table string) (*CrawlStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &CrawlStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "crawls"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *CrawlStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the crawl table when it does not exist.
func (s *CrawlStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	crawl_id   TEXT PRIMARY KEY,
	started_on TIMESTAMPTZ NOT NULL,
	ended_on   TIMESTAMPTZ,
	status     TEXT NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Insert writes a crawl row. EndedOn is set when the crawl failed before its
// first insert; a nil EndedOn is stored as NULL.
func (s *CrawlStore) Insert(ctx context.Context, record crawler.CrawlRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("crawl store is not configured")
	}
	if record.CrawlID == "" {
		return fmt.Errorf("crawl id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (crawl_id, started_on, ended_on, status)
VALUES ($1, $2, $3, $4)`, s.table)
	if _, err := s.pool.Exec(ctx, query, record.CrawlID, record.StartedOn, record.EndedOn, string(record.Status)); err != nil {
		return fmt.Errorf("insert crawl: %w", err)
	}
	return nil
}

// Update sets the terminal status and end time of a crawl.
func (s *CrawlStore) Update(ctx context.Context, crawlID string, status crawler.CrawlStatus, endedOn time.Time) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("crawl store is not configured")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $2, ended_on = $3
WHERE crawl_id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, crawlID, string(status), endedOn)
	if err != nil {
		return fmt.Errorf("update crawl: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update crawl %s: %w", crawlID, crawler.ErrCrawlNotFound)
	}
	return nil
}
