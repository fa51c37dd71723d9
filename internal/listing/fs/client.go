// Package fs implements a ListingClient over a local directory tree.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/family-crawler/internal/crawler"
)

// Client lists directories beneath Root. Crawl paths are slash-separated and
// resolved relative to Root.
type Client struct {
	root     string
	maxItems int
}

// Config configures the filesystem client. MaxEntries of zero means
// unlimited; larger directories fail as too large.
type Config struct {
	Root       string
	MaxEntries int
}

// New validates the root and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Root == "" {
		return nil, errors.New("fs listing root is required")
	}
	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}
	return &Client{root: abs, maxItems: cfg.MaxEntries}, nil
}

// List implements crawler.ListingClient.
func (c *Client) List(ctx context.Context, dir string) ([]crawler.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := c.resolve(dir)
	if err != nil {
		return nil, crawler.NewListingError(dir, crawler.KindRejected, fmt.Errorf("%w: %w", crawler.ErrRejected, err))
	}
	items, err := os.ReadDir(full)
	if err != nil {
		return nil, classify(dir, err)
	}
	if c.maxItems > 0 && len(items) > c.maxItems {
		return nil, crawler.NewListingError(dir, crawler.KindTooLarge,
			fmt.Errorf("%w: %d entries", crawler.ErrDirectoryTooLarge, len(items)))
	}

	entries := make([]crawler.Entry, 0, len(items))
	for _, item := range items {
		switch {
		case item.IsDir():
			entries = append(entries, crawler.Entry{Name: item.Name(), Type: crawler.EntryDir})
		case item.Type().IsRegular():
			info, err := item.Info()
			if err != nil {
				// Removed between ReadDir and Info.
				continue
			}
			entries = append(entries, crawler.Entry{Name: item.Name(), Type: crawler.EntryFile, Size: info.Size()})
		}
	}
	return entries, nil
}

func (c *Client) resolve(dir string) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(dir, "/"))
	full := filepath.Join(c.root, rel)
	if full != c.root && !strings.HasPrefix(full, c.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes root", dir)
	}
	return full, nil
}

func classify(dir string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return crawler.NewListingError(dir, crawler.KindRejected, fmt.Errorf("%w: %w", crawler.ErrRejected, err))
	default:
		return crawler.NewListingError(dir, crawler.KindTransient, fmt.Errorf("%w: %w", crawler.ErrTransient, err))
	}
}
