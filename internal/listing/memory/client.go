// Package memory provides an in-memory ListingClient backed by a static tree.
package memory

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/family-crawler/internal/crawler"
)

// Client serves listings from an in-memory tree. Faults registered for a
// path are returned, in order, before the real listing.
type Client struct {
	mu      sync.Mutex
	entries map[string][]crawler.Entry
	faults  map[string][]error
	calls   map[string]int
}

// NewClient returns an empty tree containing only "/".
func NewClient() *Client {
	return &Client{
		entries: map[string][]crawler.Entry{"/": nil},
		faults:  make(map[string][]error),
		calls:   make(map[string]int),
	}
}

// AddFile registers a file, creating parent directories as needed.
func (c *Client) AddFile(p string, size int64) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	dir, name := path.Split(p)
	c.ensureDirLocked(clean(dir))
	c.entries[clean(dir)] = append(c.entries[clean(dir)], crawler.Entry{Name: name, Type: crawler.EntryFile, Size: size})
	return c
}

// AddDir registers an empty directory, creating parents as needed.
func (c *Client) AddDir(p string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureDirLocked(clean(p))
	return c
}

// Fail queues errs to be returned by successive List calls for p.
func (c *Client) Fail(p string, errs ...error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	c.faults[p] = append(c.faults[p], errs...)
	return c
}

// Calls returns how many times p was listed.
func (c *Client) Calls(p string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[clean(p)]
}

// List implements crawler.ListingClient.
func (c *Client) List(ctx context.Context, p string) ([]crawler.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	c.calls[p]++
	if queued := c.faults[p]; len(queued) > 0 {
		c.faults[p] = queued[1:]
		return nil, queued[0]
	}
	entries, ok := c.entries[p]
	if !ok {
		return nil, crawler.NewListingError(p, crawler.KindRejected, crawler.ErrRejected)
	}
	out := make([]crawler.Entry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *Client) ensureDirLocked(p string) {
	if _, ok := c.entries[p]; ok {
		return
	}
	c.entries[p] = nil
	parent, name := path.Split(p)
	parent = clean(parent)
	c.ensureDirLocked(parent)
	c.entries[parent] = append(c.entries[parent], crawler.Entry{Name: name, Type: crawler.EntryDir})
}

func clean(p string) string {
	p = path.Clean("/" + strings.TrimPrefix(p, "/"))
	return p
}
