// Package httpapi implements a ListingClient for a paginated JSON directory
// listing service authenticated with a bearer token.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/family-crawler/internal/crawler"
)

// Waiter paces outgoing requests.
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

// Config describes the listing endpoint.
type Config struct {
	BaseURL    string
	EndpointID string
	Token      string
	PageSize   int
	Timeout    time.Duration
}

// Client lists directories through the remote service.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter Waiter
	logger  *zap.Logger
}

type page struct {
	Data        []crawler.Entry `json:"DATA"`
	HasNextPage bool            `json:"has_next_page"`
}

// New builds a Client. limiter may be nil.
func New(cfg Config, httpClient *http.Client, limiter Waiter, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("listing base url is required")
	}
	if cfg.EndpointID == "" {
		return nil, errors.New("listing endpoint id is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: httpClient, limiter: limiter, logger: logger}, nil
}

// List implements crawler.ListingClient. It follows pagination until the
// service reports no further pages.
func (c *Client) List(ctx context.Context, dir string) ([]crawler.Entry, error) {
	var entries []crawler.Entry
	for offset := 0; ; {
		p, err := c.fetchPage(ctx, dir, offset)
		if err != nil {
			return nil, err
		}
		entries = append(entries, p.Data...)
		if !p.HasNextPage || len(p.Data) == 0 {
			return entries, nil
		}
		offset += len(p.Data)
	}
}

func (c *Client) fetchPage(ctx context.Context, dir string, offset int) (page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.cfg.EndpointID); err != nil {
			return page{}, err
		}
	}

	q := url.Values{}
	q.Set("path", dir)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))
	endpoint := fmt.Sprintf("%s/operation/endpoint/%s/ls?%s",
		c.cfg.BaseURL, url.PathEscape(c.cfg.EndpointID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return page{}, crawler.NewListingError(dir, crawler.KindRejected, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return page{}, fmt.Errorf("list %s: %w", dir, ctx.Err())
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return page{}, crawler.NewListingError(dir, crawler.KindTransient, fmt.Errorf("%w: %w", crawler.ErrTransient, err))
		}
		return page{}, crawler.NewListingError(dir, crawler.KindTransient, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close listing body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		// Drain a bounded prefix so the message survives in logs.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return page{}, classifyStatus(dir, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return page{}, crawler.NewListingError(dir, crawler.KindTransient, fmt.Errorf("decode listing: %w", err))
	}
	return p, nil
}

func classifyStatus(dir string, code int, body string) error {
	detail := fmt.Errorf("status %d: %s", code, body)
	switch {
	case code == http.StatusUnauthorized:
		return crawler.NewListingError(dir, crawler.KindFatal, fmt.Errorf("%w: %w", crawler.ErrAuthExpired, detail))
	case code == http.StatusBadGateway || code == http.StatusRequestEntityTooLarge:
		return crawler.NewListingError(dir, crawler.KindTooLarge, fmt.Errorf("%w: %w", crawler.ErrDirectoryTooLarge, detail))
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return crawler.NewListingError(dir, crawler.KindTransient, fmt.Errorf("%w: %w", crawler.ErrTransient, detail))
	default:
		return crawler.NewListingError(dir, crawler.KindRejected, fmt.Errorf("%w: %w", crawler.ErrRejected, detail))
	}
}
