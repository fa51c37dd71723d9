package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the listing and publishing taxonomy.
var (
	ErrTransient         = errors.New("transient remote error")
	ErrDirectoryTooLarge = errors.New("directory too large")
	ErrRejected          = errors.New("directory rejected")
	ErrAuthExpired       = errors.New("auth expired")
	ErrQueueTransport    = errors.New("queue transport error")
	ErrCrawlNotFound     = errors.New("crawl not found")
)

// ErrorKind classifies how a listing failure must be handled.
type ErrorKind int

// Listing error kinds.
const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindTooLarge
	KindRejected
	KindFatal
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTooLarge:
		return "too_large"
	case KindRejected:
		return "rejected"
	case KindFatal:
		return "fatal"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ListingError is returned by ListingClient implementations.
type ListingError struct {
	Path string
	Kind ErrorKind
	Err  error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("list %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *ListingError) Unwrap() error {
	return e.Err
}

// Is lets callers match a ListingError against the kind sentinels.
func (e *ListingError) Is(target error) bool {
	switch e.Kind {
	case KindTransient:
		return target == ErrTransient
	case KindTooLarge:
		return target == ErrDirectoryTooLarge
	case KindRejected:
		return target == ErrRejected
	case KindFatal:
		return target == ErrAuthExpired
	default:
		return false
	}
}

// NewListingError builds a ListingError of the given kind.
func NewListingError(path string, kind ErrorKind, err error) *ListingError {
	return &ListingError{Path: path, Kind: kind, Err: err}
}

// KindOf classifies an arbitrary error returned while listing. Unclassified
// errors are treated as transient, matching the remote service's habit of
// surfacing flaky failures without a code.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var le *ListingError
	if errors.As(err, &le) && le.Kind != KindUnknown {
		return le.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	switch {
	case errors.Is(err, ErrAuthExpired):
		return KindFatal
	case errors.Is(err, ErrDirectoryTooLarge):
		return KindTooLarge
	case errors.Is(err, ErrRejected):
		return KindRejected
	default:
		return KindTransient
	}
}

// BatchError reports which items of a SendBatch call were not delivered.
type BatchError struct {
	Failed []string
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("send batch: %d item(s) failed [%s]: %v", len(e.Failed), strings.Join(e.Failed, ","), e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Is matches ErrQueueTransport so callers can treat all batch errors alike.
func (e *BatchError) Is(target error) bool {
	return target == ErrQueueTransport
}
