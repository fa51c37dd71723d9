package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"listing transient", NewListingError("/a", KindTransient, errors.New("503")), KindTransient},
		{"listing too large", NewListingError("/a", KindTooLarge, ErrDirectoryTooLarge), KindTooLarge},
		{"wrapped listing", fmt.Errorf("outer: %w", NewListingError("/a", KindRejected, ErrRejected)), KindRejected},
		{"canceled", context.Canceled, KindCanceled},
		{"deadline", fmt.Errorf("list: %w", context.DeadlineExceeded), KindCanceled},
		{"auth sentinel", fmt.Errorf("token: %w", ErrAuthExpired), KindFatal},
		{"too large sentinel", ErrDirectoryTooLarge, KindTooLarge},
		{"rejected sentinel", ErrRejected, KindRejected},
		{"unclassified", errors.New("connection reset"), KindTransient},
		{"listing unknown kind falls through", NewListingError("/a", KindUnknown, ErrAuthExpired), KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestListingErrorMatchesSentinels(t *testing.T) {
	t.Parallel()

	err := NewListingError("/data", KindTooLarge, errors.New("10001 entries"))
	require.ErrorIs(t, err, ErrDirectoryTooLarge)
	assert.NotErrorIs(t, err, ErrTransient)
	assert.Equal(t, "list /data: too_large: 10001 entries", err.Error())

	var le *ListingError
	require.ErrorAs(t, fmt.Errorf("wrap: %w", err), &le)
	assert.Equal(t, "/data", le.Path)
}

func TestBatchError(t *testing.T) {
	t.Parallel()

	cause := errors.New("broker down")
	err := &BatchError{Failed: []string{"3", "7"}, Err: cause}
	assert.ErrorIs(t, err, ErrQueueTransport)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "2 item(s) failed [3,7]")
}

func TestErrorKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fatal", KindFatal.String())
	assert.Equal(t, "canceled", KindCanceled.String())
	assert.Equal(t, "unknown", ErrorKind(99).String())
}
