package crawler

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceUniqueUnderConcurrency(t *testing.T) {
	t.Parallel()

	var seq Sequence
	const n = 200
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- seq.Next()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, n)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
	assert.Contains(t, seen, "0")
	assert.Contains(t, seen, "199")
}

func TestStatsSnapshot(t *testing.T) {
	t.Parallel()

	var s Stats
	s.FilesCrawled.Add(3)
	s.BytesCrawled.Add(42)
	s.ItemsDeadLettered.Add(1)

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap.FilesCrawled)
	assert.Equal(t, int64(42), snap.BytesCrawled)
	assert.Equal(t, int64(1), snap.ItemsDeadLettered)
	assert.Zero(t, snap.BatchesPublished)
}

func TestFailureLogDocuments(t *testing.T) {
	t.Parallel()

	log := NewFailureLog()
	empty, err := json.Marshal(log.FailedDirsDocument())
	require.NoError(t, err)
	assert.JSONEq(t, `{"failed": []}`, string(empty))
	assert.Equal(t, map[string][]string{ReasonIllegalChar: {}}, log.FailedGroupsDocument())

	log.AddDirectory("/big", ReasonTooLarge)
	log.AddDirectory("/flaky", ReasonRetriesExhausted)
	log.AddGroup("/a/z.bin", ReasonUnknownFile)
	log.AddGroup("/a/b\x00.txt", ReasonIllegalChar)
	log.AddGroup("/a/a.bin", ReasonUnknownFile)
	log.AddDeadLetter("5")

	assert.Equal(t, []string{"/big", "/flaky"}, log.FailedDirsDocument().Failed)
	groups := log.FailedGroupsDocument()
	assert.Equal(t, []string{"/a/a.bin", "/a/z.bin"}, groups[ReasonUnknownFile])
	assert.Len(t, groups[ReasonIllegalChar], 1)
	assert.Equal(t, []string{"5"}, log.DeadLetters())

	dirs := log.Directories()
	dirs[0].Path = "mutated"
	assert.Equal(t, "/big", log.Directories()[0].Path, "accessors return copies")
}
