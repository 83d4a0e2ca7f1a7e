package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_AppendLoad(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "users.csv"))

	require.NoError(t, j.Append("u1", StatusSuccess))
	require.NoError(t, j.Append("u2", StatusDifferent))
	require.NoError(t, j.Close())

	entries, err := j.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]Status{"u1": StatusSuccess, "u2": StatusDifferent}, entries)
}

func TestJournal_LastWriteWins(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "users.csv"))

	// A failed attempt followed by a successful retry
	require.NoError(t, j.Append("u1", StatusFailure))
	require.NoError(t, j.Append("u1", StatusSuccess))
	require.NoError(t, j.Close())

	entries, err := j.Load()
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, entries["u1"])
}

func TestJournal_LoadMissingFile(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "users.csv"))

	entries, err := j.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJournal_ConcurrentAppends(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "users.csv"))

	var wg sync.WaitGroup
	for worker := 0; worker < 10; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				id := fmt.Sprintf("w%d-r%d", worker, i)
				assert.NoError(t, j.Append(id, StatusSuccess))
			}
		}(worker)
	}
	wg.Wait()
	require.NoError(t, j.Close())

	entries, err := j.Load()
	require.NoError(t, err)
	assert.Len(t, entries, 200, "no appends lost or interleaved")
}

func TestJournal_MergeInto(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.csv")
	writeTestLedger(t, path, []Row{
		{Status: StatusRetrieved, ID: "u1", SnapshotJSON: "{}"},
		{Status: StatusRetrieved, ID: "u2", SnapshotJSON: "{}"},
		{Status: StatusRetrieved, ID: "u3", SnapshotJSON: "{}"},
	})

	j := NewJournal(path)
	require.NoError(t, j.Append("u1", StatusSuccess))
	require.NoError(t, j.Append("u3", StatusWrongFormat))
	require.NoError(t, j.Close())

	merged, err := j.MergeInto(path)
	require.NoError(t, err)
	assert.Equal(t, 2, merged)

	rows, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rows[0].Status)
	assert.Equal(t, StatusRetrieved, rows[1].Status)
	assert.Equal(t, StatusWrongFormat, rows[2].Status)

	// The journal is deleted once its entries are durable
	_, err = os.Stat(j.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestJournal_MergeLastWriteWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.csv")
	writeTestLedger(t, path, []Row{
		{Status: StatusRetrieved, ID: "u1", SnapshotJSON: "{}"},
	})

	j := NewJournal(path)
	require.NoError(t, j.Append("u1", StatusFailure))
	require.NoError(t, j.Append("u1", StatusSuccess))
	require.NoError(t, j.Close())

	_, err := j.MergeInto(path)
	require.NoError(t, err)

	rows, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rows[0].Status)
}

func TestJournal_MergeIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.csv")
	writeTestLedger(t, path, []Row{
		{Status: StatusRetrieved, ID: "u1", SnapshotJSON: "{}"},
	})

	j := NewJournal(path)
	require.NoError(t, j.Append("u1", StatusSuccess))
	require.NoError(t, j.Close())

	merged, err := j.MergeInto(path)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// A second merge with the (now deleted) journal is a no-op
	merged, err = j.MergeInto(path)
	require.NoError(t, err)
	assert.Equal(t, 0, merged)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestJournal_MergeUnknownIDsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.csv")
	writeTestLedger(t, path, []Row{
		{Status: StatusRetrieved, ID: "u1", SnapshotJSON: "{}"},
	})

	j := NewJournal(path)
	require.NoError(t, j.Append("ghost", StatusSuccess))
	require.NoError(t, j.Close())

	merged, err := j.MergeInto(path)
	require.NoError(t, err)
	assert.Equal(t, 0, merged)

	rows, _, err := Load(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusRetrieved, rows[0].Status)
}
