package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testColumns() Columns {
	return NewColumns("username", "externalId", "customFields.decimal1")
}

func writeTestLedger(t *testing.T, path string, rows []Row) {
	t.Helper()
	w, err := NewWriter(path, testColumns())
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, w.Append(row))
	}
	require.NoError(t, w.Close())
}

func TestNewColumns(t *testing.T) {
	cols := testColumns()

	assert.Equal(t, "username", cols.Display)
	assert.Equal(t, "externalId", cols.Source)
	assert.Equal(t, "current_customFields_decimal1", cols.Dest)
	assert.Equal(t,
		[]string{"Status", "id", "username", "externalId", "current_customFields_decimal1", "user_data_json"},
		cols.Header())
}

func TestWriteLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.csv")
	rows := []Row{
		{Status: StatusRetrieved, ID: "u1", DisplayName: "alice", SourceValue: "100", SnapshotJSON: `{"id":"u1"}`},
		{Status: StatusSuccess, ID: "u2", DisplayName: "bob", SourceValue: "200", DestValue: "150", SnapshotJSON: `{"id":"u2"}`},
	}
	writeTestLedger(t, path, rows)

	got, cols, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, testColumns(), cols)
	assert.Equal(t, rows, got)
}

func TestLoad_PreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.csv")
	var rows []Row
	for _, id := range []string{"z9", "a1", "m5"} {
		rows = append(rows, Row{Status: StatusRetrieved, ID: id, SnapshotJSON: "{}"})
	}
	writeTestLedger(t, path, rows)

	got, _, err := Load(path)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "z9", got[0].ID)
	assert.Equal(t, "a1", got[1].ID)
	assert.Equal(t, "m5", got[2].ID)
}

func TestLoad_MissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoad_BadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c\n"), 0o644))

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected ledger header")
}

func TestRewrite_Atomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.csv")
	rows := []Row{
		{Status: StatusRetrieved, ID: "u1", SnapshotJSON: "{}"},
		{Status: StatusRetrieved, ID: "u2", SnapshotJSON: "{}"},
	}
	writeTestLedger(t, path, rows)

	rows[0].Status = StatusSuccess
	require.NoError(t, Rewrite(path, testColumns(), rows))

	got, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got[0].Status)
	assert.Equal(t, StatusRetrieved, got[1].Status)

	// No temporary files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "users.csv", entries[0].Name())
}

func TestLedgerFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.csv")
	writeTestLedger(t, path, []Row{
		{Status: StatusRetrieved, ID: "u1", DisplayName: "alice", SourceValue: "100", SnapshotJSON: `{"id":"u1"}`},
		{Status: StatusSuccess, ID: "u2", DisplayName: "bob", SourceValue: "200", DestValue: "150", SnapshotJSON: `{"id":"u2"}`},
	})

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "ledger", data)
}
