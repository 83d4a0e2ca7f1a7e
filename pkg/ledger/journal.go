package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync"
)

// JournalSuffix is appended to the ledger path to form the journal path
const JournalSuffix = ".progress"

// Journal is an append-only, crash-safe log of terminal row outcomes,
// kept separate from the ledger so worker progress survives a crash
// without rewriting the ledger row by row. Entries are two-column
// "id,status" lines with no header; the last entry for an id wins.
type Journal struct {
	path string

	mu   sync.Mutex
	file *os.File
	csv  *csv.Writer
}

// NewJournal creates a journal next to the given ledger path. The
// journal file itself is created lazily on first append.
func NewJournal(ledgerPath string) *Journal {
	return &Journal{path: ledgerPath + JournalSuffix}
}

// Path returns the journal file path
func (j *Journal) Path() string {
	return j.path
}

// Append durably records a terminal outcome for a row. It is safe for
// concurrent use: the append and flush happen under a mutex so worker
// goroutines never interleave a partial line.
func (j *Journal) Append(id string, status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open progress journal: %w", err)
		}
		j.file = f
		j.csv = csv.NewWriter(f)
	}

	if err := j.csv.Write([]string{id, string(status)}); err != nil {
		return fmt.Errorf("failed to append to progress journal: %w", err)
	}

	j.csv.Flush()
	if err := j.csv.Error(); err != nil {
		return fmt.Errorf("failed to flush progress journal: %w", err)
	}

	return j.file.Sync()
}

// Close closes the journal file handle, if one was opened
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	j.csv = nil
	return err
}

// Load replays all journal entries in file order, last write wins per
// id. A missing journal file yields an empty map.
func (j *Journal) Load() (map[string]Status, error) {
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Status{}, nil
		}
		return nil, fmt.Errorf("failed to open progress journal: %w", err)
	}
	defer f.Close()

	entries := make(map[string]Status)
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 2

	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read progress journal: %w", err)
		}
		entries[fields[0]] = Status(fields[1])
	}

	return entries, nil
}

// MergeInto folds journal entries into the ledger: every ledger row
// whose id appears in the journal gets its status overwritten, the
// ledger is atomically rewritten, and the journal file is deleted.
// Merging with a missing or empty journal is a no-op, so the merge is
// idempotent. Returns the number of rows whose status changed.
func (j *Journal) MergeInto(ledgerPath string) (int, error) {
	entries, err := j.Load()
	if err != nil {
		return 0, err
	}

	if len(entries) == 0 {
		// Nothing recorded; clean up an empty journal file if present
		if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("failed to remove progress journal: %w", err)
		}
		return 0, nil
	}

	rows, cols, err := Load(ledgerPath)
	if err != nil {
		return 0, err
	}

	merged := 0
	for i := range rows {
		if status, ok := entries[rows[i].ID]; ok && rows[i].Status != status {
			rows[i].Status = status
			merged++
		}
	}

	if err := Rewrite(ledgerPath, cols, rows); err != nil {
		return 0, err
	}

	// The journal is only discarded once its entries are durable in the
	// ledger
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return merged, fmt.Errorf("failed to remove progress journal: %w", err)
	}

	return merged, nil
}
