package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Columns holds the literal header names of the three configurable
// ledger columns. The Status, id and snapshot columns are fixed.
type Columns struct {
	Display string // Display-name column, e.g. "username"
	Source  string // Source-value column, e.g. "externalId"
	Dest    string // Destination-at-fetch-time column, e.g. "current_customFields_decimal1"
}

// NewColumns derives column names from the configured field paths.
// Dots are replaced with underscores to keep the CSV format flat.
func NewColumns(displayField, sourceField, destField string) Columns {
	return Columns{
		Display: flatten(displayField),
		Source:  flatten(sourceField),
		Dest:    "current_" + flatten(destField),
	}
}

// Header returns the full CSV header row
func (c Columns) Header() []string {
	return []string{"Status", "id", c.Display, c.Source, c.Dest, "user_data_json"}
}

// Row is one ledger entry: a single user record with its processing
// status, the values extracted at fetch time, and the full record
// snapshot needed for the eventual full-record PUT.
type Row struct {
	Status       Status
	ID           string
	DisplayName  string
	SourceValue  string
	DestValue    string
	SnapshotJSON string
}

func (r Row) fields() []string {
	return []string{string(r.Status), r.ID, r.DisplayName, r.SourceValue, r.DestValue, r.SnapshotJSON}
}

func rowFromFields(fields []string) Row {
	return Row{
		Status:       Status(fields[0]),
		ID:           fields[1],
		DisplayName:  fields[2],
		SourceValue:  fields[3],
		DestValue:    fields[4],
		SnapshotJSON: fields[5],
	}
}

// Writer appends rows to a new ledger file during the download phase
type Writer struct {
	file *os.File
	csv  *csv.Writer
}

// NewWriter creates the ledger file, truncating any previous content,
// and writes the header row.
func NewWriter(path string, cols Columns) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger file: %w", err)
	}

	w := &Writer{file: f, csv: csv.NewWriter(f)}
	if err := w.csv.Write(cols.Header()); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write ledger header: %w", err)
	}

	return w, nil
}

// Append writes one row. The row is not durable until Flush is called.
func (w *Writer) Append(row Row) error {
	if err := w.csv.Write(row.fields()); err != nil {
		return fmt.Errorf("failed to write ledger row: %w", err)
	}
	return nil
}

// Flush forces buffered rows to durable storage. Called after each
// downloaded page so a crash mid-fetch loses at most one page.
func (w *Writer) Flush() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("failed to flush ledger: %w", err)
	}
	return w.file.Sync()
}

// Close flushes and closes the ledger file
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Load reads the entire ledger in insertion order
func Load(path string) ([]Row, Columns, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Columns{}, fmt.Errorf("ledger file not found: %s", path)
		}
		return nil, Columns{}, fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, Columns{}, fmt.Errorf("failed to read ledger file: %w", err)
	}

	if len(records) == 0 {
		return nil, Columns{}, fmt.Errorf("ledger file %s is empty", path)
	}

	header := records[0]
	if len(header) != 6 || header[0] != "Status" || header[1] != "id" {
		return nil, Columns{}, fmt.Errorf("unexpected ledger header in %s: %v", path, header)
	}

	cols := Columns{Display: header[2], Source: header[3], Dest: header[4]}

	rows := make([]Row, 0, len(records)-1)
	for _, fields := range records[1:] {
		rows = append(rows, rowFromFields(fields))
	}

	return rows, cols, nil
}

// Rewrite atomically replaces the ledger with the given rows. The
// replacement is written to a temporary file in the same directory and
// swapped in with a rename, so the original file stays loadable at
// every instant.
func Rewrite(path string, cols Columns, rows []Row) error {
	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, fmt.Sprintf("%s.%s.tmp", filepath.Base(path), uuid.NewString()))

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary ledger file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(cols.Header()); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write ledger header: %w", err)
	}

	for _, row := range rows {
		if err := w.Write(row.fields()); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to write ledger row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to flush ledger: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync ledger: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary ledger file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}

	return nil
}

// flatten replaces path dots with underscores for use as a column name
func flatten(path string) string {
	return strings.ReplaceAll(path, ".", "_")
}
