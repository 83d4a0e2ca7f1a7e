package sync

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/clc2salesforce/AbsorbSync/pkg/api"
	"github.com/clc2salesforce/AbsorbSync/pkg/config"
	"github.com/clc2salesforce/AbsorbSync/pkg/ledger"
	"github.com/clc2salesforce/AbsorbSync/pkg/logger"
	"github.com/clc2salesforce/AbsorbSync/pkg/record"
)

// ErrCancelled is returned when the operator declines the confirmation
// prompt before any mutation
var ErrCancelled = errors.New("update cancelled by user")

// Client is the remote API surface the sync engine needs.
// *api.Client satisfies it.
type Client interface {
	FetchUsers(ctx context.Context, opts api.FetchOptions, handler api.PageHandler) error
	UpdateUser(ctx context.Context, user record.Record, destPath, value string) error
}

// Counts summarizes a run. Skipped covers both conflicting destination
// values and source values that failed format validation.
type Counts struct {
	Success   int
	Errors    int
	Skipped   int
	Processed int
}

// Syncer drives the end-to-end sync workflow: fetch or reuse the
// ledger, determine remaining work, confirm, dispatch rows to workers,
// merge the progress journal and report.
type Syncer struct {
	config  *config.Config
	client  Client
	log     *logger.Logger
	confirm io.Reader
	runID   string
}

// New creates a new Syncer
func New(cfg *config.Config, client Client, log *logger.Logger) *Syncer {
	return &Syncer{
		config:  cfg,
		client:  client,
		log:     log,
		confirm: os.Stdin,
		runID:   uuid.NewString(),
	}
}

// SetConfirmInput overrides the reader used for the confirmation prompt
func (s *Syncer) SetConfirmInput(r io.Reader) {
	s.confirm = r
}

// Run executes the sync and returns the summary counts
func (s *Syncer) Run(ctx context.Context) (Counts, error) {
	s.log.Infof("Starting %s sync (run %s)...", s.config.SourceField, s.runID)

	if s.config.DryRun {
		s.log.Info("DRY RUN MODE - No changes will be made")
	}
	if s.config.FilterBlank {
		s.log.Infof("Filtering for users with null/empty %s field only", s.config.DestinationField)
	}
	if !s.config.Overwrite {
		s.log.Infof("Will skip users where %s doesn't match existing %s value (marked as 'Different')",
			s.config.SourceField, s.config.DestinationField)
	}

	// Fetch-or-Reuse
	if s.config.UseExistingFile {
		if _, err := os.Stat(s.config.CSVFile); err != nil {
			return Counts{}, fmt.Errorf("CSV file not found: %s", s.config.CSVFile)
		}
		s.log.Infof("Using existing CSV file: %s", s.config.CSVFile)
	} else {
		s.log.Info("Fetching users from Absorb LMS...")
		n, err := s.fetch(ctx)
		if err != nil {
			return Counts{}, err
		}
		if n == 0 {
			s.log.Warnf("No users with %s found. Exiting.", s.config.SourceField)
			return Counts{}, nil
		}
	}

	rows, _, err := ledger.Load(s.config.CSVFile)
	if err != nil {
		return Counts{}, err
	}

	journal := ledger.NewJournal(s.config.CSVFile)
	defer journal.Close()

	done, err := journal.Load()
	if err != nil {
		return Counts{}, err
	}

	// ComputeRemaining: exclude rows already terminal in the ledger or
	// in a journal left over from an interrupted run
	remaining := make([]ledger.Row, 0, len(rows))
	for _, row := range rows {
		if row.Status.IsTerminal() {
			continue
		}
		if status, ok := done[row.ID]; ok && status.IsTerminal() {
			continue
		}
		remaining = append(remaining, row)
	}

	if len(remaining) == 0 {
		// A prior run may have crashed between journaling and merging
		if !s.config.DryRun {
			if err := s.merge(journal); err != nil {
				return Counts{}, err
			}
		}
		s.log.Infof("All %d users already processed. Nothing to do.", len(rows))
		counts := Counts{}
		s.report(counts)
		return counts, nil
	}

	// Confirm
	s.log.Info(strings.Repeat("=", 60))
	s.log.Infof("Ready to process %d users", len(remaining))
	s.log.Info(strings.Repeat("=", 60))

	if !s.config.DryRun && !s.confirmed(len(remaining)) {
		s.log.Info("Update cancelled by user")
		return Counts{}, ErrCancelled
	}

	// Process
	s.log.Info("Processing users...")
	counts, err := s.process(ctx, remaining, journal)
	if err != nil {
		s.surfaceResumeState(journal)
		return counts, err
	}

	// Merge: journal entries become durable ledger state
	if !s.config.DryRun {
		if err := s.merge(journal); err != nil {
			s.surfaceResumeState(journal)
			return counts, err
		}
	}

	s.report(counts)
	return counts, nil
}

// process dispatches the remaining rows to a bounded pool of workers.
// Rows are grouped into batches purely to bound in-flight memory; batch
// boundaries carry no correctness meaning.
func (s *Syncer) process(ctx context.Context, rows []ledger.Row, journal *ledger.Journal) (Counts, error) {
	batchSize := s.config.Workers * 10
	if batchSize < 100 {
		batchSize = 100
	}

	var counts Counts
	var countsMu sync.Mutex

	for start := 0; start < len(rows); start += batchSize {
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		rowChan := make(chan ledger.Row)
		errChan := make(chan error, 1)
		var wg sync.WaitGroup

		for i := 0; i < s.config.Workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for row := range rowChan {
					delta, err := s.processRow(ctx, row, journal)
					if err != nil {
						select {
						case errChan <- err:
						default:
							// An error is already pending
						}
						continue
					}

					countsMu.Lock()
					counts.Success += delta.Success
					counts.Errors += delta.Errors
					counts.Skipped += delta.Skipped
					counts.Processed += delta.Processed
					countsMu.Unlock()
				}
			}()
		}

	dispatch:
		for _, row := range batch {
			select {
			case rowChan <- row:
			case <-ctx.Done():
				break dispatch
			}
		}
		close(rowChan)
		wg.Wait()

		select {
		case err := <-errChan:
			return counts, err
		default:
		}
	}

	return counts, ctx.Err()
}

// processRow applies the per-row policy and records the outcome. A
// returned error is run-fatal (journal write failure); row-level
// problems become terminal statuses instead.
func (s *Syncer) processRow(ctx context.Context, row ledger.Row, journal *ledger.Journal) (Counts, error) {
	delta := Counts{Processed: 1}

	rec, outcome := evaluate(row, s.config.Overwrite, s.config.AllowNonNumericSource)

	switch outcome {
	case OutcomeParseFailure:
		s.log.Errorf("Failed to parse user data for %s (ID: %s)", row.DisplayName, row.ID)
		delta.Errors++
		return delta, s.record(journal, row.ID, ledger.StatusFailure)

	case OutcomeDifferent:
		s.log.Infof("Skipping user %s (ID: %s) - %s: %s, current %s: %s (different values)",
			row.DisplayName, row.ID, s.config.SourceField, row.SourceValue,
			s.config.DestinationField, row.DestValue)
		delta.Skipped++
		return delta, s.record(journal, row.ID, ledger.StatusDifferent)

	case OutcomeWrongFormat:
		s.log.Warnf("Skipping user %s (ID: %s) - %s %q is not numeric",
			row.DisplayName, row.ID, s.config.SourceField, row.SourceValue)
		delta.Skipped++
		return delta, s.record(journal, row.ID, ledger.StatusWrongFormat)

	case OutcomeBlank:
		// Nothing to sync yet; the row stays non-terminal and is
		// picked up again once upstream data appears
		s.log.Debugf("User %s (ID: %s) has no %s yet", row.DisplayName, row.ID, s.config.SourceField)
		return delta, nil
	}

	s.log.Infof("Processing user %s (ID: %s) - %s: %s",
		row.DisplayName, row.ID, s.config.SourceField, row.SourceValue)

	if s.config.DryRun {
		s.log.Infof("[DRY RUN] Would update %s to: %s", s.config.DestinationField, row.SourceValue)
		delta.Success++
		return delta, nil
	}

	if err := s.client.UpdateUser(ctx, rec, s.config.DestinationField, row.SourceValue); err != nil {
		s.log.Errorf("Failed to update user %s: %v", row.DisplayName, err)
		delta.Errors++
		return delta, s.record(journal, row.ID, ledger.StatusFailure)
	}

	s.log.Infof("Successfully updated user %s", row.DisplayName)
	delta.Success++
	return delta, s.record(journal, row.ID, ledger.StatusSuccess)
}

// record appends a terminal outcome to the progress journal. Dry runs
// leave disk untouched.
func (s *Syncer) record(journal *ledger.Journal, id string, status ledger.Status) error {
	if s.config.DryRun {
		return nil
	}
	return journal.Append(id, status)
}

// merge folds the progress journal into the ledger
func (s *Syncer) merge(journal *ledger.Journal) error {
	if err := journal.Close(); err != nil {
		return err
	}

	merged, err := journal.MergeInto(s.config.CSVFile)
	if err != nil {
		return fmt.Errorf("failed to merge progress journal: %w", err)
	}
	if merged > 0 {
		s.log.Infof("Merged %d journal entries into %s", merged, s.config.CSVFile)
	}
	return nil
}

// confirmed asks the operator for an explicit yes before any mutation.
// A closed input stream counts as a decline.
func (s *Syncer) confirmed(count int) bool {
	fmt.Printf("\nDo you want to proceed with updating %d users? (yes/y/no): ", count)

	scanner := bufio.NewScanner(s.confirm)
	if !scanner.Scan() {
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "yes" || answer == "y"
}

// surfaceResumeState tells the operator where the durable state lives
// so an aborted run can be resumed
func (s *Syncer) surfaceResumeState(journal *ledger.Journal) {
	s.log.Errorf("Run aborted. Resume with --file %s (progress journal: %s)",
		s.config.CSVFile, journal.Path())
}

// report emits the summary counts
func (s *Syncer) report(counts Counts) {
	s.log.Info(strings.Repeat("=", 60))
	s.log.Info("Sync completed!")
	s.log.Infof("Total users processed: %d", counts.Processed)
	s.log.Infof("Successful updates: %d", counts.Success)
	s.log.Infof("Skipped (different or invalid values): %d", counts.Skipped)
	s.log.Infof("Errors: %d", counts.Errors)
	s.log.Info(strings.Repeat("=", 60))
}
