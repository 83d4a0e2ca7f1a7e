package sync

import (
	"strconv"

	"github.com/clc2salesforce/AbsorbSync/pkg/ledger"
	"github.com/clc2salesforce/AbsorbSync/pkg/record"
)

// Outcome is the result of evaluating the per-row policy
type Outcome int

const (
	// OutcomeUpdate means the row passed validation and the update
	// operation should run
	OutcomeUpdate Outcome = iota
	// OutcomeBlank means both source and destination are empty; the row
	// stays non-terminal and is retried on the next run, once upstream
	// data appears
	OutcomeBlank
	// OutcomeDifferent means the destination already holds unrelated or
	// conflicting data and overwrite is disabled
	OutcomeDifferent
	// OutcomeWrongFormat means the source value failed format validation
	OutcomeWrongFormat
	// OutcomeParseFailure means the stored record snapshot is malformed
	OutcomeParseFailure
)

// evaluate applies the per-row policy. It is a pure function of the row
// and the two flags; the returned record is the parsed snapshot, ready
// for the update operation when the outcome is OutcomeUpdate.
func evaluate(row ledger.Row, overwrite, allowNonNumericSource bool) (record.Record, Outcome) {
	rec, err := record.Parse([]byte(row.SnapshotJSON))
	if err != nil {
		return nil, OutcomeParseFailure
	}

	// An empty source with existing destination data means the record
	// already carries unrelated data; leave it alone. Checked before
	// format validation so such rows are never flagged WrongFormat.
	if row.SourceValue == "" {
		if row.DestValue != "" {
			return rec, OutcomeDifferent
		}
		return rec, OutcomeBlank
	}

	if !allowNonNumericSource && !allDigits(row.SourceValue) {
		return rec, OutcomeWrongFormat
	}

	// Compare as whole numbers: the destination is a decimal field, so
	// "100.0" and "100" are the same value
	if !overwrite {
		destInt, destOK := flooredInt(row.DestValue)
		srcInt, srcOK := flooredInt(row.SourceValue)
		if destOK && (!srcOK || destInt != srcInt) {
			return rec, OutcomeDifferent
		}
	}

	return rec, OutcomeUpdate
}

// allDigits reports whether s is non-empty and entirely decimal digits
func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// flooredInt parses a numeric string as an integer, flooring any
// decimal fraction. The second return is false when s is empty or not
// numeric.
func flooredInt(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}
