package ledger

// Status tracks how far a ledger row has progressed.
// Retrieved is the initial, non-terminal state; every other status is
// terminal and halts further reprocessing of the row until the operator
// discards the ledger.
type Status string

const (
	// StatusRetrieved marks a freshly fetched row, not yet processed
	StatusRetrieved Status = "Retrieved"
	// StatusSuccess marks a row whose destination field was updated
	StatusSuccess Status = "Success"
	// StatusFailure marks a row whose update or snapshot parse failed
	StatusFailure Status = "Failure"
	// StatusDifferent marks a row skipped because the destination
	// already holds unrelated data and overwrite is disabled
	StatusDifferent Status = "Different"
	// StatusWrongFormat marks a row whose source value failed format
	// validation
	StatusWrongFormat Status = "WrongFormat"
)

// IsTerminal reports whether the status halts further reprocessing
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusDifferent, StatusWrongFormat:
		return true
	}
	return false
}
