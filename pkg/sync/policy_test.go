package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clc2salesforce/AbsorbSync/pkg/ledger"
)

func policyRow(source, dest string) ledger.Row {
	return ledger.Row{
		Status:       ledger.StatusRetrieved,
		ID:           "u1",
		DisplayName:  "alice",
		SourceValue:  source,
		DestValue:    dest,
		SnapshotJSON: `{"id":"u1"}`,
	}
}

func TestEvaluate_MalformedSnapshot(t *testing.T) {
	row := policyRow("100", "")
	row.SnapshotJSON = "{broken"

	_, outcome := evaluate(row, false, false)
	assert.Equal(t, OutcomeParseFailure, outcome)
}

func TestEvaluate_EmptySourceWithDestination(t *testing.T) {
	// Existing unrelated data wins over format validation: this must be
	// Different, never WrongFormat, whatever the non-numeric flag says
	for _, allowNonNumeric := range []bool{false, true} {
		_, outcome := evaluate(policyRow("", "999"), false, allowNonNumeric)
		assert.Equal(t, OutcomeDifferent, outcome)
	}
}

func TestEvaluate_BlankSourceAndDestination(t *testing.T) {
	_, outcome := evaluate(policyRow("", ""), false, false)
	assert.Equal(t, OutcomeBlank, outcome)
}

func TestEvaluate_NonNumericSource(t *testing.T) {
	_, outcome := evaluate(policyRow("ABC123", ""), false, false)
	assert.Equal(t, OutcomeWrongFormat, outcome)

	// Allowed through when the flag is set
	_, outcome = evaluate(policyRow("ABC123", ""), false, true)
	assert.Equal(t, OutcomeUpdate, outcome)
}

func TestEvaluate_ConflictingDestination(t *testing.T) {
	_, outcome := evaluate(policyRow("250", "999"), false, false)
	assert.Equal(t, OutcomeDifferent, outcome)
}

func TestEvaluate_MatchingDestination(t *testing.T) {
	// "100.0" and "100" are the same whole number
	_, outcome := evaluate(policyRow("100", "100.0"), false, false)
	assert.Equal(t, OutcomeUpdate, outcome)
}

func TestEvaluate_OverwriteBypassesConflict(t *testing.T) {
	_, outcome := evaluate(policyRow("250", "999"), true, false)
	assert.Equal(t, OutcomeUpdate, outcome)
}

func TestEvaluate_EmptyDestinationUpdates(t *testing.T) {
	rec, outcome := evaluate(policyRow("100", ""), false, false)
	require.NotNil(t, rec)
	assert.Equal(t, OutcomeUpdate, outcome)
	assert.Equal(t, "u1", rec.ID())
}

func TestAllDigits(t *testing.T) {
	assert.True(t, allDigits("0123456789"))
	assert.False(t, allDigits(""))
	assert.False(t, allDigits("12a"))
	assert.False(t, allDigits("12.5"))
	assert.False(t, allDigits("-12"))
}

func TestFlooredInt(t *testing.T) {
	n, ok := flooredInt("100.9")
	assert.True(t, ok)
	assert.Equal(t, int64(100), n)

	_, ok = flooredInt("")
	assert.False(t, ok)

	_, ok = flooredInt("abc")
	assert.False(t, ok)
}
