package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundUnwrapsToSentinel(t *testing.T) {
	err := fmt.Errorf("get: %w", &NotFoundError{Entity: "report", ID: "7"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualError(t, err, "get: report 7 not found")

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "report", nf.Entity)
}

func TestIsStorage(t *testing.T) {
	boom := errors.New("connection reset")
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", boom, false},
		{"fault", &StorageError{Op: "get report", Err: boom}, true},
		{"wrapped fault", fmt.Errorf("query: %w", &StorageError{Op: "counts", Err: boom}), true},
		{"not found", &StorageError{Op: "get", Err: ErrNotFound}, false},
		{"duplicate", &StorageError{Op: "insert", Err: ErrDuplicate}, false},
		{"conflict", &StorageError{Op: "update", Err: ErrVersionConflict}, false},
		{"validation", &ValidationError{Field: "lat", Reason: "bad"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsStorage(tc.err))
		})
	}
}

func TestStorageErrorUnwraps(t *testing.T) {
	boom := errors.New("disk full")
	err := &StorageError{Op: "insert vote", Err: boom}
	assert.ErrorIs(t, err, boom)
	assert.EqualError(t, err, "storage insert vote: disk full")
}

func TestErrorMessages(t *testing.T) {
	assert.EqualError(t, &ValidationError{Field: "lat", Reason: "required"}, "invalid lat: required")
	assert.EqualError(t, &DuplicateVoteError{ReportID: 3, VoterID: "ravi"}, "user ravi already voted on report 3")
	assert.EqualError(t, &SelfVoteError{ReportID: 3, UserID: "asha"}, "user asha cannot vote on own report 3")
	assert.EqualError(t, &ReportClosedError{ReportID: 3, Status: StatusRejected}, "report 3 is rejected")
	assert.EqualError(t, &IncompleteDataError{PolicyID: 2, Field: "actual_reduction"}, "policy 2: actual_reduction not recorded")
	assert.EqualError(t, &InvalidReadingError{Value: -4}, "invalid AQI reading -4")
}
