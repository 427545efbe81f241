package core

import (
	"errors"
	"fmt"
)

// Store sentinels. Adapters wrap these so callers can use errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("duplicate")
	ErrVersionConflict = errors.New("version conflict")
)

// ValidationError is a malformed, user-correctable submission.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DuplicateVoteError means the voter already endorsed the report.
type DuplicateVoteError struct {
	ReportID uint64
	VoterID  string
}

func (e *DuplicateVoteError) Error() string {
	return fmt.Sprintf("user %s already voted on report %d", e.VoterID, e.ReportID)
}

// SelfVoteError means the author tried to endorse their own report.
type SelfVoteError struct {
	ReportID uint64
	UserID   string
}

func (e *SelfVoteError) Error() string {
	return fmt.Sprintf("user %s cannot vote on own report %d", e.UserID, e.ReportID)
}

// ReportClosedError means the report is in a state that refuses the action.
type ReportClosedError struct {
	ReportID uint64
	Status   ReportStatus
}

func (e *ReportClosedError) Error() string {
	return fmt.Sprintf("report %d is %s", e.ReportID, e.Status)
}

// NotFoundError names the entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidPolicyError means the policy figures make a metric undefined.
type InvalidPolicyError struct {
	PolicyID uint64
	Field    string
	Reason   string
}

func (e *InvalidPolicyError) Error() string {
	return fmt.Sprintf("policy %d: invalid %s: %s", e.PolicyID, e.Field, e.Reason)
}

// IncompleteDataError means a figure required by a metric is not recorded yet.
type IncompleteDataError struct {
	PolicyID uint64
	Field    string
}

func (e *IncompleteDataError) Error() string {
	return fmt.Sprintf("policy %d: %s not recorded", e.PolicyID, e.Field)
}

// InvalidReadingError is an AQI value outside the classifiable domain.
type InvalidReadingError struct {
	Value float64
}

func (e *InvalidReadingError) Error() string {
	return fmt.Sprintf("invalid AQI reading %v", e.Value)
}

// StorageError is an infrastructure fault reported by a Store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorage reports whether err is an infrastructure fault worth retrying on
// a read path. Sentinel outcomes such as ErrNotFound are not faults.
func IsStorage(err error) bool {
	var se *StorageError
	if !errors.As(err, &se) {
		return false
	}
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrDuplicate) && !errors.Is(err, ErrVersionConflict)
}
