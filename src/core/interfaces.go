package core

import (
	"context"
	"time"
)

// Store is the durable storage the engine runs on. Implementations wrap
// infrastructure faults in *StorageError and report the sentinel errors
// ErrNotFound, ErrDuplicate and ErrVersionConflict via errors.Is.
type Store interface {
	// InsertReport persists r, assigning ID, Version and timestamps. Any
	// credits are appended in the same unit.
	InsertReport(ctx context.Context, r *Report, credits ...ActivityRecord) error
	GetReport(ctx context.Context, id uint64) (Report, error)
	// UpdateReport is the compare-and-transition primitive. It fails with
	// ErrVersionConflict when the row moved past u.ExpectedVersion.
	UpdateReport(ctx context.Context, u ReportUpdate) error
	ListReports(ctx context.Context, f ReportFilter, order ReportOrder) ([]Report, error)
	ListTransitions(ctx context.Context, reportID uint64) ([]Transition, error)

	// InsertVote fails with ErrDuplicate when (report, voter) exists.
	InsertVote(ctx context.Context, v Vote) error
	CountVotes(ctx context.Context, reportID uint64) (VoteTally, error)
	FlagVote(ctx context.Context, reportID uint64, voterID string, suspicious bool) error

	// InsertActivity fails with ErrDuplicate when (user, action, reference)
	// was already credited.
	InsertActivity(ctx context.Context, a *ActivityRecord) error
	SumPoints(ctx context.Context, userID string) (int, error)
	CountActivity(ctx context.Context, userID string, action ActionType) (int, error)
	ListActivity(ctx context.Context, userID string, limit int) ([]ActivityRecord, error)
	UserTotals(ctx context.Context) ([]UserTotal, error)

	GetPolicy(ctx context.Context, id uint64) (Policy, error)
	ListPolicies(ctx context.Context, f PolicyFilter) ([]Policy, error)
	SavePolicy(ctx context.Context, p *Policy) error

	LatestReading(ctx context.Context, city string) (AQIReading, error)
	// ListReadings returns city's readings taken at or after since, newest
	// first. limit <= 0 means no limit.
	ListReadings(ctx context.Context, city string, since time.Time, limit int) ([]AQIReading, error)
	Counts(ctx context.Context) (Counts, error)
	Ping(ctx context.Context) error
}

// Publisher fans lifecycle events out to other services.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
