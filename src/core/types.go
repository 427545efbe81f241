package core

import (
	"fmt"
	"strings"
	"time"
)

// PollutionType is the category a community report is filed under.
type PollutionType string

const (
	PollutionConstruction PollutionType = "Construction Dust"
	PollutionIndustrial   PollutionType = "Industrial Smoke"
	PollutionVehicular    PollutionType = "Vehicular Emissions"
	PollutionBiomass      PollutionType = "Biomass Burning"
	PollutionGarbage      PollutionType = "Garbage Burning"
	PollutionOther        PollutionType = "Other"
)

var pollutionTypes = []PollutionType{
	PollutionConstruction, PollutionIndustrial, PollutionVehicular,
	PollutionBiomass, PollutionGarbage, PollutionOther,
}

// ParsePollutionType matches case-insensitively against the known types.
func ParsePollutionType(s string) (PollutionType, error) {
	s = strings.TrimSpace(s)
	for _, pt := range pollutionTypes {
		if strings.EqualFold(string(pt), s) {
			return pt, nil
		}
	}
	return "", &ValidationError{Field: "pollution_type", Reason: fmt.Sprintf("unknown pollution type %q", s)}
}

// Valid reports whether pt is one of the recognised types.
func (pt PollutionType) Valid() bool {
	for _, known := range pollutionTypes {
		if pt == known {
			return true
		}
	}
	return false
}

// ReportStatus is the lifecycle state of a report.
type ReportStatus string

const (
	StatusPending  ReportStatus = "pending"
	StatusVerified ReportStatus = "verified"
	StatusRejected ReportStatus = "rejected"
)

// ParseReportStatus accepts a status name in any case.
func ParseReportStatus(s string) (ReportStatus, error) {
	switch st := ReportStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusVerified, StatusRejected:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown report status %q", s)}
}

// Terminal reports whether no further transition is allowed.
func (s ReportStatus) Terminal() bool {
	return s == StatusVerified || s == StatusRejected
}

// ActionType identifies a point-earning event.
type ActionType string

const (
	ActionReportSubmitted  ActionType = "report_submitted"
	ActionReportVerified   ActionType = "report_verified"
	ActionMilestoneReached ActionType = "milestone_reached"
)

// PolicyStatus is the lifecycle state of a government policy.
type PolicyStatus string

const (
	PolicyActive   PolicyStatus = "active"
	PolicySeasonal PolicyStatus = "seasonal"
	PolicyEnded    PolicyStatus = "ended"
)

// ParsePolicyStatus accepts the stored lowercase form or the display form.
func ParsePolicyStatus(s string) (PolicyStatus, error) {
	switch PolicyStatus(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyActive:
		return PolicyActive, nil
	case PolicySeasonal:
		return PolicySeasonal, nil
	case PolicyEnded:
		return PolicyEnded, nil
	}
	return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown policy status %q", s)}
}

// Location is where a report was observed.
type Location struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Place string  `json:"location"`
}

// Report is a citizen claim of observed pollution.
type Report struct {
	ID            uint64        `json:"id"`
	UserID        string        `json:"user_id"`
	UserName      string        `json:"user_name,omitempty"`
	Location      Location      `json:"location"`
	PollutionType PollutionType `json:"pollution_type"`
	Description   string        `json:"description"`
	ImageURL      string        `json:"image_url,omitempty"`
	Votes         int           `json:"votes"`
	Status        ReportStatus  `json:"status"`
	Version       uint64        `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Vote is one user's endorsement of a report.
type Vote struct {
	ReportID   uint64    `json:"report_id"`
	VoterID    string    `json:"voter_id"`
	Suspicious bool      `json:"suspicious"`
	CreatedAt  time.Time `json:"created_at"`
}

// VoteTally is the vote count of a report split by moderation flag.
type VoteTally struct {
	Total      int
	Suspicious int
}

// Clean is the number of votes not flagged as suspicious.
func (t VoteTally) Clean() int { return t.Total - t.Suspicious }

// ActivityRecord is an immutable ledger entry.
type ActivityRecord struct {
	ID        uint64     `json:"id"`
	UserID    string     `json:"user_id"`
	Action    ActionType `json:"action_type"`
	Points    int        `json:"points_earned"`
	Reference string     `json:"reference,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Transition is an audit entry for a report status change.
type Transition struct {
	ReportID  uint64       `json:"report_id"`
	From      ReportStatus `json:"from"`
	To        ReportStatus `json:"to"`
	Actor     string       `json:"actor"`
	Reason    string       `json:"reason,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// ReportUpdate is a compare-and-transition request on one report row. It is
// applied only when the stored version still equals ExpectedVersion; Credits
// and Transition are committed in the same unit.
type ReportUpdate struct {
	ReportID        uint64
	ExpectedVersion uint64
	Votes           int
	Status          ReportStatus
	Transition      *Transition
	Credits         []ActivityRecord
}

// Policy is a government air-quality intervention.
type Policy struct {
	ID                 uint64       `json:"id"`
	Name               string       `json:"policy_name"`
	Description        string       `json:"description,omitempty"`
	City               string       `json:"city,omitempty"`
	ImplementationDate time.Time    `json:"implementation_date"`
	ExpectedReduction  float64      `json:"expected_reduction"`
	ActualReduction    *float64     `json:"actual_reduction"`
	Status             PolicyStatus `json:"status"`
	EffectivenessScore *float64     `json:"effectiveness_score"`
	ImplementationCost float64      `json:"implementation_cost"`
	HealthcareSavings  float64      `json:"healthcare_savings"`
	CreatedAt          time.Time    `json:"created_at"`
}

// AQIReading is a telemetry sample supplied by the upstream ingester.
type AQIReading struct {
	ID        uint64    `json:"id"`
	City      string    `json:"city"`
	AQI       float64   `json:"aqi"`
	PM25      *float64  `json:"pm25,omitempty"`
	PM10      *float64  `json:"pm10,omitempty"`
	NO2       *float64  `json:"no2,omitempty"`
	SO2       *float64  `json:"so2,omitempty"`
	CO        *float64  `json:"co,omitempty"`
	O3        *float64  `json:"o3,omitempty"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// ReportOrder selects the sort order of ListReports.
type ReportOrder int

const (
	OrderNewest ReportOrder = iota
	// OrderMostVoted sorts by votes descending, then created_at descending.
	OrderMostVoted
)

// ReportFilter narrows ListReports. Zero values mean "any".
type ReportFilter struct {
	Status ReportStatus
	UserID string
	Limit  int
}

// PolicyFilter narrows ListPolicies. An empty Statuses matches every policy.
type PolicyFilter struct {
	Statuses []PolicyStatus
	City     string
}

// Matches reports whether p passes the filter.
func (f PolicyFilter) Matches(p Policy) bool {
	if f.City != "" && !strings.EqualFold(f.City, p.City) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if p.Status == s {
			return true
		}
	}
	return false
}

// UserTotal is a user's cumulative points and the time of the credit that
// brought them to that total.
type UserTotal struct {
	UserID    string
	Points    int
	ReachedAt time.Time
}

// Counts are system-wide totals.
type Counts struct {
	Readings        int64 `json:"total_aqi_readings"`
	Reports         int64 `json:"total_community_reports"`
	VerifiedReports int64 `json:"verified_reports"`
	Users           int64 `json:"total_users"`
	Policies        int64 `json:"total_policies"`
}

// Event is published after a lifecycle change commits.
type Event struct {
	Kind     string
	ReportID uint64
	UserID   string
	Status   ReportStatus
	Votes    int
	At       time.Time
}

const (
	EventReportSubmitted = "report.submitted"
	EventReportVoted     = "report.voted"
	EventReportVerified  = "report.verified"
	EventReportRejected  = "report.rejected"
)

// ReportRef is the activity reference for credits earned by a report. Stores
// stamp it on credits passed to InsertReport that carry no reference.
func ReportRef(reportID uint64) string {
	return fmt.Sprintf("report:%d", reportID)
}
