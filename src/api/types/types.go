package types

import (
	"time"

	"github.com/airsense-india/airsense/src/core"
)

// Citizen pollution reports
type CommunityReport struct {
	ID            uint64    `gorm:"primaryKey"`
	UserID        string    `gorm:"size:100;index;not null"`
	UserName      string    `gorm:"size:100"`
	Location      string    `gorm:"size:200;not null"`
	PollutionType string    `gorm:"size:50;index;not null"`
	Description   string    `gorm:"type:text"`
	ImageURL      string    `gorm:"size:500"`
	Lat           float64   `gorm:"not null"`
	Lng           float64   `gorm:"not null"`
	Verified      bool      `gorm:"default:false;index"`
	Votes         int       `gorm:"default:0;index"`
	Status        string    `gorm:"size:16;index;not null;default:pending"`
	Version       uint64    `gorm:"not null;default:1"`
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

func (CommunityReport) TableName() string { return "community_reports" }

// One vote per (report, voter)
type ReportVote struct {
	ID         uint64 `gorm:"primaryKey"`
	ReportID   uint64 `gorm:"not null;uniqueIndex:idx_vote_report_voter"`
	VoterID    string `gorm:"size:100;not null;uniqueIndex:idx_vote_report_voter"`
	Suspicious bool   `gorm:"default:false"`
	CreatedAt  time.Time
}

func (ReportVote) TableName() string { return "report_votes" }

// Append-only points ledger. A NULL reference opts out of the uniqueness
// constraint.
type UserActivity struct {
	ID           uint64    `gorm:"primaryKey"`
	UserID       string    `gorm:"size:100;not null;index;uniqueIndex:idx_activity_credit"`
	ActionType   string    `gorm:"size:50;not null;uniqueIndex:idx_activity_credit"`
	PointsEarned int       `gorm:"not null"`
	Reference    *string   `gorm:"size:100;uniqueIndex:idx_activity_credit"`
	CreatedAt    time.Time `gorm:"index"`
}

func (UserActivity) TableName() string { return "user_activity" }

// Audit trail of report status changes
type ReportTransition struct {
	ID         uint64 `gorm:"primaryKey"`
	ReportID   uint64 `gorm:"index;not null"`
	FromStatus string `gorm:"size:16;not null"`
	ToStatus   string `gorm:"size:16;not null"`
	Actor      string `gorm:"size:100;not null"`
	Reason     string `gorm:"size:500"`
	CreatedAt  time.Time
}

func (ReportTransition) TableName() string { return "report_transitions" }

// Government interventions
type Policy struct {
	ID                 uint64    `gorm:"primaryKey"`
	PolicyName         string    `gorm:"size:200;not null"`
	Description        string    `gorm:"type:text"`
	City               string    `gorm:"size:100;index"`
	ImplementationDate time.Time `gorm:"index"`
	ExpectedReduction  float64
	ActualReduction    *float64
	Status             string `gorm:"size:16;index;not null"`
	EffectivenessScore *float64
	ImplementationCost float64 `gorm:"default:0"`
	HealthcareSavings  float64 `gorm:"default:0"`
	CreatedAt          time.Time
}

func (Policy) TableName() string { return "policies" }

// Telemetry written by the ingester
type AQIReading struct {
	ID        uint64    `gorm:"primaryKey"`
	City      string    `gorm:"size:100;not null;index:idx_reading_city_ts"`
	AQI       float64   `gorm:"column:aqi;not null"`
	PM25      *float64  `gorm:"column:pm25"`
	PM10      *float64  `gorm:"column:pm10"`
	NO2       *float64  `gorm:"column:no2"`
	SO2       *float64  `gorm:"column:so2"`
	CO        *float64  `gorm:"column:co"`
	O3        *float64  `gorm:"column:o3"`
	Lat       float64   `gorm:"default:0"`
	Lng       float64   `gorm:"default:0"`
	Timestamp time.Time `gorm:"not null;index:idx_reading_city_ts"`
}

func (AQIReading) TableName() string { return "aqi_readings" }

// AllModels lists every table in dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&CommunityReport{}, &ReportVote{}, &UserActivity{},
		&ReportTransition{}, &Policy{}, &AQIReading{},
	}
}

// TableNames lists every table in drop order.
func TableNames() []string {
	return []string{
		"aqi_readings", "policies", "report_transitions",
		"user_activity", "report_votes", "community_reports",
	}
}

func ReportRow(r core.Report) CommunityReport {
	return CommunityReport{
		ID:            r.ID,
		UserID:        r.UserID,
		UserName:      r.UserName,
		Location:      r.Location.Place,
		PollutionType: string(r.PollutionType),
		Description:   r.Description,
		ImageURL:      r.ImageURL,
		Lat:           r.Location.Lat,
		Lng:           r.Location.Lng,
		Verified:      r.Status == core.StatusVerified,
		Votes:         r.Votes,
		Status:        string(r.Status),
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (c CommunityReport) Core() core.Report {
	return core.Report{
		ID:            c.ID,
		UserID:        c.UserID,
		UserName:      c.UserName,
		Location:      core.Location{Lat: c.Lat, Lng: c.Lng, Place: c.Location},
		PollutionType: core.PollutionType(c.PollutionType),
		Description:   c.Description,
		ImageURL:      c.ImageURL,
		Votes:         c.Votes,
		Status:        core.ReportStatus(c.Status),
		Version:       c.Version,
		CreatedAt:     c.CreatedAt.UTC(),
		UpdatedAt:     c.UpdatedAt.UTC(),
	}
}

func ActivityRow(a core.ActivityRecord) UserActivity {
	row := UserActivity{
		ID:           a.ID,
		UserID:       a.UserID,
		ActionType:   string(a.Action),
		PointsEarned: a.Points,
		CreatedAt:    a.CreatedAt,
	}
	if a.Reference != "" {
		ref := a.Reference
		row.Reference = &ref
	}
	return row
}

func (u UserActivity) Core() core.ActivityRecord {
	a := core.ActivityRecord{
		ID:        u.ID,
		UserID:    u.UserID,
		Action:    core.ActionType(u.ActionType),
		Points:    u.PointsEarned,
		CreatedAt: u.CreatedAt.UTC(),
	}
	if u.Reference != nil {
		a.Reference = *u.Reference
	}
	return a
}

func TransitionRow(t core.Transition) ReportTransition {
	return ReportTransition{
		ReportID:   t.ReportID,
		FromStatus: string(t.From),
		ToStatus:   string(t.To),
		Actor:      t.Actor,
		Reason:     t.Reason,
		CreatedAt:  t.CreatedAt,
	}
}

func (t ReportTransition) Core() core.Transition {
	return core.Transition{
		ReportID:  t.ReportID,
		From:      core.ReportStatus(t.FromStatus),
		To:        core.ReportStatus(t.ToStatus),
		Actor:     t.Actor,
		Reason:    t.Reason,
		CreatedAt: t.CreatedAt.UTC(),
	}
}

func PolicyRow(p core.Policy) Policy {
	return Policy{
		ID:                 p.ID,
		PolicyName:         p.Name,
		Description:        p.Description,
		City:               p.City,
		ImplementationDate: p.ImplementationDate,
		ExpectedReduction:  p.ExpectedReduction,
		ActualReduction:    p.ActualReduction,
		Status:             string(p.Status),
		EffectivenessScore: p.EffectivenessScore,
		ImplementationCost: p.ImplementationCost,
		HealthcareSavings:  p.HealthcareSavings,
		CreatedAt:          p.CreatedAt,
	}
}

func (p Policy) Core() core.Policy {
	return core.Policy{
		ID:                 p.ID,
		Name:               p.PolicyName,
		Description:        p.Description,
		City:               p.City,
		ImplementationDate: p.ImplementationDate.UTC(),
		ExpectedReduction:  p.ExpectedReduction,
		ActualReduction:    p.ActualReduction,
		Status:             core.PolicyStatus(p.Status),
		EffectivenessScore: p.EffectivenessScore,
		ImplementationCost: p.ImplementationCost,
		HealthcareSavings:  p.HealthcareSavings,
		CreatedAt:          p.CreatedAt.UTC(),
	}
}

func ReadingRow(r core.AQIReading) AQIReading {
	return AQIReading{
		ID: r.ID, City: r.City, AQI: r.AQI,
		PM25: r.PM25, PM10: r.PM10, NO2: r.NO2, SO2: r.SO2, CO: r.CO, O3: r.O3,
		Lat: r.Lat, Lng: r.Lng, Timestamp: r.Timestamp,
	}
}

func (r AQIReading) Core() core.AQIReading {
	return core.AQIReading{
		ID: r.ID, City: r.City, AQI: r.AQI,
		PM25: r.PM25, PM10: r.PM10, NO2: r.NO2, SO2: r.SO2, CO: r.CO, O3: r.O3,
		Lat: r.Lat, Lng: r.Lng, Timestamp: r.Timestamp.UTC(),
	}
}
