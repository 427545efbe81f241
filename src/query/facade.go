package query

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/airsense-india/airsense/src/aqi"
	"github.com/airsense-india/airsense/src/core"
	"github.com/airsense-india/airsense/src/ledger"
	"github.com/airsense-india/airsense/src/policy"
	"github.com/airsense-india/airsense/src/webclient"
)

const (
	DefaultLeaderboardSize = 10
	MaxLeaderboardSize     = 100
	DefaultFeedLimit       = 50
	MaxFeedLimit           = 200
	DefaultHistoryDays     = 7
	MaxHistoryDays         = 90
	DefaultReadingLimit    = 100
	MaxReadingLimit        = 1000
	profileHistory         = 10

	// one retry after a storage fault
	readAttempts = 2
)

// Facade serves read-only views composed from the engine components.
type Facade struct {
	store      core.Store
	ledger     *ledger.Ledger
	retryDelay time.Duration
	now        func() time.Time
}

// New returns a façade. retryDelay is the pause before retrying a read that
// failed with a storage fault; zero selects 100ms.
func New(store core.Store, l *ledger.Ledger, retryDelay time.Duration) *Facade {
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}
	return &Facade{store: store, ledger: l, retryDelay: retryDelay, now: time.Now}
}

func read[T any](ctx context.Context, f *Facade, fn func() (T, error)) (T, error) {
	var out T
	err := webclient.Retry(ctx, readAttempts, f.retryDelay, core.IsStorage, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func clamp(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank      int       `json:"rank"`
	UserID    string    `json:"user_id"`
	Points    int       `json:"total_points"`
	Level     int       `json:"level"`
	ReachedAt time.Time `json:"reached_at"`
}

// RankTotals orders users by points descending; equal scores rank the user
// who reached the score first higher, then by user id.
func RankTotals(totals []core.UserTotal) []core.UserTotal {
	out := append([]core.UserTotal(nil), totals...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if !a.ReachedAt.Equal(b.ReachedAt) {
			return a.ReachedAt.Before(b.ReachedAt)
		}
		return a.UserID < b.UserID
	})
	return out
}

// Leaderboard returns the topN users by score.
func (f *Facade) Leaderboard(ctx context.Context, topN int) ([]LeaderboardEntry, error) {
	topN = clamp(topN, DefaultLeaderboardSize, MaxLeaderboardSize)
	totals, err := read(ctx, f, func() ([]core.UserTotal, error) { return f.store.UserTotals(ctx) })
	if err != nil {
		return nil, err
	}
	ranked := RankTotals(totals)
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	out := make([]LeaderboardEntry, 0, len(ranked))
	for i, t := range ranked {
		out = append(out, LeaderboardEntry{
			Rank:      i + 1,
			UserID:    t.UserID,
			Points:    t.Points,
			Level:     f.ledger.LevelFor(t.Points),
			ReachedAt: t.ReachedAt,
		})
	}
	return out, nil
}

// VerifiedFeed returns Verified reports, most voted first, newest first
// among equal votes.
func (f *Facade) VerifiedFeed(ctx context.Context, limit int) ([]core.Report, error) {
	limit = clamp(limit, DefaultFeedLimit, MaxFeedLimit)
	return read(ctx, f, func() ([]core.Report, error) {
		return f.store.ListReports(ctx, core.ReportFilter{Status: core.StatusVerified, Limit: limit}, core.OrderMostVoted)
	})
}

// ReportQuery narrows Reports. Empty fields match every report.
type ReportQuery struct {
	Status string
	UserID string
	Limit  int
}

// Reports lists reports newest first.
func (f *Facade) Reports(ctx context.Context, rq ReportQuery) ([]core.Report, error) {
	filter := core.ReportFilter{
		UserID: strings.TrimSpace(rq.UserID),
		Limit:  clamp(rq.Limit, DefaultFeedLimit, MaxFeedLimit),
	}
	if rq.Status != "" {
		st, err := core.ParseReportStatus(rq.Status)
		if err != nil {
			return nil, err
		}
		filter.Status = st
	}
	return read(ctx, f, func() ([]core.Report, error) {
		return f.store.ListReports(ctx, filter, core.OrderNewest)
	})
}

// PolicyDashboard returns Active and Seasonal policies with their metrics.
func (f *Facade) PolicyDashboard(ctx context.Context) ([]policy.Impact, error) {
	policies, err := read(ctx, f, func() ([]core.Policy, error) {
		return f.store.ListPolicies(ctx, core.PolicyFilter{
			Statuses: []core.PolicyStatus{core.PolicyActive, core.PolicySeasonal},
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]policy.Impact, 0, len(policies))
	for _, p := range policies {
		out = append(out, policy.Evaluate(p))
	}
	return out, nil
}

// Profile is a user's standing in the ledger.
type Profile struct {
	UserID           string                `json:"user_id"`
	TotalPoints      int                   `json:"total_points"`
	Level            int                   `json:"level"`
	PointsToNext     int                   `json:"points_to_next_level"`
	ReportsSubmitted int                   `json:"reports_submitted"`
	ReportsVerified  int                   `json:"reports_verified"`
	Milestones       int                   `json:"milestones"`
	RecentActivity   []core.ActivityRecord `json:"recent_activity"`
}

// Profile summarises one user.
func (f *Facade) Profile(ctx context.Context, userID string) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, &core.ValidationError{Field: "user_id", Reason: "required"}
	}
	p := Profile{UserID: userID}
	var err error
	if p.TotalPoints, err = read(ctx, f, func() (int, error) { return f.ledger.Score(ctx, userID) }); err != nil {
		return Profile{}, err
	}
	counts := []struct {
		action core.ActionType
		dst    *int
	}{
		{core.ActionReportSubmitted, &p.ReportsSubmitted},
		{core.ActionReportVerified, &p.ReportsVerified},
		{core.ActionMilestoneReached, &p.Milestones},
	}
	for _, c := range counts {
		n, err := read(ctx, f, func() (int, error) { return f.store.CountActivity(ctx, userID, c.action) })
		if err != nil {
			return Profile{}, err
		}
		*c.dst = n
	}
	p.RecentActivity, err = read(ctx, f, func() ([]core.ActivityRecord, error) {
		return f.ledger.History(ctx, userID, profileHistory)
	})
	if err != nil {
		return Profile{}, err
	}
	p.Level = f.ledger.LevelFor(p.TotalPoints)
	p.PointsToNext = (p.Level * f.ledger.LevelPoints()) - p.TotalPoints
	return p, nil
}

// Stats returns system-wide totals.
func (f *Facade) Stats(ctx context.Context) (core.Counts, error) {
	return read(ctx, f, func() (core.Counts, error) { return f.store.Counts(ctx) })
}

// AirQuality is the latest reading of a city with its classification.
type AirQuality struct {
	Reading  core.AQIReading `json:"reading"`
	Category aqi.Category    `json:"category"`
	Advisory string          `json:"health_advisory"`
}

// AirQuality classifies the most recent reading for city.
func (f *Facade) AirQuality(ctx context.Context, city string) (AirQuality, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return AirQuality{}, &core.ValidationError{Field: "city", Reason: "required"}
	}
	r, err := read(ctx, f, func() (core.AQIReading, error) { return f.store.LatestReading(ctx, city) })
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return AirQuality{}, &core.NotFoundError{Entity: "reading for city", ID: city}
		}
		return AirQuality{}, err
	}
	cat, err := aqi.Classify(r.AQI)
	if err != nil {
		return AirQuality{}, err
	}
	return AirQuality{Reading: r, Category: cat, Advisory: aqi.Advisory(r.AQI)}, nil
}

// ReadingHistory is a city's recent readings, newest first.
type ReadingHistory struct {
	City     string            `json:"city"`
	Days     int               `json:"days"`
	Since    time.Time         `json:"since"`
	Readings []core.AQIReading `json:"readings"`
	Count    int               `json:"count"`
	Average  *float64          `json:"average_aqi"`
	Peak     *float64          `json:"peak_aqi"`
}

// History returns the readings of the last days days for city, at most limit.
func (f *Facade) History(ctx context.Context, city string, days, limit int) (ReadingHistory, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return ReadingHistory{}, &core.ValidationError{Field: "city", Reason: "required"}
	}
	if days < 0 {
		return ReadingHistory{}, &core.ValidationError{Field: "days", Reason: "must not be negative"}
	}
	days = clamp(days, DefaultHistoryDays, MaxHistoryDays)
	limit = clamp(limit, DefaultReadingLimit, MaxReadingLimit)
	since := f.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	readings, err := read(ctx, f, func() ([]core.AQIReading, error) {
		return f.store.ListReadings(ctx, city, since, limit)
	})
	if err != nil {
		return ReadingHistory{}, err
	}
	h := ReadingHistory{City: city, Days: days, Since: since, Readings: readings, Count: len(readings)}
	if h.Readings == nil {
		h.Readings = []core.AQIReading{}
	}
	if len(readings) > 0 {
		sum, peak := 0.0, readings[0].AQI
		for _, r := range readings {
			sum += r.AQI
			peak = max(peak, r.AQI)
		}
		avg := sum / float64(len(readings))
		h.Average, h.Peak = &avg, &peak
	}
	return h, nil
}
