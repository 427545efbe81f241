package data

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/airsense-india/airsense/src/api/types"
	"github.com/airsense-india/airsense/src/core"
)

// Store is the relational core.Store. The report row's version column makes
// UpdateReport a compare-and-transition, so any number of instances can share
// one database.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB exposes the handle for migrations and seeding.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}

// fault wraps a driver error unless it already carries a store sentinel.
func fault(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrDuplicate) || errors.Is(err, core.ErrVersionConflict) {
		return err
	}
	var se *core.StorageError
	if errors.As(err, &se) {
		return err
	}
	return &core.StorageError{Op: op, Err: err}
}

func (s *Store) insertCredits(tx *gorm.DB, credits []core.ActivityRecord, at time.Time) error {
	for _, c := range credits {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = at
		}
		row := types.ActivityRow(c)
		if err := tx.Create(&row).Error; err != nil {
			if isDuplicate(err) {
				return fmt.Errorf("credit %s %s: %w", c.Action, c.Reference, core.ErrDuplicate)
			}
			return err
		}
	}
	return nil
}

func (s *Store) InsertReport(ctx context.Context, r *core.Report, credits ...core.ActivityRecord) error {
	now := s.stamp()
	row := types.ReportRow(*r)
	row.ID = 0
	row.Version = 1
	row.CreatedAt = now
	row.UpdatedAt = now
	if row.Status == "" {
		row.Status = string(core.StatusPending)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		stamped := make([]core.ActivityRecord, len(credits))
		for i, c := range credits {
			if c.Reference == "" {
				c.Reference = core.ReportRef(row.ID)
			}
			stamped[i] = c
		}
		return s.insertCredits(tx, stamped, now)
	})
	if err != nil {
		return fault("insert report", err)
	}
	*r = row.Core()
	return nil
}

func (s *Store) GetReport(ctx context.Context, id uint64) (core.Report, error) {
	var row types.CommunityReport
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.Report{}, fmt.Errorf("report %d: %w", id, core.ErrNotFound)
		}
		return core.Report{}, fault("get report", err)
	}
	return row.Core(), nil
}

func (s *Store) UpdateReport(ctx context.Context, u core.ReportUpdate) error {
	now := s.stamp()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&types.CommunityReport{}).
			Where("id = ? AND version = ?", u.ReportID, u.ExpectedVersion).
			Updates(map[string]interface{}{
				"votes":      u.Votes,
				"status":     string(u.Status),
				"verified":   u.Status == core.StatusVerified,
				"version":    gorm.Expr("version + 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&types.CommunityReport{}).Where("id = ?", u.ReportID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("report %d: %w", u.ReportID, core.ErrNotFound)
			}
			return fmt.Errorf("report %d version %d: %w", u.ReportID, u.ExpectedVersion, core.ErrVersionConflict)
		}
		if err := s.insertCredits(tx, u.Credits, now); err != nil {
			return err
		}
		if u.Transition != nil {
			t := *u.Transition
			if t.CreatedAt.IsZero() {
				t.CreatedAt = now
			}
			row := types.TransitionRow(t)
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return fault("update report", err)
}

func (s *Store) ListReports(ctx context.Context, f core.ReportFilter, order core.ReportOrder) ([]core.Report, error) {
	q := s.db.WithContext(ctx).Model(&types.CommunityReport{})
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if order == core.OrderMostVoted {
		q = q.Order("votes DESC")
	}
	q = q.Order("created_at DESC").Order("id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []types.CommunityReport
	if err := q.Find(&rows).Error; err != nil {
		return nil, fault("list reports", err)
	}
	out := make([]core.Report, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Core())
	}
	return out, nil
}

func (s *Store) ListTransitions(ctx context.Context, reportID uint64) ([]core.Transition, error) {
	var rows []types.ReportTransition
	if err := s.db.WithContext(ctx).Where("report_id = ?", reportID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fault("list transitions", err)
	}
	out := make([]core.Transition, 0, len(rows))
	for _, t := range rows {
		out = append(out, t.Core())
	}
	return out, nil
}

func (s *Store) InsertVote(ctx context.Context, v core.Vote) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.stamp()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&types.CommunityReport{}).Where("id = ?", v.ReportID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("report %d: %w", v.ReportID, core.ErrNotFound)
		}
		row := types.ReportVote{ReportID: v.ReportID, VoterID: v.VoterID, Suspicious: v.Suspicious, CreatedAt: v.CreatedAt}
		if err := tx.Create(&row).Error; err != nil {
			if isDuplicate(err) {
				return fmt.Errorf("vote %d/%s: %w", v.ReportID, v.VoterID, core.ErrDuplicate)
			}
			return err
		}
		return nil
	})
	return fault("insert vote", err)
}

func (s *Store) CountVotes(ctx context.Context, reportID uint64) (core.VoteTally, error) {
	var total, suspicious int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&types.ReportVote{}).Where("report_id = ?", reportID).Count(&total).Error; err != nil {
			return err
		}
		return tx.Model(&types.ReportVote{}).Where("report_id = ? AND suspicious = ?", reportID, true).Count(&suspicious).Error
	})
	if err != nil {
		return core.VoteTally{}, fault("count votes", err)
	}
	return core.VoteTally{Total: int(total), Suspicious: int(suspicious)}, nil
}

func (s *Store) FlagVote(ctx context.Context, reportID uint64, voterID string, suspicious bool) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&types.ReportVote{}).Where("report_id = ? AND voter_id = ?", reportID, voterID)
		var n int64
		if err := q.Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("vote %d/%s: %w", reportID, voterID, core.ErrNotFound)
		}
		return tx.Model(&types.ReportVote{}).
			Where("report_id = ? AND voter_id = ?", reportID, voterID).
			Update("suspicious", suspicious).Error
	})
	return fault("flag vote", err)
}

func (s *Store) InsertActivity(ctx context.Context, a *core.ActivityRecord) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.stamp()
	}
	row := types.ActivityRow(*a)
	row.ID = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("credit %s %s: %w", a.Action, a.Reference, core.ErrDuplicate)
		}
		return fault("insert activity", err)
	}
	*a = row.Core()
	return nil
}

func (s *Store) SumPoints(ctx context.Context, userID string) (int, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&types.UserActivity{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(points_earned), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fault("sum points", err)
	}
	return int(total), nil
}

func (s *Store) CountActivity(ctx context.Context, userID string, action core.ActionType) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&types.UserActivity{}).
		Where("user_id = ? AND action_type = ?", userID, string(action)).
		Count(&n).Error
	if err != nil {
		return 0, fault("count activity", err)
	}
	return int(n), nil
}

func (s *Store) ListActivity(ctx context.Context, userID string, limit int) ([]core.ActivityRecord, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []types.UserActivity
	if err := q.Find(&rows).Error; err != nil {
		return nil, fault("list activity", err)
	}
	out := make([]core.ActivityRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Core())
	}
	return out, nil
}

// UserTotals folds the ledger in batches so created_at keeps its column type
// on every driver.
func (s *Store) UserTotals(ctx context.Context) ([]core.UserTotal, error) {
	idx := make(map[string]int)
	var out []core.UserTotal
	var batch []types.UserActivity
	err := s.db.WithContext(ctx).
		Select("id", "user_id", "points_earned", "created_at").
		FindInBatches(&batch, 1000, func(tx *gorm.DB, _ int) error {
			for _, a := range batch {
				i, ok := idx[a.UserID]
				if !ok {
					i = len(out)
					idx[a.UserID] = i
					out = append(out, core.UserTotal{UserID: a.UserID})
				}
				out[i].Points += a.PointsEarned
				if at := a.CreatedAt.UTC(); at.After(out[i].ReachedAt) {
					out[i].ReachedAt = at
				}
			}
			return nil
		}).Error
	if err != nil {
		return nil, fault("user totals", err)
	}
	return out, nil
}

func (s *Store) GetPolicy(ctx context.Context, id uint64) (core.Policy, error) {
	var row types.Policy
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.Policy{}, fmt.Errorf("policy %d: %w", id, core.ErrNotFound)
		}
		return core.Policy{}, fault("get policy", err)
	}
	return row.Core(), nil
}

func (s *Store) ListPolicies(ctx context.Context, f core.PolicyFilter) ([]core.Policy, error) {
	q := s.db.WithContext(ctx).Model(&types.Policy{})
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.City != "" {
		q = q.Where("LOWER(city) = ?", strings.ToLower(f.City))
	}
	var rows []types.Policy
	if err := q.Order("implementation_date DESC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fault("list policies", err)
	}
	out := make([]core.Policy, 0, len(rows))
	for _, p := range rows {
		out = append(out, p.Core())
	}
	return out, nil
}

func (s *Store) SavePolicy(ctx context.Context, p *core.Policy) error {
	row := types.PolicyRow(*p)
	if row.ID == 0 {
		row.CreatedAt = s.stamp()
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return fault("save policy", err)
		}
	} else if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fault("save policy", err)
	}
	*p = row.Core()
	return nil
}

// InsertReading stores a telemetry sample. Only seeding and tests write
// readings; production readings come from the ingester.
func (s *Store) InsertReading(ctx context.Context, r *core.AQIReading) error {
	row := types.ReadingRow(*r)
	row.ID = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fault("insert reading", err)
	}
	*r = row.Core()
	return nil
}

func (s *Store) LatestReading(ctx context.Context, city string) (core.AQIReading, error) {
	var row types.AQIReading
	err := s.db.WithContext(ctx).
		Where("LOWER(city) = ?", strings.ToLower(strings.TrimSpace(city))).
		Order("timestamp DESC").Order("id DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.AQIReading{}, fmt.Errorf("reading for %s: %w", city, core.ErrNotFound)
		}
		return core.AQIReading{}, fault("latest reading", err)
	}
	return row.Core(), nil
}

func (s *Store) ListReadings(ctx context.Context, city string, since time.Time, limit int) ([]core.AQIReading, error) {
	q := s.db.WithContext(ctx).
		Where("LOWER(city) = ?", strings.ToLower(strings.TrimSpace(city))).
		Where("timestamp >= ?", since.UTC()).
		Order("timestamp DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []types.AQIReading
	if err := q.Find(&rows).Error; err != nil {
		return nil, fault("list readings", err)
	}
	out := make([]core.AQIReading, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Core())
	}
	return out, nil
}

func (s *Store) Counts(ctx context.Context) (core.Counts, error) {
	var c core.Counts
	db := s.db.WithContext(ctx)
	steps := []struct {
		model interface{}
		where string
		dst   *int64
	}{
		{&types.AQIReading{}, "", &c.Readings},
		{&types.CommunityReport{}, "", &c.Reports},
		{&types.CommunityReport{}, "status = 'verified'", &c.VerifiedReports},
		{&types.Policy{}, "", &c.Policies},
	}
	for _, st := range steps {
		q := db.Model(st.model)
		if st.where != "" {
			q = q.Where(st.where)
		}
		if err := q.Count(st.dst).Error; err != nil {
			return core.Counts{}, fault("counts", err)
		}
	}
	err := db.Raw("SELECT COUNT(*) FROM (SELECT user_id FROM community_reports UNION SELECT user_id FROM user_activity) u").
		Scan(&c.Users).Error
	if err != nil {
		return core.Counts{}, fault("counts", err)
	}
	return c, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fault("ping", err)
	}
	return fault("ping", sqlDB.PingContext(ctx))
}
