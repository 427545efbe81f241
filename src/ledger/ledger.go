package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/airsense-india/airsense/src/core"
)

// DefaultLevelPoints is the number of points per level.
const DefaultLevelPoints = 500

// ErrAlreadyCredited is returned by Award when the same (user, action,
// reference) credit exists.
var ErrAlreadyCredited = errors.New("already credited")

var points = map[core.ActionType]int{
	core.ActionReportSubmitted:  50,
	core.ActionReportVerified:   100,
	core.ActionMilestoneReached: 200,
}

// PointsFor returns the fixed award for an action, or 0 if unknown.
func PointsFor(action core.ActionType) int {
	return points[action]
}

// MilestoneRef is the reference recorded for the n-th verified milestone.
func MilestoneRef(verified int) string {
	return fmt.Sprintf("milestones:%d", verified)
}

// Ledger is the append-only record of point-earning actions.
type Ledger struct {
	store       core.Store
	levelPoints int
	now         func() time.Time
}

// New returns a ledger on store. levelPoints <= 0 selects DefaultLevelPoints.
func New(store core.Store, levelPoints int) *Ledger {
	if levelPoints <= 0 {
		levelPoints = DefaultLevelPoints
	}
	return &Ledger{store: store, levelPoints: levelPoints, now: time.Now}
}

// Credit builds the record for an action without persisting it, so callers
// can commit it together with the change that earned it.
func (l *Ledger) Credit(userID string, action core.ActionType, ref string) (core.ActivityRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return core.ActivityRecord{}, &core.ValidationError{Field: "user_id", Reason: "required"}
	}
	pts, ok := points[action]
	if !ok {
		return core.ActivityRecord{}, &core.ValidationError{Field: "action_type", Reason: fmt.Sprintf("unknown action %q", action)}
	}
	return core.ActivityRecord{
		UserID:    userID,
		Action:    action,
		Points:    pts,
		Reference: ref,
		CreatedAt: l.now().UTC(),
	}, nil
}

// Award appends one record for action. A repeated non-empty reference yields
// ErrAlreadyCredited and leaves the ledger unchanged.
func (l *Ledger) Award(ctx context.Context, userID string, action core.ActionType, ref string) (core.ActivityRecord, error) {
	rec, err := l.Credit(userID, action, ref)
	if err != nil {
		return core.ActivityRecord{}, err
	}
	if err := l.store.InsertActivity(ctx, &rec); err != nil {
		if errors.Is(err, core.ErrDuplicate) {
			return core.ActivityRecord{}, fmt.Errorf("%s %s for %s: %w", action, ref, userID, ErrAlreadyCredited)
		}
		return core.ActivityRecord{}, err
	}
	return rec, nil
}

// Score is the sum of all points credited to userID.
func (l *Ledger) Score(ctx context.Context, userID string) (int, error) {
	return l.store.SumPoints(ctx, userID)
}

// Level is the tier derived from the user's score.
func (l *Ledger) Level(ctx context.Context, userID string) (int, error) {
	s, err := l.Score(ctx, userID)
	if err != nil {
		return 0, err
	}
	return l.LevelFor(s), nil
}

// LevelFor maps a score to a level. Everyone starts at level 1.
func (l *Ledger) LevelFor(score int) int {
	if score < 0 {
		score = 0
	}
	return 1 + score/l.levelPoints
}

// LevelPoints is the width of one level.
func (l *Ledger) LevelPoints() int { return l.levelPoints }

// History returns the user's most recent credits, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]core.ActivityRecord, error) {
	return l.store.ListActivity(ctx, userID, limit)
}

// VerifiedCount is the number of verification credits held by userID.
func (l *Ledger) VerifiedCount(ctx context.Context, userID string) (int, error) {
	return l.store.CountActivity(ctx, userID, core.ActionReportVerified)
}

// Tally sums records per user. The result does not depend on record order.
func Tally(records []core.ActivityRecord) map[string]int {
	out := make(map[string]int)
	for _, r := range records {
		out[r.UserID] += r.Points
	}
	return out
}
