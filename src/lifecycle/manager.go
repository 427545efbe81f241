package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/airsense-india/airsense/src/core"
	"github.com/airsense-india/airsense/src/ledger"
)

const (
	DefaultVerifyThreshold       = 10
	DefaultMaxSuspiciousFraction = 0.25
	DefaultMaxDescriptionLen     = 1000
	DefaultMilestoneEvery        = 5
	defaultMaxAttempts           = 16
)

// communityActor is recorded as the actor of vote-driven transitions.
const communityActor = "community"

// Config holds the verification policy.
type Config struct {
	VerifyThreshold       int
	MaxSuspiciousFraction float64
	MaxDescriptionLen     int
	// MilestoneEvery credits a milestone each time the author's verified
	// count reaches a multiple of it. Zero disables milestones.
	MilestoneEvery int
	// MaxAttempts bounds compare-and-transition retries per operation.
	MaxAttempts int
}

// DefaultConfig returns the stock verification policy.
func DefaultConfig() Config {
	return Config{
		VerifyThreshold:       DefaultVerifyThreshold,
		MaxSuspiciousFraction: DefaultMaxSuspiciousFraction,
		MaxDescriptionLen:     DefaultMaxDescriptionLen,
		MilestoneEvery:        DefaultMilestoneEvery,
		MaxAttempts:           defaultMaxAttempts,
	}
}

// Manager owns the report state machine: Pending -> Verified | Rejected.
type Manager struct {
	store  core.Store
	ledger *ledger.Ledger
	pub    core.Publisher
	log    *zap.Logger
	cfg    Config
	now    func() time.Time
}

// New returns a manager. A nil publisher or logger disables that output.
func New(store core.Store, l *ledger.Ledger, pub core.Publisher, log *zap.Logger, cfg Config) *Manager {
	if cfg.VerifyThreshold <= 0 {
		cfg.VerifyThreshold = DefaultVerifyThreshold
	}
	if cfg.MaxSuspiciousFraction < 0 {
		cfg.MaxSuspiciousFraction = 0
	}
	if cfg.MaxDescriptionLen <= 0 {
		cfg.MaxDescriptionLen = DefaultMaxDescriptionLen
	}
	if cfg.MilestoneEvery < 0 {
		cfg.MilestoneEvery = 0
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if pub == nil {
		pub = core.NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: store, ledger: l, pub: pub, log: log, cfg: cfg, now: time.Now}
}

// Config returns the effective policy.
func (m *Manager) Config() Config { return m.cfg }

// Submit validates and stores a new Pending report and credits the author.
func (m *Manager) Submit(ctx context.Context, s Submission) (core.Report, error) {
	r, err := validate(s, m.cfg.MaxDescriptionLen)
	if err != nil {
		return core.Report{}, err
	}
	credit, err := m.ledger.Credit(r.UserID, core.ActionReportSubmitted, "")
	if err != nil {
		return core.Report{}, err
	}
	if err := m.store.InsertReport(ctx, &r, credit); err != nil {
		return core.Report{}, err
	}
	m.log.Info("report submitted",
		zap.Uint64("report_id", r.ID),
		zap.String("user_id", r.UserID),
		zap.String("pollution_type", string(r.PollutionType)))
	m.publish(ctx, core.EventReportSubmitted, r)
	return r, nil
}

// Get returns one report.
func (m *Manager) Get(ctx context.Context, id uint64) (core.Report, error) {
	r, err := m.store.GetReport(ctx, id)
	if err != nil {
		return core.Report{}, mapNotFound(err, "report", fmt.Sprint(id))
	}
	return r, nil
}

// History returns the status transitions of a report, oldest first.
func (m *Manager) History(ctx context.Context, id uint64) ([]core.Transition, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	return m.store.ListTransitions(ctx, id)
}

// CastVote records voterID's endorsement and re-evaluates verification.
func (m *Manager) CastVote(ctx context.Context, reportID uint64, voterID string) (core.Report, error) {
	voterID, err := identifier("voter_id", voterID)
	if err != nil {
		return core.Report{}, err
	}
	r, err := m.Get(ctx, reportID)
	if err != nil {
		return core.Report{}, err
	}
	if r.UserID == voterID {
		return core.Report{}, &core.SelfVoteError{ReportID: reportID, UserID: voterID}
	}
	if r.Status == core.StatusRejected {
		return core.Report{}, &core.ReportClosedError{ReportID: reportID, Status: r.Status}
	}

	err = m.store.InsertVote(ctx, core.Vote{ReportID: reportID, VoterID: voterID, CreatedAt: m.now().UTC()})
	switch {
	case errors.Is(err, core.ErrDuplicate):
		return core.Report{}, &core.DuplicateVoteError{ReportID: reportID, VoterID: voterID}
	case err != nil:
		return core.Report{}, mapNotFound(err, "report", fmt.Sprint(reportID))
	}

	out, verified, err := m.settle(ctx, reportID)
	if err != nil {
		return core.Report{}, err
	}
	m.publish(ctx, core.EventReportVoted, out)
	if verified {
		m.afterVerify(ctx, out)
	}
	return out, nil
}

// Reevaluate recounts votes and applies the verification policy. Calling it
// on a settled report changes nothing.
func (m *Manager) Reevaluate(ctx context.Context, reportID uint64) (core.Report, error) {
	if _, err := m.Get(ctx, reportID); err != nil {
		return core.Report{}, err
	}
	out, verified, err := m.settle(ctx, reportID)
	if err != nil {
		return core.Report{}, err
	}
	if verified {
		m.afterVerify(ctx, out)
	}
	return out, nil
}

// FlagVote marks a vote as suspicious (or clears the mark) and re-evaluates.
func (m *Manager) FlagVote(ctx context.Context, reportID uint64, voterID string, suspicious bool) (core.Report, error) {
	voterID, err := identifier("voter_id", voterID)
	if err != nil {
		return core.Report{}, err
	}
	if err := m.store.FlagVote(ctx, reportID, voterID, suspicious); err != nil {
		return core.Report{}, mapNotFound(err, "vote", fmt.Sprintf("%d/%s", reportID, voterID))
	}
	return m.Reevaluate(ctx, reportID)
}

// Reject moves a Pending report to Rejected on behalf of a moderator.
func (m *Manager) Reject(ctx context.Context, reportID uint64, moderatorID, reason string) (core.Report, error) {
	moderatorID, err := identifier("moderator_id", moderatorID)
	if err != nil {
		return core.Report{}, err
	}
	for attempt := 0; attempt < m.cfg.MaxAttempts; attempt++ {
		r, err := m.Get(ctx, reportID)
		if err != nil {
			return core.Report{}, err
		}
		if r.Status != core.StatusPending {
			return core.Report{}, &core.ReportClosedError{ReportID: reportID, Status: r.Status}
		}
		err = m.store.UpdateReport(ctx, core.ReportUpdate{
			ReportID:        r.ID,
			ExpectedVersion: r.Version,
			Votes:           r.Votes,
			Status:          core.StatusRejected,
			Transition: &core.Transition{
				ReportID: r.ID, From: core.StatusPending, To: core.StatusRejected,
				Actor: moderatorID, Reason: reason, CreatedAt: m.now().UTC(),
			},
		})
		if errors.Is(err, core.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return core.Report{}, err
		}
		r.Status = core.StatusRejected
		r.Version++
		m.log.Info("report rejected",
			zap.Uint64("report_id", r.ID),
			zap.String("moderator", moderatorID),
			zap.String("reason", reason))
		m.publish(ctx, core.EventReportRejected, r)
		return r, nil
	}
	return core.Report{}, m.exhausted(reportID)
}

// qualifies applies the verification threshold to a tally.
func (m *Manager) qualifies(t core.VoteTally) bool {
	if t.Clean() < m.cfg.VerifyThreshold {
		return false
	}
	if t.Total == 0 {
		return false
	}
	return float64(t.Suspicious)/float64(t.Total) <= m.cfg.MaxSuspiciousFraction
}

// settle recounts the report's votes and writes the count, and the Verified
// transition with its credit when the threshold is met, as one
// compare-and-transition keyed by the report version. The second result is
// true only for the call whose write moved the report out of Pending.
//
// A retry stops early once a concurrent writer stored a count at least as
// large as the first tally this call observed, since that write already
// reflects the caller's vote.
func (m *Manager) settle(ctx context.Context, reportID uint64) (core.Report, bool, error) {
	floor := -1
	for attempt := 0; attempt < m.cfg.MaxAttempts; attempt++ {
		r, err := m.Get(ctx, reportID)
		if err != nil {
			return core.Report{}, false, err
		}
		if r.Status == core.StatusRejected {
			return r, false, nil
		}
		tally, err := m.store.CountVotes(ctx, reportID)
		if err != nil {
			return core.Report{}, false, err
		}
		if floor < 0 {
			floor = tally.Total
		}
		verify := r.Status == core.StatusPending && m.qualifies(tally)
		if !verify && r.Votes >= floor && (attempt > 0 || r.Votes >= tally.Total) {
			return r, false, nil
		}

		u := core.ReportUpdate{
			ReportID:        r.ID,
			ExpectedVersion: r.Version,
			Votes:           max(tally.Total, r.Votes),
			Status:          r.Status,
		}
		if verify {
			credit, err := m.ledger.Credit(r.UserID, core.ActionReportVerified, core.ReportRef(r.ID))
			if err != nil {
				return core.Report{}, false, err
			}
			u.Status = core.StatusVerified
			u.Credits = []core.ActivityRecord{credit}
			u.Transition = &core.Transition{
				ReportID: r.ID, From: core.StatusPending, To: core.StatusVerified,
				Actor:     communityActor,
				Reason:    fmt.Sprintf("%d clean of %d votes", tally.Clean(), tally.Total),
				CreatedAt: m.now().UTC(),
			}
		}

		err = m.store.UpdateReport(ctx, u)
		if errors.Is(err, core.ErrVersionConflict) {
			m.log.Debug("report moved, retrying",
				zap.Uint64("report_id", reportID), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return core.Report{}, false, err
		}
		r.Votes = u.Votes
		r.Status = u.Status
		r.Version++
		return r, verify, nil
	}
	return core.Report{}, false, m.exhausted(reportID)
}

// afterVerify runs the follow-ups of a committed verification. The
// verification stands whatever happens here.
func (m *Manager) afterVerify(ctx context.Context, r core.Report) {
	m.log.Info("report verified",
		zap.Uint64("report_id", r.ID),
		zap.String("author", r.UserID),
		zap.Int("votes", r.Votes))
	m.publish(ctx, core.EventReportVerified, r)

	if m.cfg.MilestoneEvery == 0 {
		return
	}
	m.creditMilestones(ctx, r.UserID)
}

// creditMilestones awards every milestone due at the author's verified count
// that is not credited yet. Repeats resolve to ErrAlreadyCredited.
func (m *Manager) creditMilestones(ctx context.Context, userID string) {
	n, err := m.ledger.VerifiedCount(ctx, userID)
	if err != nil {
		m.log.Error("milestone check failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	every := m.cfg.MilestoneEvery
	due := n / every
	if due == 0 {
		return
	}
	have, err := m.store.CountActivity(ctx, userID, core.ActionMilestoneReached)
	if err != nil {
		m.log.Error("milestone check failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if have >= due {
		return
	}
	for k := every; k <= n; k += every {
		_, err := m.ledger.Award(ctx, userID, core.ActionMilestoneReached, ledger.MilestoneRef(k))
		switch {
		case errors.Is(err, ledger.ErrAlreadyCredited):
		case err != nil:
			m.log.Error("milestone award failed", zap.String("user_id", userID), zap.Int("verified", k), zap.Error(err))
		default:
			m.log.Info("milestone reached", zap.String("user_id", userID), zap.Int("verified", k))
		}
	}
}

func (m *Manager) publish(ctx context.Context, kind string, r core.Report) {
	err := m.pub.Publish(ctx, core.Event{
		Kind: kind, ReportID: r.ID, UserID: r.UserID,
		Status: r.Status, Votes: r.Votes, At: m.now().UTC(),
	})
	if err != nil {
		m.log.Warn("publish event failed",
			zap.String("kind", kind), zap.Uint64("report_id", r.ID), zap.Error(err))
	}
}

func (m *Manager) exhausted(reportID uint64) error {
	return &core.StorageError{
		Op:  fmt.Sprintf("update report %d", reportID),
		Err: fmt.Errorf("gave up after %d attempts: %w", m.cfg.MaxAttempts, core.ErrVersionConflict),
	}
}

func mapNotFound(err error, entity, id string) error {
	if errors.Is(err, core.ErrNotFound) {
		return &core.NotFoundError{Entity: entity, ID: id}
	}
	return err
}
