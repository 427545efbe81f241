package data

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/airsense-india/airsense/src/core"
)

type voteKey struct {
	reportID uint64
	voterID  string
}

type creditKey struct {
	userID string
	action core.ActionType
	ref    string
}

// Memory is a core.Store held in process memory. It honours the same
// version and uniqueness rules as the MySQL store and is used for local
// runs (STORE_DRIVER=memory) and tests.
type Memory struct {
	mu          sync.RWMutex
	now         func() time.Time
	reports     map[uint64]core.Report
	votes       map[voteKey]core.Vote
	activity    []core.ActivityRecord
	credits     map[creditKey]struct{}
	transitions []core.Transition
	policies    map[uint64]core.Policy
	readings    []core.AQIReading
	nextReport  uint64
	nextAct     uint64
	nextPolicy  uint64
	failNext    error
	failOp      string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		now:      time.Now,
		reports:  make(map[uint64]core.Report),
		votes:    make(map[voteKey]core.Vote),
		credits:  make(map[creditKey]struct{}),
		policies: make(map[uint64]core.Policy),
	}
}

// SetClock replaces the time source, for deterministic tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// FailNext makes the next fault-injectable call fail with err wrapped in a
// StorageError.
func (m *Memory) FailNext(err error) {
	m.FailOn("", err)
}

// FailOn is FailNext restricted to the next call of operation op, named as
// in the StorageError it produces (for example "count activity").
func (m *Memory) FailOn(op string, err error) {
	m.mu.Lock()
	m.failNext, m.failOp = err, op
	m.mu.Unlock()
}

// injected must be called with m.mu held.
func (m *Memory) injected(op string) error {
	if m.failNext == nil || (m.failOp != "" && m.failOp != op) {
		return nil
	}
	err := m.failNext
	m.failNext, m.failOp = nil, ""
	return &core.StorageError{Op: op, Err: err}
}

// appendCredits must be called with m.mu held. It checks every credit before
// writing any so the unit stays all-or-nothing.
func (m *Memory) appendCredits(credits []core.ActivityRecord) ([]core.ActivityRecord, error) {
	seen := make(map[creditKey]struct{})
	for _, c := range credits {
		if c.Reference == "" {
			continue
		}
		k := creditKey{c.UserID, c.Action, c.Reference}
		if _, dup := m.credits[k]; dup {
			return nil, fmt.Errorf("credit %s %s: %w", c.Action, c.Reference, core.ErrDuplicate)
		}
		if _, dup := seen[k]; dup {
			return nil, fmt.Errorf("credit %s %s: %w", c.Action, c.Reference, core.ErrDuplicate)
		}
		seen[k] = struct{}{}
	}
	out := make([]core.ActivityRecord, 0, len(credits))
	for _, c := range credits {
		m.nextAct++
		c.ID = m.nextAct
		if c.CreatedAt.IsZero() {
			c.CreatedAt = m.now().UTC()
		}
		if c.Reference != "" {
			m.credits[creditKey{c.UserID, c.Action, c.Reference}] = struct{}{}
		}
		m.activity = append(m.activity, c)
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) InsertReport(_ context.Context, r *core.Report, credits ...core.ActivityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("insert report"); err != nil {
		return err
	}
	m.nextReport++
	now := m.now().UTC()
	r.ID = m.nextReport
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = core.StatusPending
	}
	for i := range credits {
		if credits[i].Reference == "" {
			credits[i].Reference = core.ReportRef(r.ID)
		}
	}
	if _, err := m.appendCredits(credits); err != nil {
		m.nextReport--
		return err
	}
	m.reports[r.ID] = *r
	return nil
}

func (m *Memory) GetReport(_ context.Context, id uint64) (core.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("get report"); err != nil {
		return core.Report{}, err
	}
	r, ok := m.reports[id]
	if !ok {
		return core.Report{}, fmt.Errorf("report %d: %w", id, core.ErrNotFound)
	}
	return r, nil
}

func (m *Memory) UpdateReport(_ context.Context, u core.ReportUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("update report"); err != nil {
		return err
	}
	r, ok := m.reports[u.ReportID]
	if !ok {
		return fmt.Errorf("report %d: %w", u.ReportID, core.ErrNotFound)
	}
	if r.Version != u.ExpectedVersion {
		return fmt.Errorf("report %d at version %d, want %d: %w", r.ID, r.Version, u.ExpectedVersion, core.ErrVersionConflict)
	}
	if _, err := m.appendCredits(u.Credits); err != nil {
		return err
	}
	r.Votes = u.Votes
	r.Status = u.Status
	r.Version++
	r.UpdatedAt = m.now().UTC()
	m.reports[r.ID] = r
	if u.Transition != nil {
		t := *u.Transition
		if t.CreatedAt.IsZero() {
			t.CreatedAt = r.UpdatedAt
		}
		m.transitions = append(m.transitions, t)
	}
	return nil
}

func (m *Memory) ListReports(_ context.Context, f core.ReportFilter, order core.ReportOrder) ([]core.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("list reports"); err != nil {
		return nil, err
	}
	var out []core.Report
	for _, r := range m.reports {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if order == core.OrderMostVoted && a.Votes != b.Votes {
			return a.Votes > b.Votes
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) ListTransitions(_ context.Context, reportID uint64) ([]core.Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("list transitions"); err != nil {
		return nil, err
	}
	var out []core.Transition
	for _, t := range m.transitions {
		if t.ReportID == reportID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) InsertVote(_ context.Context, v core.Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("insert vote"); err != nil {
		return err
	}
	if _, ok := m.reports[v.ReportID]; !ok {
		return fmt.Errorf("report %d: %w", v.ReportID, core.ErrNotFound)
	}
	k := voteKey{v.ReportID, v.VoterID}
	if _, dup := m.votes[k]; dup {
		return fmt.Errorf("vote %d/%s: %w", v.ReportID, v.VoterID, core.ErrDuplicate)
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = m.now().UTC()
	}
	m.votes[k] = v
	return nil
}

func (m *Memory) CountVotes(_ context.Context, reportID uint64) (core.VoteTally, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("count votes"); err != nil {
		return core.VoteTally{}, err
	}
	var t core.VoteTally
	for k, v := range m.votes {
		if k.reportID != reportID {
			continue
		}
		t.Total++
		if v.Suspicious {
			t.Suspicious++
		}
	}
	return t, nil
}

func (m *Memory) FlagVote(_ context.Context, reportID uint64, voterID string, suspicious bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("flag vote"); err != nil {
		return err
	}
	k := voteKey{reportID, voterID}
	v, ok := m.votes[k]
	if !ok {
		return fmt.Errorf("vote %d/%s: %w", reportID, voterID, core.ErrNotFound)
	}
	v.Suspicious = suspicious
	m.votes[k] = v
	return nil
}

func (m *Memory) InsertActivity(_ context.Context, a *core.ActivityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("insert activity"); err != nil {
		return err
	}
	out, err := m.appendCredits([]core.ActivityRecord{*a})
	if err != nil {
		return err
	}
	*a = out[0]
	return nil
}

func (m *Memory) SumPoints(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("sum points"); err != nil {
		return 0, err
	}
	total := 0
	for _, a := range m.activity {
		if a.UserID == userID {
			total += a.Points
		}
	}
	return total, nil
}

func (m *Memory) CountActivity(_ context.Context, userID string, action core.ActionType) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("count activity"); err != nil {
		return 0, err
	}
	n := 0
	for _, a := range m.activity {
		if a.UserID == userID && a.Action == action {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListActivity(_ context.Context, userID string, limit int) ([]core.ActivityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("list activity"); err != nil {
		return nil, err
	}
	var out []core.ActivityRecord
	for i := len(m.activity) - 1; i >= 0; i-- {
		if m.activity[i].UserID != userID {
			continue
		}
		out = append(out, m.activity[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) UserTotals(_ context.Context) ([]core.UserTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("user totals"); err != nil {
		return nil, err
	}
	idx := make(map[string]int)
	var out []core.UserTotal
	for _, a := range m.activity {
		i, ok := idx[a.UserID]
		if !ok {
			i = len(out)
			idx[a.UserID] = i
			out = append(out, core.UserTotal{UserID: a.UserID})
		}
		out[i].Points += a.Points
		if a.CreatedAt.After(out[i].ReachedAt) {
			out[i].ReachedAt = a.CreatedAt
		}
	}
	return out, nil
}

func (m *Memory) GetPolicy(_ context.Context, id uint64) (core.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("get policy"); err != nil {
		return core.Policy{}, err
	}
	p, ok := m.policies[id]
	if !ok {
		return core.Policy{}, fmt.Errorf("policy %d: %w", id, core.ErrNotFound)
	}
	return p, nil
}

func (m *Memory) ListPolicies(_ context.Context, f core.PolicyFilter) ([]core.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("list policies"); err != nil {
		return nil, err
	}
	var out []core.Policy
	for _, p := range m.policies {
		if f.Matches(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ImplementationDate.Equal(out[j].ImplementationDate) {
			return out[i].ImplementationDate.After(out[j].ImplementationDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) SavePolicy(_ context.Context, p *core.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("save policy"); err != nil {
		return err
	}
	if p.ID == 0 {
		m.nextPolicy++
		p.ID = m.nextPolicy
		p.CreatedAt = m.now().UTC()
	} else if p.ID > m.nextPolicy {
		m.nextPolicy = p.ID
	}
	m.policies[p.ID] = *p
	return nil
}

// AddReading records a telemetry sample; the ingester owns this path.
func (m *Memory) AddReading(r core.AQIReading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uint64(len(m.readings) + 1)
	m.readings = append(m.readings, r)
}

func (m *Memory) LatestReading(_ context.Context, city string) (core.AQIReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("latest reading"); err != nil {
		return core.AQIReading{}, err
	}
	var best *core.AQIReading
	for i := range m.readings {
		r := &m.readings[i]
		if !strings.EqualFold(r.City, city) {
			continue
		}
		if best == nil || r.Timestamp.After(best.Timestamp) {
			best = r
		}
	}
	if best == nil {
		return core.AQIReading{}, fmt.Errorf("reading for %s: %w", city, core.ErrNotFound)
	}
	return *best, nil
}

// ListReadings returns city's readings taken at or after since, newest first.
func (m *Memory) ListReadings(_ context.Context, city string, since time.Time, limit int) ([]core.AQIReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("list readings"); err != nil {
		return nil, err
	}
	city = strings.TrimSpace(city)
	var out []core.AQIReading
	for _, r := range m.readings {
		if strings.EqualFold(r.City, city) && !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Counts(_ context.Context) (core.Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("counts"); err != nil {
		return core.Counts{}, err
	}
	c := core.Counts{
		Readings: int64(len(m.readings)),
		Reports:  int64(len(m.reports)),
		Policies: int64(len(m.policies)),
	}
	users := make(map[string]struct{})
	for _, r := range m.reports {
		if r.Status == core.StatusVerified {
			c.VerifiedReports++
		}
		users[r.UserID] = struct{}{}
	}
	for _, a := range m.activity {
		users[a.UserID] = struct{}{}
	}
	c.Users = int64(len(users))
	return c, nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.injected("ping")
}
