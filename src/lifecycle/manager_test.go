package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/airsense-india/airsense/src/api/data"
	"github.com/airsense-india/airsense/src/core"
	"github.com/airsense-india/airsense/src/ledger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e core.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	store  *data.Memory
	ledger *ledger.Ledger
	pub    *recordingPublisher
	mgr    *Manager
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := data.NewMemory()
	l := ledger.New(store, 0)
	pub := &recordingPublisher{}
	return &fixture{store: store, ledger: l, pub: pub, mgr: New(store, l, pub, nil, cfg)}
}

func validSubmission(user string) Submission {
	return Submission{
		UserID:        user,
		UserName:      "Rahul Kumar",
		Place:         "Connaught Place, Delhi",
		Lat:           28.6315,
		Lng:           77.2167,
		PollutionType: "Construction Dust",
		Description:   "Heavy construction dust from ongoing metro work",
	}
}

func (f *fixture) submit(t *testing.T, user string) core.Report {
	t.Helper()
	r, err := f.mgr.Submit(context.Background(), validSubmission(user))
	require.NoError(t, err)
	return r
}

func (f *fixture) activity(t *testing.T, user string, action core.ActionType) int {
	t.Helper()
	n, err := f.store.CountActivity(context.Background(), user, action)
	require.NoError(t, err)
	return n
}

func TestSubmitCreatesPendingReport(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	r := f.submit(t, "author")

	assert.NotZero(t, r.ID)
	assert.Equal(t, core.StatusPending, r.Status)
	assert.Equal(t, 0, r.Votes)
	assert.Equal(t, core.PollutionConstruction, r.PollutionType)

	score, err := f.ledger.Score(context.Background(), "author")
	require.NoError(t, err)
	assert.Equal(t, 50, score)
	assert.Equal(t, []string{core.EventReportSubmitted}, f.pub.kinds())
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, Config{MaxDescriptionLen: 20})

	cases := []struct {
		name  string
		edit  func(*Submission)
		field string
	}{
		{"latitude too high", func(s *Submission) { s.Lat = 90.1 }, "lat"},
		{"latitude too low", func(s *Submission) { s.Lat = -91 }, "lat"},
		{"longitude out of range", func(s *Submission) { s.Lng = 181 }, "lng"},
		{"unknown pollution type", func(s *Submission) { s.PollutionType = "Volcano" }, "pollution_type"},
		{"description too long", func(s *Submission) { s.Description = strings.Repeat("x", 21) }, "description"},
		{"missing user", func(s *Submission) { s.UserID = "  " }, "user_id"},
		{"missing place", func(s *Submission) { s.Place = "" }, "location"},
		{"relative image url", func(s *Submission) { s.ImageURL = "/img.png" }, "image_url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := validSubmission("author")
			s.Description = "short"
			tc.edit(&s)
			_, err := f.mgr.Submit(context.Background(), s)
			var ve *core.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tc.field, ve.Field)
		})
	}

	counts, err := f.store.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Reports)
}

func TestSubmitBoundaryCoordinatesAccepted(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	s := validSubmission("author")
	s.Lat, s.Lng = -90, 180
	s.PollutionType = "garbage burning"
	r, err := f.mgr.Submit(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, core.PollutionGarbage, r.PollutionType)
}

func TestSubmitStorageErrorPropagates(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.store.FailNext(errors.New("connection reset"))
	_, err := f.mgr.Submit(context.Background(), validSubmission("author"))
	assert.True(t, core.IsStorage(err), "got %v", err)
}

func TestSelfVoteRejected(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	r := f.submit(t, "author")

	_, err := f.mgr.CastVote(context.Background(), r.ID, "author")
	var sve *core.SelfVoteError
	require.True(t, errors.As(err, &sve))

	got, err := f.mgr.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Equal(t, 0, got.Votes)
}

func TestDuplicateVoteRejected(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	r := f.submit(t, "author")

	_, err := f.mgr.CastVote(context.Background(), r.ID, "v1")
	require.NoError(t, err)
	_, err = f.mgr.CastVote(context.Background(), r.ID, "v1")
	var dve *core.DuplicateVoteError
	require.True(t, errors.As(err, &dve))
	assert.Equal(t, "v1", dve.VoterID)

	got, err := f.mgr.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Votes)
}

func TestVoteOnMissingReport(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.mgr.CastVote(context.Background(), 99, "v1")
	var nf *core.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "report", nf.Entity)
}

func TestIdentifiersAreBounded(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	r := f.submit(t, "author")
	ctx := context.Background()
	long := strings.Repeat("u", 101)

	cases := map[string]struct {
		field string
		call  func() error
	}{
		"vote": {"voter_id", func() error {
			_, err := f.mgr.CastVote(ctx, r.ID, long)
			return err
		}},
		"flag": {"voter_id", func() error {
			_, err := f.mgr.FlagVote(ctx, r.ID, long, true)
			return err
		}},
		"reject": {"moderator_id", func() error {
			_, err := f.mgr.Reject(ctx, r.ID, long, "spam")
			return err
		}},
		"blank voter": {"voter_id", func() error {
			_, err := f.mgr.FlagVote(ctx, r.ID, "  ", true)
			return err
		}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var ve *core.ValidationError
			require.ErrorAs(t, tc.call(), &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}

	_, err := f.mgr.CastVote(ctx, r.ID, strings.Repeat("u", 100))
	require.NoError(t, err)
	got, err := f.mgr.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Equal(t, 1, got.Votes)
}

func TestTenVotesVerifyOnce(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	r := f.submit(t, "author")

	for i := 1; i <= 9; i++ {
		got, err := f.mgr.CastVote(context.Background(), r.ID, fmt.Sprintf("v%d", i))
		require.NoError(t, err)
		assert.Equal(t, i, got.Votes)
		assert.Equal(t, core.StatusPending, got.Status)
	}
	got, err := f.mgr.CastVote(context.Background(), r.ID, "v10")
	require.NoError(t, err)
	assert.Equal(t, core.StatusVerified, got.Status)
	assert.Equal(t, 10, got.Votes)
	assert.Equal(t, 1, f.activity(t, "author", core.ActionReportVerified))

	hist, err := f.ledger.History(context.Background(), "author", 1)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 100, hist[0].Points)

	// Later votes still count but never re-award.
	got, err = f.mgr.CastVote(context.Background(), r.ID, "v11")
	require.NoError(t, err)
	assert.Equal(t, 11, got.Votes)
	assert.Equal(t, core.StatusVerified, got.Status)
	assert.Equal(t, 1, f.activity(t, "author", core.ActionReportVerified))

	trans, err := f.mgr.History(context.Background(), r.ID)
	require.NoError(t, err)
	require.Len(t, trans, 1)
	assert.Equal(t, core.StatusPending, trans[0].From)
	assert.Equal(t, core.StatusVerified, trans[0].To)

	assert.Contains(t, f.pub.kinds(), core.EventReportVerified)
}

func TestReevaluateIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{VerifyThreshold: 2})
	r := f.submit(t, "author")
	for _, v := range []string{"a", "b"} {
		_, err := f.mgr.CastVote(context.Background(), r.ID, v)
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		got, err := f.mgr.Reevaluate(context.Background(), r.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusVerified, got.Status)
	}
	assert.Equal(t, 1, f.activity(t, "author", core.ActionReportVerified))

	score, err := f.ledger.Score(context.Background(), "author")
	require.NoError(t, err)
	assert.Equal(t, 150, score)
}

func TestConcurrentVotes(t *testing.T) {
	const voters = 40
	f := newFixture(t, DefaultConfig())
	r := f.submit(t, "author")

	var wg sync.WaitGroup
	errs := make(chan error, voters)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.mgr.CastVote(context.Background(), r.ID, fmt.Sprintf("voter-%d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("vote failed: %v", err)
	}

	got, err := f.mgr.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, voters, got.Votes)
	assert.Equal(t, core.StatusVerified, got.Status)
	assert.Equal(t, 1, f.activity(t, "author", core.ActionReportVerified))

	tally, err := f.store.CountVotes(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, voters, tally.Total)
}

func TestConcurrentReportsIndependent(t *testing.T) {
	f := newFixture(t, Config{VerifyThreshold: 3})
	var reports []core.Report
	for i := 0; i < 5; i++ {
		reports = append(reports, f.submit(t, fmt.Sprintf("author-%d", i)))
	}

	var wg sync.WaitGroup
	for _, r := range reports {
		for v := 0; v < 3; v++ {
			wg.Add(1)
			go func(id uint64, v int) {
				defer wg.Done()
				_, err := f.mgr.CastVote(context.Background(), id, fmt.Sprintf("v%d", v))
				assert.NoError(t, err)
			}(r.ID, v)
		}
	}
	wg.Wait()

	for i, r := range reports {
		got, err := f.mgr.Get(context.Background(), r.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusVerified, got.Status)
		assert.Equal(t, 1, f.activity(t, fmt.Sprintf("author-%d", i), core.ActionReportVerified))
	}
}

func TestSuspiciousVotesHoldVerification(t *testing.T) {
	f := newFixture(t, Config{VerifyThreshold: 4, MaxSuspiciousFraction: 0.2})
	r := f.submit(t, "author")
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c"} {
		_, err := f.mgr.CastVote(ctx, r.ID, v)
		require.NoError(t, err)
	}
	got, err := f.mgr.FlagVote(ctx, r.ID, "a", true)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)

	// 4 votes, 1 suspicious: 3 clean is under the threshold.
	got, err = f.mgr.CastVote(ctx, r.ID, "d")
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Equal(t, 4, got.Votes)

	// 5 votes, 1 suspicious: 4 clean, fraction 0.2.
	got, err = f.mgr.CastVote(ctx, r.ID, "e")
	require.NoError(t, err)
	assert.Equal(t, core.StatusVerified, got.Status)
}

func TestClearingFlagVerifies(t *testing.T) {
	f := newFixture(t, Config{VerifyThreshold: 2})
	r := f.submit(t, "author")
	ctx := context.Background()

	_, err := f.mgr.CastVote(ctx, r.ID, "a")
	require.NoError(t, err)
	_, err = f.mgr.FlagVote(ctx, r.ID, "a", true)
	require.NoError(t, err)
	got, err := f.mgr.CastVote(ctx, r.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)

	got, err = f.mgr.FlagVote(ctx, r.ID, "a", false)
	require.NoError(t, err)
	assert.Equal(t, core.StatusVerified, got.Status)

	_, err = f.mgr.FlagVote(ctx, r.ID, "nobody", true)
	var nf *core.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "vote", nf.Entity)
}

func TestRejectLocksVotes(t *testing.T) {
	f := newFixture(t, Config{VerifyThreshold: 2})
	r := f.submit(t, "author")
	ctx := context.Background()

	_, err := f.mgr.CastVote(ctx, r.ID, "a")
	require.NoError(t, err)

	got, err := f.mgr.Reject(ctx, r.ID, "mod-1", "duplicate of #3")
	require.NoError(t, err)
	assert.Equal(t, core.StatusRejected, got.Status)

	_, err = f.mgr.CastVote(ctx, r.ID, "b")
	var rce *core.ReportClosedError
	require.True(t, errors.As(err, &rce))
	assert.Equal(t, core.StatusRejected, rce.Status)

	got, err = f.mgr.Reevaluate(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRejected, got.Status)
	assert.Equal(t, 1, got.Votes)
	assert.Zero(t, f.activity(t, "author", core.ActionReportVerified))

	_, err = f.mgr.Reject(ctx, r.ID, "mod-1", "again")
	require.True(t, errors.As(err, &rce))

	trans, err := f.mgr.History(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, trans, 1)
	assert.Equal(t, "mod-1", trans[0].Actor)
	assert.Equal(t, "duplicate of #3", trans[0].Reason)
}

func TestRejectVerifiedFails(t *testing.T) {
	f := newFixture(t, Config{VerifyThreshold: 1})
	r := f.submit(t, "author")
	_, err := f.mgr.CastVote(context.Background(), r.ID, "a")
	require.NoError(t, err)

	_, err = f.mgr.Reject(context.Background(), r.ID, "mod-1", "late")
	var rce *core.ReportClosedError
	require.True(t, errors.As(err, &rce))
	assert.Equal(t, core.StatusVerified, rce.Status)
}

func TestMilestoneEveryN(t *testing.T) {
	f := newFixture(t, Config{VerifyThreshold: 1, MilestoneEvery: 2})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		r := f.submit(t, "author")
		_, err := f.mgr.CastVote(ctx, r.ID, "fan")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, f.activity(t, "author", core.ActionMilestoneReached))

	score, err := f.ledger.Score(ctx, "author")
	require.NoError(t, err)
	// 4 submissions, 4 verifications, 2 milestones.
	assert.Equal(t, 4*50+4*100+2*200, score)
}

// hookedStore runs hook once, inside the first verified-count read after it
// is armed, and can fail that read instead.
type hookedStore struct {
	*data.Memory
	mu   sync.Mutex
	hook func()
	fail error
}

func (s *hookedStore) arm(hook func(), fail error) {
	s.mu.Lock()
	s.hook, s.fail = hook, fail
	s.mu.Unlock()
}

func (s *hookedStore) CountActivity(ctx context.Context, userID string, action core.ActionType) (int, error) {
	if action == core.ActionReportVerified {
		s.mu.Lock()
		hook, fail := s.hook, s.fail
		s.hook, s.fail = nil, nil
		s.mu.Unlock()
		if hook != nil {
			hook()
		}
		if fail != nil {
			return 0, &core.StorageError{Op: "count activity", Err: fail}
		}
	}
	return s.Memory.CountActivity(ctx, userID, action)
}

func newHookedFixture(t *testing.T, cfg Config) (*hookedStore, *Manager) {
	t.Helper()
	store := &hookedStore{Memory: data.NewMemory()}
	return store, New(store, ledger.New(store, 0), nil, nil, cfg)
}

func TestMilestoneCreditedWhenCountSkipsMultiple(t *testing.T) {
	store, mgr := newHookedFixture(t, Config{VerifyThreshold: 1, MilestoneEvery: 2})
	ctx := context.Background()
	var ids []uint64
	for i := 0; i < 3; i++ {
		r, err := mgr.Submit(ctx, validSubmission("author"))
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	_, err := mgr.CastVote(ctx, ids[0], "fan")
	require.NoError(t, err)

	// The third report verifies between the second one's commit and its
	// count, so both observe a verified count of 3.
	store.arm(func() {
		_, err := mgr.CastVote(ctx, ids[2], "fan")
		assert.NoError(t, err)
	}, nil)
	_, err = mgr.CastVote(ctx, ids[1], "fan")
	require.NoError(t, err)

	verified, err := store.CountActivity(ctx, "author", core.ActionReportVerified)
	require.NoError(t, err)
	assert.Equal(t, 3, verified)
	milestones, err := store.CountActivity(ctx, "author", core.ActionMilestoneReached)
	require.NoError(t, err)
	assert.Equal(t, 1, milestones)
}

func TestMilestoneBackfilledAfterFailedCheck(t *testing.T) {
	store, mgr := newHookedFixture(t, Config{VerifyThreshold: 1, MilestoneEvery: 2})
	ctx := context.Background()
	vote := func() {
		t.Helper()
		r, err := mgr.Submit(ctx, validSubmission("author"))
		require.NoError(t, err)
		_, err = mgr.CastVote(ctx, r.ID, "fan")
		require.NoError(t, err)
	}

	vote()
	store.arm(nil, errors.New("connection reset"))
	vote()
	milestones, err := store.CountActivity(ctx, "author", core.ActionMilestoneReached)
	require.NoError(t, err)
	assert.Zero(t, milestones)

	vote()
	history, err := store.ListActivity(ctx, "author", 0)
	require.NoError(t, err)
	var refs []string
	for _, a := range history {
		if a.Action == core.ActionMilestoneReached {
			refs = append(refs, a.Reference)
		}
	}
	assert.Equal(t, []string{ledger.MilestoneRef(2)}, refs)
}

func TestMilestonesDisabled(t *testing.T) {
	f := newFixture(t, Config{VerifyThreshold: 1, MilestoneEvery: 0})
	for i := 0; i < 5; i++ {
		r := f.submit(t, "author")
		_, err := f.mgr.CastVote(context.Background(), r.ID, "fan")
		require.NoError(t, err)
	}
	assert.Zero(t, f.activity(t, "author", core.ActionMilestoneReached))
}

func TestPublishFailureDoesNotFailVote(t *testing.T) {
	f := newFixture(t, Config{VerifyThreshold: 1})
	f.pub.err = errors.New("redis down")
	r := f.submit(t, "author")
	got, err := f.mgr.CastVote(context.Background(), r.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, core.StatusVerified, got.Status)
}
