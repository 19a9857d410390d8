package tracker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/ascend/clock"
	"github.com/cppla/ascend/ledger"
	"github.com/cppla/ascend/models"
	"github.com/cppla/ascend/reconcile"
	"github.com/cppla/ascend/store"
)

const testUser uint = 3

type mapCache struct {
	mu     sync.Mutex
	items  map[string]interface{}
	hits   int
	purged []string
}

func newMapCache() *mapCache { return &mapCache{items: map[string]interface{}{}} }

func (c *mapCache) GetJSON(_ context.Context, key string, dst interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	if !ok {
		return false
	}
	res, ok := v.(*ProjectionResult)
	out, ok2 := dst.(*cachedProjection)
	if !ok || !ok2 {
		return false
	}
	out.Kind = res.Kind
	out.AsOf = res.AsOf
	out.Value = map[string]interface{}{"cached": true}
	c.hits++
	return true
}

func (c *mapCache) SetJSON(_ context.Context, key string, v interface{}, _ time.Duration) {
	c.mu.Lock()
	c.items[key] = v
	c.mu.Unlock()
}

func (c *mapCache) InvalidatePrefix(_ context.Context, prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purged = append(c.purged, prefix)
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
}

type fixture struct {
	clock   *clock.Fixed
	local   *store.MemoryLocal
	remote  *store.MemoryRemote
	cache   *mapCache
	tracker *Tracker
}

func newFixture(today models.Day, wrap func(store.Local) store.Local) *fixture {
	c := clock.AtDay(today)
	local := store.NewMemoryLocal()
	remote := store.NewMemoryRemote()
	remote.SetClock(c.Now)
	var view store.Local = local
	if wrap != nil {
		view = wrap(local)
	}
	l := ledger.New(c, nil)
	locks := ledger.NewUserLocks()
	engine := reconcile.New(view, remote, l, c, locks, reconcile.DefaultOptions(), nil)
	cache := newMapCache()
	return &fixture{
		clock:   c,
		local:   local,
		remote:  remote,
		cache:   cache,
		tracker: New(view, l, engine, locks, c, cache, Options{Sanitize: strings.TrimSpace}, nil),
	}
}

func intPtr(v int) *int { return &v }

func TestCompleteChallengeIsIdempotent(t *testing.T) {
	f := newFixture("2024-05-10", nil)
	ctx := context.Background()

	e1, st1, err := f.tracker.CompleteChallenge(ctx, testUser, "2024-05-10", nil, intPtr(3), " done ")
	require.NoError(t, err)
	assert.Equal(t, "done", e1.Notes)
	assert.Equal(t, 1, st1.CurrentStreak)

	f.clock.Advance(time.Minute)
	e2, st2, err := f.tracker.CompleteChallenge(ctx, testUser, "2024-05-10", nil, intPtr(3), "done")
	require.NoError(t, err)
	assert.Equal(t, e1.ID, e2.ID)
	assert.Equal(t, e1.RecordedAt, e2.RecordedAt)
	assert.Equal(t, st1.CurrentStreak, st2.CurrentStreak)
	assert.Equal(t, st1.LongestStreak, st2.LongestStreak)

	all, err := f.local.QueryEntries(ctx, testUser, store.All)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCompleteChallengeDuplicateReturnsCurrent(t *testing.T) {
	f := newFixture("2024-05-10", nil)
	ctx := context.Background()

	first, _, err := f.tracker.CompleteChallenge(ctx, testUser, "2024-05-10", nil, intPtr(2), "")
	require.NoError(t, err)

	got, st, err := f.tracker.CompleteChallenge(ctx, testUser, "2024-05-10", nil, intPtr(5), "")
	require.ErrorIs(t, err, ledger.ErrDuplicateEntry)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, 2, *got.EffortLevel)
	require.NotNil(t, st)
	assert.Equal(t, 1, st.CurrentStreak)
}

func TestStreakExtendsAcrossDays(t *testing.T) {
	f := newFixture("2024-05-10", nil)
	ctx := context.Background()

	for _, d := range []models.Day{"2024-05-08", "2024-05-09", "2024-05-10"} {
		_, _, err := f.tracker.CompleteChallenge(ctx, testUser, d, nil, nil, "")
		require.NoError(t, err)
	}
	f.clock.AdvanceDays(1)
	_, st, err := f.tracker.CompleteChallenge(ctx, testUser, "2024-05-11", nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 4, st.CurrentStreak)
	assert.Equal(t, 4, st.LongestStreak)
}

func TestUseBankDayBridgesMiss(t *testing.T) {
	f := newFixture("2024-05-10", nil)
	ctx := context.Background()

	for _, d := range []models.Day{"2024-05-06", "2024-05-07", "2024-05-08"} {
		_, _, err := f.tracker.CompleteChallenge(ctx, testUser, d, nil, nil, "")
		require.NoError(t, err)
	}
	_, st, err := f.tracker.GrantBankDays(ctx, testUser, 1, "reward")
	require.NoError(t, err)
	assert.Equal(t, 1, st.StreakBankDays)

	_, _, err = f.tracker.CompleteChallenge(ctx, testUser, "2024-05-10", nil, nil, "")
	require.NoError(t, err)

	tx, st, err := f.tracker.UseBankDay(ctx, testUser, "2024-05-09")
	require.NoError(t, err)
	assert.Equal(t, models.Day("2024-05-09"), tx.CoveredDay)
	assert.Equal(t, 5, st.CurrentStreak)
	assert.Zero(t, st.StreakBankDays)

	_, _, err = f.tracker.UseBankDay(ctx, testUser, "2024-05-09")
	assert.ErrorIs(t, err, ledger.ErrAlreadyCovered)
}

func TestFailedMutationLeavesNothing(t *testing.T) {
	f := newFixture("2024-05-10", func(l store.Local) store.Local { return failingLocal{l} })
	ctx := context.Background()

	_, _, err := f.tracker.CompleteChallenge(ctx, testUser, "2024-05-10", nil, nil, "")
	require.Error(t, err)

	_, err = f.local.GetEntry(ctx, testUser, "2024-05-10")
	assert.ErrorIs(t, err, store.ErrNotFound)
	st, err := f.tracker.CurrentProgress(ctx, testUser)
	require.NoError(t, err)
	assert.Zero(t, st.CurrentStreak)
}

func TestCurrentProgressWithoutHistory(t *testing.T) {
	f := newFixture("2024-05-10", nil)
	st, err := f.tracker.CurrentProgress(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, testUser, st.UserID)
	assert.Zero(t, st.CurrentStreak)
}

func TestRecordCheckInValidation(t *testing.T) {
	f := newFixture("2024-05-10", nil)
	ctx := context.Background()

	_, err := f.tracker.RecordCheckIn(ctx, testUser, "2024-05-10", intPtr(11), nil, "")
	assert.ErrorIs(t, err, ErrInvalidMood)
	_, err = f.tracker.RecordCheckIn(ctx, testUser, "2024-05-10", intPtr(5), intPtr(0), "")
	assert.ErrorIs(t, err, ErrInvalidEnergy)
	_, err = f.tracker.RecordCheckIn(ctx, testUser, "2024-05-11", intPtr(5), nil, "")
	assert.ErrorIs(t, err, ledger.ErrFutureDay)
	_, err = f.tracker.RecordCheckIn(ctx, testUser, "May 10", intPtr(5), nil, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidDay)

	c, err := f.tracker.RecordCheckIn(ctx, testUser, "2024-05-10", intPtr(7), nil, "  calm  ")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "calm", c.Note)
}

func TestProjectionCachedUntilMutation(t *testing.T) {
	f := newFixture("2024-05-10", nil)
	ctx := context.Background()

	_, _, err := f.tracker.CompleteChallenge(ctx, testUser, "2024-05-10", nil, nil, "")
	require.NoError(t, err)

	res, err := f.tracker.Projection(ctx, testUser, KindWeeklyRate)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/7, res.Value.(map[string]interface{})["rate"], 1e-9)

	_, err = f.tracker.Projection(ctx, testUser, KindWeeklyRate)
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits)

	_, _, err = f.tracker.SkipChallenge(ctx, testUser, "2024-05-09", "sick")
	require.NoError(t, err)
	assert.Contains(t, f.cache.purged, "projection:3:")

	res, err = f.tracker.Projection(ctx, testUser, KindWeeklyRate)
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits)
	assert.InDelta(t, 1.0/7, res.Value.(map[string]interface{})["rate"], 1e-9)
}

func TestProjectionKinds(t *testing.T) {
	f := newFixture("2024-05-10", nil)
	ctx := context.Background()

	_, err := f.tracker.RecordCheckIn(ctx, testUser, "2024-05-10", intPtr(6), nil, "")
	require.NoError(t, err)
	for _, kind := range Kinds {
		res, err := f.tracker.Projection(ctx, testUser, kind)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, res.Kind)
		assert.Equal(t, models.Day("2024-05-10"), res.AsOf)
		assert.NotNil(t, res.Value)
	}

	_, err = f.tracker.Projection(ctx, testUser, "horoscope")
	assert.ErrorIs(t, err, ErrUnknownProjection)
}

func TestTriggerSyncPushesLocalWrites(t *testing.T) {
	f := newFixture("2024-05-10", nil)
	ctx := context.Background()

	_, _, err := f.tracker.CompleteChallenge(ctx, testUser, "2024-05-10", nil, nil, "")
	require.NoError(t, err)

	st := f.tracker.TriggerSync(ctx, testUser)
	assert.Equal(t, reconcile.StateSynced, st.State)
	assert.Equal(t, reconcile.StateSynced, f.tracker.SyncStatus(testUser).State)

	_, ok := f.remote.Entry(testUser, "2024-05-10")
	assert.True(t, ok)
}

// failingLocal fails every counter write made inside a transaction.
type failingLocal struct{ store.Local }

func (f failingLocal) Atomic(ctx context.Context, fn func(tx store.Local) error) error {
	return f.Local.Atomic(ctx, func(tx store.Local) error { return fn(failingTx{tx}) })
}

type failingTx struct{ store.Local }

func (failingTx) PutStreakState(context.Context, *models.StreakState) error {
	return errors.New("disk full")
}

func TestBackgroundPassDropsCachedProjections(t *testing.T) {
	f := newFixture("2024-05-10", nil)
	ctx := context.Background()

	_, _, err := f.tracker.CompleteChallenge(ctx, testUser, "2024-05-10", nil, nil, "")
	require.NoError(t, err)
	res, err := f.tracker.Projection(ctx, testUser, KindWeeklyRate)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/7, res.Value.(map[string]interface{})["rate"], 1e-9)
	purges := len(f.cache.purged)

	// another device completed yesterday
	f.remote.Seed(models.LedgerEntry{ID: "phone-1", UserID: testUser, Day: "2024-05-09", Completed: true, RecordedAt: clock.Millis(f.clock) - 1000})
	s := reconcile.NewScheduler(f.tracker.engine, time.Minute, time.Hour, nil)
	s.Touch(testUser)
	require.Equal(t, 1, s.Tick(ctx))

	assert.Len(t, f.cache.purged, purges+1)
	res, err = f.tracker.Projection(ctx, testUser, KindWeeklyRate)
	require.NoError(t, err)
	assert.Zero(t, f.cache.hits)
	assert.InDelta(t, 2.0/7, res.Value.(map[string]interface{})["rate"], 1e-9)

	st, err := f.tracker.CurrentProgress(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 2, st.CurrentStreak)
}

func TestAtRiskCutoffAtMidnight(t *testing.T) {
	f := newFixture("2024-05-10", nil)
	ctx := context.Background()

	res, err := f.tracker.Projection(ctx, testUser, KindAtRisk)
	require.NoError(t, err)
	v := res.Value.(map[string]interface{})
	assert.Equal(t, 0, v["cutoff_hour"])
	assert.Equal(t, true, v["at_risk"])

	out := New(f.local, ledger.New(f.clock, nil), f.tracker.engine, ledger.NewUserLocks(), f.clock, nil, Options{AtRiskCutoffHour: 24}, nil)
	assert.Equal(t, 20, out.opts.AtRiskCutoffHour)
}
