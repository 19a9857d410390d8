package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/ascend/clock"
	"github.com/cppla/ascend/models"
	"github.com/cppla/ascend/store"
)

const testUser uint = 7

// testToday is the fixed day every ledger test runs on.
const testToday = models.Day("2024-03-10")

func newTestLedger(today models.Day) (*Ledger, *clock.Fixed, *store.MemoryLocal) {
	c := clock.AtDay(today)
	return New(c, nil), c, store.NewMemoryLocal()
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
func day(s string) models.Day { return models.Day(s) }

func TestRecordCompletionIdempotent(t *testing.T) {
	ctx := context.Background()
	l, c, local := newTestLedger(day("2024-03-10"))
	in := Completion{ChallengeRef: strPtr("discipline-3")}

	first, err := l.RecordCompletion(ctx, local, testUser, day("2024-03-10"), in, testToday)
	require.NoError(t, err)

	c.Advance(time.Minute)
	second, err := l.RecordCompletion(ctx, local, testUser, day("2024-03-10"), in, testToday)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.RecordedAt, second.RecordedAt)

	all, err := local.QueryEntries(ctx, testUser, store.All)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRecordCompletionDuplicateAtSameInstant(t *testing.T) {
	ctx := context.Background()
	l, _, local := newTestLedger(day("2024-03-10"))

	first, err := l.RecordCompletion(ctx, local, testUser, day("2024-03-10"), Completion{}, testToday)
	require.NoError(t, err)

	got, err := l.RecordCompletion(ctx, local, testUser, day("2024-03-10"), Completion{EffortLevel: intPtr(3)}, testToday)
	require.ErrorIs(t, err, ErrDuplicateEntry)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Nil(t, got.EffortLevel)
}

func TestLaterWriteSupersedes(t *testing.T) {
	ctx := context.Background()
	l, c, local := newTestLedger(day("2024-03-10"))

	skip, err := l.RecordSkip(ctx, local, testUser, day("2024-03-10"), "travel", testToday)
	require.NoError(t, err)

	c.Advance(time.Second)
	done, err := l.RecordCompletion(ctx, local, testUser, day("2024-03-10"), Completion{EffortLevel: intPtr(4), Notes: "ran anyway"}, testToday)
	require.NoError(t, err)

	assert.Equal(t, skip.ID, done.ID)
	assert.True(t, done.Completed)
	assert.False(t, done.Skipped)
	assert.Greater(t, done.RecordedAt, skip.RecordedAt)
	assert.True(t, done.Pending())
}

func TestSupersedeRemoteRowStampedAhead(t *testing.T) {
	ctx := context.Background()
	l, c, local := newTestLedger(day("2024-03-10"))
	ahead := clock.Millis(c) + int64(time.Hour/time.Millisecond)
	require.NoError(t, local.PutEntry(ctx, &models.LedgerEntry{
		ID: "remote-1", UserID: testUser, Day: day("2024-03-10"), Skipped: true,
		RecordedAt: ahead, Source: models.SourceRemote, RemoteUpdatedAt: ahead,
	}))

	got, err := l.RecordCompletion(ctx, local, testUser, day("2024-03-10"), Completion{}, testToday)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", got.ID)
	assert.Equal(t, ahead+1, got.RecordedAt)
	assert.Equal(t, models.SourceLocal, got.Source)
	assert.Zero(t, got.RemoteUpdatedAt)
}

func TestRecordValidation(t *testing.T) {
	ctx := context.Background()
	l, _, local := newTestLedger(day("2024-03-10"))

	_, err := l.RecordCompletion(ctx, local, testUser, day("2024-03-11"), Completion{}, testToday)
	assert.ErrorIs(t, err, ErrFutureDay)

	_, err = l.RecordCompletion(ctx, local, testUser, day("2024-03-10"), Completion{EffortLevel: intPtr(6)}, testToday)
	assert.ErrorIs(t, err, ErrInvalidEffort)

	_, err = l.RecordCompletion(ctx, local, testUser, day("2024-03-10"), Completion{EffortLevel: intPtr(0)}, testToday)
	assert.ErrorIs(t, err, ErrInvalidEffort)

	_, err = l.RecordSkip(ctx, local, testUser, day("10/03/2024"), "", testToday)
	assert.ErrorIs(t, err, ErrInvalidDay)
}

func TestConsumeBankDay(t *testing.T) {
	ctx := context.Background()
	l, c, local := newTestLedger(day("2024-03-10"))

	_, err := l.ConsumeBankDay(ctx, local, testUser, day("2024-03-09"), testToday)
	assert.ErrorIs(t, err, ErrInsufficientBank)

	_, err = l.GrantBankDays(ctx, local, testUser, 2, "weekly reward")
	require.NoError(t, err)
	c.Advance(time.Second)

	_, err = l.ConsumeBankDay(ctx, local, testUser, day("2024-03-10"), testToday)
	assert.ErrorIs(t, err, ErrBankDayNotEligible, "today is not in the past")

	_, err = l.RecordCompletion(ctx, local, testUser, day("2024-03-08"), Completion{}, testToday)
	require.NoError(t, err)
	_, err = l.ConsumeBankDay(ctx, local, testUser, day("2024-03-08"), testToday)
	assert.ErrorIs(t, err, ErrBankDayNotEligible, "completed day")

	tx, err := l.ConsumeBankDay(ctx, local, testUser, day("2024-03-09"), testToday)
	require.NoError(t, err)
	assert.Equal(t, models.BankConsume, tx.Kind)
	assert.Equal(t, day("2024-03-10"), tx.ConsumedOn)

	_, err = l.ConsumeBankDay(ctx, local, testUser, day("2024-03-09"), testToday)
	assert.ErrorIs(t, err, ErrAlreadyCovered)

	snap, err := Load(ctx, local, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Bank.Balance())
	assert.True(t, snap.Bank.Covered[day("2024-03-09")])
}

func TestConsumeSkippedDayIsEligible(t *testing.T) {
	ctx := context.Background()
	l, c, local := newTestLedger(day("2024-03-10"))

	_, err := l.RecordSkip(ctx, local, testUser, day("2024-03-09"), "sick", testToday)
	require.NoError(t, err)
	_, err = l.GrantBankDays(ctx, local, testUser, 1, "")
	require.NoError(t, err)
	c.Advance(time.Second)

	_, err = l.ConsumeBankDay(ctx, local, testUser, day("2024-03-09"), testToday)
	assert.NoError(t, err)
}

func TestGrantRejectsNonPositive(t *testing.T) {
	l, _, local := newTestLedger(day("2024-03-10"))
	_, err := l.GrantBankDays(context.Background(), local, testUser, 0, "")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestMarkEntryPushedSkipsRewrittenRow(t *testing.T) {
	ctx := context.Background()
	l, c, local := newTestLedger(day("2024-03-10"))

	read, err := l.RecordCompletion(ctx, local, testUser, day("2024-03-10"), Completion{}, testToday)
	require.NoError(t, err)

	c.Advance(time.Second)
	_, err = l.RecordCompletion(ctx, local, testUser, day("2024-03-10"), Completion{Notes: "more"}, testToday)
	require.NoError(t, err)

	ok, err := l.MarkEntryPushed(ctx, local, *read, 99)
	require.NoError(t, err)
	assert.False(t, ok)

	cur, err := local.GetEntry(ctx, testUser, day("2024-03-10"))
	require.NoError(t, err)
	assert.True(t, cur.Pending())

	ok, err = l.MarkEntryPushed(ctx, local, *cur, 100)
	require.NoError(t, err)
	assert.True(t, ok)
	cur, err = local.GetEntry(ctx, testUser, day("2024-03-10"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), cur.RemoteUpdatedAt)
}

func TestUserLocksSerializeSameUser(t *testing.T) {
	locks := NewUserLocks()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(testUser)
			defer unlock()
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}
