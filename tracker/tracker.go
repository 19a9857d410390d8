// Package tracker is the entry point used by the HTTP layer. Every mutation
// runs under the user's lock in one local transaction that also refreshes the
// cached counters, so a failed call leaves nothing behind. Nothing here waits
// on the network except TriggerSync.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cppla/ascend/clock"
	"github.com/cppla/ascend/content"
	"github.com/cppla/ascend/ledger"
	"github.com/cppla/ascend/models"
	"github.com/cppla/ascend/reconcile"
	"github.com/cppla/ascend/store"
)

var (
	ErrUnknownProjection = errors.New("unknown projection kind")
	ErrInvalidMood       = errors.New("mood must be between 1 and 10")
	ErrInvalidEnergy     = errors.New("energy must be between 1 and 10")
)

// Cache stores rendered projections. Implementations are best-effort: a miss
// or a failed write only costs a recomputation.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) bool
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration)
	InvalidatePrefix(ctx context.Context, prefix string)
}

// Options configures projections and text handling.
type Options struct {
	AtRiskCutoffHour int
	CacheTTL         time.Duration
	MoodWindowDays   int
	// Sanitize cleans free text before it is stored; nil keeps it as is.
	Sanitize func(string) string
}

// Tracker wires the ledger, the reconciliation engine and the projections.
type Tracker struct {
	local  store.Local
	ledger *ledger.Ledger
	engine *reconcile.Engine
	locks  *ledger.UserLocks
	clock  clock.Clock
	cache  Cache
	logger *zap.Logger
	opts   Options
}

// New returns a Tracker. cache may be nil.
func New(local store.Local, l *ledger.Ledger, e *reconcile.Engine, locks *ledger.UserLocks, c clock.Clock, cache Cache, opts Options, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.AtRiskCutoffHour < 0 || opts.AtRiskCutoffHour > 23 {
		opts.AtRiskCutoffHour = 20
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if opts.MoodWindowDays <= 0 {
		opts.MoodWindowDays = 14
	}
	if opts.Sanitize == nil {
		opts.Sanitize = func(s string) string { return s }
	}
	t := &Tracker{local: local, ledger: l, engine: e, locks: locks, clock: c, cache: cache, logger: logger, opts: opts}
	// background passes may adopt rows from other devices
	e.OnPass(func(userID uint, _ reconcile.Status) {
		t.invalidate(context.Background(), userID)
	})
	return t
}

// Today is the user's current calendar day.
func (t *Tracker) Today(userID uint) models.Day {
	return t.clock.Today(userID)
}

// mutate runs fn and the counter refresh in one transaction. today is resolved
// first because the zone lookup may need the store's only connection.
func (t *Tracker) mutate(ctx context.Context, userID uint, fn func(tx store.Local, today models.Day) error) (*models.StreakState, error) {
	today := t.clock.Today(userID)
	unlock := t.locks.Lock(userID)
	defer unlock()

	var st *models.StreakState
	err := t.local.Atomic(ctx, func(tx store.Local) error {
		if err := fn(tx, today); err != nil {
			return err
		}
		s, err := t.engine.Refresh(ctx, tx, userID, today)
		st = s
		return err
	})
	if err != nil {
		return nil, err
	}
	t.invalidate(ctx, userID)
	return st, nil
}

// CompleteChallenge records day as completed. On ErrDuplicateEntry the stored
// entry and the current counters are returned along with the error.
func (t *Tracker) CompleteChallenge(ctx context.Context, userID uint, day models.Day, challengeRef *string, effort *int, notes string) (*models.LedgerEntry, *models.StreakState, error) {
	var entry *models.LedgerEntry
	in := ledger.Completion{ChallengeRef: challengeRef, EffortLevel: effort, Notes: t.opts.Sanitize(notes)}
	st, err := t.mutate(ctx, userID, func(tx store.Local, today models.Day) error {
		e, err := t.ledger.RecordCompletion(ctx, tx, userID, day, in, today)
		entry = e
		return err
	})
	return t.entryResult(ctx, userID, entry, st, err)
}

// SkipChallenge records day as deliberately skipped.
func (t *Tracker) SkipChallenge(ctx context.Context, userID uint, day models.Day, reason string) (*models.LedgerEntry, *models.StreakState, error) {
	var entry *models.LedgerEntry
	reason = t.opts.Sanitize(reason)
	st, err := t.mutate(ctx, userID, func(tx store.Local, today models.Day) error {
		e, err := t.ledger.RecordSkip(ctx, tx, userID, day, reason, today)
		entry = e
		return err
	})
	return t.entryResult(ctx, userID, entry, st, err)
}

func (t *Tracker) entryResult(ctx context.Context, userID uint, entry *models.LedgerEntry, st *models.StreakState, err error) (*models.LedgerEntry, *models.StreakState, error) {
	if errors.Is(err, ledger.ErrDuplicateEntry) {
		cur, cerr := t.CurrentProgress(ctx, userID)
		if cerr != nil {
			return entry, nil, err
		}
		return entry, cur, err
	}
	if err != nil {
		return nil, nil, err
	}
	return entry, st, nil
}

// UseBankDay spends a bank credit to cover a missed past day.
func (t *Tracker) UseBankDay(ctx context.Context, userID uint, day models.Day) (*models.StreakBankTransaction, *models.StreakState, error) {
	var tx *models.StreakBankTransaction
	st, err := t.mutate(ctx, userID, func(s store.Local, today models.Day) error {
		r, err := t.ledger.ConsumeBankDay(ctx, s, userID, day, today)
		tx = r
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return tx, st, nil
}

// GrantBankDays credits bank days, for example as a reward.
func (t *Tracker) GrantBankDays(ctx context.Context, userID uint, amount int, reason string) (*models.StreakBankTransaction, *models.StreakState, error) {
	var tx *models.StreakBankTransaction
	reason = t.opts.Sanitize(reason)
	st, err := t.mutate(ctx, userID, func(s store.Local, _ models.Day) error {
		r, err := t.ledger.GrantBankDays(ctx, s, userID, amount, reason)
		tx = r
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return tx, st, nil
}

// CurrentProgress returns the cached counters without recomputing them. A user
// with no history gets zeroed counters.
func (t *Tracker) CurrentProgress(ctx context.Context, userID uint) (*models.StreakState, error) {
	st, err := t.local.GetStreakState(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &models.StreakState{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read streak state: %w", err)
	}
	return st, nil
}

// TriggerSync runs or joins a reconciliation pass. Cached projections are
// dropped by the engine's pass hook.
func (t *Tracker) TriggerSync(ctx context.Context, userID uint) reconcile.Status {
	return t.engine.Sync(ctx, userID)
}

// SyncStatus returns the last known sync status.
func (t *Tracker) SyncStatus(userID uint) reconcile.Status {
	return t.engine.Status(userID)
}

// SignOut aborts any pass in flight for userID.
func (t *Tracker) SignOut(userID uint) {
	t.engine.Cancel(userID)
	t.invalidate(context.Background(), userID)
}

// RecordCheckIn stores a daily mood and energy check-in. Check-ins stay on the
// device.
func (t *Tracker) RecordCheckIn(ctx context.Context, userID uint, day models.Day, mood, energy *int, note string) (*models.CheckIn, error) {
	if !day.Valid() {
		return nil, ledger.ErrInvalidDay
	}
	if day.After(t.clock.Today(userID)) {
		return nil, ledger.ErrFutureDay
	}
	if mood != nil && (*mood < 1 || *mood > 10) {
		return nil, ErrInvalidMood
	}
	if energy != nil && (*energy < 1 || *energy > 10) {
		return nil, ErrInvalidEnergy
	}
	c := &models.CheckIn{
		ID:        uuid.NewString(),
		UserID:    userID,
		Day:       day,
		Mood:      mood,
		Energy:    energy,
		Note:      t.opts.Sanitize(note),
		CreatedAt: t.clock.Now(),
	}
	if err := t.local.PutCheckIn(ctx, c); err != nil {
		return nil, fmt.Errorf("write check-in: %w", err)
	}
	t.invalidate(ctx, userID)
	return c, nil
}

// TodayChallenge returns the challenge of the user's path for today.
func (t *Tracker) TodayChallenge(userID uint, path string) content.Challenge {
	return content.ChallengeFor(path, t.clock.Today(userID))
}

func (t *Tracker) invalidate(ctx context.Context, userID uint) {
	if t.cache == nil {
		return
	}
	t.cache.InvalidatePrefix(ctx, cachePrefix(userID))
}

func cachePrefix(userID uint) string {
	return fmt.Sprintf("projection:%d:", userID)
}
