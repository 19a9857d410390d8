// Package reconcile merges the local and remote ledgers of a user into one
// authoritative state and owns every write of StreakState and SyncCursor.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/cppla/ascend/clock"
	"github.com/cppla/ascend/ledger"
	"github.com/cppla/ascend/models"
	"github.com/cppla/ascend/store"
)

// Options tunes a sync pass.
type Options struct {
	RemoteTimeout      time.Duration
	MaxRetries         int
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	AutoBankProtection bool
	MaxClockSkew       time.Duration
	// Recorder, when set, sees the outcome of every finished pass.
	Recorder PassRecorder
}

// PassRecorder receives pass outcomes, typically for metrics.
type PassRecorder interface {
	ObservePass(state State, took time.Duration, pulled, pushed, conflicts int)
}

// DefaultOptions returns the settings used when config leaves them unset.
func DefaultOptions() Options {
	return Options{
		RemoteTimeout:      10 * time.Second,
		MaxRetries:         5,
		BackoffInitial:     5 * time.Second,
		BackoffMax:         5 * time.Minute,
		AutoBankProtection: true,
		MaxClockSkew:       24 * time.Hour,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RemoteTimeout <= 0 {
		o.RemoteTimeout = d.RemoteTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = d.BackoffInitial
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = d.BackoffMax
		if o.BackoffMax < o.BackoffInitial {
			o.BackoffMax = o.BackoffInitial
		}
	}
	if o.MaxClockSkew <= 0 {
		o.MaxClockSkew = d.MaxClockSkew
	}
	return o
}

// Engine runs reconciliation passes. At most one pass per user runs at a time;
// concurrent triggers join the pass in flight.
type Engine struct {
	local  store.Local
	remote store.Remote
	ledger *ledger.Ledger
	clock  clock.Clock
	locks  *ledger.UserLocks
	logger *zap.Logger
	opts   Options

	group     singleflight.Group
	observers *observers

	mu       sync.Mutex
	statuses map[uint]Status
	retries  map[uint]*retryState
	cancels  map[uint]context.CancelFunc
	hooks    []func(userID uint, s Status)
}

// New wires an Engine. locks must be the table shared with ledger writers.
func New(local store.Local, remote store.Remote, l *ledger.Ledger, c clock.Clock, locks *ledger.UserLocks, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		local:     local,
		remote:    remote,
		ledger:    l,
		clock:     c,
		locks:     locks,
		logger:    logger,
		opts:      opts.withDefaults(),
		observers: newObservers(),
		statuses:  map[uint]Status{},
		retries:   map[uint]*retryState{},
		cancels:   map[uint]context.CancelFunc{},
	}
}

// Refresh recomputes the user's counters from tx and stores them. Callers hold
// the user's lock, run it inside the transaction of their ledger write and
// resolve today before opening that transaction.
//
// When the recomputed streak falls below the cached one and bank protection is
// on, credits cover the gap behind the current run until the cached streak is
// restored or the balance runs out.
func (e *Engine) Refresh(ctx context.Context, tx store.Local, userID uint, today models.Day) (*models.StreakState, error) {
	snap, err := ledger.Load(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	var prevCurrent, prevLongest int
	cached, err := tx.GetStreakState(ctx, userID)
	switch {
	case err == nil:
		prevCurrent, prevLongest = cached.CurrentStreak, cached.LongestStreak
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("read streak state: %w", err)
	}

	st := ledger.Recompute(userID, snap.Entries, snap.Bank, today, prevLongest)
	if e.opts.AutoBankProtection && st.CurrentStreak < prevCurrent {
		plan := PlanProtection(snap.Entries, snap.Bank, today, prevCurrent)
		for _, d := range plan {
			if _, err := e.ledger.ConsumeBankDay(ctx, tx, userID, d, today); err != nil {
				return nil, fmt.Errorf("protect %s: %w", d, err)
			}
			e.logger.Info("bank day applied",
				zap.Uint("user_id", userID),
				zap.String("day", d.String()),
				zap.Int("cached_streak", prevCurrent))
		}
		if len(plan) > 0 {
			if snap, err = ledger.Load(ctx, tx, userID); err != nil {
				return nil, err
			}
			st = ledger.Recompute(userID, snap.Entries, snap.Bank, today, prevLongest)
		}
	}

	st.UpdatedAt = e.clock.Now()
	if err := tx.PutStreakState(ctx, &st); err != nil {
		return nil, fmt.Errorf("write streak state: %w", err)
	}
	return &st, nil
}

// OnPass registers fn to run after every finished pass, whatever its outcome.
func (e *Engine) OnPass(fn func(userID uint, s Status)) {
	e.mu.Lock()
	e.hooks = append(e.hooks, fn)
	e.mu.Unlock()
}

// Status returns the latest sync status of userID.
func (e *Engine) Status(userID uint) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.statuses[userID]
	if !ok {
		return Status{State: StateIdle}
	}
	return s
}

// Subscribe streams status transitions of userID until the returned func is called.
func (e *Engine) Subscribe(userID uint) (<-chan Status, func()) {
	return e.observers.subscribe(userID)
}

// Cancel aborts the pass in flight for userID, if any. Nothing of a pass
// aborted before its local commit is kept.
func (e *Engine) Cancel(userID uint) {
	e.mu.Lock()
	cancel := e.cancels[userID]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Due reports whether an automatic pass for userID may start at now.
func (e *Engine) Due(userID uint, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.retries[userID]
	return !ok || r.due(now)
}

// Sync runs one reconciliation pass for userID, or waits for the one in flight,
// and returns the resulting status. Failures are reported through the status.
// The pass outlives the caller's context; only Cancel aborts it.
func (e *Engine) Sync(ctx context.Context, userID uint) Status {
	v, _, _ := e.group.Do(strconv.FormatUint(uint64(userID), 10), func() (interface{}, error) {
		return e.run(context.WithoutCancel(ctx), userID), nil
	})
	return v.(Status)
}

func (e *Engine) run(ctx context.Context, userID uint) Status {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels[userID] = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.cancels, userID)
		e.mu.Unlock()
	}()

	prev := e.Status(userID)
	e.setStatus(userID, Status{
		State:        StateSyncing,
		ClockSkew:    prev.ClockSkew,
		Failures:     prev.Failures,
		LastSyncedAt: prev.LastSyncedAt,
	})

	start := time.Now()
	res := e.pass(ctx, userID)
	st := e.settle(userID, prev, res)
	if e.opts.Recorder != nil {
		e.opts.Recorder.ObservePass(st.State, time.Since(start), res.pulled, res.pushed, len(res.conflicts))
	}
	e.logger.Info("sync finished",
		zap.Uint("user_id", userID),
		zap.String("state", string(st.State)),
		zap.Int("pulled", res.pulled),
		zap.Int("pushed", res.pushed),
		zap.Bool("local_only", res.localOnly),
		zap.Duration("took", time.Since(start)),
		zap.Error(st.Err))

	e.mu.Lock()
	hooks := append([]func(uint, Status){}, e.hooks...)
	e.mu.Unlock()
	for _, fn := range hooks {
		fn(userID, st)
	}
	return st
}

type passResult struct {
	localErr  error
	remoteErr error
	conflicts []Conflict
	skew      bool
	localOnly bool
	pulled    int
	pushed    int
}

type pulledData struct {
	entries []models.LedgerEntry
	bank    []models.StreakBankTransaction
	state   *models.StreakState
}

type pushBatch struct {
	entries []models.LedgerEntry
	bank    []models.StreakBankTransaction
	state   models.StreakState
}

type pushedEntry struct {
	entry   models.LedgerEntry
	version int64
}

type pushedBank struct {
	row     models.StreakBankTransaction
	version int64
}

func (e *Engine) pass(ctx context.Context, userID uint) passResult {
	var res passResult

	cursors, err := e.readCursors(ctx, userID)
	if err != nil {
		res.localErr = err
		return res
	}

	pulled, skew, err := e.fetch(ctx, userID, cursors)
	res.skew = skew
	if ctx.Err() != nil {
		res.localErr = ctx.Err()
		return res
	}
	if err != nil {
		// stay usable offline: counters and bank protection still run locally
		res.remoteErr = err
		res.localOnly = true
		pulled = nil
	} else {
		res.pulled = len(pulled.entries) + len(pulled.bank)
	}

	batch, conflicts, err := e.commit(ctx, userID, pulled)
	if err != nil {
		res.localErr = err
		return res
	}
	res.conflicts = conflicts
	if pulled == nil {
		return res
	}

	entries, bank, err := e.push(ctx, batch)
	res.pushed = len(entries) + len(bank)
	if err != nil {
		res.remoteErr = err
	}
	if ctx.Err() != nil {
		res.localErr = ctx.Err()
		return res
	}

	if err := e.finalize(ctx, userID, cursors, pulled, batch, entries, bank); err != nil {
		res.localErr = err
	}
	return res
}

type cursorPair struct {
	entries int64
	bank    int64
}

func (e *Engine) readCursors(ctx context.Context, userID uint) (cursorPair, error) {
	var c cursorPair
	for _, kind := range []string{models.EntityLedgerEntry, models.EntityBankTransaction} {
		cur, err := e.local.GetCursor(ctx, userID, kind)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return c, fmt.Errorf("read %s cursor: %w", kind, err)
		}
		if kind == models.EntityLedgerEntry {
			c.entries = cur.Watermark
		} else {
			c.bank = cur.Watermark
		}
	}
	return c, nil
}

func (e *Engine) fetch(ctx context.Context, userID uint, c cursorPair) (*pulledData, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.RemoteTimeout)
	defer cancel()

	skew := false
	serverNow, err := e.remote.Now(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%w: remote clock: %w", ErrSyncTransient, err)
	}
	if d := e.clock.Now().Sub(serverNow); d > e.opts.MaxClockSkew || -d > e.opts.MaxClockSkew {
		skew = true
		e.logger.Warn("device clock disagrees with server",
			zap.Uint("user_id", userID),
			zap.Duration("offset", d),
			zap.Error(ErrClockSkew))
	}

	var p pulledData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		p.entries, err = e.remote.FetchEntriesSince(gctx, userID, c.entries)
		return err
	})
	g.Go(func() (err error) {
		p.bank, err = e.remote.FetchBankSince(gctx, userID, c.bank)
		return err
	})
	g.Go(func() error {
		st, err := e.remote.FetchStreakState(gctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		p.state = st
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, skew, fmt.Errorf("%w: %w", ErrSyncTransient, err)
	}
	return &p, skew, nil
}

// commit merges pulled rows, applies bank protection and stores the recomputed
// counters in one local transaction. pulled is nil for a local-only pass.
func (e *Engine) commit(ctx context.Context, userID uint, pulled *pulledData) (pushBatch, []Conflict, error) {
	today := e.clock.Today(userID)
	unlock := e.locks.Lock(userID)
	defer unlock()

	var (
		batch     pushBatch
		conflicts []Conflict
	)
	err := e.local.Atomic(ctx, func(tx store.Local) error {
		if pulled != nil {
			snap, err := ledger.Load(ctx, tx, userID)
			if err != nil {
				return err
			}
			m := Merge(snap.Entries, pulled.entries)
			b := MergeBank(snap.BankRows, pulled.bank)
			if err := e.ledger.ApplyMerged(ctx, tx, m.Writes, b.Writes); err != nil {
				return err
			}
			conflicts = m.Conflicts
		}

		st, err := e.Refresh(ctx, tx, userID, today)
		if err != nil {
			return err
		}
		if pulled != nil && pulled.state != nil && countersDiffer(*pulled.state, *st) {
			e.logger.Info("discarding remote streak counters",
				zap.Uint("user_id", userID),
				zap.Int("remote_current", pulled.state.CurrentStreak),
				zap.Int("remote_longest", pulled.state.LongestStreak),
				zap.Int("current", st.CurrentStreak),
				zap.Int("longest", st.LongestStreak))
		}

		final, err := ledger.Load(ctx, tx, userID)
		if err != nil {
			return err
		}
		for _, en := range final.Entries {
			if en.Pending() {
				batch.entries = append(batch.entries, en)
			}
		}
		for _, row := range final.BankRows {
			if row.Pending() {
				batch.bank = append(batch.bank, row)
			}
		}
		batch.state = *st

		// nothing of a cancelled pass may land
		return ctx.Err()
	})
	if err != nil {
		return pushBatch{}, nil, err
	}
	return batch, conflicts, nil
}

func countersDiffer(a, b models.StreakState) bool {
	return a.CurrentStreak != b.CurrentStreak ||
		a.LongestStreak != b.LongestStreak ||
		a.StreakBankDays != b.StreakBankDays
}

// push uploads pending rows and the counters. It stops at the first failure.
func (e *Engine) push(ctx context.Context, b pushBatch) ([]pushedEntry, []pushedBank, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.RemoteTimeout)
	defer cancel()

	var (
		entries []pushedEntry
		bank    []pushedBank
	)
	for _, row := range b.bank {
		v, err := e.remote.UpsertBank(ctx, row)
		if err != nil {
			return entries, bank, fmt.Errorf("%w: push bank row: %w", ErrSyncTransient, err)
		}
		bank = append(bank, pushedBank{row: row, version: v})
	}
	for _, en := range b.entries {
		v, err := e.remote.UpsertEntry(ctx, en)
		if err != nil {
			return entries, bank, fmt.Errorf("%w: push entry %s: %w", ErrSyncTransient, en.Day, err)
		}
		entries = append(entries, pushedEntry{entry: en, version: v})
	}
	if err := e.remote.UpsertStreakState(ctx, b.state); err != nil {
		return entries, bank, fmt.Errorf("%w: push streak state: %w", ErrSyncTransient, err)
	}
	return entries, bank, nil
}

// finalize records pushed versions and advances the cursors. A pulled day
// whose local winner is still unpushed holds the entry cursor at its version.
func (e *Engine) finalize(ctx context.Context, userID uint, prev cursorPair, pulled *pulledData, batch pushBatch, entries []pushedEntry, bank []pushedBank) error {
	unlock := e.locks.Lock(userID)
	defer unlock()

	pushedDays := make(map[models.Day]bool, len(entries))
	for _, p := range entries {
		pushedDays[p.entry.Day] = true
	}
	blocked := map[models.Day]bool{}
	for _, en := range batch.entries {
		if !pushedDays[en.Day] {
			blocked[en.Day] = true
		}
	}

	entryMark := advance(prev.entries, len(pulled.entries), func(i int) (int64, bool) {
		r := pulled.entries[i]
		return r.RemoteUpdatedAt, blocked[r.Day]
	})
	bankMark := advance(prev.bank, len(pulled.bank), func(i int) (int64, bool) {
		return pulled.bank[i].RemoteUpdatedAt, false
	})

	return e.local.Atomic(ctx, func(tx store.Local) error {
		for _, p := range entries {
			if _, err := e.ledger.MarkEntryPushed(ctx, tx, p.entry, p.version); err != nil {
				return err
			}
		}
		for _, p := range bank {
			if err := e.ledger.MarkBankPushed(ctx, tx, p.row, p.version); err != nil {
				return err
			}
		}
		now := e.clock.Now()
		if entryMark > prev.entries {
			if err := tx.PutCursor(ctx, &models.SyncCursor{UserID: userID, EntityType: models.EntityLedgerEntry, Watermark: entryMark, UpdatedAt: now}); err != nil {
				return fmt.Errorf("write entry cursor: %w", err)
			}
		}
		if bankMark > prev.bank {
			if err := tx.PutCursor(ctx, &models.SyncCursor{UserID: userID, EntityType: models.EntityBankTransaction, Watermark: bankMark, UpdatedAt: now}); err != nil {
				return fmt.Errorf("write bank cursor: %w", err)
			}
		}
		return nil
	})
}

// advance returns the new watermark: the highest pulled version, capped at the
// lowest version of a blocked row, and never below prev.
func advance(prev int64, n int, at func(i int) (version int64, blocked bool)) int64 {
	mark := prev
	capAt := int64(-1)
	for i := 0; i < n; i++ {
		v, b := at(i)
		if v > mark {
			mark = v
		}
		if b && (capAt < 0 || v < capAt) {
			capAt = v
		}
	}
	if capAt >= 0 && capAt < mark {
		mark = capAt
	}
	if mark < prev {
		mark = prev
	}
	return mark
}

func (e *Engine) settle(userID uint, prev Status, res passResult) Status {
	now := e.clock.Now()
	st := Status{
		ClockSkew:    res.skew || (res.remoteErr != nil && prev.ClockSkew),
		LastSyncedAt: prev.LastSyncedAt,
	}

	e.mu.Lock()
	r, ok := e.retries[userID]
	if !ok {
		r = newRetryState(e.opts.BackoffInitial, e.opts.BackoffMax)
		e.retries[userID] = r
	}

	switch {
	case errors.Is(res.localErr, context.Canceled):
		st.State = StateIdle
		st.Err = res.localErr
		st.Message = "sync cancelled"
		st.Failures = r.failures
	case res.localErr != nil:
		st.State = StateError
		st.Err = res.localErr
		st.Message = res.localErr.Error()
		st.Failures = r.failures
	case res.remoteErr != nil:
		r.fail(now)
		st.Failures = r.failures
		st.NextAttempt = r.next
		if r.failures >= e.opts.MaxRetries {
			st.State = StateStalled
			st.Err = fmt.Errorf("%w after %d attempts: %w", ErrSyncStalled, r.failures, res.remoteErr)
		} else {
			st.State = StateError
			st.Retryable = true
			st.Err = res.remoteErr
		}
		st.Message = st.Err.Error()
	case len(res.conflicts) > 0:
		r.succeed()
		st.State = StateConflict
		st.Err = ErrSyncConflict
		st.Message = ErrSyncConflict.Error()
		st.Conflicts = res.conflicts
		st.LastSyncedAt = now
	default:
		r.succeed()
		st.State = StateSynced
		st.LastSyncedAt = now
	}
	e.mu.Unlock()

	e.setStatus(userID, st)
	return st
}

func (e *Engine) setStatus(userID uint, s Status) {
	e.mu.Lock()
	e.statuses[userID] = s
	e.mu.Unlock()
	e.observers.publish(userID, s)
}
