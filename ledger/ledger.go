// Package ledger records per-day completion facts and bank-day transactions and
// derives streak counters from them. It is the only writer of ledger entries and
// bank transactions.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cppla/ascend/clock"
	"github.com/cppla/ascend/models"
	"github.com/cppla/ascend/store"
)

// Completion is the optional payload of a completed challenge.
type Completion struct {
	ChallengeRef *string
	EffortLevel  *int
	Notes        string
}

// Snapshot is a user's ledger as read from a store.
type Snapshot struct {
	Entries  []models.LedgerEntry
	BankRows []models.StreakBankTransaction
	Bank     BankView
}

// Ledger applies writes against a store.Local handed in by the caller, who is
// responsible for the per-user lock and the surrounding transaction. The
// caller also resolves the user's today before opening that transaction.
type Ledger struct {
	clock  clock.Clock
	logger *zap.Logger
	newID  func() string
}

// New returns a Ledger. A nil logger discards output.
func New(c clock.Clock, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{clock: c, logger: logger, newID: uuid.NewString}
}

// Load reads every entry and bank row of a user.
func Load(ctx context.Context, tx store.Local, userID uint) (Snapshot, error) {
	entries, err := tx.QueryEntries(ctx, userID, store.All)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load entries: %w", err)
	}
	rows, err := tx.ListBank(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load bank: %w", err)
	}
	return Snapshot{Entries: entries, BankRows: rows, Bank: ReplayBank(rows)}, nil
}

// RecordCompletion marks day completed. An identical retry returns the stored
// entry. A differing write supersedes the stored one unless that is a local
// write at least as new, which yields ErrDuplicateEntry with the stored entry.
func (l *Ledger) RecordCompletion(ctx context.Context, tx store.Local, userID uint, day models.Day, c Completion, today models.Day) (*models.LedgerEntry, error) {
	if c.EffortLevel != nil && (*c.EffortLevel < 1 || *c.EffortLevel > 5) {
		return nil, ErrInvalidEffort
	}
	want := models.LedgerEntry{
		UserID:       userID,
		Day:          day,
		Completed:    true,
		ChallengeRef: c.ChallengeRef,
		EffortLevel:  c.EffortLevel,
		Notes:        c.Notes,
	}
	return l.write(ctx, tx, want, today)
}

// RecordSkip marks day deliberately skipped. Same idempotency as RecordCompletion.
func (l *Ledger) RecordSkip(ctx context.Context, tx store.Local, userID uint, day models.Day, reason string, today models.Day) (*models.LedgerEntry, error) {
	want := models.LedgerEntry{
		UserID:     userID,
		Day:        day,
		Skipped:    true,
		SkipReason: reason,
	}
	return l.write(ctx, tx, want, today)
}

func (l *Ledger) write(ctx context.Context, tx store.Local, want models.LedgerEntry, today models.Day) (*models.LedgerEntry, error) {
	if !want.Day.Valid() {
		return nil, ErrInvalidDay
	}
	if want.Day.After(today) {
		return nil, ErrFutureDay
	}

	now := clock.Millis(l.clock)
	existing, err := tx.GetEntry(ctx, want.UserID, want.Day)
	switch {
	case errors.Is(err, store.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, fmt.Errorf("read entry: %w", err)
	}

	if existing != nil {
		if existing.SamePayload(want) {
			return existing, nil
		}
		if existing.Source == models.SourceLocal && existing.RecordedAt >= now {
			return existing, ErrDuplicateEntry
		}
		want.ID = existing.ID
		if existing.RecordedAt >= now {
			// a remote row stamped by a clock ahead of ours must still lose
			now = existing.RecordedAt + 1
		}
	} else {
		want.ID = l.newID()
	}

	want.RecordedAt = now
	want.Source = models.SourceLocal
	want.RemoteUpdatedAt = 0
	if err := tx.PutEntry(ctx, &want); err != nil {
		return nil, fmt.Errorf("write entry: %w", err)
	}

	l.logger.Debug("ledger entry recorded",
		zap.Uint("user_id", want.UserID),
		zap.String("day", want.Day.String()),
		zap.Bool("completed", want.Completed),
		zap.Bool("superseded", existing != nil))
	return &want, nil
}

// GrantBankDays credits amount bank days.
func (l *Ledger) GrantBankDays(ctx context.Context, tx store.Local, userID uint, amount int, reason string) (*models.StreakBankTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidGrant
	}
	t := models.StreakBankTransaction{
		ID:         l.newID(),
		UserID:     userID,
		Kind:       models.BankGrant,
		Amount:     amount,
		Reason:     reason,
		RecordedAt: clock.Millis(l.clock),
	}
	if err := tx.PutBank(ctx, &t); err != nil {
		return nil, fmt.Errorf("write bank grant: %w", err)
	}
	l.logger.Info("bank days granted", zap.Uint("user_id", userID), zap.Int("amount", amount))
	return &t, nil
}

// CheckConsumable reports why day cannot be covered for this snapshot, or nil.
func CheckConsumable(s Snapshot, day, today models.Day) error {
	if !day.Valid() {
		return ErrInvalidDay
	}
	if !day.Before(today) {
		return ErrBankDayNotEligible
	}
	for _, e := range s.Entries {
		if e.Day == day && e.Completed {
			return ErrBankDayNotEligible
		}
	}
	if s.Bank.Covered[day] {
		return ErrAlreadyCovered
	}
	if s.Bank.Balance() <= 0 {
		return ErrInsufficientBank
	}
	return nil
}

// ConsumeBankDay spends one credit to cover a past, uncompleted, uncovered day.
func (l *Ledger) ConsumeBankDay(ctx context.Context, tx store.Local, userID uint, day, today models.Day) (*models.StreakBankTransaction, error) {
	snap, err := Load(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := CheckConsumable(snap, day, today); err != nil {
		return nil, err
	}
	t := models.StreakBankTransaction{
		ID:         l.newID(),
		UserID:     userID,
		Kind:       models.BankConsume,
		CoveredDay: day,
		ConsumedOn: today,
		RecordedAt: clock.Millis(l.clock),
	}
	if err := tx.PutBank(ctx, &t); err != nil {
		return nil, fmt.Errorf("write bank consume: %w", err)
	}
	l.logger.Info("bank day consumed",
		zap.Uint("user_id", userID),
		zap.String("covered_day", day.String()),
		zap.Int("balance_left", snap.Bank.Balance()-1))
	return &t, nil
}

// ApplyMerged stores rows produced by reconciliation.
func (l *Ledger) ApplyMerged(ctx context.Context, tx store.Local, entries []models.LedgerEntry, bank []models.StreakBankTransaction) error {
	for i := range entries {
		if err := tx.PutEntry(ctx, &entries[i]); err != nil {
			return fmt.Errorf("apply merged entry %s: %w", entries[i].Day, err)
		}
	}
	for i := range bank {
		if err := tx.PutBank(ctx, &bank[i]); err != nil {
			return fmt.Errorf("apply merged bank row %s: %w", bank[i].ID, err)
		}
	}
	return nil
}

// MarkEntryPushed records the remote version of a pushed entry, unless the row
// was rewritten after it was read for the push.
func (l *Ledger) MarkEntryPushed(ctx context.Context, tx store.Local, pushed models.LedgerEntry, version int64) (bool, error) {
	cur, err := tx.GetEntry(ctx, pushed.UserID, pushed.Day)
	if err != nil {
		return false, fmt.Errorf("read pushed entry: %w", err)
	}
	if cur.RecordedAt != pushed.RecordedAt || !cur.SamePayload(pushed) {
		return false, nil
	}
	cur.RemoteUpdatedAt = version
	if err := tx.PutEntry(ctx, cur); err != nil {
		return false, fmt.Errorf("mark entry pushed: %w", err)
	}
	return true, nil
}

// MarkBankPushed records the remote version of a pushed bank row.
func (l *Ledger) MarkBankPushed(ctx context.Context, tx store.Local, pushed models.StreakBankTransaction, version int64) error {
	pushed.RemoteUpdatedAt = version
	if err := tx.PutBank(ctx, &pushed); err != nil {
		return fmt.Errorf("mark bank pushed: %w", err)
	}
	return nil
}
