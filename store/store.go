// Package store defines the persistence boundaries of the streak core: the
// on-device Local cache and the hosted Remote backend. One canonical set of
// models flows through both; adapters live at each boundary.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/cppla/ascend/models"
)

// ErrNotFound is returned when a keyed lookup has no row.
var ErrNotFound = errors.New("record not found")

// DayRange is an inclusive day window. Empty bounds are open.
type DayRange struct {
	From models.Day
	To   models.Day
}

// All is the unbounded range.
var All = DayRange{}

// Contains reports whether d falls inside r.
func (r DayRange) Contains(d models.Day) bool {
	if r.From != "" && d.Before(r.From) {
		return false
	}
	if r.To != "" && d.After(r.To) {
		return false
	}
	return true
}

// Local is the offline-capable cache. Query results are ordered by day ascending
// (bank rows by RecordedAt, ID).
type Local interface {
	GetEntry(ctx context.Context, userID uint, day models.Day) (*models.LedgerEntry, error)
	PutEntry(ctx context.Context, e *models.LedgerEntry) error
	QueryEntries(ctx context.Context, userID uint, r DayRange) ([]models.LedgerEntry, error)

	ListBank(ctx context.Context, userID uint) ([]models.StreakBankTransaction, error)
	PutBank(ctx context.Context, t *models.StreakBankTransaction) error

	GetStreakState(ctx context.Context, userID uint) (*models.StreakState, error)
	PutStreakState(ctx context.Context, s *models.StreakState) error

	GetCursor(ctx context.Context, userID uint, entityType string) (*models.SyncCursor, error)
	PutCursor(ctx context.Context, c *models.SyncCursor) error

	PutCheckIn(ctx context.Context, c *models.CheckIn) error
	QueryCheckIns(ctx context.Context, userID uint, r DayRange) ([]models.CheckIn, error)

	// Atomic runs fn against a transactional view; nothing fn wrote survives an error.
	Atomic(ctx context.Context, fn func(tx Local) error) error
}

// Remote is the hosted, row-level-security scoped backend. Every upsert returns
// the server-assigned version (unix ms) of the stored row. Fetches are inclusive
// of the watermark so equal versions are never skipped.
type Remote interface {
	FetchEntriesSince(ctx context.Context, userID uint, watermark int64) ([]models.LedgerEntry, error)
	UpsertEntry(ctx context.Context, e models.LedgerEntry) (int64, error)

	FetchBankSince(ctx context.Context, userID uint, watermark int64) ([]models.StreakBankTransaction, error)
	UpsertBank(ctx context.Context, t models.StreakBankTransaction) (int64, error)

	// FetchStreakState returns the server's counters, which server-side
	// triggers may have rewritten. Callers treat them as informational.
	FetchStreakState(ctx context.Context, userID uint) (*models.StreakState, error)
	UpsertStreakState(ctx context.Context, s models.StreakState) error

	Now(ctx context.Context) (time.Time, error)
}
