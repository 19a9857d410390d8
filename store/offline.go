package store

import (
	"context"
	"time"

	"github.com/cppla/ascend/models"
)

// Offline is the Remote used when no backend is configured. Every call fails
// with ErrRemoteUnavailable so passes settle in the error state and local
// writes stay pending.
type Offline struct{}

func (Offline) FetchEntriesSince(context.Context, uint, int64) ([]models.LedgerEntry, error) {
	return nil, ErrRemoteUnavailable
}

func (Offline) UpsertEntry(context.Context, models.LedgerEntry) (int64, error) {
	return 0, ErrRemoteUnavailable
}

func (Offline) FetchBankSince(context.Context, uint, int64) ([]models.StreakBankTransaction, error) {
	return nil, ErrRemoteUnavailable
}

func (Offline) UpsertBank(context.Context, models.StreakBankTransaction) (int64, error) {
	return 0, ErrRemoteUnavailable
}

func (Offline) FetchStreakState(context.Context, uint) (*models.StreakState, error) {
	return nil, ErrRemoteUnavailable
}

func (Offline) UpsertStreakState(context.Context, models.StreakState) error {
	return ErrRemoteUnavailable
}

func (Offline) Now(context.Context) (time.Time, error) {
	return time.Time{}, ErrRemoteUnavailable
}
