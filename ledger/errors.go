package ledger

import "errors"

var (
	// ErrDuplicateEntry means the day already holds a local entry at least as
	// new as the attempted write. Callers treat it as "already recorded".
	ErrDuplicateEntry = errors.New("entry already recorded for this day")
	// ErrInsufficientBank blocks a bank consumption when no credit is left.
	ErrInsufficientBank = errors.New("no streak bank days left")
	// ErrBankDayNotEligible rejects covering today, a future day or a completed day.
	ErrBankDayNotEligible = errors.New("day cannot be covered by a bank day")
	// ErrAlreadyCovered rejects covering a day twice.
	ErrAlreadyCovered = errors.New("day already covered by a bank day")
	// ErrFutureDay rejects writes for days after the user's today.
	ErrFutureDay = errors.New("day is in the future")
	// ErrInvalidEffort rejects effort levels outside 1-5.
	ErrInvalidEffort = errors.New("effort level must be between 1 and 5")
	// ErrInvalidDay rejects malformed days.
	ErrInvalidDay = errors.New("invalid day")
	// ErrInvalidGrant rejects non-positive bank grants.
	ErrInvalidGrant = errors.New("bank grant must be positive")
)
