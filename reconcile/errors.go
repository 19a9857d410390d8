package reconcile

import "errors"

var (
	// ErrSyncTransient wraps a remote failure that the next attempt may clear.
	ErrSyncTransient = errors.New("sync: remote unavailable")
	// ErrSyncStalled is reported once consecutive failures pass the retry ceiling.
	ErrSyncStalled = errors.New("sync: retries exhausted")
	// ErrSyncConflict marks entries whose tie-break fell through to the secondary order.
	ErrSyncConflict = errors.New("sync: unresolved conflict")
	// ErrClockSkew means the device clock and the server disagree by more than a day.
	ErrClockSkew = errors.New("sync: device clock disagrees with server")
)
