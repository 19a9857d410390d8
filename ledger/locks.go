package ledger

import "sync"

// UserLocks serializes read-modify-write of one user's ledger and streak state.
type UserLocks struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewUserLocks returns an empty lock table.
func NewUserLocks() *UserLocks {
	return &UserLocks{locks: map[uint]*sync.Mutex{}}
}

// Lock blocks until userID's lock is held and returns its release.
func (l *UserLocks) Lock(userID uint) func() {
	l.mu.Lock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
