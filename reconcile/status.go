package reconcile

import (
	"sync"
	"time"
)

// State is a step of the per-user sync state machine.
type State string

const (
	StateIdle     State = "idle"
	StateSyncing  State = "syncing"
	StateSynced   State = "synced"
	StateError    State = "error"
	StateStalled  State = "stalled"
	StateConflict State = "conflict"
)

// Status is an observable snapshot of a user's sync.
type Status struct {
	State     State      `json:"state"`
	Err       error      `json:"-"`
	Message   string     `json:"message,omitempty"`
	Retryable bool       `json:"retryable"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
	// ClockSkew is set when the device clock and the server disagree by more
	// than a day. Local work continues; the UI should warn.
	ClockSkew    bool      `json:"clock_skew"`
	Failures     int       `json:"failures"`
	LastSyncedAt time.Time `json:"last_synced_at,omitempty"`
	NextAttempt  time.Time `json:"next_attempt,omitempty"`
}

type observers struct {
	mu   sync.Mutex
	next int
	subs map[uint]map[int]chan Status
}

func newObservers() *observers {
	return &observers{subs: map[uint]map[int]chan Status{}}
}

func (o *observers) subscribe(userID uint) (<-chan Status, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch := make(chan Status, 8)
	id := o.next
	o.next++
	if o.subs[userID] == nil {
		o.subs[userID] = map[int]chan Status{}
	}
	o.subs[userID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.subs[userID], id)
			if len(o.subs[userID]) == 0 {
				delete(o.subs, userID)
			}
			close(ch)
		})
	}
}

// publish never blocks; a subscriber that falls behind misses intermediate states.
func (o *observers) publish(userID uint, s Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.subs[userID] {
		select {
		case ch <- s:
		default:
		}
	}
}
