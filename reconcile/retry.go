package reconcile

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryState tracks consecutive failed passes of one user.
type retryState struct {
	failures int
	policy   *backoff.ExponentialBackOff
	next     time.Time
}

func newRetryState(initial, maxWait time.Duration) *retryState {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxWait
	b.MaxElapsedTime = 0
	b.Reset()
	return &retryState{policy: b}
}

// fail records a failed pass and schedules the next automatic attempt.
func (r *retryState) fail(now time.Time) {
	r.failures++
	wait := r.policy.NextBackOff()
	if wait == backoff.Stop || wait > r.policy.MaxInterval {
		wait = r.policy.MaxInterval
	}
	r.next = now.Add(wait)
}

func (r *retryState) succeed() {
	r.failures = 0
	r.next = time.Time{}
	r.policy.Reset()
}

func (r *retryState) due(now time.Time) bool {
	return !now.Before(r.next)
}
