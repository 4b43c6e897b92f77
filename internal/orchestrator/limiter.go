package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// SlotLimiter caps how many agent subprocesses run at once, independent of
// worker count. A zero-slot limiter is unlimited.
type SlotLimiter struct {
	slots          chan struct{}
	acquireTimeout time.Duration
}

// NewSlotLimiter creates a limiter with the given number of slots. slots
// <= 0 disables limiting.
func NewSlotLimiter(slots int, acquireTimeout time.Duration) *SlotLimiter {
	l := &SlotLimiter{acquireTimeout: acquireTimeout}
	if slots > 0 {
		l.slots = make(chan struct{}, slots)
	}
	return l
}

// Acquire claims a slot, retrying with exponential backoff until the
// acquire timeout or context cancellation.
func (l *SlotLimiter) Acquire(ctx context.Context) error {
	if l.slots == nil {
		return nil
	}

	operation := func() error {
		select {
		case l.slots <- struct{}{}:
			return nil
		default:
			return fmt.Errorf("no execution slot available")
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = l.acquireTimeout

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("acquire execution slot: %w", err)
	}
	return nil
}

// Release returns a slot to the pool.
func (l *SlotLimiter) Release() {
	if l.slots == nil {
		return
	}
	select {
	case <-l.slots:
	default:
	}
}
