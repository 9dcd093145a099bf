package alerting

import (
	"context"
	"sync"
	"time"
)

// Throttled drops a notification whose Key was delivered within cooldown.
type Throttled struct {
	inner    Notifier
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

// NewThrottled wraps inner.
func NewThrottled(inner Notifier, cooldown time.Duration) *Throttled {
	return &Throttled{inner: inner, cooldown: cooldown, now: time.Now, sent: make(map[string]time.Time)}
}

// Notify forwards note unless an identical alert is cooling down. Failed
// deliveries do not start a cooldown.
func (t *Throttled) Notify(ctx context.Context, note Notification) error {
	key := note.Key()
	now := t.now()

	t.mu.Lock()
	last, seen := t.sent[key]
	if seen && now.Sub(last) < t.cooldown {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.inner.Notify(ctx, note); err != nil {
		return err
	}

	t.mu.Lock()
	for k, at := range t.sent {
		if now.Sub(at) >= t.cooldown {
			delete(t.sent, k)
		}
	}
	t.sent[key] = now
	t.mu.Unlock()
	return nil
}

var _ Notifier = (*Throttled)(nil)
