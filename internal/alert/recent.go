package alert

import (
	"context"
	"sync"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
)

// Recent keeps the last N alert events in memory for the HTTP API.
type Recent struct {
	mu     sync.RWMutex
	events []domain.AlertEvent
	next   int
	full   bool
}

// NewRecent creates a buffer holding at most size events. A non-positive
// size is treated as 1.
func NewRecent(size int) *Recent {
	if size <= 0 {
		size = 1
	}
	return &Recent{events: make([]domain.AlertEvent, size)}
}

// Publish implements Sink.
func (r *Recent) Publish(_ context.Context, event domain.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.next] = event
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// List returns the buffered events, newest first.
func (r *Recent) List() []domain.AlertEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.next
	if r.full {
		n = len(r.events)
	}
	out := make([]domain.AlertEvent, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.events)) % len(r.events)
		out = append(out, r.events[idx])
	}
	return out
}
