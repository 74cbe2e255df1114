// Package throttle gates alert emission with a per-hazard cooldown that is
// shared by every node.
package throttle

import (
	"sync"
	"time"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
)

// DefaultCooldown is the minimum gap between two alerts of the same hazard.
const DefaultCooldown = 10 * time.Second

// CooldownState records when each hazard type last produced an alert. One
// value is owned by the ingestion loop and handed to the Throttle on every
// call; it is safe for concurrent use.
type CooldownState struct {
	mu   sync.Mutex
	last map[domain.HazardType]time.Time
}

// NewCooldownState returns an empty state in which every hazard may fire.
func NewCooldownState() *CooldownState {
	return &CooldownState{last: make(map[domain.HazardType]time.Time)}
}

// LastEmitted returns the time of the last alert for hazard.
func (s *CooldownState) LastEmitted(hazard domain.HazardType) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.last[hazard]
	return t, ok
}

// Throttle decides whether a hazard signal may become an alert.
type Throttle struct {
	cooldown time.Duration
}

// New creates a Throttle. A non-positive cooldown falls back to DefaultCooldown.
func New(cooldown time.Duration) *Throttle {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Throttle{cooldown: cooldown}
}

// Cooldown returns the configured window.
func (t *Throttle) Cooldown() time.Duration { return t.cooldown }

// ShouldEmit reports whether an alert for hazard may be emitted at now. When
// it returns true, now is stored as the last emission time in the same
// critical section, so of two concurrent callers only one can win.
//
// A now earlier than the stored time is rejected, keeping recorded times
// non-decreasing per hazard.
func (t *Throttle) ShouldEmit(state *CooldownState, hazard domain.HazardType, now time.Time) bool {
	state.mu.Lock()
	defer state.mu.Unlock()

	if last, ok := state.last[hazard]; ok {
		if now.Before(last) || now.Sub(last) < t.cooldown {
			return false
		}
	}
	state.last[hazard] = now
	return true
}

// Remaining returns how long hazard stays suppressed after now. Zero means an
// alert would pass.
func (t *Throttle) Remaining(state *CooldownState, hazard domain.HazardType, now time.Time) time.Duration {
	last, ok := state.LastEmitted(hazard)
	if !ok {
		return 0
	}
	if now.Before(last) {
		return t.cooldown
	}
	if rem := t.cooldown - now.Sub(last); rem > 0 {
		return rem
	}
	return 0
}
