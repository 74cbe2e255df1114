package throttle

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countEmitted(th *Throttle, gaps []time.Duration) int {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC))
	state := NewCooldownState()

	emitted := 0
	if th.ShouldEmit(state, domain.HazardWildfire, clock.Now()) {
		emitted++
	}
	for _, gap := range gaps {
		clock.Advance(gap)
		if th.ShouldEmit(state, domain.HazardWildfire, clock.Now()) {
			emitted++
		}
	}
	return emitted
}

func TestShouldEmit_Cooldown(t *testing.T) {
	th := New(10 * time.Second)

	assert.Equal(t, 1, countEmitted(th, []time.Duration{3 * time.Second}), "3s apart")
	assert.Equal(t, 2, countEmitted(th, []time.Duration{11 * time.Second}), "11s apart")
	assert.Equal(t, 2, countEmitted(th, []time.Duration{10 * time.Second}), "exactly one cooldown apart")
	assert.Equal(t, 1, countEmitted(th, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second}))
	assert.Equal(t, 2, countEmitted(th, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second}))
}

func TestShouldEmit_HazardsAreIndependent(t *testing.T) {
	th := New(10 * time.Second)
	state := NewCooldownState()
	now := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)

	assert.True(t, th.ShouldEmit(state, domain.HazardWildfire, now))
	assert.True(t, th.ShouldEmit(state, domain.HazardEarthquake, now))
	assert.False(t, th.ShouldEmit(state, domain.HazardWildfire, now.Add(time.Second)))
	assert.False(t, th.ShouldEmit(state, domain.HazardEarthquake, now.Add(time.Second)))
}

func TestShouldEmit_RejectsTimeGoingBackwards(t *testing.T) {
	th := New(time.Second)
	state := NewCooldownState()
	now := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)

	require.True(t, th.ShouldEmit(state, domain.HazardEarthquake, now))
	assert.False(t, th.ShouldEmit(state, domain.HazardEarthquake, now.Add(-time.Hour)))

	last, ok := state.LastEmitted(domain.HazardEarthquake)
	require.True(t, ok)
	assert.Equal(t, now, last)
}

func TestShouldEmit_ConcurrentCallersOnlyOneWins(t *testing.T) {
	th := New(10 * time.Second)
	state := NewCooldownState()
	now := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if th.ShouldEmit(state, domain.HazardWildfire, now) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestRemaining(t *testing.T) {
	th := New(10 * time.Second)
	state := NewCooldownState()
	now := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)

	assert.Zero(t, th.Remaining(state, domain.HazardWildfire, now))
	th.ShouldEmit(state, domain.HazardWildfire, now)
	assert.Equal(t, 7*time.Second, th.Remaining(state, domain.HazardWildfire, now.Add(3*time.Second)))
	assert.Zero(t, th.Remaining(state, domain.HazardWildfire, now.Add(12*time.Second)))
}

func TestNew_DefaultCooldown(t *testing.T) {
	assert.Equal(t, DefaultCooldown, New(0).Cooldown())
}
