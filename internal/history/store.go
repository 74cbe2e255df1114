// Package history keeps a fixed-size window of recent samples for every
// (node, metric) pair seen by the monitor.
package history

import (
	"sync"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
)

// DefaultCapacity is the number of samples retained per window.
const DefaultCapacity = 10

// Sample is one point on a trend line. A missing reading keeps its slot with
// a null value so every metric of a node shares the same time axis.
type Sample struct {
	Value     domain.Value `json:"value"`
	Timestamp string       `json:"timestamp"`
}

// Key addresses one window.
type Key struct {
	Node   domain.NodeID
	Metric domain.MetricKind
}

// Entry is a sample destined for a window, used for batch appends.
type Entry struct {
	Key    Key
	Sample Sample
}

// Store holds one ring buffer per key. Windows live in a single slice and are
// located through an index map, so appends never reallocate per-key storage.
// Slots released by RemoveNode are reused before the slice grows.
type Store struct {
	mu       sync.RWMutex
	capacity int
	index    map[Key]int
	windows  []ring
	free     []int
}

// NewStore creates a store whose windows hold at most capacity samples.
// A non-positive capacity falls back to DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		index:    make(map[Key]int),
	}
}

// Capacity returns the per-window sample limit.
func (s *Store) Capacity() int { return s.capacity }

// Append pushes one sample onto the window for (node, metric), creating the
// window on first use and dropping the oldest sample when full.
func (s *Store) Append(node domain.NodeID, metric domain.MetricKind, sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(Key{Node: node, Metric: metric}, sample)
}

// AppendBatch applies entries in order under a single lock so readers never
// observe a partially applied batch.
func (s *Store) AppendBatch(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.appendLocked(e.Key, e.Sample)
	}
}

func (s *Store) appendLocked(k Key, sample Sample) {
	i, ok := s.index[k]
	if !ok {
		if n := len(s.free); n > 0 {
			i = s.free[n-1]
			s.free = s.free[:n-1]
		} else {
			i = len(s.windows)
			s.windows = append(s.windows, newRing(s.capacity))
		}
		s.index[k] = i
	}
	s.windows[i].push(sample)
}

// RemoveNode drops every window recorded for node and returns how many were
// removed.
func (s *Store) RemoveNode(node domain.NodeID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, i := range s.index {
		if k.Node != node {
			continue
		}
		delete(s.index, k)
		s.windows[i].reset()
		s.free = append(s.free, i)
		removed++
	}
	return removed
}

// Nodes lists every node that has at least one window, in no particular order.
func (s *Store) Nodes() []domain.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[domain.NodeID]struct{})
	out := make([]domain.NodeID, 0)
	for k := range s.index {
		if _, ok := seen[k.Node]; ok {
			continue
		}
		seen[k.Node] = struct{}{}
		out = append(out, k.Node)
	}
	return out
}

// Window returns a copy of the samples for (node, metric), oldest first.
// Unknown keys return an empty slice.
func (s *Store) Window(node domain.NodeID, metric domain.MetricKind) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[Key{Node: node, Metric: metric}]
	if !ok {
		return []Sample{}
	}
	return s.windows[i].items()
}

// Node returns copies of every window recorded for node, keyed by metric.
func (s *Store) Node(node domain.NodeID) map[domain.MetricKind][]Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.MetricKind][]Sample)
	for k, i := range s.index {
		if k.Node == node {
			out[k.Metric] = s.windows[i].items()
		}
	}
	return out
}

// Snapshot returns a deep copy of every window, keyed by node then metric.
func (s *Store) Snapshot() map[domain.NodeID]map[domain.MetricKind][]Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.NodeID]map[domain.MetricKind][]Sample)
	for k, i := range s.index {
		metrics, ok := out[k.Node]
		if !ok {
			metrics = make(map[domain.MetricKind][]Sample, domain.NumMetrics)
			out[k.Node] = metrics
		}
		metrics[k.Metric] = s.windows[i].items()
	}
	return out
}

// Len returns the number of live windows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// ring is a fixed-capacity FIFO that overwrites its oldest element.
type ring struct {
	buf   []Sample
	start int
	size  int
}

func newRing(capacity int) ring {
	return ring{buf: make([]Sample, capacity)}
}

func (r *ring) push(s Sample) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = s
		r.size++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) reset() {
	clear(r.buf)
	r.start, r.size = 0, 0
}

func (r *ring) items() []Sample {
	out := make([]Sample, r.size)
	for i := range out {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
