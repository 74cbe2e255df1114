package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/alert"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/history"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/observability"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/throttle"
	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"
)

// Source returns the latest raw reading of every node.
type Source interface {
	FetchReadings(ctx context.Context) (map[domain.NodeID]domain.RawReading, error)
}

// State is the ingestion loop's position in a cycle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateApplying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateApplying:
		return "applying"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options tunes the loop. Zero values select the defaults noted per field.
type Options struct {
	Interval   time.Duration // 2s
	BackoffMax time.Duration // 30s
	Thresholds domain.Thresholds
	// TimeFormat is the layout of history sample labels (15:04:05).
	TimeFormat string
	// Location is the zone sample labels are rendered in (time.Local).
	Location *time.Location
	// EvictAfter drops a node's history once it has been missing from this
	// many consecutive successful polls. Zero keeps history forever.
	EvictAfter int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 30 * time.Second
	}
	if o.BackoffMax < o.Interval {
		o.BackoffMax = o.Interval
	}
	if o.TimeFormat == "" {
		o.TimeFormat = "15:04:05"
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// Status summarizes the loop for the status endpoint.
type Status struct {
	Status      string     `json:"status"`
	Message     string     `json:"message"`
	NodeCount   int        `json:"node_count"`
	State       string     `json:"state"`
	Cycles      uint64     `json:"cycles"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Pipeline polls the source on a fixed cadence, records history, replaces the
// snapshot, and publishes throttle-approved alerts.
type Pipeline struct {
	source   Source
	sink     alert.Sink
	history  *history.Store
	throttle *throttle.Throttle
	cooldown *throttle.CooldownState
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	opts     Options

	// mu makes a cycle's history and snapshot changes visible together.
	mu          sync.RWMutex
	snapshot    map[domain.NodeID]domain.NormalizedNode
	lastSuccess time.Time
	lastErr     error
	cycles      uint64
	absent      map[domain.NodeID]int

	cycleMu  sync.Mutex
	state    atomic.Int32
	inFlight atomic.Bool
	ready    atomic.Bool
	wg       sync.WaitGroup

	// Only touched by the goroutine holding inFlight.
	backoff time.Duration
	retryAt time.Time
}

// New creates a Pipeline. The throttle's cooldown state is created here and
// owned by the pipeline for its lifetime.
func New(
	source Source,
	sink alert.Sink,
	store *history.Store,
	th *throttle.Throttle,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
	opts Options,
) *Pipeline {
	return &Pipeline{
		source:   source,
		sink:     sink,
		history:  store,
		throttle: th,
		cooldown: throttle.NewCooldownState(),
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		opts:     opts.withDefaults(),
		snapshot: map[domain.NodeID]domain.NormalizedNode{},
		absent:   map[domain.NodeID]int{},
	}
}

// CheckReadiness returns nil once at least one poll has been applied.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no successful sensor poll yet")
	}
	return nil
}

// State returns the current loop state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Run polls until ctx is cancelled. The first poll happens immediately; later
// ones follow the ticker. A tick that arrives while a cycle is still running
// is skipped. On return, any in-flight cycle has finished or been abandoned.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		"interval", p.opts.Interval,
		"cooldown", p.throttle.Cooldown(),
		"history_size", p.history.Capacity(),
	)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	ticker := p.clock.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.tick(ctx, p.clock.Now())
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case now := <-ticker.Chan():
			p.tick(ctx, now)
		}
	}
}

func (p *Pipeline) tick(ctx context.Context, now time.Time) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.logger.Debug("previous poll still in flight, skipping tick")
		p.metrics.Polls.WithLabelValues("skipped").Inc()
		return
	}
	// Half an interval of slack absorbs ticker jitter, so a tick that lands
	// just before retryAt still runs instead of waiting a whole extra period.
	if now.Add(p.opts.Interval / 2).Before(p.retryAt) {
		p.inFlight.Store(false)
		p.metrics.Polls.WithLabelValues("backoff").Inc()
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)

		if err := p.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.scheduleRetry(now)
			p.logger.Error("poll failed", "error", err, "retry_in", p.backoff)
			return
		}
		p.backoff = 0
		p.retryAt = time.Time{}
	}()
}

// scheduleRetry grows the wait between polls after consecutive failures. The
// first failure sets no gate, so the next tick retries.
func (p *Pipeline) scheduleRetry(cycleStart time.Time) {
	if p.backoff == 0 {
		p.backoff = p.opts.Interval
		p.retryAt = time.Time{}
		return
	}
	p.backoff = retry.NextBackoff(p.backoff, p.opts.BackoffMax)
	p.retryAt = cycleStart.Add(p.backoff)
}

// RunCycle performs one fetch-normalize-store-evaluate-throttle-publish cycle.
// On a fetch error or cancellation nothing is committed and the previous
// snapshot and history remain. Calls are serialized.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()
	defer p.setState(StateIdle)

	p.setState(StateFetching)
	start := p.clock.Now()
	raws, err := p.source.FetchReadings(ctx)
	p.metrics.FetchDuration.Observe(p.clock.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil {
			p.metrics.Polls.WithLabelValues("error").Inc()
			p.mu.Lock()
			p.lastErr = err
			p.mu.Unlock()
		}
		return fmt.Errorf("fetch readings: %w", err)
	}

	p.setState(StateApplying)
	now := p.clock.Now()
	c := p.apply(raws, now)

	if err := ctx.Err(); err != nil {
		p.logger.Info("cycle abandoned before commit", "reason", err)
		return fmt.Errorf("cycle abandoned: %w", err)
	}

	p.commit(c, now)
	p.dispatch(ctx, c.signals, now)
	p.metrics.Polls.WithLabelValues("success").Inc()
	return nil
}

type cycle struct {
	nodes   map[domain.NodeID]domain.NormalizedNode
	entries []history.Entry
	signals []domain.HazardSignal
}

// apply builds everything a cycle will commit without touching shared state.
// Nodes are processed in ID order so "first signal wins" is deterministic.
func (p *Pipeline) apply(raws map[domain.NodeID]domain.RawReading, now time.Time) cycle {
	ids := make([]domain.NodeID, 0, len(raws))
	for id := range raws {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	c := cycle{
		nodes:   make(map[domain.NodeID]domain.NormalizedNode, len(ids)),
		entries: make([]history.Entry, 0, len(ids)*domain.NumMetrics),
	}
	for _, id := range ids {
		raw := raws[id]
		if invalid := domain.InvalidFields(raw); len(invalid) > 0 {
			p.logger.Warn("non-numeric fields treated as missing", "node_id", id, "fields", invalid)
			for _, f := range invalid {
				p.metrics.InvalidFields.WithLabelValues(f).Inc()
			}
		}

		node := domain.Normalize(raw, now)
		c.nodes[id] = node

		label := node.Timestamp.In(p.opts.Location).Format(p.opts.TimeFormat)
		for _, m := range domain.AllMetrics() {
			v := node.Value(m)
			if !v.Valid {
				p.metrics.MissingMetrics.WithLabelValues(m.String()).Inc()
			}
			c.entries = append(c.entries, history.Entry{
				Key:    history.Key{Node: id, Metric: m},
				Sample: history.Sample{Value: v, Timestamp: label},
			})
		}

		for _, sig := range domain.Evaluate(id, node, p.opts.Thresholds) {
			p.metrics.HazardSignals.WithLabelValues(string(sig.Hazard)).Inc()
			c.signals = append(c.signals, sig)
		}
	}
	return c
}

func (p *Pipeline) commit(c cycle, now time.Time) {
	p.mu.Lock()
	p.history.AppendBatch(c.entries)
	p.snapshot = c.nodes
	p.lastSuccess = now
	p.lastErr = nil
	p.cycles++
	evicted := p.evictLocked(c.nodes)
	p.mu.Unlock()

	for _, id := range evicted {
		p.logger.Info("history evicted for unreported node", "node_id", id, "missed_polls", p.opts.EvictAfter)
	}
	p.metrics.NodesEvicted.Add(float64(len(evicted)))

	p.ready.Store(true)
	p.metrics.NodesReported.Set(float64(len(c.nodes)))
}

// evictLocked counts consecutive polls each recorded node has been absent
// from and drops the history of those that reach EvictAfter. Caller holds mu.
func (p *Pipeline) evictLocked(present map[domain.NodeID]domain.NormalizedNode) []domain.NodeID {
	if p.opts.EvictAfter <= 0 {
		return nil
	}
	var evicted []domain.NodeID
	for _, id := range p.history.Nodes() {
		if _, ok := present[id]; ok {
			delete(p.absent, id)
			continue
		}
		p.absent[id]++
		if p.absent[id] >= p.opts.EvictAfter {
			p.history.RemoveNode(id)
			delete(p.absent, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

func (p *Pipeline) dispatch(ctx context.Context, signals []domain.HazardSignal, now time.Time) {
	for _, sig := range signals {
		if !p.throttle.ShouldEmit(p.cooldown, sig.Hazard, now) {
			p.metrics.AlertsSuppressed.WithLabelValues(string(sig.Hazard)).Inc()
			p.logger.Debug("alert suppressed by cooldown", "hazard", sig.Hazard, "node_id", sig.NodeID)
			continue
		}

		event := domain.NewAlertEvent(sig, now)
		p.metrics.AlertsEmitted.WithLabelValues(string(sig.Hazard), sig.Severity).Inc()
		if err := p.sink.Publish(ctx, event); err != nil {
			p.logger.Error("publish alert failed", "alert_id", event.ID, "hazard", event.Hazard, "error", err)
		}
	}
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	p.metrics.LoopState.Set(float64(s))
}

// Snapshot returns a copy of the latest applied node readings.
func (p *Pipeline) Snapshot() map[domain.NodeID]domain.NormalizedNode {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[domain.NodeID]domain.NormalizedNode, len(p.snapshot))
	for id, n := range p.snapshot {
		out[id] = n
	}
	return out
}

// Node returns the latest reading of one node.
func (p *Pipeline) Node(id domain.NodeID) (domain.NormalizedNode, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.snapshot[id]
	return n, ok
}

// History returns a copy of every history window.
func (p *Pipeline) History() map[domain.NodeID]map[domain.MetricKind][]history.Sample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.history.Snapshot()
}

// NodeHistory returns copies of the windows of one node.
func (p *Pipeline) NodeHistory(id domain.NodeID) map[domain.MetricKind][]history.Sample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.history.Node(id)
}

// MetricHistory returns a copy of one window.
func (p *Pipeline) MetricHistory(id domain.NodeID, m domain.MetricKind) []history.Sample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.history.Window(id, m)
}

// Status reports the health of the polling loop.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := Status{
		NodeCount: len(p.snapshot),
		State:     p.State().String(),
		Cycles:    p.cycles,
	}
	if !p.lastSuccess.IsZero() {
		t := p.lastSuccess
		st.LastSuccess = &t
	}

	switch {
	case p.lastErr != nil:
		st.Status = "degraded"
		st.Message = "Last sensor poll failed; serving previous readings"
		st.LastError = p.lastErr.Error()
	case p.lastSuccess.IsZero():
		st.Status = "starting"
		st.Message = "Waiting for the first sensor poll"
	default:
		st.Status = "running"
		st.Message = "Sensor monitor is active"
	}
	return st
}
