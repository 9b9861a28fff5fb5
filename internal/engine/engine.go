// Package engine is the single consumer of inbound telemetry. One goroutine
// owns all state mutation: transport envelopes and polled snapshots are
// funneled through it, derived views are recomputed on a timer, and the
// latest snapshot is published through an atomic pointer for lock-free reads.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/icsight/icsight/internal/aggregate"
	"github.com/icsight/icsight/internal/alert"
	"github.com/icsight/icsight/internal/health"
	"github.com/icsight/icsight/internal/metrics"
	"github.com/icsight/icsight/internal/model"
	"github.com/icsight/icsight/internal/store"
	"github.com/icsight/icsight/internal/transport"
)

// Broadcaster fans an envelope out to the connected presentation clients.
// The hub implements it.
type Broadcaster interface {
	Broadcast(model.Envelope)
}

// Options tune the engine's cadence and aggregate shapes.
type Options struct {
	BucketWidth       time.Duration
	TimelineBuckets   int
	TopK              int
	RecomputeInterval time.Duration
	HealthInterval    time.Duration
	InboxSize         int
	// StatsFreshness bounds how long a polled server statistics snapshot
	// keeps superseding the locally computed distributions.
	StatsFreshness time.Duration
}

func (o *Options) applyDefaults() {
	if o.BucketWidth <= 0 {
		o.BucketWidth = 5 * time.Minute
	}
	if o.TimelineBuckets <= 0 {
		o.TimelineBuckets = 50
	}
	if o.TopK <= 0 {
		o.TopK = 10
	}
	if o.RecomputeInterval <= 0 {
		o.RecomputeInterval = 2 * time.Second
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 5 * time.Second
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 1024
	}
	if o.StatsFreshness <= 0 {
		o.StatsFreshness = 30 * time.Second
	}
}

// Snapshot is one consistent set of derived views. Readers get whole
// snapshots; fields are never mutated after publication.
type Snapshot struct {
	Timeline       []model.TimelineBucket    `json:"timeline"`
	Distributions  aggregate.Distributions   `json:"distributions"`
	TopAttackTypes []aggregate.CategoryCount `json:"top_attack_types"`
	TopTalkers     []aggregate.TalkerStat    `json:"top_talkers"`
	Graph          model.NetworkGraph        `json:"graph"`
	HealthScore    int                       `json:"health_score"`
	EventCount     int                       `json:"event_count"`
	GeneratedAt    time.Time                 `json:"generated_at"`
}

// Engine owns the telemetry state machine.
type Engine struct {
	opts      Options
	events    *store.Events
	status    *store.Status
	health    *health.Estimator
	alerts    *alert.Emitter
	publisher *alert.Publisher
	hub       Broadcaster
	logger    *slog.Logger
	metrics   *metrics.Metrics

	inbox chan model.Envelope
	view  atomic.Pointer[Snapshot]

	statsMu       sync.Mutex
	serverStats   *model.ServerStats
	serverStatsAt time.Time

	now func() time.Time
}

// New wires an engine over its collaborators. hub and publisher may be nil.
func New(opts Options, events *store.Events, status *store.Status, est *health.Estimator,
	alerts *alert.Emitter, publisher *alert.Publisher, hub Broadcaster,
	logger *slog.Logger, m *metrics.Metrics) *Engine {
	opts.applyDefaults()
	e := &Engine{
		opts:      opts,
		events:    events,
		status:    status,
		health:    est,
		alerts:    alerts,
		publisher: publisher,
		hub:       hub,
		logger:    logger,
		metrics:   m,
		inbox:     make(chan model.Envelope, opts.InboxSize),
		now:       time.Now,
	}
	e.view.Store(&Snapshot{GeneratedAt: e.now().UTC()})
	return e
}

// Bind subscribes the engine to a transport channel: envelope dispatch,
// health state tracking, and a full resync request after every (re)connect.
// Must run before the channel opens.
func (e *Engine) Bind(ch *transport.Channel) {
	for _, msgType := range []string{
		model.TypeClassification,
		model.TypeStatus,
		model.TypeInitialData,
		model.TypeAttackTimeline,
		model.TypeNetworkGraph,
	} {
		msgType := msgType
		ch.OnMessage(msgType, func(data json.RawMessage) {
			e.Enqueue(model.Envelope{Type: msgType, Data: data})
		})
	}

	ch.OnStateChange(func(s model.ConnectionState) {
		e.health.SetState(s)
	})

	ch.OnConnect(func() {
		// Everything missed while disconnected is gone; ask the source for
		// its current truth instead of replaying.
		for _, req := range []string{"get_status", "get_network_graph", "get_timeline"} {
			if err := ch.Send(req, nil); err != nil {
				e.logger.Warn("Resync request failed", "request", req, "error", err)
			}
		}
	})
}

// Enqueue hands an envelope to the consumer loop without blocking the
// caller. A full inbox drops the envelope; the next resync or recompute
// restores consistency.
func (e *Engine) Enqueue(env model.Envelope) {
	select {
	case e.inbox <- env:
	default:
		if e.metrics != nil {
			e.metrics.EnvelopesDropped.Inc()
		}
		e.logger.Warn("Engine inbox full, dropping envelope", "type", env.Type)
	}
}

// Run consumes envelopes and recomputes derived views until the context is
// canceled. All state mutation happens on this goroutine.
func (e *Engine) Run(ctx context.Context) {
	recompute := time.NewTicker(e.opts.RecomputeInterval)
	defer recompute.Stop()
	healthTick := time.NewTicker(e.opts.HealthInterval)
	defer healthTick.Stop()

	e.recompute()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-e.inbox:
			e.process(env)
		case <-recompute.C:
			e.recompute()
		case <-healthTick.C:
			e.publishHealth()
		}
	}
}

// Recompute forces an immediate rebuild of the derived views, outside the
// regular cadence. Used after state-changing commands.
func (e *Engine) Recompute() {
	e.recompute()
}

// View returns the latest published snapshot. Never nil.
func (e *Engine) View() *Snapshot {
	return e.view.Load()
}

// ApplyStatus installs an authoritative simulation status, replacing the
// local mirror wholesale, and relays it to presentation clients.
func (e *Engine) ApplyStatus(st model.SimulationStatus) {
	e.status.Replace(st)
	e.broadcast(model.TypeStatus, st)
}

// ApplyServerStats records a polled statistics snapshot. While fresh it
// supersedes the locally computed distributions.
func (e *Engine) ApplyServerStats(stats model.ServerStats) {
	e.statsMu.Lock()
	e.serverStats = &stats
	e.serverStatsAt = e.now()
	e.statsMu.Unlock()
}

// SeedEvents backfills the event buffer from a chronological snapshot. Only
// an empty buffer is seeded; live events already collected always win over
// a polled backfill.
func (e *Engine) SeedEvents(oldestFirst []model.ClassifiedEvent) {
	if len(oldestFirst) == 0 || e.events.Len() > 0 {
		return
	}
	for i := range oldestFirst {
		oldestFirst[i].Severity = model.ParseSeverity(string(oldestFirst[i].Severity))
	}
	e.events.PushBatch(oldestFirst)
	e.logger.Info("Seeded event buffer", "events", len(oldestFirst))
}

// Reset clears all session-local state after a successful reset command.
func (e *Engine) Reset() {
	e.events.Clear()
	e.statsMu.Lock()
	e.serverStats = nil
	e.serverStatsAt = time.Time{}
	e.statsMu.Unlock()
	e.recompute()
	e.logger.Info("Session state reset")
}

func (e *Engine) process(env model.Envelope) {
	switch env.Type {
	case model.TypeClassification:
		e.processClassification(env.Data)
	case model.TypeStatus:
		var st model.SimulationStatus
		if err := json.Unmarshal(env.Data, &st); err != nil {
			e.dropMalformed(env.Type, err)
			return
		}
		e.ApplyStatus(st)
	case model.TypeInitialData:
		var evs []model.ClassifiedEvent
		if err := json.Unmarshal(env.Data, &evs); err != nil {
			e.dropMalformed(env.Type, err)
			return
		}
		e.SeedEvents(evs)
	case model.TypeAttackTimeline, model.TypeNetworkGraph:
		// Server-computed views are relayed as-is; the local aggregates
		// keep rebuilding from the buffer on their own cycle.
		if e.hub != nil {
			e.hub.Broadcast(env)
		}
	}
}

func (e *Engine) processClassification(data json.RawMessage) {
	ev, err := model.DecodeClassification(data)
	if err != nil {
		e.dropMalformed(model.TypeClassification, err)
		return
	}

	e.events.Push(ev)
	if e.metrics != nil {
		e.metrics.EventsConsumed.Inc()
	}
	e.health.ObserveEvent(ev.Severity)

	e.broadcast(model.TypeClassification, ev)

	if notice := e.alerts.Consider(ev); notice != nil {
		e.broadcast(model.TypeAlert, notice)
		if err := e.publisher.PublishNotice(*notice); err != nil {
			e.logger.Warn("Alert publish failed", "alert_id", notice.ID, "error", err)
		}
	}
}

// recompute rebuilds every derived view from the buffer and publishes one
// consistent snapshot.
func (e *Engine) recompute() {
	evs := e.events.Snapshot()

	dist := e.currentDistributions(evs)
	topAttacks := aggregate.TopN(dist.AttackType,
		aggregate.FirstSeenIndex(evs, func(ev model.ClassifiedEvent) string { return ev.AttackType }),
		e.opts.TopK)

	score := e.health.Score()
	if e.metrics != nil {
		e.metrics.HealthScore.Set(float64(score))
	}

	snap := &Snapshot{
		Timeline:       aggregate.BucketTimeline(evs, e.opts.BucketWidth, e.opts.TimelineBuckets),
		Distributions:  dist,
		TopAttackTypes: topAttacks,
		TopTalkers:     aggregate.TopTalkers(evs, e.opts.TopK),
		Graph:          aggregate.BuildGraph(evs),
		HealthScore:    score,
		EventCount:     len(evs),
		GeneratedAt:    e.now().UTC(),
	}
	e.view.Store(snap)
}

// currentDistributions prefers a fresh server statistics snapshot over the
// locally counted one.
func (e *Engine) currentDistributions(evs []model.ClassifiedEvent) aggregate.Distributions {
	e.statsMu.Lock()
	stats := e.serverStats
	at := e.serverStatsAt
	e.statsMu.Unlock()

	if stats != nil && e.now().Sub(at) <= e.opts.StatsFreshness {
		return aggregate.Distributions{
			Severity:   copyCounts(stats.SeverityCounts),
			Protocol:   copyCounts(stats.ProtocolCounts),
			AttackType: copyCounts(stats.AttackCounts),
			Source:     "server",
		}
	}
	return aggregate.CountBy(evs)
}

func (e *Engine) publishHealth() {
	score := e.health.Score()
	if e.metrics != nil {
		e.metrics.HealthScore.Set(float64(score))
	}
	state := e.health.State()
	e.broadcast(model.TypeHealth, map[string]any{
		"score":            score,
		"connection_state": state.String(),
		"timestamp":        e.now().UTC(),
	})
	if err := e.publisher.PublishHealth(score, state); err != nil {
		e.logger.Warn("Health publish failed", "error", err)
	}
}

func (e *Engine) broadcast(msgType string, payload any) {
	if e.hub == nil {
		return
	}
	env, err := model.NewEnvelope(msgType, payload)
	if err != nil {
		e.logger.Warn("Broadcast envelope failed", "type", msgType, "error", err)
		return
	}
	e.hub.Broadcast(env)
}

func (e *Engine) dropMalformed(msgType string, err error) {
	if e.metrics != nil {
		e.metrics.MalformedDropped.Inc()
	}
	e.logger.Warn("Dropping malformed payload", "type", msgType, "error", err)
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
