package alert

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/icsight/icsight/internal/buffer"
	"github.com/icsight/icsight/internal/metrics"
	"github.com/icsight/icsight/internal/model"
)

// suppressCacheSize bounds the dedupe cache of recently raised notices.
const suppressCacheSize = 512

// Emitter turns qualifying classified events into alert notices. A new
// notice always replaces the currently visible one (no queueing of banners),
// while a capped history separately retains recent notices. Each notice
// self-expires after its fixed lifetime.
type Emitter struct {
	mu       sync.Mutex
	policy   Policy
	ttl      time.Duration
	current  *model.AlertNotice
	expiry   *time.Timer
	history  *buffer.Ring[model.AlertNotice]
	suppress *expirable.LRU[string, struct{}]
	logger   *slog.Logger
	metrics  *metrics.Metrics

	observers []func(model.AlertNotice)
}

// NewEmitter creates an emitter with the given notice lifetime and history
// capacity. Repeat notices for the same (attack type, source) pair inside
// one lifetime are suppressed so a sustained attack does not strobe the
// banner.
func NewEmitter(policy Policy, ttl time.Duration, historyCap int, logger *slog.Logger, m *metrics.Metrics) *Emitter {
	return &Emitter{
		policy:   policy,
		ttl:      ttl,
		history:  buffer.NewRing[model.AlertNotice](historyCap),
		suppress: expirable.NewLRU[string, struct{}](suppressCacheSize, nil, ttl),
		logger:   logger,
		metrics:  m,
	}
}

// OnEmit registers an observer called for every emitted notice. Observers
// run outside the emitter lock.
func (e *Emitter) OnEmit(fn func(model.AlertNotice)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// Consider inspects one classified event and emits a notice when the policy
// qualifies it. Returns the notice when one was emitted.
func (e *Emitter) Consider(ev model.ClassifiedEvent) *model.AlertNotice {
	sev, emit := e.policy.Evaluate(ev)
	if !emit {
		return nil
	}

	key := ev.AttackType + "|" + ev.SourceEndpoint
	if _, dup := e.suppress.Get(key); dup {
		if e.metrics != nil {
			e.metrics.AlertsSuppressed.Inc()
		}
		return nil
	}
	e.suppress.Add(key, struct{}{})

	notice := model.AlertNotice{
		ID:             uuid.NewString(),
		AttackType:     ev.AttackType,
		SourceEndpoint: ev.SourceEndpoint,
		Severity:       sev,
		Timestamp:      time.Now().UTC(),
	}

	e.mu.Lock()
	if e.expiry != nil {
		e.expiry.Stop()
	}
	e.current = &notice
	id := notice.ID
	e.expiry = time.AfterFunc(e.ttl, func() { e.clearIfCurrent(id) })
	e.history.Push(notice)
	observers := e.observers
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.AlertsEmitted.Inc()
	}
	e.logger.Warn("Alert raised",
		"alert_id", notice.ID,
		"attack_type", notice.AttackType,
		"source_ip", notice.SourceEndpoint,
		"severity", notice.Severity)

	for _, fn := range observers {
		fn(notice)
	}
	return &notice
}

// Current returns a copy of the visible notice, or nil after expiry.
func (e *Emitter) Current() *model.AlertNotice {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	n := *e.current
	return &n
}

// History returns retained notices in emission order, oldest first.
func (e *Emitter) History() []model.AlertNotice {
	newestFirst := e.history.Snapshot()
	out := make([]model.AlertNotice, len(newestFirst))
	for i, n := range newestFirst {
		out[len(out)-1-i] = n
	}
	return out
}

// clearIfCurrent drops the visible notice if it is still the one that was
// scheduled; a replacement that raced the timer stays visible.
func (e *Emitter) clearIfCurrent(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil && e.current.ID == id {
		e.current = nil
	}
}
