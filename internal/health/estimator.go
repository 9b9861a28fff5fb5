// Package health derives the dashboard's 0-100 health score from transport
// state and recent event quality.
package health

import (
	"math"
	"sync"
	"time"

	"github.com/icsight/icsight/internal/buffer"
	"github.com/icsight/icsight/internal/model"
)

// Score policy. The neutral default and the uptime tiers are a behavioral
// compatibility choice carried over from the original dashboard, not a
// measured SLA.
const (
	NeutralScore = 85

	uptimeTierLong  = 5 * time.Minute
	uptimeTierShort = 2 * time.Minute
	scoreTierLong   = 85
	scoreTierShort  = 75
	scoreTierBase   = 65
)

// Estimator computes the health score with this precedence: transport down
// wins unconditionally (score 0); otherwise fresh data is scored by the
// proportion of normal events in the recent window; otherwise a stale but
// healthy connection is scored by uptime tier.
type Estimator struct {
	mu             sync.RWMutex
	state          model.ConnectionState
	connectedSince time.Time
	lastEventAt    time.Time
	window         *buffer.Ring[model.Severity]
	freshness      time.Duration

	now func() time.Time
}

// NewEstimator creates an estimator scoring over the windowSize most recent
// events, treating data older than freshness as stale.
func NewEstimator(windowSize int, freshness time.Duration) *Estimator {
	return &Estimator{
		state:     model.StateDisconnected,
		window:    buffer.NewRing[model.Severity](windowSize),
		freshness: freshness,
		now:       time.Now,
	}
}

// SetState records a transport state transition. Entering Connected starts
// the uptime clock used by the stale tiers.
func (e *Estimator) SetState(s model.ConnectionState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s == model.StateConnected && e.state != model.StateConnected {
		e.connectedSince = e.now()
	}
	e.state = s
}

// State returns the last recorded transport state.
func (e *Estimator) State() model.ConnectionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// ObserveEvent records one classified event's severity.
func (e *Estimator) ObserveEvent(sev model.Severity) {
	e.mu.Lock()
	e.lastEventAt = e.now()
	e.mu.Unlock()
	e.window.Push(sev)
}

// Score computes the current 0-100 health score.
func (e *Estimator) Score() int {
	e.mu.RLock()
	state := e.state
	connectedSince := e.connectedSince
	lastEventAt := e.lastEventAt
	now := e.now()
	e.mu.RUnlock()

	// Transport down floors the score regardless of buffered data.
	if !state.Live() {
		return 0
	}

	if e.isFresh(now, lastEventAt, connectedSince) {
		window := e.window.Snapshot()
		if len(window) == 0 {
			return NeutralScore
		}
		normal := 0
		for _, sev := range window {
			if sev == model.SeverityNormal {
				normal++
			}
		}
		return int(math.Round(float64(normal) / float64(len(window)) * 100))
	}

	// Connected but no fresh data: score connection stability instead,
	// since there is no data quality to assess.
	uptime := now.Sub(connectedSince)
	switch {
	case uptime >= uptimeTierLong:
		return scoreTierLong
	case uptime >= uptimeTierShort:
		return scoreTierShort
	default:
		return scoreTierBase
	}
}

// isFresh reports whether recent data should drive the score. A connection
// younger than the freshness window with no events yet counts as fresh so a
// just-opened session reads neutral rather than stale.
func (e *Estimator) isFresh(now, lastEventAt, connectedSince time.Time) bool {
	if !lastEventAt.IsZero() {
		return now.Sub(lastEventAt) <= e.freshness
	}
	return now.Sub(connectedSince) <= e.freshness
}
