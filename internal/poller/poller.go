// Package poller periodically refreshes snapshot state from the upstream
// REST endpoints, covering the gaps the streaming transport leaves: status
// drift while messages are missed, seeding an empty buffer on startup, and
// server-side aggregate statistics.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/icsight/icsight/internal/metrics"
	"github.com/icsight/icsight/internal/model"
)

// Sink receives polled snapshots. The engine implements it. Every delivery
// replaces prior state wholesale; the poller never merges.
type Sink interface {
	ApplyStatus(model.SimulationStatus)
	ApplyServerStats(model.ServerStats)
	SeedEvents([]model.ClassifiedEvent)
}

// Options tune the poll cadence.
type Options struct {
	StatusInterval time.Duration
	StatsInterval  time.Duration
	SeedLimit      int
}

// envelope is the upstream REST wrapper around every poll response.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// Poller drives the periodic refresh loops. A failed poll keeps the last
// good snapshot in place; stale data beats a blank dashboard.
type Poller struct {
	baseURL string
	client  *http.Client
	sink    Sink
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a poller against the upstream API base URL.
func New(baseURL string, sink Sink, opts Options, logger *slog.Logger, m *metrics.Metrics) *Poller {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = 5 * time.Second
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = 10 * time.Second
	}
	if opts.SeedLimit <= 0 {
		opts.SeedLimit = 100
	}
	return &Poller{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		sink:    sink,
		opts:    opts,
		logger:  logger,
		metrics: m,
	}
}

// Run polls until the context is canceled. It seeds the event buffer once at
// startup, then alternates the status and statistics refresh cycles.
func (p *Poller) Run(ctx context.Context) {
	if err := p.PollRecent(ctx); err != nil {
		p.logger.Warn("Initial event seed failed", "error", err)
	}

	statusTicker := time.NewTicker(p.opts.StatusInterval)
	defer statusTicker.Stop()
	statsTicker := time.NewTicker(p.opts.StatsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-statusTicker.C:
			if err := p.PollStatus(ctx); err != nil {
				p.countError("status")
				p.logger.Warn("Status poll failed", "error", err)
			}
		case <-statsTicker.C:
			if err := p.PollStats(ctx); err != nil {
				p.countError("statistics")
				p.logger.Warn("Statistics poll failed", "error", err)
			}
		}
	}
}

// PollStatus fetches the authoritative simulation status and replaces the
// local mirror.
func (p *Poller) PollStatus(ctx context.Context) error {
	var status model.SimulationStatus
	if err := p.fetch(ctx, "/api/simulation/status", &status); err != nil {
		return err
	}
	p.sink.ApplyStatus(status)
	return nil
}

// PollStats fetches server-side aggregate statistics, which supersede the
// locally computed distributions for the current refresh cycle.
func (p *Poller) PollStats(ctx context.Context) error {
	var stats model.ServerStats
	if err := p.fetch(ctx, "/api/simulation/statistics", &stats); err != nil {
		return err
	}
	p.sink.ApplyServerStats(stats)
	return nil
}

// PollRecent fetches the most recent classifications, in chronological order
// oldest first, to seed the event buffer. The sink decides whether to accept
// the seed; a buffer already holding live events is never overwritten.
func (p *Poller) PollRecent(ctx context.Context) error {
	var events []model.ClassifiedEvent
	path := fmt.Sprintf("/api/simulation/recent?limit=%d", p.opts.SeedLimit)
	if err := p.fetch(ctx, path, &events); err != nil {
		return err
	}
	p.sink.SeedEvents(events)
	return nil
}

func (p *Poller) fetch(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("poll %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("poll %s: HTTP %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("poll %s: decode: %w", path, err)
	}
	if env.Status != "success" {
		return fmt.Errorf("poll %s: upstream error: %s", path, env.Message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("poll %s: decode data: %w", path, err)
	}
	return nil
}

func (p *Poller) countError(endpoint string) {
	if p.metrics != nil {
		p.metrics.PollErrors.WithLabelValues(endpoint).Inc()
	}
}
