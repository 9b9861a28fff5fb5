// Package control forwards user commands to the upstream simulation service
// and reconciles the local status mirror with the authoritative snapshot the
// service returns.
package control

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/icsight/icsight/internal/metrics"
	"github.com/icsight/icsight/internal/model"
)

// Supported upstream actions.
const (
	ActionStart    = "start"
	ActionPause    = "pause"
	ActionResume   = "resume"
	ActionStop     = "stop"
	ActionReset    = "reset"
	ActionSetSpeed = "set_speed"
)

var validActions = map[string]bool{
	ActionStart:    true,
	ActionPause:    true,
	ActionResume:   true,
	ActionStop:     true,
	ActionReset:    true,
	ActionSetSpeed: true,
}

// CommandError is the caller-visible rejection of a command. The command had
// explicit intent and may have side effects upstream, so retrying is the
// caller's decision; the facade never retries on its own.
type CommandError struct {
	Action  string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q rejected: %s", e.Action, e.Message)
}

// Request is the outbound command body.
type Request struct {
	Action string   `json:"action"`
	Speed  *float64 `json:"speed,omitempty"`
}

// response is the upstream control endpoint's reply.
type response struct {
	Status  string                  `json:"status"`
	Message string                  `json:"message,omitempty"`
	Data    *model.SimulationStatus `json:"data,omitempty"`
}

// StatusSink receives the authoritative status snapshot a successful command
// returns. The engine implements it.
type StatusSink interface {
	ApplyStatus(model.SimulationStatus)
}

// Facade delivers commands over the request/response channel, separate from
// the streaming transport.
type Facade struct {
	baseURL string
	client  *http.Client
	sink    StatusSink
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewFacade creates a facade for the upstream API base URL.
func NewFacade(baseURL string, sink StatusSink, logger *slog.Logger, m *metrics.Metrics) *Facade {
	return &Facade{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		sink:    sink,
		logger:  logger,
		metrics: m,
	}
}

// SendCommand forwards one action upstream. On success the returned
// authoritative status replaces the local mirror wholesale; on any failure
// the local status is left untouched and the error surfaces to the caller.
func (f *Facade) SendCommand(action string, speed *float64) (*model.SimulationStatus, error) {
	if !validActions[action] {
		return nil, &CommandError{Action: action, Message: "unknown action"}
	}
	if action == ActionSetSpeed && speed == nil {
		return nil, &CommandError{Action: action, Message: "speed parameter required"}
	}

	body, err := json.Marshal(Request{Action: action, Speed: speed})
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	commandID := uuid.NewString()
	req, err := http.NewRequest(http.MethodPost, f.baseURL+"/api/simulation/control", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build command request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Command-ID", commandID)

	f.logger.Info("Forwarding command", "action", action, "command_id", commandID)

	resp, err := f.client.Do(req)
	if err != nil {
		f.countOutcome(action, "transport_error")
		return nil, &CommandError{Action: action, Message: err.Error()}
	}
	defer resp.Body.Close()

	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		f.countOutcome(action, "bad_response")
		return nil, &CommandError{Action: action, Message: fmt.Sprintf("unreadable response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK || parsed.Status != "success" {
		f.countOutcome(action, "rejected")
		msg := parsed.Message
		if msg == "" {
			msg = fmt.Sprintf("upstream returned HTTP %d", resp.StatusCode)
		}
		f.logger.Warn("Command rejected", "action", action, "command_id", commandID, "message", msg)
		return nil, &CommandError{Action: action, Message: msg}
	}

	f.countOutcome(action, "success")
	if parsed.Data != nil {
		f.sink.ApplyStatus(*parsed.Data)
		return parsed.Data, nil
	}
	return nil, nil
}

func (f *Facade) countOutcome(action, outcome string) {
	if f.metrics != nil {
		f.metrics.CommandsForwarded.WithLabelValues(action, outcome).Inc()
	}
}
