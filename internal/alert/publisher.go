package alert

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/icsight/icsight/internal/model"
)

// NATS subjects external notifiers subscribe to. Delivery (email, SMS) is
// out of scope here; publishing the notice is the integration point.
const (
	SubjectAlerts = "icsight.alerts"
	SubjectHealth = "icsight.health"
)

// Publisher mirrors emitted notices and health transitions onto NATS for
// consumers outside the dashboard session. All methods are nil-safe so the
// service runs unchanged without a broker configured.
type Publisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewPublisher creates a publisher over an established NATS connection.
func NewPublisher(nc *nats.Conn, logger *slog.Logger) *Publisher {
	return &Publisher{nc: nc, logger: logger}
}

// PublishNotice publishes one alert notice to the alerts subject.
func (p *Publisher) PublishNotice(notice model.AlertNotice) error {
	if p == nil || p.nc == nil || !p.nc.IsConnected() {
		return nil
	}

	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal alert notice: %w", err)
	}

	headers := nats.Header{}
	headers.Set("x-alert-id", notice.ID)
	headers.Set("x-attack-type", notice.AttackType)
	headers.Set("x-severity", string(notice.Severity))

	msg := &nats.Msg{Subject: SubjectAlerts, Data: data, Header: headers}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish alert notice: %w", err)
	}

	p.logger.Info("Published alert notice",
		"alert_id", notice.ID,
		"subject", SubjectAlerts)
	return nil
}

// PublishHealth publishes a health score sample to the health subject.
func (p *Publisher) PublishHealth(score int, state model.ConnectionState) error {
	if p == nil || p.nc == nil || !p.nc.IsConnected() {
		return nil
	}

	data, err := json.Marshal(map[string]any{
		"score":            score,
		"connection_state": state.String(),
	})
	if err != nil {
		return fmt.Errorf("marshal health sample: %w", err)
	}

	headers := nats.Header{}
	headers.Set("x-health-score", strconv.Itoa(score))

	msg := &nats.Msg{Subject: SubjectHealth, Data: data, Header: headers}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish health sample: %w", err)
	}
	return nil
}
