// Package ingest provides the optional broker-side telemetry path: sensors
// that publish classifications to NATS instead of (or alongside) the
// websocket source are funneled into the same engine inbox.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/icsight/icsight/internal/metrics"
	"github.com/icsight/icsight/internal/model"
)

// SubjectClassifications is the subject broker-side sensors publish to.
const SubjectClassifications = "icsight.classifications"

// Enqueuer accepts envelopes for the consumer loop. The engine implements it.
type Enqueuer interface {
	Enqueue(model.Envelope)
}

// Subscriber bridges NATS classification messages into the engine. Members
// of the same queue group share the stream.
type Subscriber struct {
	nc      *nats.Conn
	sink    Enqueuer
	queue   string
	logger  *slog.Logger
	metrics *metrics.Metrics

	sub *nats.Subscription
}

// NewSubscriber creates a subscriber over an established NATS connection.
func NewSubscriber(nc *nats.Conn, sink Enqueuer, queue string, logger *slog.Logger, m *metrics.Metrics) *Subscriber {
	return &Subscriber{
		nc:      nc,
		sink:    sink,
		queue:   queue,
		logger:  logger,
		metrics: m,
	}
}

// Subscribe listens for classification messages until the context is
// canceled, then drains the subscription.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	sub, err := s.nc.QueueSubscribe(SubjectClassifications, s.queue, s.handleMessage)
	if err != nil {
		s.logger.Error("Failed to subscribe to classifications", "subject", SubjectClassifications, "error", err)
		return err
	}
	s.sub = sub
	s.logger.Info("Subscribed to classifications", "subject", SubjectClassifications, "queue", s.queue)

	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		s.logger.Error("Error draining subscription", "error", err)
		return err
	}
	s.logger.Info("Classification subscription drained")
	return nil
}

// handleMessage accepts either a bare classification payload or a full
// envelope. Anything else is dropped at the boundary.
func (s *Subscriber) handleMessage(msg *nats.Msg) {
	env := s.decode(msg.Data)
	if env == nil {
		if s.metrics != nil {
			s.metrics.MalformedDropped.Inc()
		}
		s.logger.Warn("Dropping malformed broker message", "subject", msg.Subject, "data_length", len(msg.Data))
		return
	}
	s.sink.Enqueue(*env)
}

func (s *Subscriber) decode(data []byte) *model.Envelope {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}
	if env.Type == model.TypeClassification && len(env.Data) > 0 {
		return &env
	}
	// Bare payload published without envelope framing.
	if env.Type == "" {
		if err := model.ValidateClassification(data); err != nil {
			return nil
		}
		return &model.Envelope{Type: model.TypeClassification, Data: json.RawMessage(data)}
	}
	return nil
}
