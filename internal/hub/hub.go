// Package hub fans engine output out to the dashboard websocket clients.
// One goroutine owns the client set; clients too slow to drain their send
// queue are dropped rather than allowed to stall the broadcast path.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/icsight/icsight/internal/metrics"
	"github.com/icsight/icsight/internal/model"
)

// broadcastBuffer bounds pending broadcasts while the hub goroutine is busy.
const broadcastBuffer = 256

// Responder answers a client request envelope. The returned envelope is sent
// to the requesting client only; ok=false means the request type is unknown
// and is ignored.
type Responder func(req model.Envelope) (model.Envelope, bool)

// Welcomer produces the envelopes sent to a newly registered client, giving
// it a full picture before the incremental stream starts.
type Welcomer func() []model.Envelope

// Hub maintains the set of active dashboard clients.
type directMsg struct {
	client *Client
	env    model.Envelope
}

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan model.Envelope
	register   chan *Client
	unregister chan *Client
	direct     chan directMsg

	respond Responder
	welcome Welcomer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a hub. respond and welcome may be nil.
func New(respond Responder, welcome Welcomer, logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan model.Envelope, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan directMsg, broadcastBuffer),
		respond:    respond,
		welcome:    welcome,
		logger:     logger,
		metrics:    m,
	}
}

// Run owns the client set until the context is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.setGauge()
			h.logger.Info("Dashboard client connected", "remote", client.remoteAddr())
			if h.welcome != nil {
				for _, env := range h.welcome() {
					h.deliver(client, env)
				}
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Info("Dashboard client disconnected", "remote", client.remoteAddr())
			}

		case msg := <-h.direct:
			if h.clients[msg.client] {
				h.deliver(msg.client, msg.env)
			}

		case env := <-h.broadcast:
			data, err := json.Marshal(env)
			if err != nil {
				h.logger.Warn("Broadcast marshal failed", "type", env.Type, "error", err)
				continue
			}
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Slow consumer: cutting it loose beats stalling everyone.
					h.logger.Warn("Dropping slow dashboard client", "remote", client.remoteAddr())
					h.drop(client)
				}
			}
		}
	}
}

// Broadcast queues an envelope for delivery to every client. Never blocks;
// under backpressure the envelope is dropped and the next snapshot or
// recompute restores the clients' view.
func (h *Hub) Broadcast(env model.Envelope) {
	select {
	case h.broadcast <- env:
	default:
		h.logger.Warn("Hub broadcast queue full, dropping envelope", "type", env.Type)
	}
}

// deliver marshals and queues one envelope for a single client.
func (h *Hub) deliver(client *Client, env model.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Warn("Client delivery marshal failed", "type", env.Type, "error", err)
		return
	}
	select {
	case client.send <- data:
	default:
		h.drop(client)
	}
}

// deliverAsync hands a per-client response to the hub goroutine, which is
// the only place allowed to touch send queues and the client set. A full
// queue drops the response; the client re-requests.
func (h *Hub) deliverAsync(client *Client, env model.Envelope) {
	select {
	case h.direct <- directMsg{client: client, env: env}:
	default:
		h.logger.Warn("Hub direct queue full, dropping response", "type", env.Type)
	}
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.setGauge()
}

func (h *Hub) setGauge() {
	if h.metrics != nil {
		h.metrics.HubClients.Set(float64(len(h.clients)))
	}
}
