// Package transport owns the single persistent websocket connection to the
// telemetry source: connect/reconnect with backoff, message framing, and
// dispatch by envelope type. Messages missed while disconnected are not
// replayed; dependents resync through the connect hooks.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/icsight/icsight/internal/metrics"
	"github.com/icsight/icsight/internal/model"
)

// ErrNotConnected is returned by Send while the channel has no live
// connection. The message is dropped, not queued: this channel carries live
// telemetry, not guaranteed-delivery commands.
var ErrNotConnected = errors.New("transport: not connected")

// Conn is the subset of a websocket connection the channel uses. gorilla's
// *websocket.Conn satisfies it; tests substitute fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a connection to the telemetry source.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct {
	d *websocket.Dialer
}

func (w wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := w.d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Handler consumes the payload of one dispatched envelope type.
type Handler func(data json.RawMessage)

// Options tune the reconnect behavior.
type Options struct {
	// BackoffBase is multiplied by the consecutive-failure count.
	BackoffBase time.Duration
	// BackoffCap bounds the delay between attempts.
	BackoffCap time.Duration
	// MaxAttempts is the consecutive-failure count after which the channel
	// reports Degraded. It keeps retrying at the capped delay.
	MaxAttempts int
	// PingInterval is the outbound keepalive cadence.
	PingInterval time.Duration
}

// Channel is the single owned transport connection. All consumers share it
// through the dispatcher; none opens its own socket.
type Channel struct {
	url     string
	dialer  Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics
	opts    Options

	mu           sync.RWMutex
	writeMu      sync.Mutex
	state        model.ConnectionState
	attempts     int
	conn         Conn
	handlers     map[string]Handler
	connectHooks []func()
	stateHooks   []func(model.ConnectionState)
	closed       bool
	everOpened   bool

	done chan struct{}
	wg   sync.WaitGroup

	// after is time.After, injectable so tests run without real delays.
	after func(time.Duration) <-chan time.Time
}

// NewChannel creates a channel for the given websocket URL.
func NewChannel(url string, opts Options, logger *slog.Logger, m *metrics.Metrics) *Channel {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &Channel{
		url:      url,
		dialer:   wsDialer{d: websocket.DefaultDialer},
		logger:   logger,
		metrics:  m,
		opts:     opts,
		state:    model.StateDisconnected,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
		after:    time.After,
	}
}

// OnMessage registers the dispatch target for one envelope type. Must be
// called before Open.
func (c *Channel) OnMessage(msgType string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = h
}

// OnConnect registers a hook fired after every successful (re)connect, so
// dependents can request a full state resync. Must be called before Open.
func (c *Channel) OnConnect(hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectHooks = append(c.connectHooks, hook)
}

// OnStateChange registers a hook fired on every connection state
// transition. Must be called before Open.
func (c *Channel) OnStateChange(hook func(model.ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHooks = append(c.stateHooks, hook)
}

// Open begins connecting. The channel reconnects on its own until Close.
func (c *Channel) Open(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Send transmits an envelope if connected; otherwise the message is dropped
// and ErrNotConnected returned.
func (c *Channel) Send(msgType string, payload any) error {
	env, err := model.NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}

	c.mu.RLock()
	conn := c.conn
	live := c.state.Live()
	c.mu.RUnlock()
	if !live || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(env)
}

// Close performs a clean shutdown and suppresses any pending reconnect.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
	c.setState(model.StateDisconnected)
}

// State returns the current connection state.
func (c *Channel) State() model.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Channel) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.setState(model.StateConnecting)
		conn, err := c.dialer.Dial(ctx, c.url)
		if err != nil {
			c.backoff(ctx, err)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.attempts = 0
		reconnected := c.everOpened
		c.everOpened = true
		hooks := make([]func(), len(c.connectHooks))
		copy(hooks, c.connectHooks)
		c.mu.Unlock()

		c.setState(model.StateConnected)
		if reconnected {
			if c.metrics != nil {
				c.metrics.Reconnects.Inc()
			}
			c.logger.Info("Transport reconnected", "url", c.url)
		} else {
			c.logger.Info("Transport connected", "url", c.url)
		}
		for _, hook := range hooks {
			hook()
		}

		stopPing := make(chan struct{})
		go c.keepalive(stopPing)
		c.readLoop(conn)
		close(stopPing)

		c.mu.Lock()
		c.conn = nil
		closed := c.closed
		c.mu.Unlock()
		c.setState(model.StateDisconnected)
		if closed {
			return
		}
		c.logger.Warn("Transport connection lost, reconnecting", "url", c.url)
	}
}

// backoff records a failed attempt and waits before the next one. The delay
// grows linearly with consecutive failures and is capped; past MaxAttempts
// the channel surfaces Degraded while still retrying at the cap.
func (c *Channel) backoff(ctx context.Context, dialErr error) {
	c.mu.Lock()
	c.attempts++
	attempts := c.attempts
	c.mu.Unlock()

	if attempts >= c.opts.MaxAttempts {
		c.setState(model.StateDegraded)
	} else {
		c.setState(model.StateDisconnected)
	}

	delay := c.backoffDelay(attempts)
	c.logger.Warn("Transport connect failed",
		"url", c.url,
		"attempt", attempts,
		"retry_in", delay,
		"error", dialErr)

	select {
	case <-c.after(delay):
	case <-c.done:
	case <-ctx.Done():
	}
}

func (c *Channel) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(attempt) * c.opts.BackoffBase
	if delay > c.opts.BackoffCap {
		delay = c.opts.BackoffCap
	}
	return delay
}

func (c *Channel) attemptCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempts
}

// keepalive sends application-level pings while the connection is up. A
// failed ping is left to the read loop to notice.
func (c *Channel) keepalive(stop chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Send(model.TypePing, nil); err != nil {
				return
			}
		}
	}
}

func (c *Channel) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("Transport read error", "error", err)
			}
			conn.Close()
			return
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound payload by its type discriminator. Malformed
// payloads are logged and dropped; unknown types are ignored. Neither ever
// crashes the channel.
func (c *Channel) dispatch(data []byte) {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		if c.metrics != nil {
			c.metrics.MalformedDropped.Inc()
		}
		c.logger.Warn("Dropping malformed transport payload", "error", err)
		return
	}

	switch env.Type {
	case model.TypePing:
		if err := c.Send(model.TypePong, nil); err != nil && !errors.Is(err, ErrNotConnected) {
			c.logger.Warn("Failed to answer ping", "error", err)
		}
		return
	case model.TypePong:
		return
	}

	c.mu.RLock()
	handler, ok := c.handlers[env.Type]
	c.mu.RUnlock()
	if !ok {
		return
	}
	handler(env.Data)
}

func (c *Channel) setState(s model.ConnectionState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	hooks := c.stateHooks
	c.mu.Unlock()
	if !changed {
		return
	}
	if c.metrics != nil {
		c.metrics.ConnectionState.Set(float64(s))
	}
	c.logger.Info("Transport state changed", "state", s.String())
	for _, hook := range hooks {
		hook(s)
	}
}
