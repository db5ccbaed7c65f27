// Package conn owns the lifecycle of the in-dining push transport connection:
// connect, disconnect, and reconnect with bounded, increasing delays.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/dinehub/ordersync/errs"
	"github.com/dinehub/ordersync/internal/bus/eventbus"
	"github.com/dinehub/ordersync/internal/observability"
)

// Status is the derived connection state exposed to callers.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusClosing      Status = "closing"
)

// Identity keys the transport to one tenant.
type Identity struct {
	RestaurantID string
}

// Config controls transport behaviour. Zero fields take defaults.
type Config struct {
	// Endpoint is the websocket base URL, e.g. wss://host/websocketForOrders.
	Endpoint string
	// HandshakeTimeout bounds the dial; exceeded handshakes fail with
	// connection_timeout.
	HandshakeTimeout time.Duration
	// ReconnectBaseDelay scales the wait before reconnect attempt n as
	// ReconnectBaseDelay * n.
	ReconnectBaseDelay time.Duration
	// MaxReconnectAttempts bounds reconnection after an abnormal close.
	MaxReconnectAttempts int
	// KeepaliveInterval spaces outbound ping frames; zero disables keepalive.
	KeepaliveInterval time.Duration
	// KeepaliveRate caps ping frames per second on top of the interval.
	KeepaliveRate rate.Limit
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.KeepaliveRate <= 0 {
		c.KeepaliveRate = rate.Limit(4)
	}
	return c
}

// Conn is the transport surface the manager drives.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens one transport connection to the given URL.
type Dialer func(ctx context.Context, rawURL string) (Conn, error)

// DefaultDialer dials with coder/websocket.
func DefaultDialer(ctx context.Context, rawURL string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ReconnectEvent is the payload published with KindReconnecting.
type ReconnectEvent struct {
	Attempt int
	Delay   time.Duration
}

// Manager owns one push-transport connection keyed by a tenant identity.
type Manager struct {
	cfg     Config
	bus     *eventbus.Bus
	dial    Dialer
	limiter *rate.Limiter

	mu             sync.Mutex
	status         Status
	conn           Conn
	identity       Identity
	attempts       int
	gen            uint64
	reconnectTimer *time.Timer
	sessionCancel  context.CancelFunc
	baseCtx        context.Context
}

// NewManager constructs a connection manager publishing onto bus.
func NewManager(cfg Config, bus *eventbus.Bus, dial Dialer) *Manager {
	cfg = cfg.withDefaults()
	if dial == nil {
		dial = DefaultDialer
	}
	return &Manager{
		cfg:     cfg,
		bus:     bus,
		dial:    dial,
		limiter: rate.NewLimiter(cfg.KeepaliveRate, 1),
		status:  StatusDisconnected,
	}
}

// Status returns the current derived connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connect establishes the transport for the tenant. A second call while one is
// in flight fails with connection_in_progress; a call on an already-connected
// manager is a no-op.
func (m *Manager) Connect(ctx context.Context, identity Identity) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if identity.RestaurantID == "" {
		return errs.New("conn/connect", errs.CodeInvalid, errs.WithMessage("restaurant id required"))
	}

	m.mu.Lock()
	switch m.status {
	case StatusConnecting:
		m.mu.Unlock()
		return errs.New("conn/connect", errs.CodeConnectionInProgress,
			errs.WithMessage("connection already in flight"), errs.WithTenant(identity.RestaurantID))
	case StatusConnected:
		m.mu.Unlock()
		return nil
	case StatusClosing:
		m.mu.Unlock()
		return errs.New("conn/connect", errs.CodeUnavailable, errs.WithMessage("connection closing"))
	}
	m.status = StatusConnecting
	m.identity = identity
	m.baseCtx = ctx
	m.gen++
	gen := m.gen
	m.mu.Unlock()
	m.gaugeStatus(StatusConnecting)

	if err := m.establish(ctx, gen); err != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.status = StatusDisconnected
		}
		m.mu.Unlock()
		m.gaugeStatus(StatusDisconnected)
		return err
	}
	return nil
}

// Disconnect tears the transport down. It is idempotent, cancels any pending
// reconnect timer, and resets the attempt counter to zero.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.attempts = 0
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	cancel := m.sessionCancel
	m.sessionCancel = nil
	conn := m.conn
	m.conn = nil
	wasIdle := m.status == StatusDisconnected && conn == nil && cancel == nil
	if !wasIdle {
		m.status = StatusClosing
	}
	m.mu.Unlock()

	if wasIdle {
		return
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}

	m.mu.Lock()
	m.status = StatusDisconnected
	m.mu.Unlock()
	m.gaugeStatus(StatusDisconnected)
	m.publish(eventbus.KindDisconnected, m.tenant())
}

func (m *Manager) establish(ctx context.Context, gen uint64) error {
	endpoint, err := m.endpointURL()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	socket, dialErr := m.dial(dialCtx, endpoint)
	cancel()
	if dialErr != nil {
		if errors.Is(dialErr, context.DeadlineExceeded) {
			return errs.New("conn/connect", errs.CodeConnectionTimeout,
				errs.WithMessage(fmt.Sprintf("handshake exceeded %s", m.cfg.HandshakeTimeout)),
				errs.WithTenant(m.tenant()), errs.WithCause(dialErr))
		}
		return errs.New("conn/connect", errs.CodeUnavailable,
			errs.WithMessage("dial failed"), errs.WithTenant(m.tenant()), errs.WithCause(dialErr))
	}

	sessionCtx, sessionCancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		sessionCancel()
		_ = socket.Close(websocket.StatusNormalClosure, "superseded")
		return errs.New("conn/connect", errs.CodeUnavailable, errs.WithMessage("connection superseded"))
	}
	m.conn = socket
	m.status = StatusConnected
	m.attempts = 0
	m.sessionCancel = sessionCancel
	m.mu.Unlock()

	m.gaugeStatus(StatusConnected)
	m.publish(eventbus.KindConnected, m.tenant())

	go m.readLoop(sessionCtx, socket, gen)
	if m.cfg.KeepaliveInterval > 0 {
		go m.keepalive(sessionCtx, socket)
	}
	return nil
}

func (m *Manager) readLoop(ctx context.Context, socket Conn, gen uint64) {
	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			m.handleReadError(err, gen)
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		observability.Telemetry().IncCounter(observability.MetricFramesReceived, 1, nil)
		m.publish(eventbus.KindFrame, data)
	}
}

func (m *Manager) handleReadError(err error, gen uint64) {
	m.mu.Lock()
	if m.gen != gen {
		// Disconnect already superseded this session.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.sessionCancel != nil {
		m.sessionCancel()
		m.sessionCancel = nil
	}

	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		m.status = StatusDisconnected
		m.mu.Unlock()
		m.gaugeStatus(StatusDisconnected)
		m.publish(eventbus.KindDisconnected, m.tenant())
		return
	}

	observability.Log().Error("transport read failed", observability.F("tenant", m.identity.RestaurantID), observability.F("error", err))
	m.scheduleReconnectLocked(gen)
}

// scheduleReconnectLocked arms the next reconnect timer, or reports exhaustion
// once the attempt budget is spent. The caller holds m.mu; the lock is
// released before publishing.
func (m *Manager) scheduleReconnectLocked(gen uint64) {
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.status = StatusDisconnected
		tenant := m.identity.RestaurantID
		m.mu.Unlock()
		m.gaugeStatus(StatusDisconnected)
		observability.Telemetry().IncCounter(observability.MetricReconnectExhausted, 1, nil)
		exhausted := errs.New("conn/reconnect", errs.CodeConnectionExhausted,
			errs.WithMessage(fmt.Sprintf("gave up after %d attempts", m.cfg.MaxReconnectAttempts)),
			errs.WithTenant(tenant))
		observability.Log().Error("reconnect exhausted", observability.F("tenant", tenant), observability.F("attempts", m.cfg.MaxReconnectAttempts))
		m.publish(eventbus.KindConnectionExhausted, exhausted)
		return
	}

	m.attempts++
	attempt := m.attempts
	delay := m.cfg.ReconnectBaseDelay * time.Duration(attempt)
	m.status = StatusConnecting
	m.reconnectTimer = time.AfterFunc(delay, func() { m.redial(gen) })
	m.mu.Unlock()

	m.gaugeStatus(StatusConnecting)
	observability.Telemetry().IncCounter(observability.MetricReconnectAttempts, 1, nil)
	observability.Log().Info("reconnect scheduled",
		observability.F("attempt", attempt), observability.F("delay", delay))
	m.publish(eventbus.KindReconnecting, ReconnectEvent{Attempt: attempt, Delay: delay})
}

func (m *Manager) redial(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.status != StatusConnecting {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	ctx := m.baseCtx
	m.mu.Unlock()

	if err := m.establish(ctx, gen); err != nil {
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		m.scheduleReconnectLocked(gen)
	}
}

func (m *Manager) keepalive(ctx context.Context, socket Conn) {
	ticker := time.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()
	ping := []byte(`{"type":"ping"}`)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.limiter.Wait(ctx); err != nil {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := socket.Write(writeCtx, websocket.MessageText, ping)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (m *Manager) endpointURL() (string, error) {
	parsed, err := url.Parse(m.cfg.Endpoint)
	if err != nil || parsed.Host == "" {
		return "", errs.New("conn/connect", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("invalid endpoint %q", m.cfg.Endpoint)), errs.WithCause(err))
	}
	query := parsed.Query()
	query.Set("restaurant_id", m.tenant())
	query.Set("type", "indining")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (m *Manager) tenant() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity.RestaurantID
}

func (m *Manager) publish(kind eventbus.Kind, payload any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Dispatch(context.Background(), eventbus.Event{Kind: kind, Payload: payload}); err != nil {
		observability.Log().Error("event dispatch failed", observability.F("kind", kind), observability.F("error", err))
	}
}

func (m *Manager) gaugeStatus(status Status) {
	var value float64
	switch status {
	case StatusConnecting:
		value = 1
	case StatusConnected:
		value = 2
	case StatusClosing:
		value = 3
	}
	observability.Telemetry().SetGauge(observability.MetricConnectionState, value, nil)
}
