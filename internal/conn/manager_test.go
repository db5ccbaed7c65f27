package conn

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/dinehub/ordersync/errs"
	"github.com/dinehub/ordersync/internal/bus/eventbus"
)

type readResult struct {
	data []byte
	err  error
}

type fakeConn struct {
	reads chan readResult

	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan readResult, 8)}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case r := <-c.reads:
		return websocket.MessageText, r.data, r.err
	}
}

func (c *fakeConn) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close(websocket.StatusCode, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recorder) handler() eventbus.Handler {
	return func(_ context.Context, evt eventbus.Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, evt)
		return nil
	}
}

func (r *recorder) snapshot() []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eventbus.Event(nil), r.events...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestConnectBuildsTenantScopedURL(t *testing.T) {
	bus := eventbus.New()
	var dialed string
	socket := newFakeConn()
	mgr := NewManager(Config{Endpoint: "wss://orders.example.com/websocketForOrders"}, bus,
		func(_ context.Context, rawURL string) (Conn, error) {
			dialed = rawURL
			return socket, nil
		})

	require.NoError(t, mgr.Connect(context.Background(), Identity{RestaurantID: "rest-42"}))
	defer mgr.Disconnect()

	parsed, err := url.Parse(dialed)
	require.NoError(t, err)
	require.Equal(t, "rest-42", parsed.Query().Get("restaurant_id"))
	require.Equal(t, "indining", parsed.Query().Get("type"))
	require.Equal(t, StatusConnected, mgr.Status())
}

func TestConnectPublishesFrames(t *testing.T) {
	bus := eventbus.New()
	frames := &recorder{}
	_, err := bus.Subscribe(eventbus.KindFrame, frames.handler())
	require.NoError(t, err)

	socket := newFakeConn()
	mgr := NewManager(Config{Endpoint: "wss://h/websocketForOrders"}, bus,
		func(context.Context, string) (Conn, error) { return socket, nil })
	require.NoError(t, mgr.Connect(context.Background(), Identity{RestaurantID: "r1"}))
	defer mgr.Disconnect()

	socket.reads <- readResult{data: []byte(`{"updated_order":[]}`)}
	waitFor(t, func() bool { return len(frames.snapshot()) == 1 })
	require.Equal(t, []byte(`{"updated_order":[]}`), frames.snapshot()[0].Payload)
}

func TestConcurrentConnectFailsInProgress(t *testing.T) {
	bus := eventbus.New()
	release := make(chan struct{})
	socket := newFakeConn()
	mgr := NewManager(Config{Endpoint: "wss://h/ws"}, bus,
		func(ctx context.Context, _ string) (Conn, error) {
			select {
			case <-release:
				return socket, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})

	firstDone := make(chan error, 1)
	go func() { firstDone <- mgr.Connect(context.Background(), Identity{RestaurantID: "r1"}) }()
	waitFor(t, func() bool { return mgr.Status() == StatusConnecting })

	err := mgr.Connect(context.Background(), Identity{RestaurantID: "r1"})
	require.True(t, errs.IsCode(err, errs.CodeConnectionInProgress), "got %v", err)

	close(release)
	require.NoError(t, <-firstDone)
	mgr.Disconnect()
}

func TestConnectHandshakeTimeout(t *testing.T) {
	bus := eventbus.New()
	mgr := NewManager(Config{Endpoint: "wss://h/ws", HandshakeTimeout: 20 * time.Millisecond}, bus,
		func(ctx context.Context, _ string) (Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	err := mgr.Connect(context.Background(), Identity{RestaurantID: "r1"})
	require.True(t, errs.IsCode(err, errs.CodeConnectionTimeout), "got %v", err)
	require.Equal(t, StatusDisconnected, mgr.Status())
}

func TestAbnormalCloseReconnectsUntilExhausted(t *testing.T) {
	bus := eventbus.New()
	reconnects := &recorder{}
	exhausted := &recorder{}
	_, err := bus.Subscribe(eventbus.KindReconnecting, reconnects.handler())
	require.NoError(t, err)
	_, err = bus.Subscribe(eventbus.KindConnectionExhausted, exhausted.handler())
	require.NoError(t, err)

	socket := newFakeConn()
	var dials atomic.Int32
	mgr := NewManager(Config{
		Endpoint:             "wss://h/ws",
		ReconnectBaseDelay:   time.Millisecond,
		MaxReconnectAttempts: 5,
	}, bus, func(context.Context, string) (Conn, error) {
		if dials.Add(1) == 1 {
			return socket, nil
		}
		return nil, errors.New("dial refused")
	})

	require.NoError(t, mgr.Connect(context.Background(), Identity{RestaurantID: "r1"}))
	socket.reads <- readResult{err: websocket.CloseError{Code: websocket.StatusAbnormalClosure}}

	waitFor(t, func() bool { return len(exhausted.snapshot()) == 1 })

	attempts := reconnects.snapshot()
	require.Len(t, attempts, 5)
	var last time.Duration
	for i, evt := range attempts {
		payload, ok := evt.Payload.(ReconnectEvent)
		require.True(t, ok)
		require.Equal(t, i+1, payload.Attempt)
		require.Greater(t, payload.Delay, last, "delays must strictly increase")
		last = payload.Delay
	}

	payload, ok := exhausted.snapshot()[0].Payload.(error)
	require.True(t, ok)
	require.True(t, errs.IsCode(payload, errs.CodeConnectionExhausted))
	require.Equal(t, StatusDisconnected, mgr.Status())
}

func TestNormalCloseDoesNotReconnect(t *testing.T) {
	bus := eventbus.New()
	reconnects := &recorder{}
	disconnects := &recorder{}
	_, err := bus.Subscribe(eventbus.KindReconnecting, reconnects.handler())
	require.NoError(t, err)
	_, err = bus.Subscribe(eventbus.KindDisconnected, disconnects.handler())
	require.NoError(t, err)

	socket := newFakeConn()
	mgr := NewManager(Config{Endpoint: "wss://h/ws", ReconnectBaseDelay: time.Millisecond}, bus,
		func(context.Context, string) (Conn, error) { return socket, nil })
	require.NoError(t, mgr.Connect(context.Background(), Identity{RestaurantID: "r1"}))

	socket.reads <- readResult{err: websocket.CloseError{Code: websocket.StatusNormalClosure}}
	waitFor(t, func() bool { return len(disconnects.snapshot()) == 1 })

	require.Empty(t, reconnects.snapshot())
	require.Equal(t, StatusDisconnected, mgr.Status())
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	bus := eventbus.New()
	reconnects := &recorder{}
	_, err := bus.Subscribe(eventbus.KindReconnecting, reconnects.handler())
	require.NoError(t, err)

	socket := newFakeConn()
	var dials atomic.Int32
	mgr := NewManager(Config{
		Endpoint:           "wss://h/ws",
		ReconnectBaseDelay: time.Hour,
	}, bus, func(context.Context, string) (Conn, error) {
		dials.Add(1)
		return socket, nil
	})

	require.NoError(t, mgr.Connect(context.Background(), Identity{RestaurantID: "r1"}))
	socket.reads <- readResult{err: websocket.CloseError{Code: websocket.StatusAbnormalClosure}}
	waitFor(t, func() bool { return len(reconnects.snapshot()) == 1 })

	mgr.Disconnect()
	require.Equal(t, StatusDisconnected, mgr.Status())

	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 1, dials.Load(), "cancelled reconnect must not redial")
}

func TestDisconnectIsIdempotent(t *testing.T) {
	mgr := NewManager(Config{Endpoint: "wss://h/ws"}, eventbus.New(), nil)
	mgr.Disconnect()
	mgr.Disconnect()
	require.Equal(t, StatusDisconnected, mgr.Status())
}

func TestKeepaliveSendsPings(t *testing.T) {
	bus := eventbus.New()
	socket := newFakeConn()
	mgr := NewManager(Config{
		Endpoint:          "wss://h/ws",
		KeepaliveInterval: 5 * time.Millisecond,
	}, bus, func(context.Context, string) (Conn, error) { return socket, nil })

	require.NoError(t, mgr.Connect(context.Background(), Identity{RestaurantID: "r1"}))
	defer mgr.Disconnect()

	waitFor(t, func() bool { return socket.writeCount() >= 1 })
	socket.mu.Lock()
	first := string(socket.writes[0])
	socket.mu.Unlock()
	require.JSONEq(t, `{"type":"ping"}`, first)
}
