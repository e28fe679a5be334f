// Package transport owns the single websocket session to the chat endpoint.
//
// All connection state lives in one actor goroutine. Public methods and the
// socket reader post commands and named events (opened, frameReceived,
// closing, closed, failed) to it over a channel.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/sockchat/internal/bus"
	"github.com/matheus3301/sockchat/internal/outbox"
	"github.com/matheus3301/sockchat/internal/scope"
	"github.com/matheus3301/sockchat/internal/status"
	"go.uber.org/zap"
)

const (
	// CloseReason marks an intentional local close. A closure carrying it
	// never triggers automatic reconnection.
	CloseReason = "Client closing"

	DefaultReconnectDelay       = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultDialTimeout          = 15 * time.Second

	writeTimeout = 10 * time.Second
	closeGrace   = time.Second
)

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Options configures a Client. MaxReconnectAttempts of zero disables
// automatic reconnection.
type Options struct {
	URL                  string
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	DialTimeout          time.Duration
	Queue                outbox.Options
	Dialer               Dialer
}

// Client is the transport connection. Create one per daemon with New.
type Client struct {
	opts    Options
	host    string
	dialer  Dialer
	bus     *bus.Bus
	scope   *scope.Scope
	logger  *zap.Logger
	machine *status.Machine
	queue   *outbox.Queue

	events    chan any
	connected atomic.Bool
}

// loopState is owned by the actor goroutine.
type loopState struct {
	conn          *websocket.Conn
	gen           uint64
	connecting    bool
	attempts      int
	wantReconnect bool
	echoes        *echoSet
}

type (
	connectCmd    struct{ manual bool }
	disconnectCmd struct{ done chan struct{} }
	sendCmd       struct {
		text    string
		chatID  string
		enqueue bool
		reply   chan bool
	}

	opened struct {
		gen  uint64
		conn *websocket.Conn
	}
	frameReceived struct {
		gen    uint64
		binary bool
		data   []byte
	}
	closing struct {
		gen    uint64
		code   int
		reason string
	}
	closed struct {
		gen    uint64
		code   int
		reason string
	}
	failed struct {
		gen uint64
		err error
	}
)

// New creates a client and starts its actor in sc. The client owns its
// outbound queue.
func New(opts Options, b *bus.Bus, sc *scope.Scope, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("endpoint scheme must be ws or wss, got %q", u.Scheme)
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxReconnectAttempts < 0 {
		opts.MaxReconnectAttempts = 0
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.DialTimeout,
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		opts:    opts,
		host:    u.Host,
		dialer:  opts.Dialer,
		bus:     b,
		scope:   sc,
		logger:  logger,
		machine: status.NewMachine(b),
		events:  make(chan any, 64),
	}
	c.queue = outbox.New(c, b, sc, logger.Named("outbox"), opts.Queue)
	c.publishStatus(false)

	if !sc.Go("transport.loop", c.run) {
		return nil, errors.New("scope already closed")
	}
	return c, nil
}

// Connect opens the connection. It is a no-op while an attempt is in flight
// and resets an exhausted reconnect budget.
func (c *Client) Connect() {
	c.post(connectCmd{manual: true})
}

// Disconnect closes the connection with a normal closure, forgets pending
// self echoes, drops the queue and stops automatic reconnection.
func (c *Client) Disconnect() {
	done := make(chan struct{})
	if !c.post(disconnectCmd{done: done}) {
		return
	}
	select {
	case <-done:
	case <-c.scope.Context().Done():
	}
}

// Send transmits text on the live connection and reports whether the frame
// was accepted. Text that cannot be transmitted is queued for retry.
func (c *Client) Send(text, chatID string) bool {
	return c.request(sendCmd{text: text, chatID: chatID, enqueue: true})
}

// Transmit writes text without queueing it on failure. The outbound queue
// retries through it.
func (c *Client) Transmit(text string) bool {
	return c.request(sendCmd{text: text})
}

// Defer hands text to the outbound queue without attempting a write.
func (c *Client) Defer(text, chatID string) {
	c.queue.Enqueue(text, chatID)
}

func (c *Client) request(cmd sendCmd) bool {
	cmd.reply = make(chan bool, 1)
	if !c.post(cmd) {
		return false
	}
	select {
	case ok := <-cmd.reply:
		return ok
	case <-c.scope.Context().Done():
		return false
	}
}

// Connected reports whether a live connection is open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// State returns the connection state.
func (c *Client) State() status.State {
	return c.machine.Current()
}

// SetOfflineMode simulates an offline transport. Sends are queued without
// retry passes; leaving offline mode while connected flushes the queue.
func (c *Client) SetOfflineMode(offline bool) {
	c.queue.SetOffline(offline)
	c.logger.Info("offline mode simulated", zap.Bool("offline", offline))
	if !offline && c.Connected() {
		c.queue.Flush()
	}
}

// OfflineMode reports whether offline simulation is on.
func (c *Client) OfflineMode() bool {
	return c.queue.Offline()
}

// QueuedCount returns the number of messages waiting for retry.
func (c *Client) QueuedCount() int {
	return c.queue.Depth()
}

// Queue returns the outbound queue.
func (c *Client) Queue() *outbox.Queue {
	return c.queue
}

func (c *Client) post(e any) bool {
	select {
	case c.events <- e:
		return true
	case <-c.scope.Context().Done():
		return false
	}
}

func (c *Client) run(ctx context.Context) {
	st := &loopState{echoes: newEchoSet()}
	for {
		select {
		case <-ctx.Done():
			if st.conn != nil {
				_ = st.conn.Close()
			}
			return
		case e := <-c.events:
			c.handle(st, e)
		}
	}
}

func (c *Client) handle(st *loopState, e any) {
	switch e := e.(type) {
	case connectCmd:
		c.connect(st, e.manual)
	case disconnectCmd:
		c.disconnect(st)
		close(e.done)
	case sendCmd:
		e.reply <- c.send(st, e)
	case opened:
		c.onOpened(st, e)
	case frameReceived:
		if e.gen == st.gen {
			c.onFrame(st, e)
		}
	case closing:
		if e.gen == st.gen && st.conn != nil {
			c.logger.Info("connection closing", zap.Int("code", e.code), zap.String("reason", e.reason))
			c.connected.Store(false)
			c.publishStatus(false)
			c.setState(status.Closing)
		}
	case closed:
		if e.gen == st.gen && st.conn != nil {
			c.logger.Info("connection closed", zap.Int("code", e.code), zap.String("reason", e.reason))
			c.dropConn(st)
			c.afterLoss(st, nil, e.reason)
		}
	case failed:
		if e.gen == st.gen && (st.conn != nil || st.connecting) {
			c.logger.Warn("connection failed", zap.Error(e.err))
			c.dropConn(st)
			c.afterLoss(st, e.err, "")
		}
	}
}

func (c *Client) connect(st *loopState, manual bool) {
	if manual {
		st.wantReconnect = true
	} else if !st.wantReconnect {
		c.logger.Debug("reconnect no longer wanted, skipping")
		return
	}
	if st.connecting {
		c.logger.Debug("connection already in progress, skipping")
		return
	}
	if st.conn != nil {
		return
	}
	if manual && st.attempts >= c.opts.MaxReconnectAttempts && st.attempts > 0 {
		c.logger.Info("resetting reconnect attempts for manual connection", zap.Int("attempts", st.attempts))
		st.attempts = 0
	}

	st.connecting = true
	st.gen++
	gen := st.gen
	c.setState(status.Connecting)
	c.logger.Info("connecting", zap.String("host", c.host), zap.Bool("manual", manual))

	c.scope.Go("transport.dial", func(ctx context.Context) {
		dctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
		defer cancel()
		conn, resp, err := c.dialer.DialContext(dctx, c.opts.URL, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			c.post(failed{gen: gen, err: err})
			return
		}
		if !c.post(opened{gen: gen, conn: conn}) {
			_ = conn.Close()
		}
	})
}

func (c *Client) onOpened(st *loopState, e opened) {
	if e.gen != st.gen || !st.connecting {
		_ = e.conn.Close()
		return
	}
	st.conn = e.conn
	st.connecting = false
	st.attempts = 0
	c.connected.Store(true)
	c.setState(status.Connected)
	c.publishStatus(true)
	c.logger.Info("connection opened", zap.String("host", c.host))

	conn, gen := e.conn, e.gen
	conn.SetCloseHandler(func(code int, text string) error {
		c.post(closing{gen: gen, code: code, reason: text})
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		return nil
	})
	c.scope.Go("transport.read", func(context.Context) { c.read(gen, conn) })

	c.queue.Flush()
}

// read pumps frames until the connection ends. It owns closing conn.
func (c *Client) read(gen uint64, conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.post(closed{gen: gen, code: ce.Code, reason: ce.Text})
			} else {
				c.post(failed{gen: gen, err: err})
			}
			return
		}
		c.post(frameReceived{gen: gen, binary: typ == websocket.BinaryMessage, data: data})
	}
}

func (c *Client) onFrame(st *loopState, e frameReceived) {
	if e.binary {
		if len(e.data) > 0 {
			c.publishMessage(string(e.data))
		}
		return
	}
	text, ok := DecodeFrame(string(e.data))
	if !ok {
		c.logger.Debug("ignoring non-message frame", zap.Int("bytes", len(e.data)))
		return
	}
	if st.echoes.consume(text) {
		c.logger.Debug("suppressed self echo", zap.Int("pending", st.echoes.len()))
		return
	}
	c.publishMessage(text)
}

func (c *Client) send(st *loopState, cmd sendCmd) bool {
	fail := func() bool {
		if cmd.enqueue {
			c.queue.Enqueue(cmd.text, cmd.chatID)
		}
		return false
	}
	if c.queue.Offline() {
		c.logger.Debug("offline mode simulated, not transmitting", zap.String("chat_id", cmd.chatID))
		return fail()
	}
	if st.conn == nil {
		c.logger.Warn("no live connection, cannot transmit", zap.String("chat_id", cmd.chatID))
		return fail()
	}

	st.echoes.add(cmd.text)
	_ = st.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := st.conn.WriteMessage(websocket.TextMessage, []byte(cmd.text)); err != nil {
		st.echoes.consume(cmd.text)
		c.logger.Warn("transmit failed", zap.String("chat_id", cmd.chatID), zap.Error(err))
		return fail()
	}
	st.echoes.trim()
	return true
}

func (c *Client) disconnect(st *loopState) {
	c.logger.Info("disconnecting")
	st.wantReconnect = false
	st.gen++
	st.echoes.clear()
	c.queue.Clear()

	if st.connecting {
		st.connecting = false
		c.setState(status.Disconnected)
	}
	if st.conn == nil {
		return
	}

	conn := st.conn
	st.conn = nil
	c.connected.Store(false)
	c.setState(status.Closing)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, CloseReason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("write close frame", zap.Error(err))
	}
	// The reader closes conn once the peer answers; this bounds the wait.
	time.AfterFunc(closeGrace, func() { _ = conn.Close() })
	c.setState(status.Disconnected)
	c.publishStatus(false)
}

func (c *Client) dropConn(st *loopState) {
	st.conn = nil
	st.connecting = false
	c.connected.Store(false)
	c.publishStatus(false)
}

// afterLoss decides whether an unexpected closure or failure is retried.
func (c *Client) afterLoss(st *loopState, err error, reason string) {
	if !st.wantReconnect || reason == CloseReason {
		c.setState(status.Disconnected)
		c.logger.Info("not reconnecting", zap.Bool("want_reconnect", st.wantReconnect), zap.String("reason", reason))
		return
	}
	if st.attempts >= c.opts.MaxReconnectAttempts {
		c.setState(status.Exhausted)
		c.logger.Warn("max reconnect attempts reached, waiting for manual connect or network change",
			zap.Int("attempts", st.attempts))
		return
	}

	st.attempts++
	delay := c.opts.ReconnectDelay
	if isDNSFailure(err) {
		delay *= 2
		c.logger.Warn("name resolution failed, backing off")
	}
	c.setState(status.Disconnected)
	c.logger.Info("reconnecting",
		zap.Duration("delay", delay),
		zap.Int("attempt", st.attempts),
		zap.Int("max", c.opts.MaxReconnectAttempts))
	c.scope.After("transport.reconnect", delay, func(context.Context) {
		c.post(connectCmd{})
	})
}

func (c *Client) setState(to status.State) {
	if c.machine.Current() == to {
		return
	}
	if err := c.machine.Transition(to); err != nil {
		c.logger.Warn("state transition rejected", zap.Error(err))
	}
}

func (c *Client) publishStatus(connected bool) {
	if c.bus == nil {
		return
	}
	c.bus.PublishRetained(bus.Event{Kind: bus.KindSocketStatus, Timestamp: time.Now(), Payload: connected})
}

func (c *Client) publishMessage(text string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Event{Kind: bus.KindSocketMessage, Timestamp: time.Now(), Payload: text})
}
