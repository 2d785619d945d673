package socketio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

var (
	// ErrNotConnected is returned when emitting on a client without a live connection.
	ErrNotConnected = errors.New("socketio: not connected")
	// ErrClientUsed is returned when Connect is called on a client that already connected once.
	ErrClientUsed = errors.New("socketio: client already used")
)

// ConnectError reports a CONNECT_ERROR packet sent by the server during the handshake.
type ConnectError struct {
	Message string
}

func (e *ConnectError) Error() string {
	return "socketio: connect refused: " + e.Message
}

// Handler receives the raw JSON of the first event argument (nil when absent).
type Handler func(payload []byte)

// Metrics captures transport-level counters.
type Metrics struct {
	ConnectionDuration time.Duration
	MessagesSent       int64
	MessagesReceived   int64
	BytesSent          int64
	BytesReceived      int64
	EventsReceived     int64
	Errors             int64
}

// Config configures the client.
type Config struct {
	URL              string
	Path             string
	Headers          http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Auth             map[string]interface{}
}

// Client is a single-use Socket.IO client speaking Engine.IO v4 over a websocket.
// Handlers run on the read loop goroutine, one at a time, in arrival order.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	mu          sync.Mutex
	conn        *websocket.Conn
	started     bool
	sid         string
	pingWindow  time.Duration
	connectTime time.Time
	done        chan struct{}

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	messagesSent int64
	messagesRecv int64
	bytesSent    int64
	bytesRecv    int64
	eventsRecv   int64
	errors       int64
}

// NewClient creates a client; nothing is dialled until Connect.
func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}

	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		done:     make(chan struct{}),
		handlers: make(map[string]Handler),
	}
}

// On registers the handler for event, replacing any previous one.
func (c *Client) On(event string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = h
}

// Connect dials the server, completes the Engine.IO and Socket.IO handshakes
// and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrClientUsed
	}
	c.started = true
	c.mu.Unlock()

	endpoint, err := EndpointURL(c.cfg.URL, c.cfg.Path)
	if err != nil {
		close(c.done)
		return err
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, c.cfg.Headers)
	if err != nil {
		c.countError()
		close(c.done)
		if resp != nil {
			return fmt.Errorf("socketio dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("socketio dial failed: %w", err)
	}

	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	err = c.handshake(conn)
	close(stop)
	if err != nil {
		conn.Close()
		close(c.done)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	_ = conn.SetReadDeadline(time.Time{})

	c.mu.Lock()
	c.conn = conn
	c.connectTime = time.Now()
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *Client) handshake(conn *websocket.Conn) error {
	open, err := c.readPacket(conn)
	if err != nil {
		return fmt.Errorf("read open packet: %w", err)
	}
	if open.Engine != engineOpen {
		return fmt.Errorf("expected open packet, got %q", open.Engine)
	}
	info := gjson.ParseBytes(open.Data)
	interval := time.Duration(info.Get("pingInterval").Int()) * time.Millisecond
	timeout := time.Duration(info.Get("pingTimeout").Int()) * time.Millisecond

	frame, err := encodeConnect(c.cfg.Auth)
	if err != nil {
		return err
	}
	if err := c.writeFrame(conn, frame, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	for {
		p, err := c.readPacket(conn)
		if err != nil {
			return fmt.Errorf("await connect ack: %w", err)
		}
		switch {
		case p.Engine == enginePing:
			if err := c.writeFrame(conn, []byte{enginePong}, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}
		case p.Engine == engineClose:
			return errors.New("server closed the connection during handshake")
		case p.Engine == engineMessage && p.Socket == socketConnect:
			c.mu.Lock()
			c.sid = gjson.GetBytes(p.Data, "sid").String()
			if interval > 0 {
				c.pingWindow = interval + timeout
			}
			c.mu.Unlock()
			return nil
		case p.Engine == engineMessage && p.Socket == socketConnectError:
			msg := gjson.GetBytes(p.Data, "message").String()
			if msg == "" {
				msg = string(p.Data)
			}
			return &ConnectError{Message: msg}
		}
	}
}

func (c *Client) readPacket(conn *websocket.Conn) (Packet, error) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return Packet{}, err
		}
		c.countRecv(len(data))
		if msgType != websocket.TextMessage {
			continue
		}
		return DecodePacket(data)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.finish(conn)

	for {
		c.mu.Lock()
		window := c.pingWindow
		c.mu.Unlock()
		if window > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(window))
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.conn != conn
			c.mu.Unlock()
			if !closing {
				c.countError()
			}
			return
		}
		c.countRecv(len(data))
		if msgType != websocket.TextMessage {
			continue
		}

		p, err := DecodePacket(data)
		if err != nil {
			c.countError()
			continue
		}

		switch p.Engine {
		case enginePing:
			if err := c.writeFrame(conn, []byte{enginePong}, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.countError()
				return
			}
		case engineClose:
			return
		case engineMessage:
			switch p.Socket {
			case socketEvent:
				c.dispatch(p)
			case socketDisconnect:
				return
			}
		}
	}
}

func (c *Client) dispatch(p Packet) {
	name, payload, err := p.Event()
	if err != nil {
		c.countError()
		return
	}
	c.mu.Lock()
	c.eventsRecv++
	c.mu.Unlock()

	c.handlersMu.RLock()
	h := c.handlers[name]
	c.handlersMu.RUnlock()
	if h != nil {
		h(payload)
	}
}

func (c *Client) finish(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		conn.Close()
	}
	c.mu.Unlock()
	close(c.done)
}

// Emit sends event with payload.
func (c *Client) Emit(ctx context.Context, event string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := EncodeEvent(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.writeFrame(conn, frame, deadline); err != nil {
		c.countError()
		return fmt.Errorf("emit %q: %w", event, err)
	}
	return nil
}

func (c *Client) writeFrame(conn *websocket.Conn, frame []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	c.messagesSent++
	c.bytesSent += int64(len(frame))
	return nil
}

// Close sends a Socket.IO disconnect followed by a websocket close frame and
// waits briefly for the read loop to exit. Safe to call more than once.
// Must not be called from a Handler.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.conn = nil

	deadline := time.Now().Add(5 * time.Second)
	_ = conn.SetWriteDeadline(deadline)
	err := conn.WriteMessage(websocket.TextMessage, []byte{engineMessage, socketDisconnect})
	if err == nil {
		c.messagesSent++
		c.bytesSent += 2
		err = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
	}
	closeErr := conn.Close()
	c.mu.Unlock()

	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
	}

	if err != nil {
		return err
	}
	return closeErr
}

// Connected reports whether the handshake completed and the connection is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Done is closed once the connection is gone, or Connect failed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ID returns the Socket.IO session id assigned by the server.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

// Metrics returns the current metrics snapshot.
func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := time.Duration(0)
	if !c.connectTime.IsZero() {
		duration = time.Since(c.connectTime)
	}

	return Metrics{
		ConnectionDuration: duration,
		MessagesSent:       c.messagesSent,
		MessagesReceived:   c.messagesRecv,
		BytesSent:          c.bytesSent,
		BytesReceived:      c.bytesRecv,
		EventsReceived:     c.eventsRecv,
		Errors:             c.errors,
	}
}

func (c *Client) countRecv(n int) {
	c.mu.Lock()
	c.messagesRecv++
	c.bytesRecv += int64(n)
	c.mu.Unlock()
}

func (c *Client) countError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}
