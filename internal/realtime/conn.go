package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go-namer/internal/metrics"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next message or pong from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 1 << 20             // chat_history frames carry the whole backlog.
	sendBufferSize = 256
)

// Pseudo-events dispatched locally; they never travel over the wire.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

var (
	ErrNotConnected   = errors.New("realtime: not connected")
	ErrSendBufferFull = errors.New("realtime: send buffer full")
)

// Envelope is the wire format for every realtime event, in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Handler func(data json.RawMessage)

// Conn is a self-healing websocket connection to the board. Handlers run one at a
// time, in arrival order, on the connection's reader goroutine.
type Conn struct {
	url        string
	dialer     *websocket.Dialer
	header     http.Header
	log        *slog.Logger
	metrics    *metrics.ClientMetrics
	minBackoff time.Duration
	maxBackoff time.Duration

	mu       sync.RWMutex
	handlers map[string][]Handler
	send     chan []byte   // nil while disconnected
	done     chan struct{} // closed when the current connection is torn down
}

type Option func(*Conn)

func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) { c.log = l }
}

func WithMetrics(m *metrics.ClientMetrics) Option {
	return func(c *Conn) { c.metrics = m }
}

func WithBackoff(min, max time.Duration) Option {
	return func(c *Conn) {
		c.minBackoff = min
		c.maxBackoff = max
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Conn) { c.dialer = d }
}

func WithHeader(h http.Header) Option {
	return func(c *Conn) { c.header = h }
}

func New(wsURL string, opts ...Option) *Conn {
	c := &Conn{
		url:        wsURL,
		dialer:     websocket.DefaultDialer,
		log:        slog.Default(),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
		handlers:   make(map[string][]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxBackoff < c.minBackoff {
		c.maxBackoff = c.minBackoff
	}
	return c
}

// URLFromBase derives the websocket endpoint from the REST base URL.
func URLFromBase(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("base url %q: unsupported scheme %q", base, u.Scheme)
	}
	return u.JoinPath("ws").String(), nil
}

func (c *Conn) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

func (c *Conn) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.send != nil
}

// Emit queues an event on the current connection. Nothing is buffered across
// reconnects: while disconnected Emit fails with ErrNotConnected.
func (c *Conn) Emit(event string, payload any) error {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("realtime: marshal %s: %w", event, err)
		}
		env.Data = data
	}
	msg, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("realtime: marshal envelope: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.send == nil {
		return ErrNotConnected
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrNotConnected
	default:
		return ErrSendBufferFull
	}
}

// Run keeps the connection up until ctx is cancelled, re-dialing with exponential
// backoff. It always returns a non-nil error, ctx.Err() on shutdown.
func (c *Conn) Run(ctx context.Context) error {
	backoff := c.minBackoff
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.minBackoff
		}
		c.log.Warn("realtime connection lost", "url", c.url, "error", err, "retry_in", backoff)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		c.metrics.ObserveReconnect()
		backoff = min(backoff*2, c.maxBackoff)
	}
}

// session runs one connection to completion. connected reports whether the dial
// succeeded.
func (c *Conn) session(ctx context.Context) (connected bool, err error) {
	ws, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	send := make(chan []byte, sendBufferSize)
	done := make(chan struct{})
	c.mu.Lock()
	c.send, c.done = send, done
	c.mu.Unlock()

	c.log.Info("realtime connected", "url", c.url)
	go c.writePump(ws, send, done)

	c.dispatch(EventConnect, nil)
	err = c.readPump(ws)

	c.mu.Lock()
	c.send, c.done = nil, nil
	c.mu.Unlock()
	close(done)
	ws.Close()

	c.dispatch(EventDisconnect, nil)
	return true, err
}

// readPump pumps envelopes from the websocket connection to the handlers.
func (c *Conn) readPump(ws *websocket.Conn) error {
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	ws.SetPingHandler(func(appData string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			return err
		}
		return nil
	})

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))
		c.handleFrame(frame)
	}
}

// handleFrame decodes every envelope in a frame. The server may batch queued
// envelopes into one frame separated by newlines.
func (c *Conn) handleFrame(frame []byte) {
	dec := json.NewDecoder(bytes.NewReader(frame))
	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Warn("dropping malformed realtime frame", "error", err)
			}
			return
		}
		if env.Event == "" {
			continue
		}
		c.metrics.ObserveEvent(env.Event)
		c.dispatch(env.Event, env.Data)
	}
}

func (c *Conn) dispatch(event string, data json.RawMessage) {
	c.mu.RLock()
	hs := append([]Handler(nil), c.handlers[event]...)
	c.mu.RUnlock()

	if len(hs) == 0 {
		c.log.Debug("no handler for realtime event", "event", event)
		return
	}
	for _, h := range hs {
		h(data)
	}
}

// writePump pumps queued envelopes from Emit to the websocket connection.
func (c *Conn) writePump(ws *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Warn("realtime write failed", "error", err)
				ws.Close()
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				ws.Close()
				return
			}

		case <-done:
			return
		}
	}
}
