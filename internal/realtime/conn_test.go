package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"go-namer/internal/metrics"
)

// peer is a scripted websocket server; tests pull accepted connections off conns.
type peer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
}

func newPeer(t *testing.T) *peer {
	t.Helper()
	p := &peer{conns: make(chan *websocket.Conn, 8)}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		ws, err := p.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.conns <- ws
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *peer) wsURL(t *testing.T) string {
	t.Helper()
	u, err := URLFromBase(p.srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func (p *peer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-p.conns:
		t.Cleanup(func() { ws.Close() })
		return ws
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
		return nil
	}
}

func startConn(t *testing.T, c *Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Run returned %v, expected context.Canceled", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run did not stop after cancel")
		}
	})
}

// recorder collects handler invocations in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) handler(name string) Handler {
	return func(data json.RawMessage) {
		r.mu.Lock()
		defer r.mu.Unlock()
		entry := name
		if len(data) > 0 {
			entry += ":" + string(data)
		}
		r.events = append(r.events, entry)
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestURLFromBase(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{base: "http://localhost:5000", want: "ws://localhost:5000/ws"},
		{base: "https://board.example.com/namer", want: "wss://board.example.com/namer/ws"},
		{base: "ws://localhost:5000", want: "ws://localhost:5000/ws"},
		{base: "ftp://localhost", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := URLFromBase(tt.base)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestEmitWhileDisconnected(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws")
	if err := c.Emit("join", map[string]string{"username": "Alice"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if c.Connected() {
		t.Error("fresh Conn should not report connected")
	}
}

func TestDispatchesBatchedFrameInOrder(t *testing.T) {
	p := newPeer(t)
	rec := &recorder{}
	reg := prometheus.NewRegistry()
	m := metrics.NewClientMetrics(reg, "rt_test")

	c := New(p.wsURL(t), WithMetrics(m))
	c.On(EventConnect, rec.handler("connect"))
	c.On("chat_message", rec.handler("chat"))
	c.On("chat_cleared", rec.handler("cleared"))
	startConn(t, c)

	ws := p.accept(t)
	frame := `{"event":"chat_message","data":{"message":"one"}}` + "\n" +
		`{"event":"chat_cleared"}` + "\n" +
		`{"event":"chat_message","data":{"message":"two"}}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "all events", func() bool { return len(rec.snapshot()) == 4 })
	got := rec.snapshot()
	want := []string{
		"connect",
		`chat:{"message":"one"}`,
		"cleared",
		`chat:{"message":"two"}`,
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if n := testutil.ToFloat64(m.Events.WithLabelValues("chat_message")); n != 2 {
		t.Errorf("expected 2 chat_message events counted, got %v", n)
	}
}

func TestMalformedFrameIsDropped(t *testing.T) {
	p := newPeer(t)
	rec := &recorder{}
	c := New(p.wsURL(t))
	c.On("chat_cleared", rec.handler("cleared"))
	startConn(t, c)

	ws := p.accept(t)
	ws.WriteMessage(websocket.TextMessage, []byte(`{not json`))
	ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"chat_cleared"}`))

	waitFor(t, "event after malformed frame", func() bool { return len(rec.snapshot()) == 1 })
}

func TestEmitReachesServer(t *testing.T) {
	p := newPeer(t)
	connected := make(chan struct{}, 1)
	c := New(p.wsURL(t))
	c.On(EventConnect, func(json.RawMessage) { connected <- struct{}{} })
	startConn(t, c)

	ws := p.accept(t)
	<-connected

	if err := c.Emit("send_message", map[string]string{"user_name": "Alice", "message": "hi"}); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != "send_message" {
		t.Errorf("expected send_message, got %q", env.Event)
	}
	if !strings.Contains(string(env.Data), `"message":"hi"`) {
		t.Errorf("unexpected payload %s", env.Data)
	}
}

func TestReconnectsAfterServerDrop(t *testing.T) {
	p := newPeer(t)
	rec := &recorder{}
	m := metrics.NewClientMetrics(prometheus.NewRegistry(), "rt_test")
	c := New(p.wsURL(t), WithBackoff(10*time.Millisecond, 20*time.Millisecond), WithMetrics(m))
	c.On(EventConnect, rec.handler("connect"))
	c.On(EventDisconnect, rec.handler("disconnect"))
	startConn(t, c)

	first := p.accept(t)
	waitFor(t, "first connect", func() bool { return len(rec.snapshot()) == 1 })
	first.Close()

	p.accept(t)
	waitFor(t, "reconnect", func() bool { return len(rec.snapshot()) == 3 })

	got := rec.snapshot()
	want := []string{"connect", "disconnect", "connect"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	waitFor(t, "connected flag", c.Connected)
	if n := testutil.ToFloat64(m.Reconnects); n < 1 {
		t.Errorf("expected at least one reconnect counted, got %v", n)
	}
}
