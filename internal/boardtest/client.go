package boardtest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"go-namer/internal/model"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum message size allowed from peer.
	historyLimit   = 50                  // Messages replayed to a client on join.
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// envelope mirrors realtime.Envelope; it is redeclared so the fake server shares
// no code with the client it is testing.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// wsClient is a middleman between one websocket connection and the hub.
type wsClient struct {
	srv  *Server
	conn *websocket.Conn
	send chan envelope
}

// readPump handles client -> server events.
func (c *wsClient) readPump() {
	defer func() {
		c.srv.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("boardtest: read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			continue
		}
		c.srv.countEmit(env.Event)
		switch env.Event {
		case model.EventJoin:
			c.handleJoin(env.Data)
		case model.EventSendMessage:
			c.handleSendMessage(env.Data)
		}
	}
}

func (c *wsClient) handleJoin(data json.RawMessage) {
	var p model.JoinPayload
	_ = json.Unmarshal(data, &p)
	username := strings.TrimSpace(p.Username)
	if username == "" {
		username = "Anonymous"
	}

	c.srv.broadcast(model.EventChatMessage, model.ChatMessage{
		UserName:  model.SystemAuthor,
		Message:   username + " has joined the discussion.",
		Timestamp: model.NewTimestamp(time.Now()),
	})
	c.srv.hub.Direct(c, newEnvelope(model.EventChatHistory, c.srv.store.recentChat(historyLimit)))
}

func (c *wsClient) handleSendMessage(data json.RawMessage) {
	var p model.SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if strings.TrimSpace(p.UserName) == "" || strings.TrimSpace(p.Message) == "" {
		return
	}
	msg := c.srv.store.addChat(p.UserName, p.Message)
	c.srv.broadcast(model.EventChatMessage, msg)
}

// writePump owns all writes to the connection: queued envelopes and keepalive
// pings. It exits when the hub closes send or a write fails.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeBatch(env); err != nil {
				slog.Debug("boardtest: write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeBatch encodes first plus everything already queued into one text frame.
// The encoder ends each envelope with a newline, which is the frame separator.
func (c *wsClient) writeBatch(first envelope) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(first); err != nil {
		w.Close()
		return err
	}
	for range len(c.send) {
		if err := enc.Encode(<-c.send); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

// serveWs handles websocket requests from the peer.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("boardtest: upgrade failed", "error", err)
		return
	}
	client := &wsClient{srv: s, conn: conn, send: make(chan envelope, 256)}
	if !s.hub.Register(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func newEnvelope(event string, data any) envelope {
	env := envelope{Event: event}
	if data != nil {
		raw, _ := json.Marshal(data)
		env.Data = raw
	}
	return env
}
