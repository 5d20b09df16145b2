package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go-namer/internal/identity"
	"go-namer/internal/model"
	"go-namer/internal/realtime"
)

var (
	ErrEmptyMessage = errors.New("chat message is empty")
	ErrNoIdentity   = errors.New("display name is not set")
)

// History is the REST surface for chat; *api.Client satisfies it.
type History interface {
	ListChat(ctx context.Context) ([]model.ChatMessage, error)
	ClearChat(ctx context.Context) error
}

// Emitter sends client -> server realtime events; *realtime.Conn satisfies it.
type Emitter interface {
	Emit(event string, payload any) error
}

type Subscriber interface {
	On(event string, h realtime.Handler)
}

// View shows the chat log. Calls are serialized.
type View interface {
	Reset()
	Append(msg model.ChatMessage)
	ScrollToBottom()
}

// Client mirrors the chat log. Messages enter the log only from the server:
// sending never appends locally.
type Client struct {
	history History
	emitter Emitter
	view    View
	log     *slog.Logger

	mu       sync.Mutex
	messages []model.ChatMessage

	// Pushed events counted while a History request is in flight.
	events    uint64
	lastReset uint64
	inflight  int
	recent    []stampedMessage
}

type stampedMessage struct {
	at  uint64
	msg model.ChatMessage
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func New(history History, emitter Emitter, view View, opts ...Option) *Client {
	c := &Client{
		history: history,
		emitter: emitter,
		view:    view,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// History replaces the log with the server's copy. Messages pushed while the
// request is in flight are kept after the copy. If the log was reset by a push
// in the meantime the copy is dropped as outdated.
func (c *Client) History(ctx context.Context) error {
	c.mu.Lock()
	since := c.events
	c.inflight++
	c.mu.Unlock()

	msgs, err := c.history.ListChat(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.doneHistoryLocked()
	if err != nil {
		c.log.Error("error loading chat history", "error", err)
		return fmt.Errorf("load chat history: %w", err)
	}
	if c.lastReset > since {
		c.log.Debug("dropping chat history overtaken by a push", "since", since)
		return nil
	}

	have := make(map[int64]bool, len(msgs))
	for _, m := range msgs {
		if m.ID != 0 {
			have[m.ID] = true
		}
	}
	for _, r := range c.recent {
		if r.at > since && (r.msg.ID == 0 || !have[r.msg.ID]) {
			msgs = append(msgs, r.msg)
		}
	}
	c.replaceLocked(msgs)
	return nil
}

func (c *Client) doneHistoryLocked() {
	c.inflight--
	if c.inflight == 0 {
		c.recent = nil
	}
}

// Send emits one message. It shows up in the log once the server echoes it back.
func (c *Client) Send(sess identity.Session, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if !sess.Valid() {
		return ErrNoIdentity
	}
	if err := c.emitter.Emit(model.EventSendMessage, model.SendMessagePayload{UserName: sess.Name, Message: text}); err != nil {
		return fmt.Errorf("send chat message: %w", err)
	}
	return nil
}

// Join announces the session; the server answers with chat_history.
func (c *Client) Join(sess identity.Session) error {
	if !sess.Valid() {
		return ErrNoIdentity
	}
	if err := c.emitter.Emit(model.EventJoin, model.JoinPayload{Username: sess.Name}); err != nil {
		return fmt.Errorf("join chat: %w", err)
	}
	return nil
}

// Clear asks the server to wipe the log. Local state is untouched until
// chat_cleared arrives.
func (c *Client) Clear(ctx context.Context) error {
	if err := c.history.ClearChat(ctx); err != nil {
		return fmt.Errorf("clear chat: %w", err)
	}
	return nil
}

func (c *Client) Messages() []model.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ChatMessage(nil), c.messages...)
}

func (c *Client) Bind(sub Subscriber) {
	sub.On(model.EventChatMessage, func(data json.RawMessage) {
		var msg model.ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("bad chat_message payload", "error", err)
			return
		}
		c.receive(msg)
	})
	sub.On(model.EventChatHistory, func(data json.RawMessage) {
		var msgs []model.ChatMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			c.log.Warn("bad chat_history payload", "error", err)
			return
		}
		c.replace(msgs)
	})
	sub.On(model.EventChatCleared, func(json.RawMessage) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.markResetLocked()
		c.messages = nil
		c.view.Reset()
		c.view.ScrollToBottom()
	})
}

func (c *Client) receive(msg model.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events++
	if c.inflight > 0 {
		c.recent = append(c.recent, stampedMessage{at: c.events, msg: msg})
	}
	c.messages = append(c.messages, msg)
	c.view.Append(msg)
	c.view.ScrollToBottom()
}

// replace applies a pushed chat_history batch.
func (c *Client) replace(msgs []model.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markResetLocked()
	c.replaceLocked(msgs)
}

func (c *Client) markResetLocked() {
	c.events++
	c.lastReset = c.events
}

// replaceLocked renders a whole batch and scrolls once at the end.
func (c *Client) replaceLocked(msgs []model.ChatMessage) {
	c.messages = append([]model.ChatMessage(nil), msgs...)
	c.view.Reset()
	for _, m := range c.messages {
		c.view.Append(m)
	}
	c.view.ScrollToBottom()
}
