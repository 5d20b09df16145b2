package suggestion

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
	ErrEmptyText         = errors.New("suggestion text is required")
	ErrNoIdentity        = errors.New("display name is not set")
	ErrNotOwner          = errors.New("only the original suggester can change this suggestion")
	ErrUnknownSuggestion = errors.New("suggestion not found")
)

// Backend is the REST surface the client needs; *api.Client satisfies it.
type Backend interface {
	ListSuggestions(ctx context.Context) ([]model.Suggestion, error)
	CreateSuggestion(ctx context.Context, req model.CreateSuggestionRequest) error
	CastVote(ctx context.Context, id int64, req model.VoteRequest) error
	EditSuggestion(ctx context.Context, id int64, req model.EditSuggestionRequest) error
	DeleteSuggestion(ctx context.Context, id int64, req model.DeleteSuggestionRequest) error
}

// View renders the board. Calls are serialized; items are in display order and
// owned by the callee.
type View interface {
	RenderSuggestions(items []model.Suggestion)
	ShowSuggestionsError(err error)
}

type Subscriber interface {
	On(event string, h realtime.Handler)
}

// Client keeps a local copy of the board consistent with the server. The realtime
// channel, or a full re-fetch, is the only source of final state: REST responses
// are treated as success/failure only.
type Client struct {
	backend  Backend
	view     View
	strategy Strategy
	log      *slog.Logger

	mu         sync.Mutex
	items      []model.Suggestion
	fetchSeq   uint64
	appliedSeq uint64

	// Event bookkeeping for lists in flight: touched maps an id to the event
	// count at which it was last inserted, patched or removed.
	events   uint64
	inflight int
	touched  map[int64]uint64
}

type Option func(*Client)

func WithStrategy(s Strategy) Option {
	return func(c *Client) { c.strategy = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func New(backend Backend, view View, opts ...Option) *Client {
	c := &Client{
		backend:  backend,
		view:     view,
		strategy: Refetch,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Strategy() Strategy {
	return c.strategy
}

// List replaces local state with the server's full set. A failure degrades to the
// view's inline error state; it is not retried. Responses older than the last
// applied one are dropped, failures included. With the Incremental strategy the
// fetched set is merged with events applied while the request was in flight.
func (c *Client) List(ctx context.Context) error {
	c.mu.Lock()
	c.fetchSeq++
	seq := c.fetchSeq
	since := c.events
	c.inflight++
	c.mu.Unlock()

	items, err := c.backend.ListSuggestions(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.doneFetchLocked()
	if seq < c.appliedSeq {
		c.log.Debug("dropping stale suggestion list", "seq", seq, "applied", c.appliedSeq, "error", err)
		if err != nil {
			return fmt.Errorf("list suggestions: %w", err)
		}
		return nil
	}
	if err != nil {
		c.log.Error("error fetching suggestions", "error", err)
		c.view.ShowSuggestionsError(err)
		return fmt.Errorf("list suggestions: %w", err)
	}
	c.appliedSeq = seq
	if c.strategy == Incremental {
		items = c.mergeLocked(items, since)
	}
	c.items = c.strategy.order(items)
	c.renderLocked()
	return nil
}

func (c *Client) doneFetchLocked() {
	c.inflight--
	if c.inflight == 0 {
		c.touched = nil
	}
}

// mergeLocked reconciles a fetched list with the held items. A held item wins
// when its version is newer, or when an event touched it after the fetch began
// and the fetched copy is not known to be newer. Items inserted after the fetch
// began stay at the front; items removed after it began stay gone.
func (c *Client) mergeLocked(fetched []model.Suggestion, since uint64) []model.Suggestion {
	recent := func(id int64) bool { return c.touched[id] > since }

	seen := make(map[int64]bool, len(fetched))
	var fresh []model.Suggestion
	merged := make([]model.Suggestion, 0, len(fetched))
	for _, f := range fetched {
		seen[f.ID] = true
		i := c.indexLocked(f.ID)
		switch {
		case i < 0 && recent(f.ID):
			continue // removed by a later event
		case i < 0:
			merged = append(merged, f)
		case versioned(c.items[i], f) && c.items[i].Version > f.Version:
			merged = append(merged, c.items[i])
		case recent(f.ID) && !(versioned(c.items[i], f) && f.Version > c.items[i].Version):
			merged = append(merged, c.items[i])
		default:
			merged = append(merged, f)
		}
	}
	for _, h := range c.items {
		if !seen[h.ID] && recent(h.ID) {
			fresh = append(fresh, h)
		}
	}
	return append(fresh, merged...)
}

// touchLocked records an event against id while any list is in flight.
func (c *Client) touchLocked(id int64) {
	c.events++
	if c.inflight == 0 {
		return
	}
	if c.touched == nil {
		c.touched = make(map[int64]uint64)
	}
	c.touched[id] = c.events
}

// Create submits a new suggestion. The item is not inserted locally: it arrives
// through new_suggestion like everyone else's.
func (c *Client) Create(ctx context.Context, sess identity.Session, text string) error {
	if !sess.Valid() {
		return ErrNoIdentity
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	return c.backend.CreateSuggestion(ctx, model.CreateSuggestionRequest{Text: text, UserName: sess.Name})
}

// Vote casts one vote. Tallies change only when the server confirms.
func (c *Client) Vote(ctx context.Context, sess identity.Session, id int64, dir model.VoteType) error {
	if !sess.Valid() {
		return ErrNoIdentity
	}
	if dir != model.Upvote && dir != model.Downvote {
		return model.ErrInvalidVoteType
	}
	return c.backend.CastVote(ctx, id, model.VoteRequest{UserName: sess.Name, VoteType: dir})
}

// CheckOwner is the local ownership gate for edit and delete. It consults the
// locally held item, never caller supplied author data.
func (c *Client) CheckOwner(sess identity.Session, id int64) (model.Suggestion, error) {
	if !sess.Valid() {
		return model.Suggestion{}, ErrNoIdentity
	}
	s, ok := c.Get(id)
	if !ok {
		return model.Suggestion{}, ErrUnknownSuggestion
	}
	if !sess.Owns(s.UserName) {
		return s, ErrNotOwner
	}
	return s, nil
}

func (c *Client) Edit(ctx context.Context, sess identity.Session, id int64, text string) error {
	current, err := c.CheckOwner(sess, id)
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if text == current.Text {
		c.log.Debug("edit unchanged, skipping request", "id", id)
		return nil
	}
	return c.backend.EditSuggestion(ctx, id, model.EditSuggestionRequest{UserName: sess.Name, Text: text})
}

func (c *Client) Delete(ctx context.Context, sess identity.Session, id int64) error {
	if _, err := c.CheckOwner(sess, id); err != nil {
		return err
	}
	return c.backend.DeleteSuggestion(ctx, id, model.DeleteSuggestionRequest{UserName: sess.Name})
}

func (c *Client) Snapshot() []model.Suggestion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneAll(c.items)
}

func (c *Client) Get(id int64) (model.Suggestion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(id); i >= 0 {
		return c.items[i].Clone(), true
	}
	return model.Suggestion{}, false
}

// Bind subscribes to the suggestion events. ctx bounds the re-fetches the Refetch
// strategy starts in the background.
func (c *Client) Bind(ctx context.Context, sub Subscriber) {
	sub.On(model.EventNewSuggestion, c.suggestionHandler(ctx, model.EventNewSuggestion, true))
	sub.On(model.EventVoteUpdate, c.suggestionHandler(ctx, model.EventVoteUpdate, false))
	sub.On(model.EventSuggestionUpdated, c.suggestionHandler(ctx, model.EventSuggestionUpdated, false))
	sub.On(model.EventSuggestionDeleted, func(data json.RawMessage) {
		var p model.SuggestionDeletedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			c.log.Warn("bad suggestion_deleted payload", "error", err)
			return
		}
		if c.strategy == Refetch {
			go c.refetch(ctx, model.EventSuggestionDeleted)
			return
		}
		c.Remove(p.ID)
	})
}

func (c *Client) suggestionHandler(ctx context.Context, event string, insert bool) realtime.Handler {
	return func(data json.RawMessage) {
		var s model.Suggestion
		if err := json.Unmarshal(data, &s); err != nil {
			c.log.Warn("bad suggestion payload", "event", event, "error", err)
			return
		}
		if c.strategy == Refetch {
			go c.refetch(ctx, event)
			return
		}
		c.Apply(s, insert)
	}
}

func (c *Client) refetch(ctx context.Context, cause string) {
	if err := c.List(ctx); err != nil {
		c.log.Warn("re-fetch after event failed", "event", cause, "error", err)
	}
}

// Apply patches one item in place by id, or prepends it when insert is set and the
// item is new. An incoming item older than the held one is ignored.
func (c *Client) Apply(s model.Suggestion, insert bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexLocked(s.ID)
	switch {
	case i < 0 && !insert:
		c.log.Debug("update for unknown suggestion ignored", "id", s.ID)
		return
	case i < 0:
		c.items = append([]model.Suggestion{s.Clone()}, c.items...)
	case !newer(s, c.items[i]):
		c.log.Debug("stale suggestion update ignored", "id", s.ID, "version", s.Version, "held", c.items[i].Version)
		return
	default:
		c.items[i] = s.Clone()
	}
	c.touchLocked(s.ID)
	c.renderLocked()
}

func (c *Client) Remove(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked(id)
	i := c.indexLocked(id)
	if i < 0 {
		return
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.renderLocked()
}

func (c *Client) indexLocked(id int64) int {
	for i := range c.items {
		if c.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Client) renderLocked() {
	c.view.RenderSuggestions(cloneAll(c.items))
}

// newer reports whether incoming should replace held. Without version stamps on
// both sides the latest arrival wins.
func newer(incoming, held model.Suggestion) bool {
	if !versioned(incoming, held) {
		return true
	}
	return incoming.Version > held.Version
}

func versioned(a, b model.Suggestion) bool {
	return a.Version != 0 && b.Version != 0
}

func cloneAll(items []model.Suggestion) []model.Suggestion {
	out := make([]model.Suggestion, len(items))
	for i, s := range items {
		out[i] = s.Clone()
	}
	return out
}
