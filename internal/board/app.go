package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go-namer/internal/api"
	"go-namer/internal/chat"
	"go-namer/internal/identity"
	"go-namer/internal/model"
	"go-namer/internal/realtime"
	"go-namer/internal/suggestion"
	"go-namer/internal/ui"
)

type ActionKind string

const (
	SetName   ActionKind = "set_name"
	Suggest   ActionKind = "suggest"
	Upvote    ActionKind = "upvote"
	Downvote  ActionKind = "downvote"
	Edit      ActionKind = "edit"
	Delete    ActionKind = "delete"
	SendChat  ActionKind = "send_chat"
	ClearChat ActionKind = "clear_chat"
	Refresh   ActionKind = "refresh"
)

// Action is one user intent. ID and Text are used by the kinds that need them.
type Action struct {
	Kind ActionKind
	ID   int64
	Text string
}

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrDeclined      = errors.New("declined by user")
)

// IdentityStore remembers the chosen name; *identity.Store satisfies it.
type IdentityStore interface {
	Save(sess identity.Session) error
}

type Subscriber interface {
	On(event string, h realtime.Handler)
}

type handlerFunc func(ctx context.Context, a Action) error

// App routes user actions to the sync clients. It owns the session so every
// operation receives the identity explicitly.
type App struct {
	suggestions *suggestion.Client
	chat        *chat.Client
	prompt      ui.Prompter
	store       IdentityStore
	log         *slog.Logger
	handlers    map[ActionKind]handlerFunc

	mu       sync.Mutex
	sess     identity.Session
	connects int
}

type Option func(*App)

func WithSession(sess identity.Session) Option {
	return func(a *App) { a.sess = sess }
}

func WithIdentityStore(s IdentityStore) Option {
	return func(a *App) { a.store = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

func New(suggestions *suggestion.Client, chatClient *chat.Client, prompt ui.Prompter, opts ...Option) *App {
	a := &App{
		suggestions: suggestions,
		chat:        chatClient,
		prompt:      prompt,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.handlers = map[ActionKind]handlerFunc{
		SetName:   a.setName,
		Suggest:   a.suggest,
		Upvote:    a.vote(model.Upvote),
		Downvote:  a.vote(model.Downvote),
		Edit:      a.edit,
		Delete:    a.delete,
		SendChat:  a.sendChat,
		ClearChat: a.clearChat,
		Refresh:   a.refresh,
	}
	return a
}

func (a *App) Session() identity.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sess
}

// Dispatch runs one action. Any failure has already been shown to the user
// through the Prompter by the time it is returned.
func (a *App) Dispatch(ctx context.Context, act Action) error {
	h, ok := a.handlers[act.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, act.Kind)
	}
	err := h(ctx, act)
	if err != nil {
		a.log.Debug("action failed", "action", act.Kind, "id", act.ID, "session", a.Session().ID, "error", err)
	}
	return err
}

// Bind hooks reconnect handling onto the realtime channel. On every connect the
// session is re-announced so the server replays chat history; without a name
// the history is fetched over REST instead. Later connects also re-fetch the
// board since events may have been missed while offline.
func (a *App) Bind(ctx context.Context, sub Subscriber) {
	sub.On(realtime.EventConnect, func(json.RawMessage) {
		a.mu.Lock()
		a.connects++
		resync := a.connects > 1
		sess := a.sess
		a.mu.Unlock()

		if sess.Valid() {
			if err := a.chat.Join(sess); err != nil {
				a.log.Warn("rejoin failed", "error", err)
			}
		} else {
			go func() {
				if err := a.chat.History(ctx); err != nil {
					a.log.Warn("chat history unavailable", "error", err)
				}
			}()
		}
		if resync {
			go func() {
				if err := a.suggestions.List(ctx); err != nil {
					a.log.Warn("resync after reconnect failed", "error", err)
				}
			}()
		}
	})
	sub.On(realtime.EventDisconnect, func(json.RawMessage) {
		a.log.Info("realtime disconnected, waiting to reconnect")
	})
}

// ---------------------------------------------
// 👤 Identity
// ---------------------------------------------

func (a *App) setName(ctx context.Context, act Action) error {
	sess, err := identity.NewSession(act.Text)
	if err != nil {
		a.prompt.Alert("Please enter a name.")
		return err
	}

	a.mu.Lock()
	a.sess = sess
	a.mu.Unlock()

	if a.store != nil {
		if err := a.store.Save(sess); err != nil {
			a.log.Warn("could not remember name", "error", err)
		}
	}
	if err := a.chat.Join(sess); err != nil {
		a.log.Warn("join failed", "error", err)
	}
	a.prompt.Alert("Name set to: " + sess.Name)
	return nil
}

// requireSession alerts and fails when no name has been set.
func (a *App) requireSession() (identity.Session, error) {
	sess := a.Session()
	if !sess.Valid() {
		a.prompt.Alert("Please set your name first!")
		return sess, suggestion.ErrNoIdentity
	}
	return sess, nil
}

// ---------------------------------------------
// 🗳️ Suggestions
// ---------------------------------------------

func (a *App) suggest(ctx context.Context, act Action) error {
	sess, err := a.requireSession()
	if err != nil {
		return err
	}
	err = a.suggestions.Create(ctx, sess, act.Text)
	switch {
	case errors.Is(err, suggestion.ErrEmptyText):
		a.prompt.Alert("Please enter a suggestion.")
	case err != nil:
		a.prompt.Alert("Failed to submit suggestion: " + reason(err))
	}
	return err
}

func (a *App) vote(dir model.VoteType) handlerFunc {
	return func(ctx context.Context, act Action) error {
		sess, err := a.requireSession()
		if err != nil {
			return err
		}
		if err := a.suggestions.Vote(ctx, sess, act.ID, dir); err != nil {
			a.prompt.Alert("Failed to cast vote: " + reason(err))
			return err
		}
		return nil
	}
}

func (a *App) edit(ctx context.Context, act Action) error {
	sess, err := a.requireSession()
	if err != nil {
		return err
	}
	err = a.suggestions.Edit(ctx, sess, act.ID, act.Text)
	switch {
	case errors.Is(err, suggestion.ErrNotOwner):
		a.prompt.Alert("You can only edit or delete your own suggestions")
	case errors.Is(err, suggestion.ErrEmptyText):
		a.prompt.Alert("Please enter a suggestion text.")
	case err != nil:
		a.prompt.Alert("Failed to update suggestion: " + reason(err))
	}
	return err
}

func (a *App) delete(ctx context.Context, act Action) error {
	sess, err := a.requireSession()
	if err != nil {
		return err
	}
	// Ownership is checked before asking, so a stranger never sees the prompt.
	if _, err := a.suggestions.CheckOwner(sess, act.ID); err != nil {
		if errors.Is(err, suggestion.ErrNotOwner) {
			a.prompt.Alert("You can only edit or delete your own suggestions")
		} else {
			a.prompt.Alert("Failed to delete suggestion: " + reason(err))
		}
		return err
	}
	if !a.prompt.Confirm("Are you sure you want to delete this suggestion?") {
		return ErrDeclined
	}
	if err := a.suggestions.Delete(ctx, sess, act.ID); err != nil {
		a.prompt.Alert("Failed to delete suggestion: " + reason(err))
		return err
	}
	return nil
}

func (a *App) refresh(ctx context.Context, _ Action) error {
	// A failed list already shows the inline error state.
	return a.suggestions.List(ctx)
}

// ---------------------------------------------
// 💬 Chat
// ---------------------------------------------

func (a *App) sendChat(ctx context.Context, act Action) error {
	sess := a.Session()
	err := a.chat.Send(sess, act.Text)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return nil
	case errors.Is(err, chat.ErrNoIdentity):
		a.prompt.Alert("Please set your name first!")
	case err != nil:
		a.prompt.Alert("Failed to send message: " + reason(err))
	}
	return err
}

func (a *App) clearChat(ctx context.Context, _ Action) error {
	if !a.prompt.Confirm("Are you sure you want to clear all chat messages?") {
		return ErrDeclined
	}
	if err := a.chat.Clear(ctx); err != nil {
		a.prompt.Alert("Failed to clear chat: " + reason(err))
		return err
	}
	return nil
}

// reason is the text shown after "Failed to ...: ". Server errors show the
// server's message or HTTP status without the local wrapping.
func reason(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	return err.Error()
}
