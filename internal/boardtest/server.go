// Package boardtest runs an in-memory board server that speaks the same REST and
// realtime contract as the real one, for use in tests.
//
//	srv := boardtest.NewServer()
//	defer srv.Close()
//	client, _ := api.New(srv.URL)
//
// Besides serving the contract it records which routes and realtime events were
// hit, can inject one-shot failures, and can drop every websocket connection to
// exercise reconnects.
package boardtest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"go-namer/internal/model"
)

type Server struct {
	URL string

	http  *httptest.Server
	hub   *hub
	store *store

	mu        sync.Mutex
	requests  map[string]int // "METHOD /route/{pattern}" -> count
	emits     map[string]int // client -> server realtime events
	failNext  *failure
	closeOnce sync.Once
}

type failure struct {
	status  int
	message string
}

func NewServer() *Server {
	s := &Server{
		hub:      newHub(),
		store:    newStore(),
		requests: make(map[string]int),
		emits:    make(map[string]int),
	}
	go s.hub.run()

	s.http = httptest.NewServer(s.routes())
	s.URL = s.http.URL
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)

	api := r.With(s.injectFailure)
	api.Get("/api/suggestions", s.listSuggestions)
	api.Post("/api/suggestions", s.createSuggestion)
	api.Post("/api/suggestions/{id}/vote", s.castVote)
	api.Put("/api/suggestions/{id}", s.editSuggestion)
	api.Delete("/api/suggestions/{id}", s.deleteSuggestion)
	api.Get("/api/chat", s.listChat)
	api.Post("/api/chat/clear", s.clearChat)

	r.Get("/ws", s.serveWs)
	return r
}

func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.hub.Stop()
		s.http.Close()
	})
}

// ---------------------------------------------
// 🧪 Test hooks
// ---------------------------------------------

// RequestCount reports how many requests hit a route, e.g.
// "POST /api/suggestions/{id}/vote".
func (s *Server) RequestCount(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// APIRequests is the total number of REST requests served.
func (s *Server) APIRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for route, c := range s.requests {
		if strings.Contains(route, " /api/") {
			n += c
		}
	}
	return n
}

// EmitCount reports how many times clients sent a realtime event.
func (s *Server) EmitCount(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emits[event]
}

// FailNext makes the next REST request fail with status and message.
func (s *Server) FailNext(status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = &failure{status: status, message: message}
}

// Broadcast pushes an arbitrary event to every connected client.
func (s *Server) Broadcast(event string, data any) {
	s.broadcast(event, data)
}

// DropClients closes every websocket connection.
func (s *Server) DropClients() {
	s.hub.Drop()
}

func (s *Server) Clients() int {
	return s.hub.Count()
}

// Seed stores a suggestion without announcing it.
func (s *Server) Seed(text, user string) model.Suggestion {
	return s.store.createSuggestion(text, user)
}

// SeedChat stores a chat message without announcing it.
func (s *Server) SeedChat(user, message string) model.ChatMessage {
	return s.store.addChat(user, message)
}

func (s *Server) Suggestion(id int64) (model.Suggestion, bool) {
	return s.store.getSuggestion(id)
}

func (s *Server) ChatMessages() []model.ChatMessage {
	return s.store.recentChat(0)
}

// SetClock replaces the time source used for new timestamps.
func (s *Server) SetClock(now func() time.Time) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.now = now
}

func (s *Server) broadcast(event string, data any) {
	s.hub.Broadcast(newEnvelope(event, data))
}

func (s *Server) countEmit(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emits[event]++
}

// ---------------------------------------------
// 🔌 Middleware
// ---------------------------------------------

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		pattern := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		s.mu.Lock()
		s.requests[r.Method+" "+pattern]++
		s.mu.Unlock()
	})
}

func (s *Server) injectFailure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		f := s.failNext
		s.failNext = nil
		s.mu.Unlock()

		if f != nil {
			writeError(w, f.status, f.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------
// 🗳️ Suggestion handlers
// ---------------------------------------------

func (s *Server) listSuggestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.listSuggestions())
}

func (s *Server) createSuggestion(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text, user := strings.TrimSpace(req.Text), strings.TrimSpace(req.UserName)
	if text == "" || user == "" {
		writeError(w, http.StatusBadRequest, "User name and suggestion text are required")
		return
	}

	sg := s.store.createSuggestion(text, user)
	s.broadcast(model.EventNewSuggestion, sg)
	writeJSON(w, http.StatusCreated, sg)
}

func (s *Server) castVote(w http.ResponseWriter, r *http.Request) {
	id, ok := suggestionID(w, r)
	if !ok {
		return
	}
	var req model.VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserName) == "" || (req.VoteType != model.Upvote && req.VoteType != model.Downvote) {
		writeError(w, http.StatusBadRequest, "User name and valid vote type (upvote/downvote) are required")
		return
	}

	sg, err := s.store.vote(id, req.UserName, req.VoteType)
	if err != nil {
		writeStoreError(w, err, "vote on")
		return
	}
	s.broadcast(model.EventVoteUpdate, sg)
	writeJSON(w, http.StatusOK, sg)
}

func (s *Server) editSuggestion(w http.ResponseWriter, r *http.Request) {
	id, ok := suggestionID(w, r)
	if !ok {
		return
	}
	var req model.EditSuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if req.UserName == "" || text == "" {
		writeError(w, http.StatusBadRequest, "User name and suggestion text are required")
		return
	}

	sg, err := s.store.editSuggestion(id, req.UserName, text)
	if err != nil {
		writeStoreError(w, err, "edit")
		return
	}
	s.broadcast(model.EventSuggestionUpdated, sg)
	writeJSON(w, http.StatusOK, sg)
}

func (s *Server) deleteSuggestion(w http.ResponseWriter, r *http.Request) {
	id, ok := suggestionID(w, r)
	if !ok {
		return
	}
	var req model.DeleteSuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserName == "" {
		writeError(w, http.StatusBadRequest, "User name is required")
		return
	}

	if err := s.store.deleteSuggestion(id, req.UserName); err != nil {
		writeStoreError(w, err, "delete")
		return
	}
	s.broadcast(model.EventSuggestionDeleted, model.SuggestionDeletedPayload{ID: id})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Suggestion deleted"})
}

// ---------------------------------------------
// 💬 Chat handlers
// ---------------------------------------------

func (s *Server) listChat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.recentChat(0))
}

func (s *Server) clearChat(w http.ResponseWriter, r *http.Request) {
	s.store.clearChat()
	s.broadcast(model.EventChatCleared, nil)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ---------------------------------------------
// helpers
// ---------------------------------------------

func suggestionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid suggestion id")
		return 0, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, err error, verb string) {
	switch {
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, "Suggestion not found")
	case errors.Is(err, errNotAuthor):
		writeError(w, http.StatusForbidden, "Only the original suggester can "+verb+" this suggestion")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, model.ErrorResponse{Error: message})
}
