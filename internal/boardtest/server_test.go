package boardtest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"go-namer/internal/model"
)

func do(t *testing.T, srv *Server, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status %d, got %d", expected, resp.StatusCode)
	}
}

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readEvents reads frames until n envelopes have arrived.
func readEvents(t *testing.T, ws *websocket.Conn, n int) []envelope {
	t.Helper()
	var out []envelope
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(out) < n {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read failed after %d events: %v", len(out), err)
		}
		dec := json.NewDecoder(bytes.NewReader(frame))
		for dec.More() {
			var env envelope
			if err := dec.Decode(&env); err != nil {
				t.Fatalf("bad frame %q: %v", frame, err)
			}
			out = append(out, env)
		}
	}
	return out
}

func waitClients(t *testing.T, srv *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for srv.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, srv.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestVoteToggleAndSwitch(t *testing.T) {
	srv := NewServer()
	defer srv.Close()
	sg := srv.Seed("Widget", "Alice")

	tests := []struct {
		name     string
		voter    string
		vote     model.VoteType
		wantUp   int
		wantDown int
	}{
		{name: "first upvote", voter: "Bob", vote: model.Upvote, wantUp: 1},
		{name: "switch to downvote", voter: "Bob", vote: model.Downvote, wantDown: 1},
		{name: "repeat downvote withdraws", voter: "Bob", vote: model.Downvote},
		{name: "another voter", voter: "Carol", vote: model.Upvote, wantUp: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, srv, http.MethodPost, "/api/suggestions/1/vote", model.VoteRequest{UserName: tt.voter, VoteType: tt.vote})
			assertStatus(t, resp, http.StatusOK)

			got, _ := srv.Suggestion(sg.ID)
			if got.Upvotes != tt.wantUp || got.Downvotes != tt.wantDown {
				t.Errorf("expected %d/%d, got %d/%d", tt.wantUp, tt.wantDown, got.Upvotes, got.Downvotes)
			}
			seen := map[string]int{}
			for _, v := range got.Voters {
				seen[v.UserName]++
			}
			for name, n := range seen {
				if n > 1 {
					t.Errorf("%s holds %d votes", name, n)
				}
			}
		})
	}
}

func TestOwnershipEnforced(t *testing.T) {
	srv := NewServer()
	defer srv.Close()
	srv.Seed("Widget", "Alice")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "edit by stranger", method: http.MethodPut, path: "/api/suggestions/1", body: model.EditSuggestionRequest{UserName: "Bob", Text: "Mine"}, want: http.StatusForbidden},
		{name: "delete by stranger", method: http.MethodDelete, path: "/api/suggestions/1", body: model.DeleteSuggestionRequest{UserName: "Bob"}, want: http.StatusForbidden},
		{name: "edit missing", method: http.MethodPut, path: "/api/suggestions/99", body: model.EditSuggestionRequest{UserName: "Alice", Text: "x"}, want: http.StatusNotFound},
		{name: "bad vote type", method: http.MethodPost, path: "/api/suggestions/1/vote", body: map[string]string{"user_name": "Bob", "vote_type": "up"}, want: http.StatusBadRequest},
		{name: "edit by owner", method: http.MethodPut, path: "/api/suggestions/1", body: model.EditSuggestionRequest{UserName: "Alice", Text: "Gadget"}, want: http.StatusOK},
		{name: "delete by owner", method: http.MethodDelete, path: "/api/suggestions/1", body: model.DeleteSuggestionRequest{UserName: "Alice"}, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertStatus(t, do(t, srv, tt.method, tt.path, tt.body), tt.want)
		})
	}
	if _, ok := srv.Suggestion(1); ok {
		t.Error("suggestion should be gone after owner delete")
	}
}

func TestCreateBroadcastsAndCounts(t *testing.T) {
	srv := NewServer()
	defer srv.Close()
	ws := dial(t, srv)
	waitClients(t, srv, 1)

	resp := do(t, srv, http.MethodPost, "/api/suggestions", model.CreateSuggestionRequest{Text: "Widget", UserName: "Alice"})
	assertStatus(t, resp, http.StatusCreated)

	events := readEvents(t, ws, 1)
	if events[0].Event != model.EventNewSuggestion {
		t.Fatalf("expected new_suggestion, got %q", events[0].Event)
	}
	var sg model.Suggestion
	json.Unmarshal(events[0].Data, &sg)
	if sg.Text != "Widget" || sg.UserName != "Alice" || sg.Version != 1 {
		t.Errorf("unexpected broadcast payload %+v", sg)
	}
	if n := srv.RequestCount("POST /api/suggestions"); n != 1 {
		t.Errorf("expected 1 counted create, got %d", n)
	}
}

func TestJoinAnnouncesAndReplaysHistory(t *testing.T) {
	srv := NewServer()
	defer srv.Close()
	srv.SeedChat("Bob", "earlier")
	ws := dial(t, srv)
	waitClients(t, srv, 1)

	ws.WriteJSON(envelope{Event: model.EventJoin, Data: json.RawMessage(`{"username":"Alice"}`)})
	events := readEvents(t, ws, 2)

	if events[0].Event != model.EventChatMessage || !strings.Contains(string(events[0].Data), "Alice has joined the discussion.") {
		t.Errorf("expected join notice first, got %s %s", events[0].Event, events[0].Data)
	}
	if events[1].Event != model.EventChatHistory {
		t.Fatalf("expected chat_history second, got %q", events[1].Event)
	}
	var history []model.ChatMessage
	json.Unmarshal(events[1].Data, &history)
	if len(history) != 1 || history[0].Message != "earlier" {
		t.Errorf("unexpected history %+v", history)
	}
	if srv.EmitCount(model.EventJoin) != 1 {
		t.Errorf("expected join to be counted")
	}
}

func TestFailNextIsOneShot(t *testing.T) {
	srv := NewServer()
	defer srv.Close()

	srv.FailNext(http.StatusServiceUnavailable, "maintenance")
	resp := do(t, srv, http.MethodGet, "/api/suggestions", nil)
	assertStatus(t, resp, http.StatusServiceUnavailable)
	var body model.ErrorResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Error != "maintenance" {
		t.Errorf("expected injected message, got %q", body.Error)
	}

	assertStatus(t, do(t, srv, http.MethodGet, "/api/suggestions", nil), http.StatusOK)
	if n := srv.RequestCount("GET /api/suggestions"); n != 2 {
		t.Errorf("expected both requests counted, got %d", n)
	}
}

func TestDropClients(t *testing.T) {
	srv := NewServer()
	defer srv.Close()
	dial(t, srv)
	dial(t, srv)
	waitClients(t, srv, 2)

	srv.DropClients()
	waitClients(t, srv, 0)
}
