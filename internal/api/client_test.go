package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"go-namer/internal/metrics"
	"go-namer/internal/model"
)

type captured struct {
	mu     sync.Mutex
	method string
	path   string
	body   map[string]string
}

func newTestServer(t *testing.T, status int, respBody string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.mu.Lock()
		defer got.mu.Unlock()
		got.method = r.Method
		got.path = r.URL.Path
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com", "::not a url", "localhost:5000"} {
		if _, err := New(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestRequestShapes(t *testing.T) {
	tests := []struct {
		name       string
		call       func(c *Client) error
		wantMethod string
		wantPath   string
		wantBody   map[string]string
	}{
		{
			name: "create",
			call: func(c *Client) error {
				return c.CreateSuggestion(context.Background(), model.CreateSuggestionRequest{Text: "Widget", UserName: "Alice"})
			},
			wantMethod: http.MethodPost,
			wantPath:   "/api/suggestions",
			wantBody:   map[string]string{"text": "Widget", "user_name": "Alice"},
		},
		{
			name: "vote",
			call: func(c *Client) error {
				return c.CastVote(context.Background(), 3, model.VoteRequest{UserName: "Bob", VoteType: model.Upvote})
			},
			wantMethod: http.MethodPost,
			wantPath:   "/api/suggestions/3/vote",
			wantBody:   map[string]string{"user_name": "Bob", "vote_type": "upvote"},
		},
		{
			name: "edit",
			call: func(c *Client) error {
				return c.EditSuggestion(context.Background(), 4, model.EditSuggestionRequest{UserName: "Alice", Text: "Gadget"})
			},
			wantMethod: http.MethodPut,
			wantPath:   "/api/suggestions/4",
			wantBody:   map[string]string{"user_name": "Alice", "text": "Gadget"},
		},
		{
			name: "delete",
			call: func(c *Client) error {
				return c.DeleteSuggestion(context.Background(), 5, model.DeleteSuggestionRequest{UserName: "Alice"})
			},
			wantMethod: http.MethodDelete,
			wantPath:   "/api/suggestions/5",
			wantBody:   map[string]string{"user_name": "Alice"},
		},
		{
			name:       "clear chat",
			call:       func(c *Client) error { return c.ClearChat(context.Background()) },
			wantMethod: http.MethodPost,
			wantPath:   "/api/chat/clear",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got captured
			srv := newTestServer(t, http.StatusOK, `{"success": true}`, &got)
			c, err := New(srv.URL)
			if err != nil {
				t.Fatal(err)
			}

			if err := tt.call(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got.mu.Lock()
			defer got.mu.Unlock()
			if got.method != tt.wantMethod || got.path != tt.wantPath {
				t.Errorf("expected %s %s, got %s %s", tt.wantMethod, tt.wantPath, got.method, got.path)
			}
			for k, v := range tt.wantBody {
				if got.body[k] != v {
					t.Errorf("body[%q]: expected %q, got %q", k, v, got.body[k])
				}
			}
		})
	}
}

func TestListSuggestions(t *testing.T) {
	var got captured
	srv := newTestServer(t, http.StatusOK, `[
		{"id": 1, "text": "Widget", "user_name": "Alice", "upvotes": 1, "downvotes": 0,
		 "timestamp": "2024-05-01T12:00:00", "voters": [{"user_name": "Bob", "vote_type": "upvote"}]}
	]`, &got)
	c, _ := New(srv.URL)

	items, err := c.ListSuggestions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Text != "Widget" || items[0].Upvotes != 1 {
		t.Errorf("unexpected items: %+v", items)
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{
			name:    "server message",
			status:  http.StatusForbidden,
			body:    `{"error": "Only the original suggester can edit this suggestion"}`,
			wantMsg: "Only the original suggester can edit this suggestion",
		},
		{
			name:    "message field fallback",
			status:  http.StatusBadRequest,
			body:    `{"message": "text is required"}`,
			wantMsg: "text is required",
		},
		{
			name:    "non json body falls back to status",
			status:  http.StatusBadGateway,
			body:    `<html>bad gateway</html>`,
			wantMsg: "HTTP error! status: 502",
		},
		{
			name:    "empty body falls back to status",
			status:  http.StatusNotFound,
			wantMsg: "HTTP error! status: 404",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got captured
			srv := newTestServer(t, tt.status, tt.body, &got)
			c, _ := New(srv.URL)

			err := c.EditSuggestion(context.Background(), 1, model.EditSuggestionRequest{UserName: "Bob", Text: "x"})
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if apiErr.Status != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, apiErr.Status)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, err.Error())
			}
		})
	}
}

func TestTransportErrorIsNotAPIError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := New(url)
	_, err := c.ListChat(context.Background())
	if err == nil {
		t.Fatal("expected transport error")
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		t.Errorf("transport failure should not be an *Error: %v", err)
	}
}

func TestRequestsAreCounted(t *testing.T) {
	var got captured
	srv := newTestServer(t, http.StatusForbidden, `{"error": "nope"}`, &got)
	m := metrics.NewClientMetrics(prometheus.NewRegistry(), "api_test")
	c, _ := New(srv.URL, WithMetrics(m))

	_ = c.DeleteSuggestion(context.Background(), 1, model.DeleteSuggestionRequest{UserName: "Bob"})

	if n := testutil.ToFloat64(m.Requests.WithLabelValues("delete_suggestion", "403")); n != 1 {
		t.Errorf("expected one counted 403, got %v", n)
	}
}
