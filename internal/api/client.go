package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go-namer/internal/metrics"
	"go-namer/internal/model"
)

// Error is a non-2xx response from the board server.
type Error struct {
	Status  int
	Message string // Server provided message, may be empty
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("HTTP error! status: %d", e.Status)
}

// Client talks to the board's REST endpoints. It never retries: a failed call is
// terminal for that user action.
type Client struct {
	base    *url.URL
	http    *http.Client
	log     *slog.Logger
	metrics *metrics.ClientMetrics
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithMetrics(m *metrics.ClientMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base: u,
		http: http.DefaultClient,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) ListSuggestions(ctx context.Context) ([]model.Suggestion, error) {
	var out []model.Suggestion
	if err := c.do(ctx, "list_suggestions", http.MethodGet, "api/suggestions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSuggestion discards the created item; it arrives on the realtime channel.
func (c *Client) CreateSuggestion(ctx context.Context, req model.CreateSuggestionRequest) error {
	return c.do(ctx, "create_suggestion", http.MethodPost, "api/suggestions", req, nil)
}

func (c *Client) CastVote(ctx context.Context, id int64, req model.VoteRequest) error {
	return c.do(ctx, "cast_vote", http.MethodPost, suggestionPath(id, "vote"), req, nil)
}

func (c *Client) EditSuggestion(ctx context.Context, id int64, req model.EditSuggestionRequest) error {
	return c.do(ctx, "edit_suggestion", http.MethodPut, suggestionPath(id), req, nil)
}

func (c *Client) DeleteSuggestion(ctx context.Context, id int64, req model.DeleteSuggestionRequest) error {
	return c.do(ctx, "delete_suggestion", http.MethodDelete, suggestionPath(id), req, nil)
}

func (c *Client) ListChat(ctx context.Context) ([]model.ChatMessage, error) {
	var out []model.ChatMessage
	if err := c.do(ctx, "list_chat", http.MethodGet, "api/chat", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ClearChat(ctx context.Context) error {
	return c.do(ctx, "clear_chat", http.MethodPost, "api/chat/clear", nil, nil)
}

func suggestionPath(id int64, rest ...string) string {
	p := "api/suggestions/" + strconv.FormatInt(id, 10)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	start := time.Now()
	status := "error"
	defer func() {
		c.metrics.ObserveRequest(op, status, time.Since(start))
		if err != nil {
			c.log.Warn("request failed", "op", op, "method", method, "path", path, "error", err)
		}
	}()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal body: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{Status: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(raw) == 0 {
		return apiErr
	}
	var body model.ErrorResponse
	if json.Unmarshal(raw, &body) == nil {
		apiErr.Message = body.Error
		if apiErr.Message == "" {
			apiErr.Message = body.Message
		}
	}
	return apiErr
}
