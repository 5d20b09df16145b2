package ui

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"go-namer/internal/model"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{input: "y\n", expected: true},
		{input: "YES\n", expected: true},
		{input: " yes \r\n", expected: true},
		{input: "n\n", expected: false},
		{input: "\n", expected: false},
		{input: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			term := NewTerminal(strings.NewReader(tt.input), &out)

			if got := term.Confirm("Delete it?"); got != tt.expected {
				t.Errorf("Expected %v for %q, got %v", tt.expected, tt.input, got)
			}
			if !strings.Contains(out.String(), "Delete it? [y/N]") {
				t.Errorf("Expected question in output, got %q", out.String())
			}
		})
	}
}

func TestReadLine(t *testing.T) {
	term := NewTerminal(strings.NewReader("/up 3\r\nhello\nlast"), io.Discard)

	for _, want := range []string{"/up 3", "hello", "last"} {
		got, err := term.ReadLine()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
	if _, err := term.ReadLine(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestRenderSuggestions(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader(""), &out)
	term.SetUser(func() string { return "Alice" })

	term.RenderSuggestions([]model.Suggestion{
		{ID: 2, Text: "Widget", UserName: "Alice", Upvotes: 3, Downvotes: 1},
		{ID: 1, Text: "Gadget", UserName: "Bob", Voters: []model.Voter{{UserName: "Alice", VoteType: model.Upvote}}, Upvotes: 1},
	})

	got := out.String()
	for _, want := range []string{
		`#2 "Widget" by Alice (yours)  ▲3 ▼1`,
		`#1 "Gadget" by Bob  ▲1 ▼0 [you: upvote]`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, got)
		}
	}

	out.Reset()
	term.RenderSuggestions(nil)
	if !strings.Contains(out.String(), "No suggestions yet") {
		t.Errorf("Expected empty state, got %q", out.String())
	}
}

func TestChatLinesWaitForScroll(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader(""), &out)

	term.Reset()
	term.Append(model.ChatMessage{UserName: "Bob", Message: "hi"})
	term.Append(model.ChatMessage{UserName: model.SystemAuthor, Message: "Alice has joined the discussion."})
	if out.Len() != 0 {
		t.Fatalf("Expected nothing written before scroll, got %q", out.String())
	}

	term.ScrollToBottom()
	got := out.String()
	if !strings.Contains(got, "<Bob> hi") {
		t.Errorf("Expected user line, got %q", got)
	}
	if !strings.Contains(got, "* Alice has joined the discussion.") {
		t.Errorf("Expected system line, got %q", got)
	}
}

func TestAlertAndError(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader(""), &out)

	term.Alert("Please set your name first!")
	term.ShowSuggestionsError(errors.New("HTTP error! status: 500"))

	got := out.String()
	if !strings.Contains(got, "Please set your name first!") || !strings.Contains(got, "Error loading suggestions: HTTP error! status: 500") {
		t.Errorf("unexpected output %q", got)
	}
}
