package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"go-namer/internal/model"
)

// Prompter is the blocking user dialog the dispatcher talks to.
type Prompter interface {
	Alert(msg string)
	Confirm(question string) bool
}

// Terminal renders the board and the chat as plain text and reads commands from
// an input stream. It serves as Prompter, suggestion view and chat view at once.
type Terminal struct {
	mu  sync.Mutex
	out *bufio.Writer // chat lines are held here until ScrollToBottom
	in  *bufio.Reader

	user func() string
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		out:  bufio.NewWriter(out),
		in:   bufio.NewReader(in),
		user: func() string { return "" },
	}
}

// SetUser tells the terminal whose view this is so "(yours)" markers and vote
// state can be drawn.
func (t *Terminal) SetUser(name func() string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.user = name
}

// ReadLine returns the next input line without its newline. io.EOF is returned
// once input is exhausted.
func (t *Terminal) ReadLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ---------------------------------------------
// 💬 Prompter
// ---------------------------------------------

func (t *Terminal) Alert(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "⚠️  %s\n", msg)
	t.out.Flush()
}

// Confirm asks a yes/no question on the same input stream commands come from.
// Anything other than y or yes declines.
func (t *Terminal) Confirm(question string) bool {
	t.mu.Lock()
	fmt.Fprintf(t.out, "❓ %s [y/N] ", question)
	t.out.Flush()
	t.mu.Unlock()

	answer, err := t.ReadLine()
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// ---------------------------------------------
// 🗳️ Suggestion view
// ---------------------------------------------

func (t *Terminal) RenderSuggestions(items []model.Suggestion) {
	t.mu.Lock()
	defer func() {
		t.out.Flush()
		t.mu.Unlock()
	}()

	fmt.Fprintln(t.out, "──── Suggestions ────")
	if len(items) == 0 {
		fmt.Fprintln(t.out, "  No suggestions yet. Be the first to suggest a name!")
		return
	}
	me := t.user()
	for _, s := range items {
		marker := ""
		if me != "" && s.UserName == me {
			marker = " (yours)"
		}
		vote := ""
		if vt, ok := s.VoteOf(me); ok && me != "" {
			vote = " [you: " + string(vt) + "]"
		}
		fmt.Fprintf(t.out, "  #%d %q by %s%s  ▲%d ▼%d%s\n", s.ID, s.Text, s.UserName, marker, s.Upvotes, s.Downvotes, vote)
	}
}

func (t *Terminal) ShowSuggestionsError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "❌ Error loading suggestions: %v\n", err)
	t.out.Flush()
}

// ---------------------------------------------
// 💬 Chat view
// ---------------------------------------------

func (t *Terminal) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, "──── Chat ────")
}

func (t *Terminal) Append(msg model.ChatMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts := ""
	if !msg.Timestamp.IsZero() {
		ts = msg.Timestamp.Local().Format("15:04") + " "
	}
	if msg.IsSystem() {
		fmt.Fprintf(t.out, "  %s* %s\n", ts, msg.Message)
		return
	}
	fmt.Fprintf(t.out, "  %s<%s> %s\n", ts, msg.UserName, msg.Message)
}

// ScrollToBottom writes out everything appended since the last call, so a
// history batch reaches the screen in one piece.
func (t *Terminal) ScrollToBottom() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.out.Flush()
}
