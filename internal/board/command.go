package board

import (
	"fmt"
	"strconv"
	"strings"
)

// Help lists the terminal commands understood by ParseCommand.
const Help = `Commands:
  /name NAME        set your display name
  /suggest TEXT     suggest a name
  /up ID            upvote a suggestion
  /down ID          downvote a suggestion
  /edit ID TEXT     change your own suggestion
  /delete ID        delete your own suggestion
  /clear            clear the chat for everyone
  /refresh          reload the board
  anything else     send it to the chat`

// ParseCommand turns one terminal line into an Action. Lines that do not start
// with "/" are chat messages.
func ParseCommand(line string) (Action, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return Action{Kind: SendChat, Text: line}, nil
	}

	cmd, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "name":
		return Action{Kind: SetName, Text: rest}, nil
	case "suggest":
		return Action{Kind: Suggest, Text: rest}, nil
	case "up":
		return withID(Upvote, rest)
	case "down":
		return withID(Downvote, rest)
	case "delete":
		return withID(Delete, rest)
	case "edit":
		idText, text, _ := strings.Cut(rest, " ")
		act, err := withID(Edit, idText)
		act.Text = strings.TrimSpace(text)
		return act, err
	case "clear":
		return Action{Kind: ClearChat}, nil
	case "refresh":
		return Action{Kind: Refresh}, nil
	}
	return Action{}, fmt.Errorf("%w: /%s", ErrUnknownAction, cmd)
}

func withID(kind ActionKind, s string) (Action, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(s), "#"), 10, 64)
	if err != nil || id <= 0 {
		return Action{Kind: kind}, fmt.Errorf("/%s needs a suggestion id, got %q", commandName(kind), s)
	}
	return Action{Kind: kind, ID: id}, nil
}

func commandName(kind ActionKind) string {
	switch kind {
	case Upvote:
		return "up"
	case Downvote:
		return "down"
	}
	return string(kind)
}
