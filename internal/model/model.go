package model

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------
// 🗳️ Suggestion Board Models
// ---------------------------------------------

type VoteType string

const (
	Upvote   VoteType = "upvote"
	Downvote VoteType = "downvote"
)

var ErrInvalidVoteType = errors.New("vote type must be upvote or downvote")

// ParseVoteType accepts the canonical names and the short "up"/"down" forms.
func ParseVoteType(s string) (VoteType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "upvote", "up":
		return Upvote, nil
	case "downvote", "down":
		return Downvote, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidVoteType, s)
}

type Voter struct {
	UserName string   `json:"user_name"`
	VoteType VoteType `json:"vote_type"`
}

type Suggestion struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	UserName  string    `json:"user_name"`
	Upvotes   int       `json:"upvotes"`
	Downvotes int       `json:"downvotes"`
	Timestamp Timestamp `json:"timestamp"`
	Voters    []Voter   `json:"voters"`
	Version   int64     `json:"version,omitempty"` // Bumped by the server on every mutation
}

func (s Suggestion) Net() int {
	return s.Upvotes - s.Downvotes
}

// VoteOf reports the active vote of the named voter, if any.
func (s Suggestion) VoteOf(name string) (VoteType, bool) {
	for _, v := range s.Voters {
		if v.UserName == name {
			return v.VoteType, true
		}
	}
	return "", false
}

// Clone returns a copy that shares no slices with s.
func (s Suggestion) Clone() Suggestion {
	if s.Voters != nil {
		s.Voters = append([]Voter(nil), s.Voters...)
	}
	return s
}

// ---------------------------------------------
// 💬 Chat Models
// ---------------------------------------------

// SystemAuthor is reserved for server generated notices.
const SystemAuthor = "System"

type ChatMessage struct {
	ID        int64     `json:"id,omitempty"`
	UserName  string    `json:"user_name"`
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
}

func (m ChatMessage) IsSystem() bool {
	return m.UserName == SystemAuthor
}

// ---------------------------------------------
// 📨 REST Request Bodies
// ---------------------------------------------

type CreateSuggestionRequest struct {
	Text     string `json:"text"`
	UserName string `json:"user_name"`
}

type VoteRequest struct {
	UserName string   `json:"user_name"`
	VoteType VoteType `json:"vote_type"`
}

type EditSuggestionRequest struct {
	UserName string `json:"user_name"`
	Text     string `json:"text"`
}

type DeleteSuggestionRequest struct {
	UserName string `json:"user_name"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
