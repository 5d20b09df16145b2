package identity

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

var ErrEmptyName = errors.New("display name is required")

// Session is the self-assigned display name a user acts under. The name doubles as
// the authorization token for edit/delete; there is no real authentication.
type Session struct {
	Name string `json:"user_name"`
	ID   string `json:"-"` // Local correlation id for log lines, never sent to the server
}

func NewSession(name string) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, ErrEmptyName
	}
	return Session{Name: name, ID: uuid.NewString()}, nil
}

func (s Session) Valid() bool {
	return s.Name != ""
}

// Owns reports whether this session may edit or delete an item by author.
func (s Session) Owns(author string) bool {
	return s.Valid() && s.Name == author
}
