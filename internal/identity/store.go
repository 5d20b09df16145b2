package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

var ErrNotSet = errors.New("no display name stored")

// Store persists the chosen display name on local disk so it survives restarts,
// the way the browser client keeps it in localStorage.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath is <user config dir>/namer/identity.json.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "namer", "identity.json"), nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load() (Session, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Session{}, ErrNotSet
		}
		return Session{}, fmt.Errorf("read identity: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("decode identity %s: %w", s.path, err)
	}
	sess, err = NewSession(sess.Name)
	if err != nil {
		return Session{}, ErrNotSet
	}
	return sess, nil
}

// Save writes the session atomically via a temp file and rename.
func (s *Store) Save(sess Session) error {
	if !sess.Valid() {
		return ErrEmptyName
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	tmp := s.path + "." + uuid.NewString()[:8] + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write identity: %w", err)
	}
	return nil
}
