package boardtest

import (
	"errors"
	"slices"
	"sync"
	"time"

	"go-namer/internal/model"
)

var (
	errNotFound  = errors.New("suggestion not found")
	errNotAuthor = errors.New("only the original suggester may change this suggestion")
)

// store is the in-memory stand-in for the board's database.
type store struct {
	mu          sync.Mutex
	now         func() time.Time
	nextID      int64
	nextChatID  int64
	suggestions map[int64]*model.Suggestion
	chat        []model.ChatMessage
}

func newStore() *store {
	return &store{
		now:         time.Now,
		suggestions: make(map[int64]*model.Suggestion),
	}
}

// listSuggestions returns every suggestion, newest first.
func (s *store) listSuggestions() []model.Suggestion {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Suggestion, 0, len(s.suggestions))
	for _, sg := range s.suggestions {
		out = append(out, sg.Clone())
	}
	slices.SortFunc(out, func(a, b model.Suggestion) int {
		if c := b.Timestamp.Compare(a.Timestamp.Time); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	return out
}

func (s *store) getSuggestion(id int64) (model.Suggestion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg, ok := s.suggestions[id]
	if !ok {
		return model.Suggestion{}, false
	}
	return sg.Clone(), true
}

func (s *store) createSuggestion(text, user string) model.Suggestion {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	sg := &model.Suggestion{
		ID:        s.nextID,
		Text:      text,
		UserName:  user,
		Timestamp: model.NewTimestamp(s.now()),
		Voters:    []model.Voter{},
		Version:   1,
	}
	s.suggestions[sg.ID] = sg
	return sg.Clone()
}

// vote applies one voter's click: a new vote is added, the same vote again is
// withdrawn, the opposite vote switches direction. A voter never holds two votes.
func (s *store) vote(id int64, user string, vt model.VoteType) (model.Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sg, ok := s.suggestions[id]
	if !ok {
		return model.Suggestion{}, errNotFound
	}

	i := slices.IndexFunc(sg.Voters, func(v model.Voter) bool { return v.UserName == user })
	switch {
	case i < 0:
		sg.Voters = append(sg.Voters, model.Voter{UserName: user, VoteType: vt})
	case sg.Voters[i].VoteType == vt:
		sg.Voters = slices.Delete(sg.Voters, i, i+1)
	default:
		sg.Voters[i].VoteType = vt
	}
	sg.Upvotes, sg.Downvotes = tally(sg.Voters)
	sg.Version++
	return sg.Clone(), nil
}

func (s *store) editSuggestion(id int64, user, text string) (model.Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sg, ok := s.suggestions[id]
	if !ok {
		return model.Suggestion{}, errNotFound
	}
	if sg.UserName != user {
		return model.Suggestion{}, errNotAuthor
	}
	sg.Text = text
	sg.Timestamp = model.NewTimestamp(s.now())
	sg.Version++
	return sg.Clone(), nil
}

func (s *store) deleteSuggestion(id int64, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sg, ok := s.suggestions[id]
	if !ok {
		return errNotFound
	}
	if sg.UserName != user {
		return errNotAuthor
	}
	delete(s.suggestions, id)
	return nil
}

func (s *store) addChat(user, message string) model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextChatID++
	msg := model.ChatMessage{
		ID:        s.nextChatID,
		UserName:  user,
		Message:   message,
		Timestamp: model.NewTimestamp(s.now()),
	}
	s.chat = append(s.chat, msg)
	return msg
}

// recentChat returns up to limit of the newest messages, oldest first.
func (s *store) recentChat(limit int) []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if limit > 0 && len(s.chat) > limit {
		start = len(s.chat) - limit
	}
	return append([]model.ChatMessage{}, s.chat[start:]...)
}

func (s *store) clearChat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = nil
}

func tally(voters []model.Voter) (up, down int) {
	for _, v := range voters {
		switch v.VoteType {
		case model.Upvote:
			up++
		case model.Downvote:
			down++
		}
	}
	return up, down
}
