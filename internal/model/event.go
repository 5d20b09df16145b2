package model

// Realtime event names. Both directions share one envelope format.
const (
	// Client -> Server
	EventJoin        = "join"
	EventSendMessage = "send_message"

	// Server -> Client
	EventNewSuggestion     = "new_suggestion"
	EventVoteUpdate        = "vote_update"
	EventSuggestionUpdated = "suggestion_updated"
	EventSuggestionDeleted = "suggestion_deleted"
	EventChatMessage       = "chat_message"
	EventChatHistory       = "chat_history"
	EventChatCleared       = "chat_cleared"
)

type JoinPayload struct {
	Username string `json:"username"`
}

type SendMessagePayload struct {
	UserName string `json:"user_name"`
	Message  string `json:"message"`
}

type SuggestionDeletedPayload struct {
	ID int64 `json:"id"`
}
