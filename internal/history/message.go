package history

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single conversational message as handed to consumers.
// Role is always populated.
type Message struct {
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// Record is a message as stored. Older deployments wrote a "type" field
// (human/ai/system) instead of "role", and some rows lack content or a
// timestamp; nil marks an absent field.
type Record struct {
	ConversationID string
	Role           *string
	Type           *string
	Content        *string
	Timestamp      *time.Time
}

// ConversationSummary describes one conversation by its newest message.
type ConversationSummary struct {
	ConversationID string  `json:"conversation_id"`
	LatestMessage  Message `json:"latest_message"`
	MessageCount   int64   `json:"message_count"`
}

// SearchHit is a message matched by full-text search. Higher scores rank first.
type SearchHit struct {
	Message
	Score float64 `json:"score"`
}

var legacyTypes = map[string]string{
	"human":  RoleUser,
	"ai":     RoleAssistant,
	"system": RoleSystem,
}

// Epoch is the timestamp given to records stored without one.
var Epoch = time.Unix(0, 0).UTC()

// Migrate resolves a stored record into a Message. A present role wins; a
// legacy type is translated (unknown types pass through unchanged); with
// neither the role defaults to user. Missing content becomes "" and a
// missing timestamp becomes Epoch.
func Migrate(r Record) Message {
	m := Message{
		ConversationID: r.ConversationID,
		Role:           RoleUser,
		Timestamp:      Epoch,
	}
	switch {
	case r.Role != nil:
		m.Role = *r.Role
	case r.Type != nil:
		if role, ok := legacyTypes[*r.Type]; ok {
			m.Role = role
		} else {
			m.Role = *r.Type
		}
	}
	if r.Content != nil {
		m.Content = *r.Content
	}
	if r.Timestamp != nil {
		m.Timestamp = *r.Timestamp
	}
	return m
}

// NewRecord builds a current-schema record.
func NewRecord(conversationID, role, content string, ts time.Time) Record {
	return Record{
		ConversationID: conversationID,
		Role:           &role,
		Content:        &content,
		Timestamp:      &ts,
	}
}
