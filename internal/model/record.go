package model

import "time"

// Record is one completed user or assistant turn.
type Record struct {
	DateTime            time.Time           `json:"dateTime"`
	Text                string              `json:"text"`
	Bot                 bool                `json:"bot"`
	ConversationOptions ConversationRequest `json:"conversationOptions"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Role maps the record onto a chat-completion role.
func (r Record) Role() string {
	if r.Bot {
		return RoleAssistant
	}
	return RoleUser
}
