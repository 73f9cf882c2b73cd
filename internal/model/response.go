package model

import "time"

// Response is what the callback receives for every processed chunk.
// Depending on the consumer, Content is a delta, the cumulative text or a single tick's text.
type Response struct {
	Content            string `json:"content"`
	NewConversationID  string `json:"newConversationId"`
	NewParentMessageID string `json:"newParentMessageId"`
}

func (r Response) Conversation() ConversationRequest {
	return ConversationRequest{
		ConversationID:  r.NewConversationID,
		ParentMessageID: r.NewParentMessageID,
	}
}

const (
	StatusSuccess = "Success"
	StatusFail    = "Fail"
)

// ProcessChunk is one newline-delimited object of a /chat-process body.
type ProcessChunk struct {
	Status          string `json:"status"`
	Message         string `json:"message,omitempty"`
	ID              string `json:"id"`
	ParentMessageID string `json:"parentMessageId"`
	Text            string `json:"text"`
}

// Envelope is the {status, message, data} shape of the backend side-channel endpoints.
type Envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type ChatConfig struct {
	Model        string `json:"model"`
	ProxyEnabled bool   `json:"proxyEnabled"`
	UseContext   bool   `json:"useContext"`
	Accumulation string `json:"accumulation"`
}

type SessionInfo struct {
	Auth  bool   `json:"auth"`
	Model string `json:"model"`
}

type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	MessageCount   int       `json:"message_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}
