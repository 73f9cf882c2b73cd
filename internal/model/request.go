package model

// ConversationRequest identifies where a reply belongs in a thread.
type ConversationRequest struct {
	ConversationID  string `json:"conversationId" yaml:"conversation_id"`
	ParentMessageID string `json:"parentMessageId" yaml:"parent_message_id"`
}

// Complete reports whether both identifiers are set.
func (c ConversationRequest) Complete() bool {
	return c.ConversationID != "" && c.ParentMessageID != ""
}

// Advance returns next when it carries both identifiers, otherwise c unchanged.
func (c ConversationRequest) Advance(next ConversationRequest) ConversationRequest {
	if next.Complete() {
		return next
	}
	return c
}

// Question is one user turn handed to the chat service.
type Question struct {
	Question        string `json:"question"`
	Prompts         string `json:"prompts,omitempty"`
	ConversationID  string `json:"conversation_id,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
}

// Conversation returns the identifiers carried by the question itself.
func (q Question) Conversation() ConversationRequest {
	return ConversationRequest{
		ConversationID:  q.ConversationID,
		ParentMessageID: q.ParentMessageID,
	}
}

// AskRequest is the body of POST /api/chat/stream. An empty question is accepted and
// answered with an empty stream.
type AskRequest struct {
	Question        string `json:"question"`
	Prompts         string `json:"prompts"`
	ConversationID  string `json:"conversation_id"`
	ParentMessageID string `json:"parent_message_id"`
}

func (r AskRequest) ToQuestion() Question {
	return Question{
		Question:        r.Question,
		Prompts:         r.Prompts,
		ConversationID:  r.ConversationID,
		ParentMessageID: r.ParentMessageID,
	}
}

// ProcessRequest is the body sent to a backend's /chat-process endpoint.
type ProcessRequest struct {
	Prompt        string              `json:"prompt"`
	SystemMessage string              `json:"systemMessage,omitempty"`
	Options       ConversationRequest `json:"options"`
	UseContext    bool                `json:"useContext"`
	APIKey        string              `json:"apiKey,omitempty"`
	UserProxy     string              `json:"userProxy,omitempty"`
}

type VerifyRequest struct {
	Token string `json:"token" binding:"required"`
}
