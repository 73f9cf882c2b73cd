package model

// Settings is the user-editable snapshot shared by the chat surface.
type Settings struct {
	APIKey              string              `json:"apiKey" yaml:"api_key"`
	Proxy               string              `json:"proxy" yaml:"proxy"`
	SystemMessage       string              `json:"systemMessage" yaml:"system_message"`
	Language            string              `json:"language" yaml:"language"`
	UseChatContext      bool                `json:"useChatContext" yaml:"use_chat_context"`
	IsDarkMode          bool                `json:"isDarkMode" yaml:"is_dark_mode"`
	ConversationRequest ConversationRequest `json:"conversationRequest" yaml:"conversation_request"`
}
