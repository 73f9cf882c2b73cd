package compose

import (
	"fmt"
	"strings"

	"askgpt-backend/internal/config"
	"askgpt-backend/internal/model"
	"askgpt-backend/internal/storage"

	openai "github.com/sashabaranov/go-openai"
)

// Input is one user turn plus the context it is asked in.
type Input struct {
	Question     string
	Prompt       string
	APIKey       string
	UseContext   bool
	Conversation model.ConversationRequest
}

// Composer builds chat-completion requests, reading history from the record store.
type Composer struct {
	records storage.RecordStore
	model   string
}

func New(records storage.RecordStore, modelName string) *Composer {
	if modelName == "" {
		modelName = config.DefaultModel
	}
	return &Composer{records: records, model: modelName}
}

func (c *Composer) Model() string {
	return c.model
}

// Normalize trims question and prompt. ok is false when there is nothing to ask.
func Normalize(question, prompt string) (string, string, bool) {
	question = strings.TrimSpace(question)
	prompt = strings.TrimSpace(prompt)
	return question, prompt, question != "" || prompt != ""
}

// FoldPrompt puts the prompt in front of the question for requests that cannot carry a
// system message.
func FoldPrompt(question, prompt string) string {
	if prompt == "" {
		return question
	}
	return prompt + "." + question
}

// Messages returns history, then the system prompt, then the new user turn.
func (c *Composer) Messages(in Input) ([]openai.ChatCompletionMessage, error) {
	question, prompt := in.Question, in.Prompt
	if in.APIKey == "" {
		question, prompt = FoldPrompt(question, prompt), ""
	}

	var messages []openai.ChatCompletionMessage

	if in.UseContext && in.Conversation.ConversationID != "" {
		history, err := c.records.GetMessages(in.Conversation.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		for _, record := range history {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    record.Role(),
				Content: record.Text,
			})
		}
	}

	if prompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: prompt,
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: question,
	})

	return messages, nil
}

// Compose builds the streaming request body.
func (c *Composer) Compose(in Input) (openai.ChatCompletionRequest, error) {
	messages, err := c.Messages(in)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	return openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	}, nil
}

// Process builds the body for a backend /chat-process call. The backend holds the key,
// so the prompt is folded into the question.
func Process(in Input) model.ProcessRequest {
	req := model.ProcessRequest{
		Prompt:     FoldPrompt(in.Question, in.Prompt),
		UseContext: in.UseContext,
	}
	if in.UseContext {
		req.Options = in.Conversation
	}
	return req
}
