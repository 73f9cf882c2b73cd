package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"askgpt-backend/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// ChunkSource is satisfied by *openai.ChatCompletionStream.
type ChunkSource interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// SSEReducer turns provider events into delta responses. The "[DONE]" event is reported
// by the source as io.EOF.
type SSEReducer struct {
	source ChunkSource
	chatID string
}

func NewSSEReducer(source ChunkSource, chatID string) *SSEReducer {
	return &SSEReducer{source: source, chatID: chatID}
}

func (r *SSEReducer) Recv() (model.Response, error) {
	chunk, err := r.source.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return model.Response{}, io.EOF
		}
		// json.Unmarshal 不会返回 io.ErrUnexpectedEOF，这里出现的只能是读取失败
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return model.Response{}, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
		}
		return model.Response{}, fmt.Errorf("%w: %w", ErrStreamRead, err)
	}

	var delta string
	if len(chunk.Choices) > 0 {
		delta = chunk.Choices[0].Delta.Content
	}

	// 只携带增量，拼接交给下游
	return model.Response{
		Content:            delta,
		NewConversationID:  r.chatID,
		NewParentMessageID: chunk.ID,
	}, nil
}

func (r *SSEReducer) Close() error {
	return r.source.Close()
}
