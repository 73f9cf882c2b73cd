package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"askgpt-backend/internal/model"
)

// DirectConsumer decodes a byte stream of JSON delta objects and yields the cumulative text.
// The decoder buffers across reads, so object and read boundaries need not line up.
type DirectConsumer struct {
	body io.ReadCloser
	dec  *json.Decoder
	text string
}

func NewDirectConsumer(body io.ReadCloser) *DirectConsumer {
	return &DirectConsumer{body: body, dec: json.NewDecoder(body)}
}

func (c *DirectConsumer) Recv() (model.Response, error) {
	for {
		var chunk model.Response
		if err := c.dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return model.Response{}, io.EOF
			}
			if isDecodeError(err) {
				return model.Response{}, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
			}
			return model.Response{}, err
		}

		if chunk.Content == "" {
			continue
		}
		// 连续换行只保留一个
		if chunk.Content == "\n" && strings.HasSuffix(c.text, "\n") {
			continue
		}
		c.text += chunk.Content

		return model.Response{
			Content:            c.text,
			NewConversationID:  chunk.NewConversationID,
			NewParentMessageID: chunk.NewParentMessageID,
		}, nil
	}
}

// Text returns everything accumulated so far.
func (c *DirectConsumer) Text() string {
	return c.text
}

func (c *DirectConsumer) Close() error {
	return c.body.Close()
}
