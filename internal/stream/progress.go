package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"askgpt-backend/internal/model"
)

const progressBufferSize = 32 * 1024

var errIncomplete = errors.New("incomplete progress line")

// ProgressPoller reads a growing newline-delimited JSON body. Every read is one progress
// tick; a tick parses only the text after the last newline and yields that line's text.
// Nothing is accumulated across ticks.
type ProgressPoller struct {
	body io.ReadCloser
	buf  []byte
	text []byte

	conversation model.ConversationRequest
	incomplete   bool
	err          error
}

func NewProgressPoller(body io.ReadCloser) *ProgressPoller {
	return &ProgressPoller{
		body: body,
		buf:  make([]byte, progressBufferSize),
	}
}

func (p *ProgressPoller) Recv() (model.Response, error) {
	for {
		if p.err != nil {
			return model.Response{}, p.err
		}

		n, readErr := p.body.Read(p.buf)
		if n > 0 {
			p.text = append(p.text, p.buf[:n]...)
			resp, err := p.tick()
			switch {
			case err == nil:
				p.fail(readErr)
				return resp, nil
			case errors.Is(err, errIncomplete):
				// 等下一次进度
			default:
				p.err = err
				return model.Response{}, err
			}
		}

		if readErr != nil {
			p.fail(readErr)
			return model.Response{}, p.err
		}
	}
}

func (p *ProgressPoller) fail(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, io.EOF) && p.incomplete {
		p.err = fmt.Errorf("%w: body ended inside a JSON line", ErrMalformedChunk)
		return
	}
	p.err = err
}

func (p *ProgressPoller) tick() (model.Response, error) {
	tail := p.text
	// 忽略末尾的换行
	if i := bytes.LastIndexByte(p.text[:len(p.text)-1], '\n'); i >= 0 {
		tail = p.text[i+1:]
	}
	tail = bytes.TrimSpace(tail)
	if len(tail) == 0 {
		return model.Response{}, errIncomplete
	}

	var chunk model.ProcessChunk
	if err := json.NewDecoder(bytes.NewReader(tail)).Decode(&chunk); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			p.incomplete = true
			return model.Response{}, errIncomplete
		}
		return model.Response{}, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}
	p.incomplete = false

	if chunk.Status == "" || chunk.Status == model.StatusFail || chunk.ParentMessageID == "" {
		message := chunk.Message
		if message == "" {
			message = "no status in response"
		}
		return model.Response{}, fmt.Errorf("%w: %s", ErrRequestFailed, message)
	}

	p.conversation = model.ConversationRequest{
		ConversationID:  chunk.ID,
		ParentMessageID: chunk.ParentMessageID,
	}

	return model.Response{
		Content:            chunk.Text,
		NewConversationID:  chunk.ID,
		NewParentMessageID: chunk.ParentMessageID,
	}, nil
}

// Conversation returns the identifiers of the last successful tick.
func (p *ProgressPoller) Conversation() model.ConversationRequest {
	return p.conversation
}

func (p *ProgressPoller) Close() error {
	return p.body.Close()
}
