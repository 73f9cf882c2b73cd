package service

import (
	"context"
	"errors"
	"fmt"

	"askgpt-backend/internal/remote"
	"askgpt-backend/internal/stream"

	openai "github.com/sashabaranov/go-openai"
)

var (
	ErrMissingAPIKey  = errors.New("missing OpenAI API key")
	ErrNetwork        = errors.New("network error")
	ErrUpstreamStatus = errors.New("upstream returned an error status")
	ErrMissingBody    = errors.New("response body is missing")
	ErrPersistRecords = errors.New("failed to append conversation records")

	ErrMalformedChunk = stream.ErrMalformedChunk
	ErrRequestFailed  = stream.ErrRequestFailed
)

// classify maps transport and decoding failures onto the service's error kinds.
func classify(err error) error {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError

	switch {
	case errors.Is(err, stream.ErrMalformedChunk),
		errors.Is(err, stream.ErrRequestFailed),
		errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, remote.ErrStatus):
		return fmt.Errorf("%w: %v", ErrUpstreamStatus, err)
	case errors.Is(err, remote.ErrEmptyBody):
		return ErrMissingBody
	case errors.As(err, &apiErr):
		// 优先使用服务端返回的错误信息
		return fmt.Errorf("%w: %s", ErrUpstreamStatus, apiErr.Message)
	case errors.As(err, &reqErr):
		return fmt.Errorf("%w: %s", ErrUpstreamStatus, reqErr.Error())
	default:
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrMissingAPIKey):
		return "missing_key"
	case errors.Is(err, ErrUpstreamStatus):
		return "status"
	case errors.Is(err, ErrMissingBody):
		return "missing_body"
	case errors.Is(err, ErrMalformedChunk):
		return "malformed"
	case errors.Is(err, ErrRequestFailed):
		return "request_failed"
	case errors.Is(err, ErrPersistRecords):
		return "records"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "other"
	}
}
