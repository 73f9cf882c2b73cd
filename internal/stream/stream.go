package stream

import (
	"encoding/json"
	"errors"
	"io"

	"askgpt-backend/internal/model"
)

var (
	ErrMalformedChunk = errors.New("malformed stream chunk")
	ErrRequestFailed  = errors.New("request failed")
	// ErrStreamRead marks a failure reading the upstream body, as opposed to decoding it.
	ErrStreamRead = errors.New("stream read failed")
)

// Reader yields incremental chat responses. Recv returns io.EOF once the stream is finished;
// any other error is terminal.
type Reader interface {
	Recv() (model.Response, error)
	Close() error
}

// Variant names, used as metric labels.
const (
	VariantSSE      = "sse"
	VariantDirect   = "direct"
	VariantProgress = "progress"
)

// isDecodeError reports JSON failures. json.Decoder returns io.ErrUnexpectedEOF itself,
// unwrapped, when well-framed input ends inside a value; a wrapped one came from a read.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || err == io.ErrUnexpectedEOF
}
