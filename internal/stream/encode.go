package stream

import (
	"encoding/json"
	"errors"
	"io"
)

type encodedStream struct {
	*io.PipeReader
	source Reader
}

// Encode writes every response of r to a byte stream as concatenated JSON objects.
// An error from r closes the stream with that error. Closing the returned reader closes r.
func Encode(r Reader) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		enc := json.NewEncoder(pw)
		for {
			resp, err := r.Recv()
			if errors.Is(err, io.EOF) {
				pw.Close()
				return
			}
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if err := enc.Encode(resp); err != nil {
				// 读端已关闭
				pw.CloseWithError(err)
				return
			}
		}
	}()

	return &encodedStream{PipeReader: pr, source: r}
}

func (s *encodedStream) Close() error {
	s.PipeReader.Close()
	return s.source.Close()
}
