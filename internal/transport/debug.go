package transport

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strings"

	"askgpt-backend/pkg/logger"

	"github.com/sirupsen/logrus"
)

var sensitiveHeaders = []string{
	"authorization",
	"x-api-key",
	"x-auth-token",
	"cookie",
}

var sensitiveFieldPattern = regexp.MustCompile(`(?i)"(api_?key|password|secret|token)"\s*:\s*"[^"]*"`)

// DebugTransport logs outbound requests at debug level with credentials redacted.
type DebugTransport struct {
	base         http.RoundTripper
	debugEnabled bool
}

func NewDebugTransport(base http.RoundTripper, debugEnabled bool) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{
		base:         base,
		debugEnabled: debugEnabled,
	}
}

func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.debugEnabled && req.Method == http.MethodPost {
		t.logRequest(req)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil && t.debugEnabled {
		logger.Errorf("[transport] request to %s failed: %v", req.URL.Redacted(), err)
	}

	return resp, err
}

func (t *DebugTransport) logRequest(req *http.Request) {
	fields := logrus.Fields{
		"method": req.Method,
		"url":    req.URL.Redacted(),
		"host":   req.Host,
	}

	headers := make([]string, 0, len(req.Header))
	for name, values := range req.Header {
		if isSensitiveHeader(name) {
			headers = append(headers, name+": [REDACTED]")
		} else {
			headers = append(headers, name+": "+strings.Join(values, ", "))
		}
	}
	fields["headers"] = strings.Join(headers, "; ")

	if req.Body != nil && req.GetBody == nil {
		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			logger.Errorf("[transport] failed to read request body: %v", err)
			return
		}
		// 恢复请求体，以免影响实际请求
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		fields["body"] = RedactBody(string(bodyBytes))
	} else if req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			bodyBytes, _ := io.ReadAll(body)
			body.Close()
			fields["body"] = RedactBody(string(bodyBytes))
		}
	}

	logger.WithFields(fields).Debug("[transport] outbound request")
}

// RedactBody masks the values of credential-looking JSON fields.
func RedactBody(body string) string {
	return sensitiveFieldPattern.ReplaceAllString(body, `"$1": "[REDACTED]"`)
}

func isSensitiveHeader(name string) bool {
	for _, sensitive := range sensitiveHeaders {
		if strings.EqualFold(name, sensitive) {
			return true
		}
	}
	return false
}
