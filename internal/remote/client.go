package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"askgpt-backend/internal/config"
	"askgpt-backend/internal/model"
	"askgpt-backend/internal/utils"
	"askgpt-backend/pkg/logger"

	"github.com/sirupsen/logrus"
	"resty.dev/v3"
)

var (
	ErrStatus    = errors.New("backend returned an error status")
	ErrEmptyBody = errors.New("backend returned an empty body")
)

type requestStartsAt struct{}

// Client talks to the chat backend: the side-channel endpoints and /chat-process.
type Client struct {
	client  *resty.Client
	baseURL string
}

func NewClient(cfg config.BackendConfig) *Client {
	client := resty.New().
		SetHeader("User-Agent", "askgpt-backend/1.0").
		SetTimeout(cfg.Timeout).
		SetTransport(utils.NewHTTPClient(0, nil).Transport)
	if cfg.Token != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.Token)
	}

	client.AddRequestMiddleware(func(c *resty.Client, r *resty.Request) error {
		r.SetContext(context.WithValue(r.Context(), requestStartsAt{}, time.Now()))
		return nil
	})
	client.AddResponseMiddleware(func(c *resty.Client, r *resty.Response) error {
		startTime, _ := r.Request.Context().Value(requestStartsAt{}).(time.Time)
		fields := logrus.Fields{
			"status":  r.StatusCode(),
			"latency": time.Since(startTime),
		}
		if r.Request.RawRequest != nil {
			fields["method"] = r.Request.RawRequest.Method
			fields["path"] = r.Request.RawRequest.URL.Path
		}
		logger.WithFields(fields).Debug("backend request")
		return nil
	})

	return &Client{
		client:  client,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
	}
}

func (c *Client) endpoint(path string) string {
	if c.baseURL == "" {
		return path
	}
	if strings.HasPrefix(path, "/") {
		return c.baseURL + path
	}
	return c.baseURL + "/" + path
}

// Config fetches the backend's chat configuration.
func (c *Client) Config(ctx context.Context) (*model.Envelope[model.ChatConfig], error) {
	return post[model.ChatConfig](ctx, c, "/config", nil)
}

// Session reports whether the backend requires a token and which model it serves.
func (c *Client) Session(ctx context.Context) (*model.Envelope[model.SessionInfo], error) {
	return post[model.SessionInfo](ctx, c, "/session", nil)
}

// Verify checks token against the backend. A rejected token comes back as a Fail envelope,
// not as an error.
func (c *Client) Verify(ctx context.Context, token string) (*model.Envelope[any], error) {
	return post[any](ctx, c, "/verify", model.VerifyRequest{Token: token})
}

// ChatProcess starts a /chat-process call and returns the live body. The caller closes it.
func (c *Client) ChatProcess(ctx context.Context, req model.ProcessRequest) (io.ReadCloser, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetDoNotParseResponse(true).
		Post(c.endpoint("/chat-process"))
	if err != nil {
		return nil, err
	}
	if resp.RawResponse == nil || resp.RawResponse.Body == nil {
		return nil, ErrEmptyBody
	}
	if resp.IsError() {
		defer resp.RawResponse.Body.Close()
		body, _ := io.ReadAll(resp.RawResponse.Body)
		return nil, statusError(resp.StatusCode(), string(body))
	}
	if resp.RawResponse.ContentLength == 0 {
		resp.RawResponse.Body.Close()
		return nil, ErrEmptyBody
	}

	return resp.RawResponse.Body, nil
}

func post[T any](ctx context.Context, c *Client, path string, body any) (*model.Envelope[T], error) {
	var result model.Envelope[T]
	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetResult(&result)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Post(c.endpoint(path))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, statusError(resp.StatusCode(), resp.String())
	}

	return &result, nil
}

func statusError(code int, body string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return fmt.Errorf("%w: %d", ErrStatus, code)
	}
	return fmt.Errorf("%w: %d %s", ErrStatus, code, trimmed)
}
