package transport

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"askgpt-backend/internal/config"
	"askgpt-backend/internal/utils"

	openai "github.com/sashabaranov/go-openai"
)

// CompletionsPath is appended to the provider or proxy root.
const CompletionsPath = "/v1/chat/completions"

var schemePattern = regexp.MustCompile(`(?i)^https?://`)

// Endpoint is the resolved destination of a chat-completion request.
type Endpoint struct {
	// URL is the full request URL, e.g. https://example.com/v1/chat/completions.
	URL string
	// BaseURL is what go-openai expects: URL without the trailing /chat/completions.
	BaseURL string
	// Host overrides the Host header; empty for direct requests.
	Host string
	// Proxied is true when a proxy string was configured.
	Proxied bool
}

// Resolve picks the destination for proxy. An empty proxy targets provider.BaseURL directly.
func Resolve(proxy string, provider config.ProviderConfig) Endpoint {
	proxy = strings.TrimSpace(proxy)
	if proxy == "" {
		root := strings.TrimRight(provider.BaseURL, "/")
		if root == "" {
			root = config.DefaultBaseURL
		}
		return newEndpoint(root, "", false)
	}

	root := proxy
	if !schemePattern.MatchString(root) {
		root = "https://" + root
	}
	root = strings.TrimRight(root, "/")

	host := provider.Host
	if host == "" {
		host = config.DefaultHost
	}
	return newEndpoint(root, host, true)
}

func newEndpoint(root, host string, proxied bool) Endpoint {
	url := root + CompletionsPath
	return Endpoint{
		URL:     url,
		BaseURL: strings.TrimSuffix(url, "/chat/completions"),
		Host:    host,
		Proxied: proxied,
	}
}

// NewClient builds a go-openai client bound to the endpoint. go-openai sets the
// Authorization and Content-Type headers; the Host override and request logging are
// layered on the transport.
func NewClient(endpoint Endpoint, apiKey string, provider config.ProviderConfig) *openai.Client {
	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = endpoint.BaseURL
	clientConfig.HTTPClient = NewHTTPClient(endpoint, provider.Timeout, provider.DebugRequest)

	return openai.NewClientWithConfig(clientConfig)
}

func NewHTTPClient(endpoint Endpoint, timeout time.Duration, debug bool) *http.Client {
	return utils.NewHTTPClient(timeout, func(base http.RoundTripper) http.RoundTripper {
		rt := base
		if debug {
			rt = NewDebugTransport(rt, true)
		}
		if endpoint.Host != "" {
			rt = &hostTransport{base: rt, host: endpoint.Host}
		}
		return rt
	})
}

// hostTransport rewrites the Host header of every request.
type hostTransport struct {
	base http.RoundTripper
	host string
}

func (t *hostTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTripper 不能修改原始请求
	clone := req.Clone(req.Context())
	clone.Host = t.host
	return t.base.RoundTrip(clone)
}
