package utils

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewHTTPClient builds the shared client. wrap, when non-nil, decorates the base transport.
func NewHTTPClient(timeout time.Duration, wrap func(http.RoundTripper) http.RoundTripper) *http.Client {
	var transport http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: false,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if wrap != nil {
		transport = wrap(transport)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
