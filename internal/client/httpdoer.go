package client

import (
	"net"
	"net/http"
	"time"
)

// HTTPDoer abstracts the HTTP transport so tests can stub it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPDoer creates the default transport with connection pooling tuned
// for a dashboard that mounts several data panels at once.
func NewHTTPDoer(timeout time.Duration) HTTPDoer {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}
