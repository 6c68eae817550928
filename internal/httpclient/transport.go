package httpclient

import (
	"net/http"

	"github.com/google/uuid"
)

// headerTransport stamps every outgoing request with the configured headers,
// a user agent and a fresh request id.
type headerTransport struct {
	agent   string
	headers map[string]string
	base    http.RoundTripper
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if t.agent != "" {
		req.Header.Set("User-Agent", t.agent)
	}
	if req.Header.Get("X-Request-ID") == "" {
		req.Header.Set("X-Request-ID", uuid.NewString())
	}
	return t.base.RoundTrip(req)
}
