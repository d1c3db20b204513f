package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultRESTTimeout = 30 * time.Second

// REST is the HTTPS channel to a vendor's cloud gateway. It carries bearer
// authentication and a bounded, connection-pooled http.Client.
type REST struct {
	baseURL string
	token   string
	client  *http.Client

	// extraHeaders are vendor-specific headers set once at construction
	// (API versions, merchant accounts and the like).
	extraHeaders map[string]string
}

// NewREST builds an HTTPS channel for the given base URL and bearer token.
func NewREST(baseURL, token string, timeout time.Duration) *REST {
	if timeout <= 0 {
		timeout = defaultRESTTimeout
	}
	return &REST{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		extraHeaders: map[string]string{},
	}
}

// SetHeader attaches a header to every outgoing request.
func (r *REST) SetHeader(key, value string) {
	r.extraHeaders[key] = value
}

// Connect verifies the channel is usable. HTTP is connectionless; the base
// URL being non-empty is the only precondition.
func (r *REST) Connect(ctx context.Context) error {
	if r.baseURL == "" {
		return fmt.Errorf("rest transport: base URL is required")
	}
	return nil
}

// Do performs one request against the gateway and returns the response body
// and status code. Non-2xx responses are returned to the caller, not turned
// into errors: vendor error bodies carry the decline details providers need.
func (r *REST) Do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	for k, v := range r.extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading %s %s response: %w", method, path, err)
	}
	return respBody, resp.StatusCode, nil
}

// SendAndReceive satisfies the common channel contract by posting the
// payload to the channel's base URL.
func (r *REST) SendAndReceive(ctx context.Context, payload []byte) ([]byte, error) {
	body, status, err := r.Do(ctx, http.MethodPost, "", payload)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return body, fmt.Errorf("gateway returned status %d", status)
	}
	return body, nil
}

// Close releases pooled connections.
func (r *REST) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
