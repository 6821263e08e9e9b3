// Package httpc provides HTTP JSON adapters for the collaborator
// service ports. Each adapter speaks to one service's base URL and maps
// HTTP status codes onto the shared fault taxonomy, so callers never
// see transport detail.
package httpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stackvest/strategy-sagas/internal/pkg/fault"
)

const headerRequestID = "x-request-id"

// Client is the shared HTTP plumbing under every adapter.
type Client struct {
	base string
	http *http.Client
}

// New builds a client for one service base URL.
func New(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: timeout},
	}
}

// post sends a JSON body and decodes the JSON response into out
// (skipped when out is nil).
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fault.Internal("encode request for %s: %w", path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &buf)
	if err != nil {
		return fault.Internal("build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		req.Header.Set(headerRequestID, id)
	}

	return c.do(req, path, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fault.Internal("build request for %s: %w", path, err)
	}
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return fault.Internal("call %s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fault.Wrap(kindForStatus(res.StatusCode),
			fmt.Errorf("%s returned %d: %s", path, res.StatusCode, payload))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fault.Internal("decode response from %s: %w", path, err)
	}
	return nil
}

func kindForStatus(code int) fault.Kind {
	switch code {
	case http.StatusNotFound:
		return fault.KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return fault.KindUnauthorized
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return fault.KindInvalidInput
	default:
		return fault.KindInternal
	}
}

type requestIDKey struct{}

// WithRequestID stores a request id in the context; adapters forward it
// as the x-request-id header so collaborator logs correlate.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}
