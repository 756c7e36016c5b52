package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// RequestOption mutates an outgoing request before it is sent (authentication,
// extra headers).
type RequestOption func(*http.Request)

// HTTPGet issues a GET and returns the body, failing on non-200 statuses.
func HTTPGet(ctx context.Context, url string, opts ...RequestOption) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPGet: %w", err)
	}
	return do(req, opts)
}

// HTTPPost issues a POST with a JSON content type and returns the body,
// failing on non-2xx statuses.
func HTTPPost(ctx context.Context, url string, body io.Reader, opts ...RequestOption) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPPost: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req, opts)
}

func do(req *http.Request, opts []RequestOption) ([]byte, error) {
	for _, opt := range opts {
		opt(req)
	}
	client := http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("do[%s]: %s: %s", req.URL, resp.Status, body)
	}
	return io.ReadAll(resp.Body)
}
