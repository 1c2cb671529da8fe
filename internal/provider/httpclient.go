package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"relaybot/internal/domain"
)

const (
	defaultSendTimeout   = 30 * time.Second
	defaultHealthTimeout = 5 * time.Second
	// maxResponseBytes caps how much of a backend reply is read.
	maxResponseBytes = 4 << 20
	// errorBodyLimit caps the body excerpt kept on a BackendError.
	errorBodyLimit = 512
)

// SharedHTTPClient returns a pooled HTTP client for backend calls.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// postJSON sends body as JSON and returns the raw 2xx response body. Any
// transport problem or non-2xx status comes back as *domain.BackendError.
func postJSON(ctx context.Context, client *http.Client, backend, url string, body any, decorate func(*http.Request)) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", backend, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: new request: %w", backend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if decorate != nil {
		decorate(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, transportError(backend, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(backend, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.BackendError{
			Backend:    backend,
			Kind:       domain.BackendHTTP,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(data), errorBodyLimit),
		}
	}
	return data, nil
}

// transportError classifies a client error as timeout or network.
func transportError(backend string, err error) *domain.BackendError {
	kind := domain.BackendNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = domain.BackendTimeout
	}
	return &domain.BackendError{Backend: backend, Kind: kind, Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
