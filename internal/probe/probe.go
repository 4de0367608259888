// Package probe implements the readiness check for a freshly started
// backend: a fixed-interval poll of its model-listing endpoint until the
// backend reports at least one loaded model or the deadline passes.
package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const (
	defaultInterval    = time.Second
	defaultPollTimeout = 10 * time.Second
)

// Prober polls a backend's /v1/models endpoint. The zero-value intervals
// are replaced by defaults in New.
type Prober struct {
	client *http.Client
	// Fixed delay between polls. No backoff: the interval is short enough
	// that jitter would not change the readiness bound.
	interval time.Duration
	// Per-poll request timeout.
	pollTimeout time.Duration
}

// New constructs a Prober. The HTTP client carries no global timeout; every
// request gets a context deadline instead.
func New() *Prober {
	return &Prober{
		client:      &http.Client{Timeout: 0},
		interval:    defaultInterval,
		pollTimeout: defaultPollTimeout,
	}
}

// NewWithIntervals is used by tests to shrink the poll cadence.
func NewWithIntervals(interval, pollTimeout time.Duration) *Prober {
	p := New()
	if interval > 0 {
		p.interval = interval
	}
	if pollTimeout > 0 {
		p.pollTimeout = pollTimeout
	}
	return p
}

// modelList mirrors the `data` array of an OpenAI-compatible /v1/models body.
type modelList struct {
	Data []json.RawMessage `json:"data"`
}

// WaitReady polls baseURL/v1/models until it returns HTTP 200 with a
// non-empty model list, the timeout elapses, or ctx is canceled. A timeout
// yields a typed error with no side effects; the caller decides what to do
// with the backend.
func (p *Prober) WaitReady(ctx context.Context, baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if p.checkOnce(ctx, baseURL) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return readyTimeoutError{baseURL: baseURL, timeout: timeout}
		}
		select {
		case <-time.After(p.interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Prober) checkOnce(ctx context.Context, baseURL string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, p.pollTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return false
	}
	return len(list.Data) > 0
}
