// Package polisbridge is the HTTP client of the Python bridge that fronts
// the Polis math engine and the remote conversation importer.
package polisbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// maxResponseBytes caps how much of a bridge response is read. Large
// conversations produce big math blobs but nothing near this.
const maxResponseBytes = 64 << 20

// StatusError is returned for any non-2xx response that survived retries.
type StatusError struct {
	Body string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bridge responded %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// ClientError reports whether the bridge refused the request itself.
func (e *StatusError) ClientError() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

// Client talks to the bridge. It is safe for concurrent use.
type Client struct {
	http    *retryablehttp.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	baseURL string
	maxBody int64
}

// New creates a bridge client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	// *slog.Logger satisfies retryablehttp.LeveledLogger.
	rc.Logger = logger.With("component", "polisbridge")
	// Hand the final response back instead of a generic "giving up" error so
	// callers can tell a 4xx from an outage.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		http:    rc,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		maxBody: maxResponseBytes,
	}, nil
}

// do sends one JSON request and decodes a 2xx body into out. Non-2xx
// responses come back as *StatusError and bad bodies as *DecodeError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("bridge rate limit wait: %w", err)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body any
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode bridge request: %w", err)
		}
		body = payload
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to build bridge request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bridge %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return fmt.Errorf("failed to read bridge response: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		return fmt.Errorf("%w: %s %s exceeds %d bytes", ErrResponseTooLarge, method, path, c.maxBody)
	}

	c.logger.Debug("[BRIDGE] request finished",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(data)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(snippet)}
	}

	if out == nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(out); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// DecodeError means the bridge answered 2xx with a body that does not
// match the expected shape.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "failed to decode bridge response: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }
