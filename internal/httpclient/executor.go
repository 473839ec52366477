// Package httpclient executes venue REST calls with rate limiting, retries on
// transport and 5xx failures, and JSON decoding.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/instrument-provider/internal/metrics"
	"github.com/Checker-Finance/instrument-provider/internal/rate"
)

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// StatusError is returned for non-retryable 4xx responses when no error
// handler is configured.
type StatusError struct {
	Venue  string
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d", e.Venue, e.Status)
}

// IsStatus reports whether err is a StatusError with the given status.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}

// Executor handles rate-limited, retrying HTTP execution with JSON decoding.
type Executor struct {
	logger       *zap.Logger
	rateMgr      *rate.Manager
	http         *http.Client
	retryMax     int
	venueTag     string
	errorHandler func(status int, body []byte) error
	sleep        func(ctx context.Context, d time.Duration) error
}

// New creates an Executor. errorHandler is called on 4xx failure responses to
// produce a venue-specific error; when nil a *StatusError is returned.
func New(
	logger *zap.Logger,
	rateMgr *rate.Manager,
	httpClient *http.Client,
	retryMax int,
	venueTag string,
	errorHandler func(status int, body []byte) error,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if retryMax < 0 {
		retryMax = 0
	}
	return &Executor{
		logger:       logger,
		rateMgr:      rateMgr,
		http:         httpClient,
		retryMax:     retryMax,
		venueTag:     venueTag,
		errorHandler: errorHandler,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetJSON issues a GET with the given headers and decodes the response into out.
func (e *Executor) GetJSON(ctx context.Context, url string, headers http.Header, rateLimitKey string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	return e.DoJSON(ctx, req, rateLimitKey, out)
}

// DoJSON executes req with rate limiting and retries, then JSON-decodes the
// response into out. rateLimitKey scopes the rate limiter per client/venue.
// Request bodies are replayed on every attempt.
func (e *Executor) DoJSON(ctx context.Context, req *http.Request, rateLimitKey string, out any) error {
	if e.rateMgr != nil {
		if err := e.rateMgr.Wait(ctx, rateLimitKey); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var payload []byte
	if req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return fmt.Errorf("read request body: %w", err)
		}
		payload = b
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, Backoff(attempt-1)); err != nil {
				return fmt.Errorf("%s request aborted: %w", e.venueTag, err)
			}
		}
		attempts++

		r := req.Clone(ctx)
		if payload != nil {
			r.Body = io.NopCloser(bytes.NewReader(payload))
			r.ContentLength = int64(len(payload))
		}

		start := time.Now()
		status, body, err := e.roundTrip(r)
		metrics.ObserveDuration(metrics.VenueRequestDuration, start, e.venueTag)
		elapsed := time.Since(start)

		if err != nil {
			metrics.IncVenueRequest(e.venueTag, "transport_error")
			lastErr = err
			e.logger.Warn(e.venueTag+".http_failed",
				zap.String("url", req.URL.String()),
				zap.Error(err),
				zap.Int("attempt", attempt))
			if ctx.Err() != nil {
				return fmt.Errorf("%s request aborted: %w", e.venueTag, ctx.Err())
			}
			continue
		}
		metrics.IncVenueRequest(e.venueTag, strconv.Itoa(status))

		if status >= 500 {
			e.logger.Warn(e.venueTag+".server_error",
				zap.Int("status", status),
				zap.String("url", req.URL.String()),
				zap.Duration("latency", elapsed))
			lastErr = fmt.Errorf("%s server error: %d", e.venueTag, status)
			continue
		}

		if status >= 400 {
			if e.errorHandler != nil {
				return e.errorHandler(status, body)
			}
			return &StatusError{Venue: e.venueTag, Status: status, Body: body}
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				e.logger.Warn(e.venueTag+".decode_failed",
					zap.Error(err),
					zap.String("url", req.URL.String()),
					zap.Int("body_bytes", len(body)))
				return fmt.Errorf("decode failed: %w", err)
			}
		}

		e.logger.Debug(e.venueTag+".http_success",
			zap.String("url", req.URL.String()),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed))
		return nil
	}

	return fmt.Errorf("%s request failed after %d attempts: %w", e.venueTag, attempts, lastErr)
}

func (e *Executor) roundTrip(req *http.Request) (int, []byte, error) {
	resp, err := e.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
