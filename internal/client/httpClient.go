package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"retail-integration/internal/apperr"

	"golang.org/x/time/rate"
)

const (
	defaultPause   = time.Second
	defaultRetries = 3
)

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusTooManyRequests:
		return apperr.ErrRateLimited
	case e.Code == http.StatusNotFound:
		return apperr.ErrNotFound
	case e.Code >= 500:
		return apperr.ErrTransient
	default:
		return nil
	}
}

// LimitedClient bounds outbound traffic to one vendor: a token bucket sized by
// the vendor quota, a cap on outstanding requests, and a shared pause deadline
// that every caller honors after the vendor answers 429.
type LimitedClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	slots      chan struct{}
	pauseUntil atomic.Int64
	retries    int
	now        func() time.Time
	logger     *slog.Logger
}

func NewLimitedClient(perSecond float64, burst, maxInFlight int, logger *slog.Logger) *LimitedClient {
	if burst < 1 {
		burst = 1
	}
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &LimitedClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		slots:   make(chan struct{}, maxInFlight),
		retries: defaultRetries,
		now:     time.Now,
		logger:  logger,
	}
}

// Pause delays new acquisitions for d. Overlapping pauses keep the later end.
func (c *LimitedClient) Pause(d time.Duration) {
	until := c.now().Add(d).UnixNano()
	for {
		cur := c.pauseUntil.Load()
		if cur >= until || c.pauseUntil.CompareAndSwap(cur, until) {
			return
		}
	}
}

// PausedFor reports how long new requests still have to wait.
func (c *LimitedClient) PausedFor() time.Duration {
	d := time.Duration(c.pauseUntil.Load() - c.now().UnixNano())
	if d < 0 {
		return 0
	}
	return d
}

func (c *LimitedClient) acquire(ctx context.Context) error {
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if d := c.PausedFor(); d > 0 {
		if err := sleepOrDone(ctx, d); err != nil {
			<-c.slots
			return err
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		<-c.slots
		return err
	}
	return nil
}

func (c *LimitedClient) release() { <-c.slots }

// Do sends req, retrying after a vendor-advised pause on 429. The request body
// must be rewindable (http.NewRequest sets GetBody for in-memory readers).
func (c *LimitedClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rewind request body: %w", err)
			}
			req.Body = body
		}

		if err := c.acquire(ctx); err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		c.release()
		if err != nil {
			return nil, fmt.Errorf("http client do: %w: %w", apperr.ErrTransient, err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		wait := retryAfter(resp.Header, c.now())
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		c.Pause(wait)
		c.logger.Warn("vendor rate limit", "url", req.URL.String(), "pause", wait, "attempt", attempt+1)

		if attempt+1 >= c.retries {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, apperr.ErrRateLimited)
		}
	}
}

// JSON sends in (when non-nil) as a JSON body and decodes a 2xx answer into out.
func (c *LimitedClient) JSON(ctx context.Context, method, url string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal req payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(b)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// retryAfter reads the server-advised wait from Retry-After (seconds or HTTP
// date) or X-Rate-Limit-Time-Reset-Ms.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second))
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	if v := h.Get("X-Rate-Limit-Time-Reset-Ms"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultPause
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
