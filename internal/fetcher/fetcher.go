// Package fetcher issues outbound requests through the shared robots
// policy and rate limiter, retrying transient failures a bounded number of
// times.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/preprint-crawler/internal/clock"
	"github.com/JakeFAU/preprint-crawler/internal/clock/system"
	"github.com/JakeFAU/preprint-crawler/internal/ingest"
	"github.com/JakeFAU/preprint-crawler/internal/metrics"
)

// DefaultMaxAttempts bounds the attempts made for one request.
const DefaultMaxAttempts = 5

// Request describes one outbound HTTP call.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header
}

// Response is a fully read HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// ContentType returns the response's Content-Type header.
func (r Response) ContentType() string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get("Content-Type")
}

// Transport performs a single attempt with no retry logic.
type Transport interface {
	RoundTrip(ctx context.Context, req Request) (Response, error)
}

// RobotsPolicy answers crawl permission questions.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL, userAgent string) bool
	CrawlDelay(ctx context.Context, rawURL, userAgent string) time.Duration
}

// RateLimiter is the process wide request budget.
type RateLimiter interface {
	Acquire(ctx context.Context) error
	RecordFailure(ctx context.Context) (time.Duration, error)
	RecordSuccess()
}

// Attempt performs one try against rawURL and reports the HTTP status it
// observed. A zero status with a nil error counts as success.
type Attempt func(ctx context.Context) (int, error)

// Config controls the retrying fetcher.
type Config struct {
	UserAgent   string
	MaxAttempts int
}

// Fetcher implements the ordered robots, rate limit, request, retry flow.
type Fetcher struct {
	cfg       Config
	transport Transport
	robots    RobotsPolicy
	limiter   RateLimiter
	sleeper   clock.Sleeper
	logger    *zap.Logger
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithSleeper injects the sleeper used for crawl delays.
func WithSleeper(s clock.Sleeper) Option {
	return func(f *Fetcher) { f.sleeper = s }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// New builds a Fetcher.
func New(cfg Config, transport Transport, robots RobotsPolicy, limiter RateLimiter, opts ...Option) (*Fetcher, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if robots == nil {
		return nil, errors.New("robots policy is required")
	}
	if limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	f := &Fetcher{
		cfg:       cfg,
		transport: transport,
		robots:    robots,
		limiter:   limiter,
		sleeper:   system.New(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// UserAgent returns the agent requests are issued as.
func (f *Fetcher) UserAgent() string {
	return f.cfg.UserAgent
}

// Get fetches rawURL.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (Response, error) {
	return f.Do(ctx, Request{Method: http.MethodGet, URL: rawURL})
}

// Post sends body to rawURL.
func (f *Fetcher) Post(ctx context.Context, rawURL, contentType string, body []byte) (Response, error) {
	return f.Do(ctx, Request{
		Method: http.MethodPost,
		URL:    rawURL,
		Body:   body,
		Header: http.Header{"Content-Type": {contentType}},
	})
}

// PostJSON marshals payload and posts it as application/json.
func (f *Fetcher) PostJSON(ctx context.Context, rawURL string, payload any) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request body: %w", err)
	}
	return f.Post(ctx, rawURL, "application/json", body)
}

// Do performs req with the full retry flow. The last response is returned
// alongside any error.
func (f *Fetcher) Do(ctx context.Context, req Request) (Response, error) {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if f.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	var resp Response
	err := f.Execute(ctx, req.URL, func(ctx context.Context) (int, error) {
		var rtErr error
		resp, rtErr = f.transport.RoundTrip(ctx, req)
		return resp.StatusCode, rtErr
	})
	return resp, err
}

// Execute runs attempt under robots, rate limit and retry control. It is
// also used for browser navigations, which share the same budget.
func (f *Fetcher) Execute(ctx context.Context, rawURL string, attempt Attempt) error {
	if !f.robots.Allowed(ctx, rawURL, f.cfg.UserAgent) {
		metrics.ObserveFetchAttempt(rawURL, "disallowed")
		return fmt.Errorf("%s: %w", rawURL, ingest.ErrRobotsDisallowed)
	}

	var (
		lastErr    error
		lastStatus int
	)
	for n := 1; n <= f.cfg.MaxAttempts; n++ {
		if err := f.limiter.Acquire(ctx); err != nil {
			return fmt.Errorf("acquire rate limit: %w", err)
		}
		if delay := f.robots.CrawlDelay(ctx, rawURL, f.cfg.UserAgent); delay > 0 {
			if err := f.sleeper.Sleep(ctx, delay); err != nil {
				return fmt.Errorf("crawl delay: %w", err)
			}
		}

		status, err := attempt(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("fetch %s: %w", rawURL, ctxErr)
		}
		outcome := classify(status, err)
		metrics.ObserveFetchAttempt(rawURL, outcome.String())
		switch outcome {
		case outcomeSuccess:
			f.limiter.RecordSuccess()
			return nil
		case outcomePermanent:
			return permanentError(rawURL, status, n, err)
		}

		lastErr, lastStatus = err, status
		f.logger.Debug("transient fetch failure",
			zap.String("url", rawURL),
			zap.Int("attempt", n),
			zap.Int("status", status),
			zap.Error(err),
		)
		if n == f.cfg.MaxAttempts {
			break
		}
		if _, err := f.limiter.RecordFailure(ctx); err != nil {
			return fmt.Errorf("retry backoff: %w", err)
		}
	}

	cause := lastErr
	if cause == nil {
		cause = fmt.Errorf("status %d", lastStatus)
	}
	f.logger.Warn("fetch retries exhausted",
		zap.String("url", rawURL),
		zap.Int("attempts", f.cfg.MaxAttempts),
		zap.Error(cause),
	)
	return &ingest.FetchError{
		URL:      rawURL,
		Status:   lastStatus,
		Attempts: f.cfg.MaxAttempts,
		Err:      fmt.Errorf("%w: %w", ingest.ErrFetchExhausted, cause),
	}
}

func permanentError(rawURL string, status, attempts int, err error) error {
	var fe *ingest.FetchError
	if errors.As(err, &fe) {
		return err
	}
	var pe *ingest.ParseError
	if errors.As(err, &pe) {
		return err
	}
	return &ingest.FetchError{URL: rawURL, Status: status, Attempts: attempts, Err: err}
}
