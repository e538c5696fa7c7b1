// Package robots caches per-domain robots.txt permissions and crawl delays.
// Any failure to obtain or parse a policy document fails open.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// maxBodyBytes bounds how much of a policy document is read.
const maxBodyBytes = 1 << 20

// Doer performs HTTP requests.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Policy is a run scoped cache of robots decisions, safe for concurrent use.
type Policy struct {
	client Doer
	logger *zap.Logger

	mu        sync.Mutex
	userAgent string
	entries   map[string]*entry
}

// entry is populated exactly once by whichever caller reaches it first.
type entry struct {
	once sync.Once
	data *robotstxt.RobotsData
}

// New builds a Policy. A nil client gets a 10s timeout default.
func New(client Doer, userAgent string, logger *zap.Logger) *Policy {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		client:    client,
		logger:    logger,
		userAgent: userAgent,
		entries:   make(map[string]*entry),
	}
}

// UserAgent returns the agent decisions are scoped to.
func (p *Policy) UserAgent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userAgent
}

// SetUserAgent switches agent. A different agent empties the cache.
func (p *Policy) SetUserAgent(userAgent string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if userAgent == p.userAgent {
		return
	}
	p.userAgent = userAgent
	p.entries = make(map[string]*entry)
}

// Allowed reports whether userAgent may fetch rawURL. An empty agent uses
// the configured one.
func (p *Policy) Allowed(ctx context.Context, rawURL, userAgent string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	data, agent := p.lookup(ctx, parsed, userAgent)
	if data == nil {
		return true
	}
	target := parsed.EscapedPath()
	if target == "" {
		target = "/"
	}
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	return data.TestAgent(target, agent)
}

// CrawlDelay returns the delay requested for userAgent on rawURL's domain,
// or zero.
func (p *Policy) CrawlDelay(ctx context.Context, rawURL, userAgent string) time.Duration {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return 0
	}
	data, agent := p.lookup(ctx, parsed, userAgent)
	if data == nil {
		return 0
	}
	group := data.FindGroup(agent)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

// lookup returns the cached policy for the URL's scheme and host, fetching
// it on first use. A nil result means allow everything.
func (p *Policy) lookup(ctx context.Context, parsed *url.URL, userAgent string) (*robotstxt.RobotsData, string) {
	if userAgent != "" {
		p.SetUserAgent(userAgent)
	}

	key := cacheKey(parsed)
	p.mu.Lock()
	agent := p.userAgent
	e, ok := p.entries[key]
	if !ok {
		e = &entry{}
		p.entries[key] = e
	}
	p.mu.Unlock()

	e.once.Do(func() {
		data, err := p.fetch(ctx, parsed, agent)
		if err != nil {
			p.logger.Warn("robots fetch failed; allowing access",
				zap.String("domain", key),
				zap.Error(err),
			)
			return
		}
		e.data = data
	})
	return e.data, agent
}

func (p *Policy) fetch(ctx context.Context, parsed *url.URL, agent string) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", agent)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("fetch robots: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

func cacheKey(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
