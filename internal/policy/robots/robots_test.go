package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const policyDoc = `User-agent: *
Disallow: /blocked
Crawl-delay: 2

User-agent: picky-bot
Disallow: /
`

func newPolicyServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			w.WriteHeader(http.StatusOK)
			return
		}
		hits.Add(1)
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestAllowedAndCrawlDelay(t *testing.T) {
	t.Parallel()

	srv, hits := newPolicyServer(t, http.StatusOK, policyDoc)
	p := New(srv.Client(), "test-agent", zap.NewNop())
	ctx := context.Background()

	assert.True(t, p.Allowed(ctx, srv.URL+"/allowed", ""))
	assert.False(t, p.Allowed(ctx, srv.URL+"/blocked/page", ""))
	assert.Equal(t, 2*time.Second, p.CrawlDelay(ctx, srv.URL+"/allowed", ""))
	assert.Equal(t, int32(1), hits.Load())
}

func TestCacheHitDoesNotRefetch(t *testing.T) {
	t.Parallel()

	srv, hits := newPolicyServer(t, http.StatusOK, policyDoc)
	p := New(srv.Client(), "test-agent", zap.NewNop())
	ctx := context.Background()

	for range 5 {
		assert.True(t, p.Allowed(ctx, srv.URL+"/paper/1", "test-agent"))
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestConcurrentFirstAccessFetchesOnce(t *testing.T) {
	t.Parallel()

	srv, hits := newPolicyServer(t, http.StatusOK, policyDoc)
	p := New(srv.Client(), "test-agent", zap.NewNop())

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Allowed(context.Background(), srv.URL+"/x", "")
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), hits.Load())
}

func TestUserAgentChangeInvalidatesCache(t *testing.T) {
	t.Parallel()

	srv, hits := newPolicyServer(t, http.StatusOK, policyDoc)
	p := New(srv.Client(), "test-agent", zap.NewNop())
	ctx := context.Background()

	require.True(t, p.Allowed(ctx, srv.URL+"/x", ""))
	assert.False(t, p.Allowed(ctx, srv.URL+"/x", "picky-bot"))
	assert.Equal(t, "picky-bot", p.UserAgent())
	assert.Equal(t, int32(2), hits.Load())

	p.SetUserAgent("picky-bot")
	p.Allowed(ctx, srv.URL+"/x", "")
	assert.Equal(t, int32(2), hits.Load(), "same agent keeps the cache")
}

func TestFailOpen(t *testing.T) {
	t.Parallel()

	t.Run("ServerError", func(t *testing.T) {
		srv, hits := newPolicyServer(t, http.StatusInternalServerError, "oops")
		p := New(srv.Client(), "test-agent", zap.NewNop())
		assert.True(t, p.Allowed(context.Background(), srv.URL+"/blocked", ""))
		assert.Zero(t, p.CrawlDelay(context.Background(), srv.URL+"/blocked", ""))
		assert.Equal(t, int32(1), hits.Load(), "fallback is cached too")
	})

	t.Run("MissingDocument", func(t *testing.T) {
		srv, _ := newPolicyServer(t, http.StatusNotFound, "")
		p := New(srv.Client(), "test-agent", zap.NewNop())
		assert.True(t, p.Allowed(context.Background(), srv.URL+"/blocked", ""))
	})

	t.Run("Unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()
		p := New(nil, "test-agent", nil)
		assert.True(t, p.Allowed(context.Background(), addr+"/anything", ""))
	})
}

func TestInvalidURLIsRejected(t *testing.T) {
	t.Parallel()

	p := New(nil, "test-agent", nil)
	assert.False(t, p.Allowed(context.Background(), "::not a url", ""))
	assert.Zero(t, p.CrawlDelay(context.Background(), "relative/path", ""))
}
