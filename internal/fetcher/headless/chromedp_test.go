package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/preprint-crawler/internal/fetcher"
)

type recordingExecutor struct {
	urls []string
	err  error
}

func (r *recordingExecutor) Execute(_ context.Context, rawURL string, _ fetcher.Attempt) error {
	r.urls = append(r.urls, rawURL)
	return r.err
}

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1}, &recordingExecutor{}, nil)
	require.Error(t, err)
	_, err = NewChromedp(Config{}, nil, nil)
	require.Error(t, err)

	r, err := NewChromedp(Config{MaxParallel: 2}, &recordingExecutor{}, nil)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 2, cap(r.limiter))
}

func TestRenderGoesThroughExecutor(t *testing.T) {
	t.Parallel()

	exec := &recordingExecutor{err: errors.New("disallowed")}
	r, err := NewChromedp(Config{MaxParallel: 1}, exec, nil)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Render(context.Background(), "https://chemrxiv.org/list", "div[role='grid']")
	require.Error(t, err)
	assert.Equal(t, []string{"https://chemrxiv.org/list"}, exec.urls)
}

func TestNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	r := &Renderer{}
	assert.Equal(t, 45*time.Second, r.navTimeout())
	r.cfg.NavigationTimeout = time.Second
	assert.Equal(t, time.Second, r.navTimeout())
}

func TestSlotsBoundConcurrency(t *testing.T) {
	t.Parallel()

	r := &Renderer{limiter: make(chan struct{}, 1)}
	require.NoError(t, r.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, r.acquire(ctx), "second slot must wait")

	r.release()
	require.NoError(t, r.acquire(context.Background()))
}

func TestDomainBudgetSpacesNavigations(t *testing.T) {
	t.Parallel()

	r := &Renderer{cfg: Config{DomainQPS: 20}}
	ctx := context.Background()
	require.NoError(t, r.waitDomainBudget(ctx, "https://a.example/1"))
	start := time.Now()
	require.NoError(t, r.waitDomainBudget(ctx, "https://a.example/2"))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	start = time.Now()
	require.NoError(t, r.waitDomainBudget(ctx, "https://b.example/1"))
	assert.Less(t, time.Since(start), 30*time.Millisecond, "hosts are budgeted separately")
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.capture(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  404,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	meta.capture(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://example.com/frame"},
	})
	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	assert.Equal(t, 404, status)
	assert.Equal(t, "abc", headers.Get("X-Request-ID"))
	assert.Equal(t, "https://example.com/rendered", url)

	meta = newResponseMeta()
	status, _, url = meta.snapshotWithFallbacks("https://req", "https://final")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://final", url)
}

func TestDisabledRenderer(t *testing.T) {
	t.Parallel()

	_, err := Disabled{}.Render(context.Background(), "https://x", "")
	require.ErrorIs(t, err, ErrRendererDisabled)
}
