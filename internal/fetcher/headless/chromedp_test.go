package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesParallelism(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: -1})
	require.Error(t, err)

	r, err := New(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 2, cap(r.slots))
	assert.Equal(t, 45*time.Second, r.cfg.NavigationTimeout)
	assert.Equal(t, 750*time.Millisecond, r.cfg.SettleDelay)
}

func TestAcquireHonoursContext(t *testing.T) {
	t.Parallel()

	r, err := New(Config{MaxParallel: 1})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.acquire(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.acquire(ctx), context.Canceled)
	r.release()
	require.NoError(t, r.acquire(context.Background()))
	r.release()
}

func TestDocumentMetaKeepsLastDocument(t *testing.T) {
	t.Parallel()

	doc := &documentMeta{}
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 301, URL: "https://a.example/"},
	})
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 404, URL: "https://a.example/app.js"},
	})
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  200,
			URL:     "https://a.example/en/",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})

	status, headers, url := doc.result("https://a.example/", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "abc", headers.Get("X-Request-ID"))
	assert.Equal(t, "https://a.example/en/", url)
}

func TestDocumentMetaIgnoresChildFrames(t *testing.T) {
	t.Parallel()

	doc := &documentMeta{}
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		FrameID:  "main",
		Response: &network.Response{Status: 302, URL: "https://a.example/"},
	})
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		FrameID:  "main",
		Response: &network.Response{Status: 200, URL: "https://a.example/en/"},
	})
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		FrameID:  "widget",
		Response: &network.Response{Status: 404, URL: "https://ads.example/frame"},
	})

	status, _, url := doc.result("https://a.example/", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://a.example/en/", url)
}

func TestDocumentMetaFallbacks(t *testing.T) {
	t.Parallel()

	doc := &documentMeta{}
	status, headers, url := doc.result("https://req.example/", "")
	assert.Equal(t, http.StatusOK, status)
	assert.NotNil(t, headers)
	assert.Equal(t, "https://req.example/", url)

	_, _, url = doc.result("https://req.example/", "https://final.example/")
	assert.Equal(t, "https://final.example/", url)
}
