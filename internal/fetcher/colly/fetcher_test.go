package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/reg-radar/internal/fetcher"
)

func TestGetFollowsRedirectAndSendsUserAgent(t *testing.T) {
	t.Parallel()

	var gotUA string
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/en/", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/en/", func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		_, _ = w.Write([]byte("<html><a href='/doc.pdf'>Doc</a></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := New(Config{UserAgent: "radar-test", Timeout: 5 * time.Second})
	resp, err := g.Get(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, srv.URL+"/en/", resp.URL)
	assert.Equal(t, srv.URL+"/old", resp.RequestedURL)
	assert.Contains(t, string(resp.Body), "doc.pdf")
	assert.Equal(t, "radar-test", gotUA)
}

func TestGetReturnsErrorStatusesAsResponses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := New(Config{})
	resp, err := g.Get(context.Background(), srv.URL+"/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Revisiting the same URL must not be rejected by colly's visited store.
	resp, err = g.Get(context.Background(), srv.URL+"/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	g := New(Config{Timeout: time.Second, ConnectTimeout: time.Second})
	_, err := g.Get(context.Background(), addr)
	assert.Error(t, err)
}

func TestGetCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	g := New(Config{Timeout: 5 * time.Second})
	_, err := g.Get(ctx, srv.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	g := New(Config{})
	assert.Equal(t, DefaultUserAgent, g.cfg.UserAgent)
	assert.Equal(t, 40*time.Second, g.cfg.Timeout)
	assert.Equal(t, 15*time.Second, g.cfg.ConnectTimeout)

	c := g.buildCollector()
	assert.True(t, c.IgnoreRobotsTxt)
	assert.True(t, c.ParseHTTPErrorResponse)
	assert.True(t, c.AllowURLRevisit)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	var result fetcher.Response
	var fetchErr error
	hooks := &stubHooks{}
	configureCollectorHooks(hooks, "https://a.example/", time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://a.example/en/")},
	})
	assert.Equal(t, "https://a.example/en/", result.URL)
	assert.Equal(t, "https://a.example/", result.RequestedURL)
	assert.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	assert.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
