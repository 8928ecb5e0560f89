package notify

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMailgun(t *testing.T, baseURL string, out *bytes.Buffer) *Mailgun {
	t.Helper()
	m, err := NewMailgun(MailgunConfig{
		APIKey:  "key-123",
		Domain:  "mg.example.com",
		To:      []string{"ops@example.com"},
		BaseURL: baseURL,
		Backoff: time.Millisecond,
	}, nil, out, nil)
	require.NoError(t, err)
	return m
}

type capturedRequest struct {
	path     string
	user     string
	pass     string
	hasAuth  bool
	form     map[string][]string
	parseErr error
}

func TestMailgunSendPostsForm(t *testing.T) {
	t.Parallel()

	captured := make(chan capturedRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := capturedRequest{path: r.URL.Path, parseErr: r.ParseForm()}
		c.user, c.pass, c.hasAuth = r.BasicAuth()
		c.form = r.PostForm
		captured <- c
		_, _ = w.Write([]byte(`{"id":"<1@mg>","message":"Queued"}`))
	}))
	defer srv.Close()

	m := newTestMailgun(t, srv.URL+"/", nil)
	err := m.Send(context.Background(), Message{Subject: "hello", Text: "body"}, false)
	require.NoError(t, err)

	got := <-captured
	require.NoError(t, got.parseErr)
	assert.Equal(t, "/mg.example.com/messages", got.path)
	assert.True(t, got.hasAuth)
	assert.Equal(t, "api", got.user)
	assert.Equal(t, "key-123", got.pass)
	assert.Equal(t, []string{"GCC Radar Alerts <alerts@mg.example.com>"}, got.form["from"])
	assert.Equal(t, []string{"ops@example.com"}, got.form["to"])
	assert.Equal(t, []string{"hello"}, got.form["subject"])
	assert.Equal(t, []string{"body"}, got.form["text"])
	assert.NotContains(t, got.form, "html")
}

func TestMailgunRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestMailgun(t, srv.URL, nil).Send(context.Background(), Message{Subject: "s"}, false)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestMailgunGivesUpAfterThreeAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestMailgun(t, srv.URL, nil).Send(context.Background(), Message{Subject: "s"}, false)
	require.ErrorContains(t, err, "502")
	assert.Equal(t, int32(3), calls.Load())
}

func TestMailgunUntimedClientStillTimesOut(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	m, err := NewMailgun(MailgunConfig{
		APIKey:   "key-123",
		Domain:   "mg.example.com",
		To:       []string{"ops@example.com"},
		BaseURL:  srv.URL,
		Attempts: 1,
		Timeout:  200 * time.Millisecond,
	}, &http.Client{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, m.Timeout())

	start := time.Now()
	err = m.Send(context.Background(), Message{Subject: "s"}, false)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMailgunKeepsClientTimeout(t *testing.T) {
	t.Parallel()

	m, err := NewMailgun(MailgunConfig{
		APIKey: "key-123",
		Domain: "mg.example.com",
		To:     []string{"ops@example.com"},
	}, &http.Client{Timeout: time.Second}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Second, m.Timeout())
}

func TestMailgunDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "Forbidden", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := newTestMailgun(t, srv.URL, nil).Send(context.Background(), Message{Subject: "s"}, false)
	require.ErrorContains(t, err, "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestMailgunDryRunPrints(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	m := newTestMailgun(t, "http://127.0.0.1:1", &out)
	err := m.Send(context.Background(), Message{Subject: "[GCC Radar] Health", Text: "line one"}, true)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "DRY RUN")
	assert.Contains(t, out.String(), "To: ops@example.com")
	assert.Contains(t, out.String(), "Subject: [GCC Radar] Health")
	assert.Contains(t, out.String(), "line one")
}

func TestNewMailgunValidates(t *testing.T) {
	t.Parallel()

	_, err := NewMailgun(MailgunConfig{Domain: "d", To: []string{"a"}}, nil, nil, nil)
	require.Error(t, err)
	_, err = NewMailgun(MailgunConfig{APIKey: "k", Domain: "d"}, nil, nil, nil)
	require.Error(t, err)
}
