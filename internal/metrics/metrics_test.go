package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.gov.qa/path", "example.gov.qa"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("metrics.test", "ok"))
	ObserveFetch("https://metrics.test/feed", "ok", 128)
	assert.Equal(t, before+1, testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("metrics.test", "ok")))

	beforeItems := testutil.ToFloat64(itemsDiscoveredTotal.WithLabelValues("rss"))
	ObserveCollectorTask("rss", "ok", 3)
	assert.Equal(t, beforeItems+3, testutil.ToFloat64(itemsDiscoveredTotal.WithLabelValues("rss")))

	SetHealth(7, 1, 2)
	assert.Equal(t, float64(7), testutil.ToFloat64(pendingEnrichmentGauge))
	assert.Equal(t, float64(1), testutil.ToFloat64(failedRunsGauge))
	assert.Equal(t, float64(2), testutil.ToFloat64(silentSourcesGauge))

	ObserveRenderPromotion("https://spa.metrics.test/list")
	assert.Equal(t, float64(1), testutil.ToFloat64(renderPromotionsTotal.WithLabelValues("spa.metrics.test")))
	ObserveRateLimitWait("https://spa.metrics.test/list", 300*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(rateLimitWaitSeconds))

	ObserveRun("pipeline", "ok", 2*time.Second)
	assert.GreaterOrEqual(t, testutil.ToFloat64(runsTotal.WithLabelValues("pipeline", "ok")), float64(1))
}

func TestPushSkipsWithoutGateway(t *testing.T) {
	require.NoError(t, Push(context.Background(), "  ", "reg_radar", nil))
}

func TestPushSendsToGateway(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Contains(t, r.URL.Path, "/metrics/job/reg_radar")
		assert.Contains(t, r.URL.Path, "/run_type/pipeline")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	Init()
	require.NoError(t, Push(context.Background(), srv.URL, "reg_radar", map[string]string{"run_type": "pipeline"}))
	assert.Equal(t, 1, hits)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://hukoomi.gov.qa", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
