package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/reg-radar/internal/app"
	"github.com/JakeFAU/reg-radar/internal/config"
	"github.com/JakeFAU/reg-radar/internal/fetcher"
	"github.com/JakeFAU/reg-radar/internal/notify"
	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/storage/memory"
)

const feed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>SAMA</title>
<item><title>Rule on open banking</title><link>https://www.sama.gov.sa/en/rules/42</link></item>
<item><title>Rule on open banking (mirror)</title><link>http://sama.gov.sa/en/rules/42/</link></item>
</channel></rss>`

type feedGetter struct{}

func (feedGetter) Get(_ context.Context, url string) (fetcher.Response, error) {
	return fetcher.Response{RequestedURL: url, URL: url, StatusCode: 200, Body: []byte(feed)}, nil
}

type recordingChannel struct{ sent []notify.Message }

func (c *recordingChannel) Send(_ context.Context, msg notify.Message, _ bool) error {
	c.sent = append(c.sent, msg)
	return nil
}

var samaRSS = radar.Source{
	ID: "sama", Country: radar.CountryKSA, Authority: "SAMA",
	SourceURL: "https://www.sama.gov.sa", HasRSS: true, RSSURL: "https://www.sama.gov.sa/rss", IsActive: true,
}

// execute runs the root command against a memory-backed app built with opts.
func execute(t *testing.T, configYAML string, opts []app.Option, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db:\n  driver: memory\ncrawler:\n  max_retries: 0\n"+configYAML), 0o600))

	previous := newApp
	newApp = func(ctx context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		return app.New(ctx, cfg, zap.NewNop(), opts...)
	}
	t.Cleanup(func() { newApp = previous })

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", path}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCollectPersistsItems(t *testing.T) {
	db := memory.NewStore(samaRSS)
	_, err := execute(t, "", []app.Option{app.WithStore(db), app.WithGetter(feedGetter{})},
		"collect", "--only", "rss", "--country", "ksa")
	require.NoError(t, err)

	items := db.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "https://sama.gov.sa/en/rules/42", items[0].DocURL)
	require.Len(t, db.Runs(), 1)
	assert.Equal(t, 1, db.Runs()[0].OKCount)
}

func TestCollectDryRunPrintsPreview(t *testing.T) {
	db := memory.NewStore(samaRSS)
	out, err := execute(t, "", []app.Option{app.WithStore(db), app.WithGetter(feedGetter{})},
		"collect", "--only", "rss", "--dry-run")
	require.NoError(t, err)

	assert.Contains(t, out, "DRY RUN: 1 items from 1 sources")
	assert.Contains(t, out, "[KSA] SAMA | rss | Rule on open banking | https://sama.gov.sa/en/rules/42")
	assert.Empty(t, db.Items())
	assert.Empty(t, db.Runs())
}

func TestCollectRejectsBadFlags(t *testing.T) {
	_, err := execute(t, "", nil, "collect", "--country", "Oman")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown country")

	_, err = execute(t, "", nil, "collect", "--only", "sitemap")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--only")
}

func TestHealthSuppressedWhenHealthy(t *testing.T) {
	channel := &recordingChannel{}
	db := memory.NewStore()
	out, err := execute(t, "", []app.Option{app.WithStore(db), app.WithChannel(channel)},
		"health", "--only-if-issues")
	require.NoError(t, err)

	assert.Contains(t, out, "No problems detected")
	assert.Empty(t, channel.sent)
	require.Len(t, db.Runs(), 1)
	assert.Equal(t, "no problems", db.Runs()[0].NotesOrEmpty())
}

func TestHealthSendsReportWithFlagOverrides(t *testing.T) {
	channel := &recordingChannel{}
	_, err := execute(t, "health:\n  min_silence_hours: 24\n", []app.Option{app.WithChannel(channel)},
		"health", "--country", "qatar", "--silence-overrides", "PSA=48")
	require.NoError(t, err)

	require.Len(t, channel.sent, 1)
	assert.Contains(t, channel.sent[0].Subject, "Qatar")
	assert.Contains(t, channel.sent[0].Text, "Silent sources (> 24h; overrides: PSA=48)")
}

func TestHealthRequiresMailSettings(t *testing.T) {
	_, err := execute(t, "mail:\n  api_key: \"\"\n  domain: \"\"\n  to: \"\"\n", nil, "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAILGUN_API_KEY")
}

func TestDumpWritesLocalCSV(t *testing.T) {
	db := memory.NewStore(samaRSS)
	outPath := filepath.Join(t.TempDir(), "dumps", "items.csv")
	out, err := execute(t, "", []app.Option{app.WithStore(db), app.WithGetter(feedGetter{})},
		"dump", "--only", "rss", "--out", outPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 1 items to "+outPath)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "country;authority;ingest_source_type;title;doc_url;source_url;published_at", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "KSA;SAMA;rss;Rule on open banking;"))
	assert.Empty(t, db.Items(), "dump never persists")
}

func TestDumpFromStore(t *testing.T) {
	db := memory.NewStore()
	_, err := db.UpsertItem(context.Background(), radar.IngestItem{
		ID: "1", Country: radar.CountryUAE, Authority: "TDRA", SourceType: radar.SourceTypeHTML,
		Title: "Policy", DocURL: "https://tdra.gov.ae/policy", SourceURL: "https://tdra.gov.ae",
		CreatedAt: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	outPath := filepath.Join(t.TempDir(), "stored.csv")
	_, err = execute(t, "", []app.Option{app.WithStore(db)}, "dump", "--from-store", "--out", outPath)
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "UAE;TDRA;html;Policy;https://tdra.gov.ae/policy;https://tdra.gov.ae;")
}

type closeCountingApp struct {
	App
	closes *atomic.Int32
}

func (a closeCountingApp) Close() {
	a.closes.Add(1)
	a.App.Close()
}

func executeCountingCloses(t *testing.T, args ...string) (int32, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db:\n  driver: memory\ncrawler:\n  max_retries: 0\n"), 0o600))

	var closes atomic.Int32
	previous := newApp
	newApp = func(ctx context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		a, err := app.New(ctx, cfg, zap.NewNop(), app.WithGetter(feedGetter{}))
		if err != nil {
			return nil, err
		}
		return closeCountingApp{App: a, closes: &closes}, nil
	}
	t.Cleanup(func() { newApp = previous })

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--config", path}, args...))
	err := root.ExecuteContext(context.Background())
	return closes.Load(), err
}

func TestAppClosedWhenCommandFails(t *testing.T) {
	closes, err := executeCountingCloses(t, "collect", "--country", "oman")
	require.Error(t, err)
	assert.Equal(t, int32(1), closes)
}

func TestAppClosedWhenCommandSucceeds(t *testing.T) {
	closes, err := executeCountingCloses(t, "collect", "--dry-run", "--only", "rss")
	require.NoError(t, err)
	assert.Equal(t, int32(1), closes)
}

func TestResolveAppRequiresInjection(t *testing.T) {
	t.Parallel()
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}

func TestParseCountry(t *testing.T) {
	t.Parallel()

	cases := map[string]radar.Country{"": "", "uae": radar.CountryUAE, " KSA ": radar.CountryKSA, "QATAR": radar.CountryQatar}
	for raw, want := range cases {
		got, err := parseCountry(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := parseCountry("Bahrain")
	assert.Error(t, err)
}
