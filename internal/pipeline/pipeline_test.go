package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/reg-radar/internal/collector"
	"github.com/JakeFAU/reg-radar/internal/fetcher"
	collyfetcher "github.com/JakeFAU/reg-radar/internal/fetcher/colly"
	"github.com/JakeFAU/reg-radar/internal/ingest"
	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/storage/memory"
	"github.com/JakeFAU/reg-radar/internal/store"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

// stubCollector returns canned results per source ID.
type stubCollector struct {
	typ    radar.CollectorType
	items  map[string][]radar.IngestItem
	errs   map[string]error
	panics map[string]bool
	block  map[string]chan struct{}
}

func (s *stubCollector) Type() radar.CollectorType { return s.typ }

func (s *stubCollector) Accepts(src radar.Source) bool {
	_, hasItems := s.items[src.ID]
	_, hasErr := s.errs[src.ID]
	_, blocks := s.block[src.ID]
	return hasItems || hasErr || blocks || s.panics[src.ID]
}

func (s *stubCollector) Collect(ctx context.Context, src radar.Source) ([]radar.IngestItem, error) {
	if started, ok := s.block[src.ID]; ok {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.panics[src.ID] {
		panic("selector exploded")
	}
	if err, ok := s.errs[src.ID]; ok {
		return nil, err
	}
	return s.items[src.ID], nil
}

var now = time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)

func prio(p int) *int { return &p }

func source(id string, p int) radar.Source {
	return radar.Source{
		ID:        id,
		Country:   radar.CountryUAE,
		Authority: "Authority " + id,
		SourceURL: "https://" + id + ".gov.ae",
		Format:    "HTML",
		Priority:  prio(p),
		IsActive:  true,
	}
}

func doc(srcID, path string) radar.IngestItem {
	return radar.IngestItem{
		Country:    radar.CountryUAE,
		Authority:  "Authority " + srcID,
		SourceURL:  "https://" + srcID + ".gov.ae",
		DocURL:     "https://" + srcID + ".gov.ae" + path,
		SourceType: radar.SourceTypeHTML,
		Title:      path,
	}
}

func newPipeline(t *testing.T, db *memory.Store, cfg Config, collectors ...collector.Collector) *Pipeline {
	t.Helper()
	ids := &seqIDs{}
	clock := fixedClock{now}
	w, err := ingest.New(db, ids, clock, nil)
	require.NoError(t, err)
	p, err := New(db, collectors, w, db, ids, clock, nil, cfg)
	require.NoError(t, err)
	return p
}

func TestRunIsolatesFailingSource(t *testing.T) {
	t.Parallel()
	db := memory.NewStore(source("one", 1), source("two", 2), source("three", 3))
	html := &stubCollector{
		typ: radar.CollectorHTML,
		items: map[string][]radar.IngestItem{
			"one":   {doc("one", "/a")},
			"three": {doc("three", "/b"), doc("three", "/c")},
		},
		errs: map[string]error{"two": fmt.Errorf("fetch: %w", fetcher.ErrNoResponse)},
	}
	p := newPipeline(t, db, Config{}, html)

	res, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.OK)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, res.Write.Inserted)

	run, ok := db.Run(res.RunID)
	require.True(t, ok)
	assert.Equal(t, 2, run.OKCount)
	assert.Equal(t, 1, run.FailCount)
	require.NotNil(t, run.FinishedAt)
	assert.Contains(t, run.NotesOrEmpty(), "inserted=3")

	var docs []string
	for _, it := range db.Items() {
		docs = append(docs, it.DocURL)
	}
	assert.Equal(t, []string{"https://one.gov.ae/a", "https://three.gov.ae/b", "https://three.gov.ae/c"}, docs)
}

func TestRunRecoversPanics(t *testing.T) {
	t.Parallel()
	db := memory.NewStore(source("one", 1), source("two", 2))
	html := &stubCollector{
		typ:    radar.CollectorHTML,
		items:  map[string][]radar.IngestItem{"two": {doc("two", "/x")}},
		panics: map[string]bool{"one": true},
	}
	p := newPipeline(t, db, Config{Concurrency: 2}, html)

	res, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.OK)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, db.Items(), 1)
}

func TestCollectFirstWinsInPassOrder(t *testing.T) {
	t.Parallel()
	db := memory.NewStore(source("one", 1), source("two", 2))
	shared := doc("one", "/shared")

	fromHTML := shared
	fromHTML.Title = "html copy"
	fromRSS := shared
	fromRSS.Title = "rss copy"
	fromRSS.SourceType = radar.SourceTypeRSS
	fromRSS.DocURL = "http://www.one.gov.ae/shared/"

	html := &stubCollector{typ: radar.CollectorHTML, items: map[string][]radar.IngestItem{"one": {fromHTML}, "two": {doc("two", "/z")}}}
	rss := &stubCollector{typ: radar.CollectorRSS, items: map[string][]radar.IngestItem{"one": {fromRSS}}}
	// Registered out of order on purpose; the pipeline sorts into pass order.
	p := newPipeline(t, db, Config{Concurrency: 3}, html, rss)

	col, err := p.Collect(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, col.Items, 2)
	assert.Equal(t, "rss copy", col.Items[0].Title)
	assert.Equal(t, "https://one.gov.ae/shared", col.Items[0].DocURL)
	assert.Equal(t, 1, col.Dedup.Duplicates)

	col, err = p.Collect(context.Background(), Options{Only: radar.CollectorHTML})
	require.NoError(t, err)
	require.Len(t, col.Items, 2)
	assert.Equal(t, "html copy", col.Items[0].Title)
	assert.Equal(t, 2, col.Tasks)
}

func TestRunDryRunPersistsNothing(t *testing.T) {
	t.Parallel()
	db := memory.NewStore(source("one", 1))
	html := &stubCollector{typ: radar.CollectorHTML, items: map[string][]radar.IngestItem{"one": {doc("one", "/a")}}}
	p := newPipeline(t, db, Config{}, html)

	res, err := p.Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, res.RunID)
	assert.True(t, res.Write.DryRun)
	assert.Len(t, res.Write.Preview, 1)
	assert.Empty(t, db.Items())
	assert.Empty(t, db.Runs())
}

func TestRunWithNoSources(t *testing.T) {
	t.Parallel()
	db := memory.NewStore(source("one", 1))
	html := &stubCollector{typ: radar.CollectorHTML}
	p := newPipeline(t, db, Config{}, html)

	res, err := p.Run(context.Background(), Options{Country: radar.CountryKSA})
	require.NoError(t, err)
	assert.Equal(t, "no-sources", res.Notes)

	run, ok := db.Run(res.RunID)
	require.True(t, ok)
	assert.Equal(t, "no-sources", run.NotesOrEmpty())
	assert.Zero(t, run.FailCount)
}

type brokenRegistry struct{}

func (brokenRegistry) ActiveSources(context.Context, store.SourceQuery) ([]radar.Source, error) {
	return nil, errors.New("connection refused")
}

func TestRunRecordsFatalError(t *testing.T) {
	t.Parallel()
	db := memory.NewStore()
	ids := &seqIDs{}
	w, err := ingest.New(db, ids, fixedClock{now}, nil)
	require.NoError(t, err)
	p, err := New(brokenRegistry{}, []collector.Collector{collector.NewPDF()}, w, db, ids, fixedClock{now}, nil, Config{})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), Options{})
	require.ErrorContains(t, err, "connection refused")

	run, ok := db.Run(res.RunID)
	require.True(t, ok)
	assert.Equal(t, 1, run.FailCount)
	assert.True(t, strings.HasPrefix(run.NotesOrEmpty(), "fatal: load sources"))
}

func TestRunCancelledWritesCompletedTasks(t *testing.T) {
	t.Parallel()
	db := memory.NewStore(source("one", 1), source("two", 2))
	started := make(chan struct{})
	html := &stubCollector{
		typ:   radar.CollectorHTML,
		items: map[string][]radar.IngestItem{"one": {doc("one", "/done")}},
		block: map[string]chan struct{}{"two": started},
	}
	p := newPipeline(t, db, Config{Concurrency: 1}, html)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	res, err := p.Run(ctx, Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, res.OK)
	assert.Equal(t, 1, res.Failed)

	require.Len(t, db.Items(), 1)
	run, ok := db.Run(res.RunID)
	require.True(t, ok)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, strings.HasPrefix(run.NotesOrEmpty(), "cancelled"))
}

const e2eFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>QCB</title>
<item><title>Circular 12</title><link>https://www.qcb.gov.qa/en/circulars/12</link><description>First</description></item>
<item><title>Circular 12 (mirror)</title><link>http://qcb.gov.qa/en/circulars/12/</link></item>
<item><title>Circular 13</title><link>https://qcb.gov.qa/en/circulars/13#top</link></item>
</channel></rss>`

func TestRunEndToEndRSS(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(e2eFeed))
	}))
	defer srv.Close()

	getter := collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second})
	fetch, err := fetcher.NewResilient(getter, fetcher.Config{Retries: 0}, nil)
	require.NoError(t, err)
	rss, err := collector.NewRSS(fetch, 0, nil)
	require.NoError(t, err)

	src := radar.Source{
		ID: "qcb", Country: radar.CountryQatar, Authority: "QCB",
		SourceURL: "https://www.qcb.gov.qa", HasRSS: true, RSSURL: srv.URL + "/feed", IsActive: true,
	}
	db := memory.NewStore(src)
	p := newPipeline(t, db, Config{}, rss, collector.NewPDF())

	res, err := p.Run(context.Background(), Options{Only: radar.CollectorRSS})
	require.NoError(t, err)
	assert.Equal(t, 1, res.OK)
	assert.Equal(t, 2, res.Write.Inserted)

	items := db.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "https://qcb.gov.qa/en/circulars/12", items[0].DocURL)
	assert.Equal(t, "Circular 12", items[0].Title)
	assert.Equal(t, "https://qcb.gov.qa/en/circulars/13", items[1].DocURL)
	assert.Equal(t, "https://qcb.gov.qa", items[0].SourceURL)
	assert.Equal(t, now, items[0].CreatedAt)

	// A second pass finds the same documents and updates them in place.
	res, err = p.Run(context.Background(), Options{Only: radar.CollectorRSS})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Write.Updated)
	assert.Len(t, db.Items(), 2)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	db := memory.NewStore()
	_, err := New(nil, []collector.Collector{collector.NewPDF()}, nil, db, &seqIDs{}, fixedClock{now}, nil, Config{})
	require.Error(t, err)
	_, err = New(db, nil, nil, db, &seqIDs{}, fixedClock{now}, nil, Config{})
	require.Error(t, err)

	p, err := New(db, []collector.Collector{collector.NewPDF()}, nil, nil, &seqIDs{}, fixedClock{now}, nil, Config{})
	require.NoError(t, err)
	_, err = p.Run(context.Background(), Options{})
	require.Error(t, err, "a real run needs a writer and a run log")
}
