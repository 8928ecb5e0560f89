package collector

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/reg-radar/internal/fetcher"
	"github.com/JakeFAU/reg-radar/internal/metrics"
	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/sites"
)

var skippedHrefPrefixes = []string{"#", "mailto:", "tel:", "javascript:"}

// HTML extracts relevant document links from listing pages.
type HTML struct {
	fetch    PageFetcher
	render   PageFetcher
	shell    ShellDetector
	rules    sites.Table
	maxItems int
	logger   *zap.Logger
}

// HTMLOption customizes the HTML collector.
type HTMLOption func(*HTML)

// WithRenderer routes sources flagged requires_js through a headless fetcher.
func WithRenderer(render PageFetcher) HTMLOption {
	return func(h *HTML) { h.render = render }
}

// ShellDetector spots plain responses that need a browser to show their links.
type ShellDetector interface {
	NeedsRender(resp fetcher.Response) bool
}

// WithShellDetector lets sources not flagged requires_js fall back to the
// renderer when the plain page comes back as an empty script shell.
func WithShellDetector(d ShellDetector) HTMLOption {
	return func(h *HTML) { h.shell = d }
}

// WithRules swaps the per-host rule table.
func WithRules(rules sites.Table) HTMLOption {
	return func(h *HTML) { h.rules = rules }
}

// NewHTML builds the listing-page collector.
func NewHTML(fetch PageFetcher, maxItems int, logger *zap.Logger, opts ...HTMLOption) (*HTML, error) {
	if fetch == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HTML{
		fetch:    fetch,
		rules:    sites.DefaultRules,
		maxItems: maxItemsOrDefault(maxItems),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Type implements Collector.
func (c *HTML) Type() radar.CollectorType { return radar.CollectorHTML }

// Accepts implements Collector.
func (c *HTML) Accepts(src radar.Source) bool { return src.HasFormat("HTML") }

// Collect implements Collector.
func (c *HTML) Collect(ctx context.Context, src radar.Source) ([]radar.IngestItem, error) {
	candidates := c.rules.Candidates(src.SourceURL)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidate urls for %q", src.SourceURL)
	}

	fetch := c.fetch
	rendered := src.RequiresJS && c.render != nil
	if rendered {
		fetch = c.render
	}
	c.logger.Info("reading listing page",
		zap.String("authority", src.Authority),
		zap.String("url", candidates[0]),
		zap.Int("candidates", len(candidates)),
		zap.Bool("rendered", rendered),
	)
	resp, err := fetch.Fetch(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("fetch listing %s: %w", candidates[0], err)
	}

	items, err := c.extract(src, resp.URL, resp.Body)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 && !rendered && c.render != nil && c.shell != nil && c.shell.NeedsRender(resp) {
		c.logger.Info("listing looks script rendered; retrying headless",
			zap.String("authority", src.Authority),
			zap.String("url", resp.URL),
		)
		metrics.ObserveRenderPromotion(resp.URL)
		resp, err = c.render.Fetch(ctx, candidates)
		if err != nil {
			return nil, fmt.Errorf("render listing %s: %w", candidates[0], err)
		}
		if items, err = c.extract(src, resp.URL, resp.Body); err != nil {
			return nil, err
		}
	}
	c.logger.Info("html collected",
		zap.String("authority", src.Authority),
		zap.String("final_url", resp.URL),
		zap.Int("items", len(items)),
	)
	return items, nil
}

func (c *HTML) extract(src radar.Source, pageURL string, body []byte) ([]radar.IngestItem, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url %q: %w", pageURL, err)
	}
	// Relevance rules follow the page that was fetched, not its <base>.
	pageHost := base.Hostname()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html from %s: %w", pageURL, err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(ref)
		}
	}

	items := make([]radar.IngestItem, 0)
	seen := make(map[string]struct{})
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || hasSkippedPrefix(href) {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref).String()
		if !sites.HasHTTPScheme(abs) {
			return true
		}
		if _, dup := seen[abs]; dup {
			return true
		}
		seen[abs] = struct{}{}
		if !c.rules.Relevant(abs, pageHost) {
			return true
		}

		title := collapseSpace(a.Text())
		if title == "" {
			title = abs
		}
		kind := radar.SourceTypeHTML
		if sites.IsPDF(abs) {
			kind = radar.SourceTypePDFLink
		}
		items = append(items, radar.IngestItem{
			Country:    src.Country,
			Authority:  src.Authority,
			SourceURL:  src.SourceURL,
			DocURL:     abs,
			SourceType: kind,
			Title:      truncateRunes(title, maxTitleRunes),
			RawMeta:    map[string]string{"from_page": pageURL},
		})
		return len(items) < c.maxItems
	})
	return items, nil
}

func hasSkippedPrefix(href string) bool {
	lowered := strings.ToLower(href)
	for _, prefix := range skippedHrefPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return true
		}
	}
	return false
}
