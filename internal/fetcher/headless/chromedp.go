// Package headless renders JavaScript-heavy listing pages with headless Chrome.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/reg-radar/internal/fetcher"
)

// Config controls the renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay gives client-side rendering time to populate link lists.
	SettleDelay time.Duration
}

// Renderer implements fetcher.Getter by loading the page in Chrome and
// returning the rendered DOM.
type Renderer struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New starts an exec allocator; Chrome itself launches on first use.
func New(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 750 * time.Millisecond
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the browser allocator.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Get navigates to url and returns the DOM after scripts have run.
func (r *Renderer) Get(ctx context.Context, url string) (fetcher.Response, error) {
	if err := r.acquire(ctx); err != nil {
		return fetcher.Response{}, err
	}
	defer r.release()

	tabCtx, tabCancel := chromedp.NewContext(r.allocator)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, r.cfg.NavigationTimeout)
	defer cancel()
	// Tie the tab to the caller's context as well as the navigation timeout.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentMeta{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tabCtx,
		r.userAgentAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.SettleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return fetcher.Response{}, fmt.Errorf("render canceled: %w", ctx.Err())
		}
		return fetcher.Response{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, headers, final := doc.result(url, location)
	return fetcher.Response{
		RequestedURL: url,
		URL:          final,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		Rendered:     true,
	}, nil
}

func (r *Renderer) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.slots == nil {
		return nil
	}
	select {
	case r.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.slots == nil {
		return
	}
	<-r.slots
}

// documentMeta keeps the status of the last top-level document response,
// which is the page we land on after redirects. The first document seen
// pins the main frame; documents loaded by other frames are ignored.
type documentMeta struct {
	mu      sync.Mutex
	seen    bool
	frame   cdp.FrameID
	status  int
	headers http.Header
	url     string
}

func (d *documentMeta) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		headers.Add(key, fmt.Sprint(value))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen && d.frame != resp.FrameID {
		return
	}
	d.seen, d.frame = true, resp.FrameID
	d.status = int(resp.Response.Status)
	d.headers = headers
	d.url = resp.Response.URL
}

// result falls back to the browser location, then the requested URL, and
// assumes 200 when no document event was seen.
func (d *documentMeta) result(requested, location string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, url := d.status, d.url
	headers := d.headers
	if headers == nil {
		headers = http.Header{}
	}
	switch {
	case location != "":
		url = location
	case url == "":
		url = requested
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}
