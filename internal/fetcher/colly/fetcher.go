// Package collyfetcher implements fetcher.Getter using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/reg-radar/internal/fetcher"
)

// DefaultUserAgent identifies the crawler to government webmasters.
const DefaultUserAgent = "reg-radar/1.0 (+https://github.com/JakeFAU/reg-radar)"

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	RespectRobots  bool
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

// Getter implements fetcher.Getter using the Colly collector.
type Getter struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Getter. Transport and timeout live on the shared backend, so
// they are set once here rather than per request.
func New(cfg Config) *Getter {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 40 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport(cfg.ConnectTimeout))
	c.SetRequestTimeout(cfg.Timeout)

	return &Getter{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Get executes a single HTTP GET using Colly, following redirects.
func (g *Getter) Get(ctx context.Context, url string) (fetcher.Response, error) {
	var (
		result   fetcher.Response
		fetchErr error
	)
	start := time.Now()
	collector := g.buildCollector()
	configureCollectorHooks(collector, url, start, &result, &fetchErr)

	if err := runCollector(ctx, collector, url, &fetchErr); err != nil {
		return fetcher.Response{}, err
	}
	return result, nil
}

func (g *Getter) buildCollector() *colly.Collector {
	collector := g.baseCollector.Clone()
	collector.UserAgent = g.cfg.UserAgent
	collector.IgnoreRobotsTxt = !g.cfg.RespectRobots
	collector.AllowURLRevisit = true
	// Status handling belongs to the caller, so non-2xx pages reach OnResponse.
	collector.ParseHTTPErrorResponse = true
	return collector
}

func configureCollectorHooks(
	hooks collectorHooks,
	requested string,
	start time.Time,
	result *fetcher.Response,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = fetcher.Response{
			RequestedURL: requested,
			URL:          r.Request.URL.String(),
			StatusCode:   r.StatusCode,
			Headers:      headers,
			Body:         append([]byte(nil), r.Body...),
			Duration:     time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport(connectTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
