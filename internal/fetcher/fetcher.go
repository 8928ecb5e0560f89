// Package fetcher retrieves source pages over an ordered list of candidate
// URLs with bounded, linearly backed-off retries.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/reg-radar/internal/metrics"
)

// ErrNoResponse means every candidate failed on every pass.
var ErrNoResponse = errors.New("no response from any candidate")

// Default retry policy.
const (
	DefaultRetries     = 2
	DefaultBackoffStep = 1200 * time.Millisecond
)

// Response is a completed HTTP exchange.
type Response struct {
	RequestedURL string
	// URL is the final location after redirects.
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// Getter issues a single GET. Any HTTP status is a response; only transport
// failures are errors.
type Getter interface {
	Get(ctx context.Context, url string) (Response, error)
}

// StatusError reports a non-200 answer.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

// Config controls the retry loop.
type Config struct {
	// Retries is the number of extra passes over the candidate list.
	Retries int
	// BackoffStep is multiplied by the pass number before each new pass.
	BackoffStep time.Duration
}

// Resilient tries candidates in order and returns the first 200.
type Resilient struct {
	getter Getter
	cfg    Config
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

// NewResilient wraps a Getter with the candidate/retry policy.
func NewResilient(getter Getter, cfg Config, logger *zap.Logger) (*Resilient, error) {
	if getter == nil {
		return nil, fmt.Errorf("getter is required")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0")
	}
	if cfg.BackoffStep < 0 {
		return nil, fmt.Errorf("backoff step must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resilient{
		getter: getter,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepWithContext,
	}, nil
}

// Fetch walks the candidates up to Retries+1 times. Exhaustion returns an
// error wrapping ErrNoResponse and the last failure observed.
func (r *Resilient) Fetch(ctx context.Context, candidates []string) (Response, error) {
	if len(candidates) == 0 {
		return Response{}, fmt.Errorf("%w: no candidates", ErrNoResponse)
	}
	var lastErr error
	passes := r.cfg.Retries + 1
	for pass := 0; pass < passes; pass++ {
		for _, candidate := range candidates {
			if err := ctx.Err(); err != nil {
				return Response{}, fmt.Errorf("fetch canceled: %w", err)
			}
			resp, err := r.getter.Get(ctx, candidate)
			switch {
			case err != nil:
				lastErr = fmt.Errorf("get %s: %w", candidate, err)
				metrics.ObserveFetch(candidate, "error", 0)
			case resp.StatusCode != http.StatusOK:
				lastErr = &StatusError{URL: candidate, StatusCode: resp.StatusCode}
				metrics.ObserveFetch(candidate, "http_error", len(resp.Body))
			default:
				metrics.ObserveFetch(candidate, "ok", len(resp.Body))
				if resp.RequestedURL == "" {
					resp.RequestedURL = candidate
				}
				if resp.URL == "" {
					resp.URL = candidate
				}
				return resp, nil
			}
			r.logger.Debug("candidate failed",
				zap.String("url", candidate),
				zap.Int("pass", pass+1),
				zap.Error(lastErr),
			)
		}
		if pass < passes-1 {
			if err := r.sleep(ctx, r.cfg.BackoffStep*time.Duration(pass+1)); err != nil {
				return Response{}, err
			}
		}
	}
	return Response{}, fmt.Errorf("%w after %d passes: %w", ErrNoResponse, passes, lastErr)
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff sleep canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
