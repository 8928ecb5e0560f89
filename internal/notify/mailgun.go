package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Mailgun defaults.
const (
	DefaultMailgunBaseURL = "https://api.mailgun.net/v3"
	DefaultAttempts       = 3
	DefaultBackoff        = 2 * time.Second
	DefaultTimeout        = 20 * time.Second
)

// MailgunConfig configures the Mailgun HTTP API channel.
type MailgunConfig struct {
	APIKey   string
	Domain   string
	To       []string
	BaseURL  string
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

// Mailgun sends through the Mailgun messages endpoint.
type Mailgun struct {
	cfg    MailgunConfig
	client *http.Client
	out    io.Writer
	logger *zap.Logger
}

// NewMailgun validates cfg. client and out default to a timed http.Client
// and stdout. A client without its own timeout gets cfg.Timeout.
func NewMailgun(cfg MailgunConfig, client *http.Client, out io.Writer, logger *zap.Logger) (*Mailgun, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.Domain) == "" {
		return nil, fmt.Errorf("mailgun api key and domain are required")
	}
	if len(cfg.To) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMailgunBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	switch {
	case client == nil:
		client = &http.Client{Timeout: cfg.Timeout}
	case client.Timeout <= 0:
		timed := *client
		timed.Timeout = cfg.Timeout
		client = &timed
	}
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailgun{cfg: cfg, client: client, out: out, logger: logger}, nil
}

// Timeout is the per-request limit applied to Mailgun calls.
func (m *Mailgun) Timeout() time.Duration { return m.client.Timeout }

// From is the sender address derived from the domain.
func (m *Mailgun) From() string {
	return fmt.Sprintf("GCC Radar Alerts <alerts@%s>", m.cfg.Domain)
}

// Send implements Channel. Transport errors, 429 and 5xx are retried;
// other statuses fail at once.
func (m *Mailgun) Send(ctx context.Context, msg Message, dryRun bool) error {
	if len(msg.To) == 0 {
		msg.To = m.cfg.To
	}
	if dryRun {
		return printDryRun(m.out, msg)
	}

	form := url.Values{}
	form.Set("from", m.From())
	for _, to := range msg.To {
		form.Add("to", to)
	}
	form.Set("subject", msg.Subject)
	form.Set("text", msg.Text)
	if msg.HTML != "" {
		form.Set("html", msg.HTML)
	}
	endpoint := fmt.Sprintf("%s/%s/messages", m.cfg.BaseURL, m.cfg.Domain)

	attempt := 0
	op := func() error {
		attempt++
		err := m.post(ctx, endpoint, form)
		if err != nil {
			m.logger.Warn("mailgun send attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.cfg.Backoff), uint64(m.cfg.Attempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("mailgun send after %d attempt(s): %w", attempt, err)
	}
	m.logger.Info("notification sent", zap.String("subject", msg.Subject), zap.Int("attempts", attempt))
	return nil
}

func (m *Mailgun) post(ctx context.Context, endpoint string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.SetBasicAuth("api", m.cfg.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("mailgun status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	default:
		return backoff.Permanent(fmt.Errorf("mailgun status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
}
