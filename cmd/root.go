// Package cmd defines and implements the CLI commands for the reg-radar executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/reg-radar/internal/app"
	"github.com/JakeFAU/reg-radar/internal/config"
	"github.com/JakeFAU/reg-radar/internal/health"
	"github.com/JakeFAU/reg-radar/internal/logging"
	"github.com/JakeFAU/reg-radar/internal/metrics"
	"github.com/JakeFAU/reg-radar/internal/pipeline"
	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/store"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the service container, so tests can
// inject their own.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Store() store.Store
	Pipeline() *pipeline.Pipeline
	Reporter() (*health.Reporter, error)
	DumpTarget(ctx context.Context, out string) (radar.BlobStore, string, error)
	Close()
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "reg-radar",
		Short: "Discovers new policy and regulatory documents published by GCC authorities.",
		Long: `reg-radar walks the source registry of UAE, KSA and Qatar authorities,
collects candidate documents from RSS feeds, HTML listings and direct PDF
links, and stores them for the enrichment stage. It also reports pipeline
health and exports collected items as CSV.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	for _, sub := range []*cobra.Command{newCollectCmd(), newHealthCmd(), newDumpCmd()} {
		sub.RunE = closeAppAfter(sub.RunE)
		cmd.AddCommand(sub)
	}
	return cmd
}

// closeAppAfter closes the app once run returns. Cobra skips post-run hooks
// when RunE fails, so the close lives here instead.
func closeAppAfter(run func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer func() {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		}()
		return run(cmd, args)
	}
}

// Execute runs the CLI until it finishes or receives SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// parseCountry accepts the supported countries case-insensitively. Empty
// means no filter.
func parseCountry(raw string) (radar.Country, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	for _, c := range radar.Countries {
		if strings.EqualFold(raw, string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown country %q (want UAE, KSA or Qatar)", raw)
}

func parseOnly(raw string) (radar.CollectorType, error) {
	only, ok := radar.ParseCollectorType(raw)
	if !ok {
		return "", fmt.Errorf("unknown --only %q (want rss, html or pdf)", raw)
	}
	return only, nil
}

// pushMetrics exports this process's metrics when a Pushgateway is configured.
func pushMetrics(ctx context.Context, a App, command string) {
	cfg := a.Config().Metrics
	err := metrics.Push(context.WithoutCancel(ctx), cfg.PushgatewayURL, cfg.Job, map[string]string{"command": command})
	if err != nil {
		a.Logger().Warn("metrics push failed", zap.Error(err))
	}
}
