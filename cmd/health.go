package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/reg-radar/internal/health"
	"github.com/JakeFAU/reg-radar/internal/staleness"
)

type healthFlags struct {
	country         string
	minSilenceHours int
	overrides       string
	sinceHours      int
	onlyIfIssues    bool
	dryRun          bool
}

func newHealthCmd() *cobra.Command {
	var flags healthFlags
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Emails a pipeline health report",
		Long: `Reports the enrichment backlog, recent failed runs and sources that have
gone silent, then sends the report through Mailgun. With --only-if-issues
nothing is sent unless there are failed runs or silent sources.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealth(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.country, "country", "", "restrict to UAE, KSA or Qatar")
	cmd.Flags().IntVar(&flags.minSilenceHours, "min-silence-hours", staleness.DefaultThresholdHours, "default silence threshold in hours")
	cmd.Flags().StringVar(&flags.overrides, "silence-overrides", "", `per-authority thresholds, e.g. "PSA=48,NCSA=96"`)
	cmd.Flags().IntVar(&flags.sinceHours, "since-hours", health.DefaultSinceHours, "look-back window for failed runs")
	cmd.Flags().BoolVar(&flags.onlyIfIssues, "only-if-issues", false, "send only when there are failed runs or silent sources")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "print the report instead of sending it")
	return cmd
}

func runHealth(cmd *cobra.Command, flags healthFlags) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := a.Config().Health

	country, err := parseCountry(flags.country)
	if err != nil {
		return err
	}
	opts := health.Options{
		Country:         country,
		MinSilenceHours: cfg.MinSilenceHours,
		Overrides:       cfg.SilenceOverrides(),
		SinceHours:      cfg.SinceHours,
		MaxRows:         cfg.MaxRows,
		OnlyIfIssues:    flags.onlyIfIssues,
		DryRun:          flags.dryRun,
	}
	if cmd.Flags().Changed("min-silence-hours") {
		opts.MinSilenceHours = flags.minSilenceHours
	}
	if cmd.Flags().Changed("silence-overrides") {
		opts.Overrides = staleness.ParseOverrides(flags.overrides)
	}
	if cmd.Flags().Changed("since-hours") {
		opts.SinceHours = flags.sinceHours
	}

	reporter, err := a.Reporter()
	if err != nil {
		return err
	}
	defer pushMetrics(cmd.Context(), a, "health")

	outcome, err := reporter.Run(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	a.Logger().Info("health check finished",
		zap.String("run_id", outcome.RunID),
		zap.Bool("sent", outcome.Sent),
		zap.Bool("suppressed", outcome.Suppressed),
		zap.String("notes", outcome.Notes),
	)
	if outcome.Suppressed {
		fmt.Fprintln(cmd.OutOrStdout(), "No problems detected; nothing sent.")
	}
	return nil
}
