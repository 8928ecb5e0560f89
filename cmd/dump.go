package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/reg-radar/internal/export"
	"github.com/JakeFAU/reg-radar/internal/pipeline"
	"github.com/JakeFAU/reg-radar/internal/radar"
)

type dumpFlags struct {
	limit      int
	only       string
	country    string
	out        string
	fromStore  bool
	sourceType string
}

func newDumpCmd() *cobra.Command {
	var flags dumpFlags
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Collects without persisting and writes the items as CSV",
		Long: `Runs the collectors over a few sources and writes what they find to a
semicolon separated CSV, either a local file or gs://bucket/object.
Nothing is written to the database. With --from-store the rows come from
already stored items instead of a fresh collection.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDump(cmd, flags)
		},
	}
	cmd.Flags().IntVar(&flags.limit, "limit", 5, "maximum number of sources, or rows with --from-store")
	cmd.Flags().StringVar(&flags.only, "only", "html", "run a single collector: rss, html or pdf")
	cmd.Flags().StringVar(&flags.country, "country", "", "restrict to UAE, KSA or Qatar")
	cmd.Flags().StringVar(&flags.out, "out", "", "output path or gs://bucket/object (default items_dump_<UTC ts>.csv)")
	cmd.Flags().BoolVar(&flags.fromStore, "from-store", false, "export stored items instead of collecting")
	cmd.Flags().StringVar(&flags.sourceType, "source-type", string(radar.SourceTypeHTML), "ingest_source_type to export with --from-store")
	return cmd
}

func runDump(cmd *cobra.Command, flags dumpFlags) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var items []radar.IngestItem
	if flags.fromStore {
		items, err = a.Store().ItemsForExport(ctx, radar.SourceType(flags.sourceType), flags.limit)
		if err != nil {
			return fmt.Errorf("dump: %w", err)
		}
	} else {
		only, err := parseOnly(flags.only)
		if err != nil {
			return err
		}
		country, err := parseCountry(flags.country)
		if err != nil {
			return err
		}
		defer pushMetrics(ctx, a, "dump")
		col, err := a.Pipeline().Collect(ctx, pipeline.Options{
			Limit:   flags.limit,
			Only:    only,
			Country: country,
			DryRun:  true,
		})
		if err != nil {
			return fmt.Errorf("dump: %w", err)
		}
		items = col.Items
	}

	blobs, name, err := a.DumpTarget(ctx, flags.out)
	if err != nil {
		return err
	}
	uri, err := export.Dump(ctx, blobs, name, items)
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	a.Logger().Info("dump written", zap.String("uri", uri), zap.Int("items", len(items)))
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d items to %s\n", len(items), uri)
	return nil
}
