package sheet

import (
	"context"

	"github.com/myrjola/valuebench/cmd/valuebench/app"
	"github.com/myrjola/valuebench/internal/sheetsync"
	"github.com/spf13/cobra"
)

var Group = &cobra.Group{
	ID:    "sheet",
	Title: "Review sheet",
}

func init() {
	Export.Flags().Bool("dry-run", false, "report what would be written without touching the sheet")
	Export.Flags().Bool("append", false, "only add rows for cases the sheet does not list yet")

	Import.Flags().Bool("dry-run", false,
		"write the verdicts back and report what an import would do without changing cases")
	Import.Flags().Bool("validate-only", false, "only write the verdicts back and report the violations")
	Import.Flags().Bool("force", false, "import rows that fail validation and keep the violations as annotations")
	Import.MarkFlagsMutuallyExclusive("dry-run", "validate-only", "force")
}

func newSynchronizer(ctx context.Context, a *app.App) (*sheetsync.Synchronizer, error) {
	surface, err := a.Surface(ctx)
	if err != nil {
		return nil, err
	}
	return sheetsync.New(a.Cases, surface, a.Config.Policy(), a.Metrics, a.Logger), nil
}

var Export = &cobra.Command{
	Use:     "export",
	GroupID: "sheet",
	Short:   "Write reviewable and decided cases to the review sheet",
	Long: `Writes one row per case in status tagged, under_review, approved or rejected. Tagged cases move to
under_review once their row is written. By default the sheet is replaced, --append keeps existing rows.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		appendRows, _ := cmd.Flags().GetBool("append")
		opts := sheetsync.ExportOptions{Mode: sheetsync.ExportReplace, DryRun: dryRun}
		if appendRows {
			opts.Mode = sheetsync.ExportAppend
		}
		return app.Run(cmd, func(ctx context.Context, a *app.App) error {
			sync, err := newSynchronizer(ctx, a)
			if err != nil {
				return err
			}
			report, err := sync.Export(ctx, opts)
			if err != nil {
				return err
			}
			if err = report.WriteSummary(cmd.OutOrStdout()); err != nil {
				return err
			}
			if report.Failed > 0 {
				return app.ErrRowsFailed
			}
			return nil
		})
	},
}

var Import = &cobra.Command{
	Use:     "import",
	GroupID: "sheet",
	Short:   "Validate reviewed rows and import them as new iterations",
	Long: `Reads every row of the review sheet, validates its value tags and writes the verdict into the
"Validation Result" column. Without flags, valid changed rows become new iterations and the reviewer decisions
set the case status. Rows that were imported before are reported as duplicates; their verdict and the current
case status are written again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		mode := sheetsync.ImportCommit
		for flag, m := range map[string]sheetsync.ImportMode{
			"dry-run":       sheetsync.ImportDryRun,
			"validate-only": sheetsync.ImportValidateOnly,
			"force":         sheetsync.ImportForce,
		} {
			if set, _ := cmd.Flags().GetBool(flag); set {
				mode = m
			}
		}
		return app.Run(cmd, func(ctx context.Context, a *app.App) error {
			sync, err := newSynchronizer(ctx, a)
			if err != nil {
				return err
			}
			report, err := sync.Import(ctx, mode)
			if err != nil {
				return err
			}
			if err = report.WriteSummary(cmd.OutOrStdout()); err != nil {
				return err
			}
			if report.Failed() {
				return app.ErrRowsFailed
			}
			return nil
		})
	},
}
