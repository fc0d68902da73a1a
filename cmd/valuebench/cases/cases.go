package cases

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/myrjola/valuebench/cmd/valuebench/app"
	"github.com/myrjola/valuebench/internal/conflict"
	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/ingest"
	"github.com/myrjola/valuebench/internal/models"
	"github.com/spf13/cobra"
)

var Group = &cobra.Group{
	ID:    "cases",
	Title: "Case store",
}

func init() {
	list.Flags().StringSlice("status", nil, "only list cases in these statuses, repeatable")
	Cases.AddCommand(ingestCmd, list, show, validate, reopen)
}

var Cases = &cobra.Command{
	Use:     "cases",
	GroupID: "cases",
	Short:   "Inspect and maintain the case store",
}

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Load case records written by the generation workflows",
	Long: `Each FILE holds one case record or a JSON array of them. A malformed file is reported and skipped as a
whole. Cases with an iteration from value tagging start in status tagged, the rest in drafted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(cmd, func(ctx context.Context, a *app.App) error {
			in := ingest.New(a.Cases, a.Logger)
			out := cmd.OutOrStdout()
			created, failed := 0, 0
			for _, path := range args {
				results, err := in.IngestFile(ctx, path)
				if err != nil {
					failed++
					_, _ = fmt.Fprintf(out, "file=%s error=%q\n", path, err.Error())
					continue
				}
				for _, r := range results {
					if r.Err != nil {
						failed++
						_, _ = fmt.Fprintf(out, "file=%s case=%s error=%q\n", path, r.CaseID, r.Err.Error())
						continue
					}
					created++
					_, _ = fmt.Fprintf(out, "file=%s case=%s created\n", path, r.CaseID)
				}
			}
			if _, err := fmt.Fprintf(out, "created=%d failed=%d\n", created, failed); err != nil {
				return errors.Wrap(err, "write summary")
			}
			if failed > 0 {
				return app.ErrRowsFailed
			}
			return nil
		})
	},
}

var list = &cobra.Command{
	Use:   "list",
	Short: "List cases in creation order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		raw, _ := cmd.Flags().GetStringSlice("status")
		statuses := make([]models.Status, 0, len(raw))
		for _, s := range raw {
			status, err := models.ParseStatus(s)
			if err != nil {
				return err //nolint:wrapcheck // already annotated.
			}
			statuses = append(statuses, status)
		}
		return app.Run(cmd, func(ctx context.Context, a *app.App) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tSTATUS\tITERATIONS\tCREATED")
			for c, err := range a.Cases.List(ctx, statuses...) {
				if err != nil {
					return errors.Wrap(err, "list cases")
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ID, c.Status, len(c.Iterations),
					c.CreatedAt.Format(time.RFC3339))
			}
			if err := w.Flush(); err != nil {
				return errors.Wrap(err, "flush case list")
			}
			return nil
		})
	},
}

var show = &cobra.Command{
	Use:   "show ID",
	Short: "Print the full iteration history of a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(cmd, func(ctx context.Context, a *app.App) error {
			c, err := a.Cases.Get(ctx, args[0])
			if err != nil {
				return err //nolint:wrapcheck // already annotated by the repository.
			}
			return writeCase(cmd.OutOrStdout(), c)
		})
	},
}

var validate = &cobra.Command{
	Use:   "validate ID",
	Short: "Run the value conflict rules on the current iteration of a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(cmd, func(ctx context.Context, a *app.App) error {
			c, err := a.Cases.Get(ctx, args[0])
			if err != nil {
				return err //nolint:wrapcheck // already annotated by the repository.
			}
			current, ok := c.Current()
			if !ok {
				return errors.New("case has no iterations")
			}
			result := conflict.ValidateTags(current.Tags)
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "case=%s iteration=%d %s\n", c.ID, current.Index, result.Summary())
			for _, v := range result.Violations {
				_, _ = fmt.Fprintf(out, "  %s: %s\n", v.Rule, v.Message)
			}
			return result.Err()
		})
	},
}

var reopen = &cobra.Command{
	Use:   "reopen ID",
	Short: "Move an approved or rejected case back to tagged",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Cases.Reopen(ctx, args[0]); err != nil {
				return err //nolint:wrapcheck // already annotated by the repository.
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "case=%s status=%s\n", args[0], models.StatusTagged)
			return err //nolint:wrapcheck // plain output.
		})
	},
}

func writeCase(w io.Writer, c *models.Case) error {
	var b strings.Builder
	fmt.Fprintf(&b, "case %s\nstatus %s\ncreated %s\n", c.ID, c.Status, c.CreatedAt.Format(time.RFC3339))
	for _, it := range c.Iterations {
		fmt.Fprintf(&b, "\niteration %d (%s, %s)\n", it.Index, it.Provenance, it.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&b, "  decision maker: %s\n  vignette: %s\n", it.DecisionMaker, it.Vignette)
		for i, choice := range []struct {
			text string
			tags models.ValueTagSet
		}{{it.Choice1, it.Tags.Choice1}, {it.Choice2, it.Tags.Choice2}} {
			fmt.Fprintf(&b, "  choice %d: %s\n   ", i+1, choice.text)
			for _, p := range models.Principles {
				fmt.Fprintf(&b, " %s=%s", p, choice.tags.Get(p))
			}
			b.WriteString("\n")
		}
		if it.Feedback != nil {
			for _, slot := range it.Feedback.Reviewers {
				fmt.Fprintf(&b, "  reviewer %s: %s %s\n", slot.Slot, slot.Name, slot.Decision)
			}
			if len(it.Feedback.Categories) > 0 {
				fmt.Fprintf(&b, "  categories: %s\n", strings.Join(it.Feedback.Categories, ", "))
			}
			if it.Feedback.Comments != "" {
				fmt.Fprintf(&b, "  comments: %s\n", it.Feedback.Comments)
			}
		}
		for _, a := range it.Annotations {
			fmt.Fprintf(&b, "  annotation: %s\n", a)
		}
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return errors.Wrap(err, "write case")
	}
	return nil
}
