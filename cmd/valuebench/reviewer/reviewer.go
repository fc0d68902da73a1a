package reviewer

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/myrjola/valuebench/cmd/valuebench/app"
	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/review"
	"github.com/myrjola/valuebench/internal/tui"
	"github.com/spf13/cobra"
)

var Group = &cobra.Group{
	ID:    "review",
	Title: "Reviewing",
}

func init() {
	Review.Flags().String("reviewer", "", "reviewer id, prompted for when empty")
	Session.AddCommand(reset)
}

var Review = &cobra.Command{
	Use:     "review",
	GroupID: "review",
	Short:   "Review the queue of tagged cases interactively",
	Long: `Presents every tagged or under_review case the reviewer has not decided yet. Each decision is saved
immediately, so quitting and starting again resumes after the last decided case.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		reviewerID, _ := cmd.Flags().GetString("reviewer")
		return app.Run(cmd, func(ctx context.Context, a *app.App) error {
			manager := review.NewManager(a.Cases, a.Sessions, a.Config.Policy(), a.Metrics, a.Logger)
			model := tui.NewReview(ctx, manager, reviewerID)
			program := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen(),
				tea.WithInput(cmd.InOrStdin()), tea.WithOutput(cmd.OutOrStdout()))
			if _, err := program.Run(); err != nil {
				return errors.Wrap(err, "run review ui")
			}
			if err := model.Err(); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "decided=%d\n", model.Decided())
			return err //nolint:wrapcheck // plain output.
		})
	},
}

var Session = &cobra.Command{
	Use:     "session",
	GroupID: "review",
	Short:   "Manage reviewer sessions",
}

var reset = &cobra.Command{
	Use:   "reset REVIEWER",
	Short: "Delete a reviewer's session so the next review starts from the first eligible case",
	Long: `Deletes the session file of the reviewer. Case statuses are not touched, so cases the reviewer
already decided are only presented again if they are still tagged or under_review.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Sessions.Reset(ctx, args[0]); err != nil {
				return err //nolint:wrapcheck // already annotated by the store.
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "reset session of %s\n", args[0])
			return err //nolint:wrapcheck // plain output.
		})
	},
}
