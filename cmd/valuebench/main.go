package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/myrjola/valuebench/cmd/valuebench/app"
	"github.com/myrjola/valuebench/cmd/valuebench/cases"
	"github.com/myrjola/valuebench/cmd/valuebench/reviewer"
	"github.com/myrjola/valuebench/cmd/valuebench/sheet"
	"github.com/myrjola/valuebench/internal/errors"
	"github.com/spf13/cobra"
)

func init() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	rootCmd.AddGroup(sheet.Group, reviewer.Group, cases.Group)
	rootCmd.AddCommand(sheet.Export, sheet.Import)
	rootCmd.AddCommand(reviewer.Review, reviewer.Session)
	rootCmd.AddCommand(cases.Cases)
}

var rootCmd = &cobra.Command{
	Use:  "valuebench",
	Long: `Lifecycle and validation of ethical dilemma cases: review sheet export and import, interactive review.`,
	// Errors are logged by the command and the summary is already on stdout.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, app.ErrRowsFailed) {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func main() {
	Execute()
}
