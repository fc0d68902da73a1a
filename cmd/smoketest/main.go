package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/myrjola/valuebench/internal/config"
	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/logging"
	"github.com/myrjola/valuebench/internal/models"
	"github.com/myrjola/valuebench/internal/sheets"
	"github.com/myrjola/valuebench/internal/sheetsync"
)

// checkSheet connects to the review sheet and verifies its header without writing anything.
func checkSheet(ctx context.Context, s config.Sheets, logger *slog.Logger) (int, error) {
	google, err := sheets.NewGoogleSurface(ctx, s.SpreadsheetID, s.SheetName, s.CredentialsPath)
	if err != nil {
		return 0, errors.Wrap(err, "connect to sheets")
	}
	surface := sheets.WithRetry(google, s.RetryConfig(), nil, logger)
	// The checker never touches cases, so it runs without a case store.
	sync := sheetsync.New(nil, surface, models.LastWriterWins, nil, logger)
	rows, err := sync.Check(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "check sheet")
	}
	return rows, nil
}

func main() {
	logger := logging.NewLogger(os.Stdout, slog.LevelDebug)
	ctx := context.Background()

	if len(os.Args) != 2 { //nolint:mnd // we expect only the sheets config to be passed as argument.
		logger.LogAttrs(ctx, slog.LevelError, "usage: smoketest <sheets_config.yaml>")
		os.Exit(1)
	}
	ctx = logging.WithAttrs(ctx, slog.String("sheets_config", os.Args[1]))

	s, err := config.LoadSheets(os.Args[1])
	if err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "error loading sheets config", errors.SlogError(err))
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	start := time.Now()
	rows, err := checkSheet(ctx, s, logger)
	if err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "error checking sheet", errors.SlogError(err))
		cancel()
		os.Exit(1) //nolint:gocritic // cancel is called above.
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "smoke test successful",
		slog.String("spreadsheet_id", s.SpreadsheetID),
		slog.Int("rows", rows),
		slog.Duration("duration", time.Since(start)))
}
