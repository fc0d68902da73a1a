package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/models"
	"github.com/myrjola/valuebench/internal/repositories"
	"github.com/myrjola/valuebench/internal/sqlite"
	"github.com/myrjola/valuebench/internal/testhelpers"
)

// verify walks every case after the schema sync and checks that it still loads with a current iteration and a known
// status.
func verify(ctx context.Context, db *sqlite.Database, logger *slog.Logger) (int, error) {
	var integrity string
	if err := db.ReadOnly.GetContext(ctx, &integrity, `PRAGMA integrity_check`); err != nil {
		return 0, errors.Wrap(err, "integrity check")
	}
	if integrity != "ok" {
		return 0, errors.New("integrity check failed", slog.String("result", integrity))
	}
	count := 0
	for c, err := range repositories.NewCaseRepository(db, logger).List(ctx) {
		if err != nil {
			return count, errors.Wrap(err, "load case")
		}
		if _, ok := c.Current(); !ok {
			return count, errors.New("case without iterations", slog.String("case_id", c.ID))
		}
		if _, err = models.ParseStatus(string(c.Status)); err != nil {
			return count, errors.Wrap(err, "check status", slog.String("case_id", c.ID))
		}
		count++
	}
	return count, nil
}

func main() {
	logger := testhelpers.NewLogger(os.Stdout)
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sqliteURL, ok := os.LookupEnv("VALUEBENCH_SQLITE_URL")
	if !ok {
		logger.LogAttrs(ctx, slog.LevelError, "VALUEBENCH_SQLITE_URL not set")
		os.Exit(1) //nolint:gocritic // nothing to clean up yet.
	}

	db, err := sqlite.NewDatabase(ctx, sqliteURL, logger)
	if err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "error creating database",
			slog.String("url", sqliteURL), errors.SlogError(err))
		os.Exit(1)
	}
	count, err := verify(ctx, db, logger)
	if closeErr := db.Close(ctx); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "error verifying cases", slog.Int("verified", count), errors.SlogError(err))
		os.Exit(1)
	}
	if count == 0 {
		logger.LogAttrs(ctx, slog.LevelWarn, "no cases found, is this the right database?")
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "migration test successful",
		slog.Int("cases", count), slog.Duration("duration", time.Since(start)))
}
