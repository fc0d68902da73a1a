// Package app wires the components every valuebench command shares.
package app

import (
	"context"
	"log/slog"
	"os"

	"github.com/myrjola/valuebench/internal/config"
	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/logging"
	"github.com/myrjola/valuebench/internal/metrics"
	"github.com/myrjola/valuebench/internal/pprofserver"
	"github.com/myrjola/valuebench/internal/repositories"
	"github.com/myrjola/valuebench/internal/sessionstore"
	"github.com/myrjola/valuebench/internal/sheets"
	"github.com/myrjola/valuebench/internal/sqlite"
	"github.com/spf13/cobra"
)

// ErrRowsFailed makes a command exit non-zero after it printed its summary.
var ErrRowsFailed = errors.NewSentinel("some rows failed")

type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	DB       *sqlite.Database
	Cases    *repositories.CaseRepository
	Sessions *sessionstore.FileStore

	stopPprof func()
}

func Open(ctx context.Context) (*App, error) {
	cfg, err := config.Load(os.LookupEnv)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	logger := logging.NewLogger(os.Stderr, cfg.Level())
	db, err := sqlite.NewDatabase(ctx, cfg.SQLiteURL, logger)
	if err != nil {
		return nil, errors.Wrap(err, "open database", slog.String("url", cfg.SQLiteURL))
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "connected to db", slog.String("url", cfg.SQLiteURL))
	a := &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics.New(),
		DB:        db,
		Cases:     repositories.NewCaseRepository(db, logger),
		Sessions:  sessionstore.NewFileStore(cfg.SessionsDir, logger),
		stopPprof: func() {},
	}
	if cfg.PprofAddr != "" {
		if a.stopPprof, err = pprofserver.Launch(ctx, cfg.PprofAddr, logger); err != nil {
			_ = db.Close(ctx)
			return nil, errors.Wrap(err, "launch pprof server")
		}
	}
	return a, nil
}

// Surface connects to the spreadsheet named in the sheets config. Calls are retried with backoff and time-boxed.
func (a *App) Surface(ctx context.Context) (sheets.Surface, error) {
	s, err := config.LoadSheets(a.Config.SheetsConfig)
	if err != nil {
		return nil, errors.Wrap(err, "load sheets config")
	}
	google, err := sheets.NewGoogleSurface(ctx, s.SpreadsheetID, s.SheetName, s.CredentialsPath)
	if err != nil {
		return nil, errors.Wrap(err, "connect to sheets")
	}
	return sheets.WithRetry(google, s.RetryConfig(), a.Metrics, a.Logger), nil
}

// Close writes the metrics file, if configured, and closes the database.
func (a *App) Close(ctx context.Context) error {
	a.stopPprof()
	var errs []error
	if err := a.Metrics.WriteFile(a.Config.MetricsFile); err != nil {
		errs = append(errs, err)
	}
	if err := a.DB.Close(ctx); err != nil {
		errs = append(errs, errors.Wrap(err, "close database"))
	}
	return errors.Join(errs...)
}

// Run opens the App for the duration of fn.
func Run(cmd *cobra.Command, fn func(ctx context.Context, a *App) error) error {
	ctx := cmd.Context()
	a, err := Open(ctx)
	if err != nil {
		return err
	}
	err = fn(ctx, a)
	if closeErr := a.Close(ctx); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if err != nil && !errors.Is(err, ErrRowsFailed) {
		a.Logger.LogAttrs(ctx, slog.LevelError, "command failed",
			slog.String("command", cmd.CommandPath()), errors.SlogError(err))
	}
	return err
}
