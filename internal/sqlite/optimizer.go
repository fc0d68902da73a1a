package sqlite

import (
	"context"
	"log/slog"
	"time"

	"github.com/myrjola/valuebench/internal/errors"
)

// optimize runs PRAGMA optimize. The commands are short-lived, so it runs once when the database is closed instead of
// on a timer. See https://www.sqlite.org/pragma.html#pragma_optimize.
func (db *Database) optimize(ctx context.Context) {
	start := time.Now()
	if _, err := db.ReadWrite.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
		err = errors.Wrap(err, "optimize database")
		db.logger.LogAttrs(ctx, slog.LevelError, "failed to optimize database", errors.SlogError(err))
		return
	}
	db.logger.LogAttrs(ctx, slog.LevelDebug, "optimized database",
		slog.Duration("duration", time.Since(start)))
}
