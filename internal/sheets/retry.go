package sheets

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/metrics"
)

// RetryConfig bounds how long and how often a surface call is attempted.
type RetryConfig struct {
	// MaxAttempts counts the first call, so 1 disables retries.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Timeout applies to each attempt separately.
	Timeout time.Duration
}

type retryingSurface struct {
	next    Surface
	cfg     RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// WithRetry wraps next so that every call gets a per-attempt timeout and transient failures are retried with
// exponential backoff. When the attempts run out the last error is returned joined with ErrTransientIO.
func WithRetry(next Surface, cfg RetryConfig, m *metrics.Metrics, logger *slog.Logger) Surface {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &retryingSurface{
		next:    next,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("source", "RetryingSurface"),
	}
}

func (r *retryingSurface) GetRows(ctx context.Context) ([][]string, error) {
	var rows [][]string
	err := r.do(ctx, "get_rows", func(ctx context.Context) error {
		var err error
		rows, err = r.next.GetRows(ctx)
		return err //nolint:wrapcheck // wrapped by do.
	})
	return rows, err
}

func (r *retryingSurface) SetRanges(ctx context.Context, ranges []Range) error {
	return r.do(ctx, "set_ranges", func(ctx context.Context) error {
		return r.next.SetRanges(ctx, ranges) //nolint:wrapcheck // wrapped by do.
	})
}

func (r *retryingSurface) AppendRows(ctx context.Context, rows [][]string) error {
	return r.do(ctx, "append_rows", func(ctx context.Context) error {
		return r.next.AppendRows(ctx, rows) //nolint:wrapcheck // wrapped by do.
	})
}

func (r *retryingSurface) Clear(ctx context.Context) error {
	return r.do(ctx, "clear", func(ctx context.Context) error {
		return r.next.Clear(ctx) //nolint:wrapcheck // wrapped by do.
	})
}

func (r *retryingSurface) do(ctx context.Context, operation string, call func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		b.InitialInterval = r.cfg.InitialInterval
	}
	if r.cfg.MaxInterval > 0 {
		b.MaxInterval = r.cfg.MaxInterval
	}
	// The attempt count is the only bound.
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	operationFn := func() error {
		attempt++
		callCtx := ctx
		if r.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()
		}
		err := call(callCtx)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(err)
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			// The attempt timed out while the caller is still waiting.
			return errors.Join(ErrTransientIO, err)
		case IsTransient(err):
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, wait time.Duration) {
		r.metrics.SurfaceRetry(operation)
		r.logger.LogAttrs(ctx, slog.LevelWarn, "retrying surface call",
			slog.String("operation", operation),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			errors.SlogError(err))
	}
	if err := backoff.RetryNotify(operationFn, policy, notify); err != nil {
		attrs := []slog.Attr{slog.String("operation", operation), slog.Int("attempts", attempt)}
		if IsTransient(err) && !errors.Is(err, ErrTransientIO) {
			err = errors.Join(ErrTransientIO, err)
		}
		return errors.Wrap(err, "call surface", attrs...)
	}
	return nil
}
