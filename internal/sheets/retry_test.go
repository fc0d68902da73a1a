package sheets_test

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/metrics"
	"github.com/myrjola/valuebench/internal/sheets"
	"github.com/myrjola/valuebench/internal/testhelpers"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func fastRetry(attempts int) sheets.RetryConfig {
	return sheets.RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Timeout:         time.Second,
	}
}

func TestWithRetry(t *testing.T) {
	t.Parallel()
	errBadRequest := errors.New("bad request")
	tests := []struct {
		name          string
		faults        []error
		wantCalls     int
		wantErr       error
		wantTransient bool
		wantRetries   float64
	}{
		{name: "no faults", faults: nil, wantCalls: 1},
		{
			name:        "recovers from transient faults",
			faults:      []error{sheets.ErrTransientIO, &googleapi.Error{Code: 503}},
			wantCalls:   3,
			wantRetries: 2,
		},
		{
			name:          "gives up after max attempts",
			faults:        []error{&googleapi.Error{Code: 429}, sheets.ErrTransientIO, sheets.ErrTransientIO},
			wantCalls:     3,
			wantTransient: true,
			wantRetries:   2,
		},
		{name: "permanent error is not retried", faults: []error{errBadRequest}, wantCalls: 1, wantErr: errBadRequest},
		{
			name:      "client error is not retried",
			faults:    []error{&googleapi.Error{Code: 403}},
			wantCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			mem := sheets.NewMemorySurface([]string{"Case ID"})
			mem.InjectFaults(tt.faults...)
			m := metrics.New()
			surface := sheets.WithRetry(mem, fastRetry(3), m, testhelpers.NewLogger(io.Discard))

			err := surface.AppendRows(ctx, [][]string{{"case-1"}})

			require.Equal(t, tt.wantCalls, mem.Calls())
			require.InDelta(t, tt.wantRetries, retries(t, m), 0, "retries")
			switch {
			case tt.wantTransient:
				require.ErrorIs(t, err, sheets.ErrTransientIO)
				require.Len(t, mem.Rows(), 1, "nothing written")
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
				require.False(t, sheets.IsTransient(err))
			case len(tt.faults) > 0 && tt.wantRetries == 0:
				require.Error(t, err)
				require.False(t, sheets.IsTransient(err))
			default:
				require.NoError(t, err)
				require.Equal(t, [][]string{{"Case ID"}, {"case-1"}}, mem.Rows())
			}
		})
	}
}

func retries(t *testing.T, m *metrics.Metrics) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != "valuebench_surface_retries_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

// hangingSurface blocks every call until its context ends.
type hangingSurface struct {
	sheets.Surface
	calls atomic.Int32
}

func (h *hangingSurface) GetRows(ctx context.Context) ([][]string, error) {
	h.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestWithRetry_AttemptTimeout(t *testing.T) {
	t.Parallel()
	hanging := &hangingSurface{} //nolint:exhaustruct // only GetRows is called.
	cfg := fastRetry(2)
	cfg.Timeout = 10 * time.Millisecond
	surface := sheets.WithRetry(hanging, cfg, nil, testhelpers.NewLogger(io.Discard))

	_, err := surface.GetRows(context.Background())
	require.ErrorIs(t, err, sheets.ErrTransientIO)
	require.Equal(t, int32(2), hanging.calls.Load())
}

func TestWithRetry_CallerCancellation(t *testing.T) {
	t.Parallel()
	mem := sheets.NewMemorySurface()
	mem.InjectFaults(sheets.ErrTransientIO)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	surface := sheets.WithRetry(mem, fastRetry(5), nil, testhelpers.NewLogger(io.Discard))

	_, err := surface.GetRows(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, mem.Calls())
}

func TestIsTransient(t *testing.T) {
	t.Parallel()
	require.True(t, sheets.IsTransient(&googleapi.Error{Code: 500}))
	require.True(t, sheets.IsTransient(errors.Wrap(&googleapi.Error{Code: 429}, "get values")))
	require.False(t, sheets.IsTransient(&googleapi.Error{Code: 404}))
	require.False(t, sheets.IsTransient(nil))
	require.False(t, sheets.IsTransient(errors.New("boom")))
}
