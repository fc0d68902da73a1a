package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/myrjola/valuebench/internal/logging"
	"github.com/stretchr/testify/require"
)

func TestContextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&buf, slog.LevelInfo).With("source", "test")

	ctx := logging.WithAttrs(context.Background(), slog.String("reviewer", "alice"))
	ctx = logging.WithAttrs(ctx, slog.String("case_id", "c1"))
	logger.LogAttrs(ctx, slog.LevelInfo, "decided")
	logger.LogAttrs(ctx, slog.LevelDebug, "hidden")

	out := buf.String()
	require.Contains(t, out, "reviewer=alice")
	require.Contains(t, out, "case_id=c1")
	require.Contains(t, out, "source=test")
	require.NotContains(t, out, "hidden")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "", want: slog.LevelInfo},
		{in: "WARN", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", want: slog.LevelInfo, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := logging.ParseLevel(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, logging.ErrUnknownLevel)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
