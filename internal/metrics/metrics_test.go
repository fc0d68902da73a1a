package metrics_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/myrjola/valuebench/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_WriteFile(t *testing.T) {
	t.Parallel()
	m := metrics.New()
	m.ImportRow("imported")
	m.ImportRow("imported")
	m.ImportRow("duplicate")
	m.ExportRow("written")
	m.SurfaceRetry("get_rows")
	m.ReviewDecision("approve", true)

	count, err := testutil.GatherAndCount(m.Registry(), "valuebench_import_rows_total")
	require.NoError(t, err)
	require.Equal(t, 2, count, "one series per outcome")

	path := filepath.Join(t.TempDir(), "valuebench.prom")
	require.NoError(t, m.WriteFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `valuebench_import_rows_total{outcome="imported"} 2`)
	require.Contains(t, string(data), `valuebench_review_decisions_total{applied="true",decision="approve"} 1`)
	require.Contains(t, string(data), `valuebench_surface_retries_total{operation="get_rows"} 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()
	var m *metrics.Metrics
	m.ImportRow("imported")
	m.ExportRow("written")
	m.SurfaceRetry("get_rows")
	m.ReviewDecision("reject", false)
	require.NoError(t, m.WriteFile(filepath.Join(t.TempDir(), "unused.prom")))
	require.NoError(t, metrics.New().WriteFile(""))
}
