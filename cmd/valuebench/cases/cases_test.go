package cases_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/myrjola/valuebench/cmd/valuebench/app"
	"github.com/myrjola/valuebench/cmd/valuebench/cases"
	"github.com/myrjola/valuebench/internal/models"
	"github.com/stretchr/testify/require"
)

const record = `{
  "case_id": "kidney",
  "iterations": [{
    "vignette": "A donor kidney becomes available.",
    "decision_maker": "transplant surgeon",
    "choice_1": "Give it to the younger patient",
    "choice_2": "Give it to the patient who waited longest",
    "value_tags": {
      "choice_1": {"autonomy": "neutral", "beneficence": "promotes", "nonmaleficence": "neutral", "justice": "violates"},
      "choice_2": {"autonomy": "neutral", "beneficence": "violates", "nonmaleficence": "neutral", "justice": "promotes"}
    },
    "provenance": "tag_values"
  }]
}`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cases.Cases.SetOut(&out)
	cases.Cases.SetArgs(args)
	err := cases.Cases.ExecuteContext(context.Background())
	return out.String(), err
}

// The commands are package level values that keep their flag values between runs, so the steps share one test
// and run sequentially.
func TestCasesCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VALUEBENCH_SQLITE_URL", filepath.Join(dir, "valuebench.sqlite"))
	t.Setenv("VALUEBENCH_SESSIONS_DIR", filepath.Join(dir, "sessions"))
	t.Setenv("VALUEBENCH_LOG_LEVEL", "error")
	metricsFile := filepath.Join(dir, "valuebench.prom")
	t.Setenv("VALUEBENCH_METRICS_FILE", metricsFile)

	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(record), 0o600))
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(strings.Replace(record, `"justice": "violates"`,
		`"justice": "hurts"`, 1)), 0o600))

	out, err := run(t, "ingest", good, bad)
	require.ErrorIs(t, err, app.ErrRowsFailed)
	require.Contains(t, out, "case=kidney created")
	require.Contains(t, out, "created=1 failed=1\n")
	_, err = os.Stat(metricsFile)
	require.NoError(t, err)

	out, err = run(t, "list", "--status", "tagged")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[1], "kidney"))
	require.Contains(t, lines[1], "tagged")

	out, err = run(t, "show", "kidney")
	require.NoError(t, err)
	require.Contains(t, out, "iteration 0 (tag_values")
	require.Contains(t, out, "beneficence=promotes")

	out, err = run(t, "validate", "kidney")
	require.NoError(t, err)
	require.Contains(t, out, "case=kidney iteration=0 VALID")

	_, err = run(t, "reopen", "kidney")
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}
