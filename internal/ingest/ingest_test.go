package ingest_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/myrjola/valuebench/internal/ingest"
	"github.com/myrjola/valuebench/internal/models"
	"github.com/myrjola/valuebench/internal/repositories"
	"github.com/myrjola/valuebench/internal/sqlite/sqlitetest"
	"github.com/myrjola/valuebench/internal/testhelpers"
	"github.com/stretchr/testify/require"
)

const tagged = `{
  "case_id": "case-1",
  "iterations": [
    {
      "vignette": "A donor kidney becomes available.",
      "decision_maker": "transplant surgeon",
      "choice_1": "Give it to the younger patient",
      "choice_2": "Give it to the patient who waited longest",
      "value_tags": {
        "choice_1": {"autonomy": "neutral", "beneficence": "promotes", "nonmaleficence": "neutral", "justice": "violates"},
        "choice_2": {"autonomy": "neutral", "beneficence": "violates", "nonmaleficence": "neutral", "justice": "promotes"}
      },
      "provenance": "seed"
    },
    {
      "vignette": "A donor kidney becomes available tonight.",
      "decision_maker": "transplant surgeon",
      "choice_1": "Give it to the younger patient",
      "choice_2": "Give it to the patient who waited longest",
      "value_tags": {
        "choice_1": {"autonomy": "neutral", "beneficence": "promotes", "nonmaleficence": "neutral", "justice": "violates"},
        "choice_2": {"autonomy": "neutral", "beneficence": "violates", "nonmaleficence": "neutral", "justice": "promotes"}
      },
      "provenance": "tag_values"
    }
  ]
}`

func newIngester(t *testing.T) (*ingest.Ingester, *repositories.CaseRepository) {
	t.Helper()
	logger := testhelpers.NewLogger(io.Discard)
	cases := repositories.NewCaseRepository(sqlitetest.NewDatabase(t), logger)
	return ingest.New(cases, logger), cases
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cases.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestIngester_IngestFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	in, cases := newIngester(t)

	results, err := in.IngestFile(ctx, writeFile(t, tagged))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Equal(t, "case-1", results[0].CaseID)

	c, err := cases.Get(ctx, "case-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusTagged, c.Status)
	require.Len(t, c.Iterations, 2)
	require.Equal(t, models.ProvenanceTagValues, c.Iterations[1].Provenance)

	// Ingesting the same file again reports the existing id without touching the case.
	results, err = in.IngestFile(ctx, writeFile(t, tagged))
	require.NoError(t, err)
	require.ErrorIs(t, results[0].Err, repositories.ErrAlreadyExists)
	c, err = cases.Get(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, c.Iterations, 2)
}

func TestIngester_IngestArrayWithoutIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	in, cases := newIngester(t)
	seed := strings.Replace(strings.Replace(tagged, `"case_id": "case-1",`, ``, 1), `"tag_values"`, `"refine"`, 1)

	results, err := in.IngestFile(ctx, writeFile(t, "["+seed+","+seed+"]"))
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NotEqual(t, results[0].CaseID, results[1].CaseID)
	for _, r := range results {
		require.NoError(t, r.Err)
		c, getErr := cases.Get(ctx, r.CaseID)
		require.NoError(t, getErr)
		require.Equal(t, models.StatusDrafted, c.Status)
	}
}

func TestIngester_RejectsMalformedFiles(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"not json":      "case: 1",
		"no iterations": `{"case_id": "x", "iterations": []}`,
		"bad tag":       strings.Replace(tagged, `"justice": "promotes"`, `"justice": "sometimes"`, 1),
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			in, cases := newIngester(t)
			_, err := in.IngestFile(context.Background(), writeFile(t, content))
			require.ErrorIs(t, err, ingest.ErrInvalidRecord)
			for c, listErr := range cases.List(context.Background()) {
				require.NoError(t, listErr)
				t.Fatalf("unexpected case %s", c.ID)
			}
		})
	}
}
