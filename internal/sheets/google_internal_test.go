package sheets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestColumnName(t *testing.T) {
	t.Parallel()
	tests := map[int]string{0: "A", 1: "B", 25: "Z", 26: "AA", 27: "AB", 51: "AZ", 52: "BA", 701: "ZZ", 702: "AAA"}
	for col, want := range tests {
		require.Equal(t, want, ColumnName(col), "column %d", col)
	}
}

func TestGoogleSurface_a1(t *testing.T) {
	t.Parallel()
	g := &GoogleSurface{service: nil, spreadsheetID: "id", sheetName: "Reviewer's Cases"}
	require.Equal(t, `'Reviewer''s Cases'`, g.sheetRange())
	require.Equal(t, `'Reviewer''s Cases'!A1:C2`, g.a1(Range{Row: 0, Col: 0, Values: [][]string{{"a", "b", "c"}, {"d"}}}))
	require.Equal(t, `'Reviewer''s Cases'!T5:T5`, g.a1(Range{Row: 4, Col: 19, Values: [][]string{{"VALID"}}}))
}
