package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/myrjola/valuebench/internal/errors"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// GoogleSurface is a Surface backed by one tab of a Google spreadsheet.
type GoogleSurface struct {
	service       *gsheets.Service
	spreadsheetID string
	sheetName     string
}

// NewGoogleSurface connects to the Sheets API with a service account credentials file.
func NewGoogleSurface(
	ctx context.Context,
	spreadsheetID string,
	sheetName string,
	credentialsPath string,
) (*GoogleSurface, error) {
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	service, err := gsheets.NewService(ctx,
		option.WithCredentialsFile(credentialsPath),
		option.WithScopes(gsheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create sheets service", slog.String("credentials_path", credentialsPath))
	}
	return &GoogleSurface{service: service, spreadsheetID: spreadsheetID, sheetName: sheetName}, nil
}

func (g *GoogleSurface) GetRows(ctx context.Context) ([][]string, error) {
	resp, err := g.service.Spreadsheets.Values.Get(g.spreadsheetID, g.sheetRange()).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, errors.Wrap(err, "get values", slog.String("range", g.sheetRange()))
	}
	rows := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make([]string, len(raw))
		for i, cell := range raw {
			row[i] = fmt.Sprint(cell)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (g *GoogleSurface) SetRanges(ctx context.Context, ranges []Range) error {
	if len(ranges) == 0 {
		return nil
	}
	data := make([]*gsheets.ValueRange, 0, len(ranges))
	for _, r := range ranges {
		data = append(data, &gsheets.ValueRange{
			Range:  g.a1(r),
			Values: toInterfaces(r.Values),
		})
	}
	if _, err := g.service.Spreadsheets.Values.BatchUpdate(g.spreadsheetID, &gsheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}).Context(ctx).Do(); err != nil {
		return errors.Wrap(err, "batch update values", slog.Int("ranges", len(ranges)))
	}
	return nil
}

func (g *GoogleSurface) AppendRows(ctx context.Context, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	if _, err := g.service.Spreadsheets.Values.Append(g.spreadsheetID, g.sheetRange(), &gsheets.ValueRange{
		Values: toInterfaces(rows),
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do(); err != nil {
		return errors.Wrap(err, "append values", slog.Int("rows", len(rows)))
	}
	return nil
}

func (g *GoogleSurface) Clear(ctx context.Context) error {
	if _, err := g.service.Spreadsheets.Values.Clear(g.spreadsheetID, g.sheetRange(),
		&gsheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return errors.Wrap(err, "clear values")
	}
	return nil
}

// sheetRange addresses the whole tab. Sheet names are always quoted so that names with spaces work.
func (g *GoogleSurface) sheetRange() string {
	return "'" + strings.ReplaceAll(g.sheetName, "'", "''") + "'"
}

// a1 converts a zero-based Range to A1 notation, e.g. 'Cases'!B3:D4.
func (g *GoogleSurface) a1(r Range) string {
	width := 1
	for _, row := range r.Values {
		width = max(width, len(row))
	}
	height := max(len(r.Values), 1)
	return fmt.Sprintf("%s!%s%d:%s%d", g.sheetRange(),
		ColumnName(r.Col), r.Row+1, ColumnName(r.Col+width-1), r.Row+height)
}

// ColumnName returns the spreadsheet letter name of a zero-based column index: 0 is A, 25 is Z, 26 is AA.
func ColumnName(col int) string {
	name := ""
	for col >= 0 {
		name = string(rune('A'+col%26)) + name
		col = col/26 - 1
	}
	return name
}

func toInterfaces(rows [][]string) [][]interface{} {
	out := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		cells := make([]interface{}, len(row))
		for i, cell := range row {
			cells[i] = cell
		}
		out = append(out, cells)
	}
	return out
}
