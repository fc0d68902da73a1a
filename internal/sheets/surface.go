// Package sheets is the row-oriented external review surface: a spreadsheet whose first row is a header and whose
// other rows each describe one case.
package sheets

import (
	"context"
	"net"

	"github.com/myrjola/valuebench/internal/errors"
	"google.golang.org/api/googleapi"
)

// ErrTransientIO marks failures that may succeed when retried, such as rate limiting or an unavailable backend.
var ErrTransientIO = errors.NewSentinel("transient surface failure")

// Surface is the get/set-range contract of the external review surface. Row and column indexes are zero based and
// row 0 is the header.
type Surface interface {
	// GetRows returns every row including the header. Trailing empty cells may be omitted, so rows can be ragged.
	GetRows(ctx context.Context) ([][]string, error)
	// SetRanges overwrites the given rectangular ranges in one batch.
	SetRanges(ctx context.Context, ranges []Range) error
	// AppendRows writes rows after the last non-empty row.
	AppendRows(ctx context.Context, rows [][]string) error
	// Clear empties the whole sheet.
	Clear(ctx context.Context) error
}

// Range is a block of values whose top-left cell is at (Row, Col).
type Range struct {
	Row    int
	Col    int
	Values [][]string
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientIO) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 408, 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
