package sheets

import (
	"context"
	"slices"
	"sync"
)

// MemorySurface is an in-process Surface for tests and dry runs. Faults queued with InjectFaults are returned by the
// next calls, one per call, before any state changes.
type MemorySurface struct {
	mu     sync.Mutex
	rows   [][]string
	faults []error
	calls  int
}

func NewMemorySurface(rows ...[]string) *MemorySurface {
	s := &MemorySurface{} //nolint:exhaustruct // zero value is an empty sheet.
	s.rows = cloneRows(rows)
	return s
}

// InjectFaults makes the next len(errs) calls fail with errs in order. A nil entry lets its call through.
func (s *MemorySurface) InjectFaults(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, errs...)
}

// Calls returns the number of calls made so far, failed ones included.
func (s *MemorySurface) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Rows returns a copy of the current contents.
func (s *MemorySurface) Rows() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRows(s.rows)
}

// SetCell overwrites one cell, growing the sheet as needed. It stands in for a reviewer editing the sheet.
func (s *MemorySurface) SetCell(row, col int, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(row, col, value)
}

func (s *MemorySurface) begin(ctx context.Context) error {
	s.calls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(s.faults) > 0 {
		err := s.faults[0]
		s.faults = s.faults[1:]
		return err
	}
	return nil
}

func (s *MemorySurface) GetRows(ctx context.Context) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	return cloneRows(s.rows), nil
}

func (s *MemorySurface) SetRanges(ctx context.Context, ranges []Range) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx); err != nil {
		return err
	}
	for _, r := range ranges {
		for i, row := range r.Values {
			for j, value := range row {
				s.set(r.Row+i, r.Col+j, value)
			}
		}
	}
	return nil
}

func (s *MemorySurface) AppendRows(ctx context.Context, rows [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx); err != nil {
		return err
	}
	s.rows = append(s.rows, cloneRows(rows)...)
	return nil
}

func (s *MemorySurface) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx); err != nil {
		return err
	}
	s.rows = nil
	return nil
}

func (s *MemorySurface) set(row, col int, value string) {
	for len(s.rows) <= row {
		s.rows = append(s.rows, nil)
	}
	for len(s.rows[row]) <= col {
		s.rows[row] = append(s.rows[row], "")
	}
	s.rows[row][col] = value
}

func cloneRows(rows [][]string) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, slices.Clone(row))
	}
	return out
}
