package db

import (
	"fmt"
	"sync"
)

// Table is a fully materialized, column-named result snapshot.
type Table struct {
	Columns []string
	Rows    [][]any
	Length  int

	colOnce sync.Once
	colIdx  map[string]int
}

func (t *Table) buildColumnIndex() {
	t.colOnce.Do(func() {
		t.colIdx = make(map[string]int, len(t.Columns))
		for i, name := range t.Columns {
			if _, ok := t.colIdx[name]; !ok {
				t.colIdx[name] = i
			}
		}
	})
}

// ColumnPos returns the zero-based position of the named column, or -1
// when the column does not exist.
func (t *Table) ColumnPos(column string) int {
	t.buildColumnIndex()
	if pos, ok := t.colIdx[column]; ok {
		return pos
	}
	return -1
}

// Value reads the named column from a row of this table.
func (t *Table) Value(row []any, column string) (any, error) {
	t.buildColumnIndex()
	pos, ok := t.colIdx[column]
	if !ok {
		return nil, fmt.Errorf("db: column %q doesn't exist", column)
	}
	return row[pos], nil
}

// SetValue writes the named column of a row of this table.
func (t *Table) SetValue(row []any, column string, value any) error {
	t.buildColumnIndex()
	pos, ok := t.colIdx[column]
	if !ok {
		return fmt.Errorf("db: column %q doesn't exist", column)
	}
	row[pos] = value
	return nil
}
