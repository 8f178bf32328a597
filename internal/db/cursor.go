package db

import (
	"database/sql"
	"fmt"
	"io"
	"strings"
)

// Cursor is a live, positionable wrapper over a streamed result set.
// Rows are pulled from the stream on demand and retained, so backward
// and absolute positioning work over everything visited so far. The
// cursor owns the underlying result handles; Close releases them on
// every exit path.
type Cursor struct {
	rows    *sql.Rows
	owned   []io.Closer
	m       *Marshaller
	udtMap  UDTMap
	columns []string
	colMap  map[string]int
	dbTypes []string

	buf     [][]any
	pos     int // 0 before first, 1-based row index, len(buf)+1 after last
	drained bool
	readErr error
	closed  bool
}

// NewCursor wraps a result stream. Ownership of rows (and any extra
// handles) transfers to the cursor. The column-name map is built once,
// here; on duplicate names the first ordinal wins.
func NewCursor(rows *sql.Rows, m *Marshaller, udtMap UDTMap, owned ...io.Closer) (*Cursor, error) {
	cols, err := rows.Columns()
	if err != nil {
		closeAll(rows, owned)
		return nil, err
	}
	colMap := make(map[string]int, len(cols))
	for i, name := range cols {
		lower := strings.ToLower(name)
		if _, ok := colMap[lower]; !ok {
			colMap[lower] = i
		}
	}
	dbTypes := make([]string, len(cols))
	if colTypes, err := rows.ColumnTypes(); err == nil {
		for i, ct := range colTypes {
			dbTypes[i] = ct.DatabaseTypeName()
		}
	}
	if m == nil {
		m = &Marshaller{}
	}
	return &Cursor{
		rows:    rows,
		owned:   owned,
		m:       m,
		udtMap:  udtMap,
		columns: cols,
		colMap:  colMap,
		dbTypes: dbTypes,
	}, nil
}

func closeAll(rows *sql.Rows, owned []io.Closer) {
	if rows != nil {
		rows.Close()
	}
	for _, c := range owned {
		c.Close()
	}
}

// Columns returns the result column names in order.
func (c *Cursor) Columns() []string { return c.columns }

// Next advances to the next row, pulling from the stream when the
// buffered window is exhausted.
func (c *Cursor) Next() (bool, error) {
	if c.pos < len(c.buf) {
		c.pos++
		return true, nil
	}
	if c.drained {
		c.pos = len(c.buf) + 1
		return false, c.readErr
	}
	ok, err := c.fetch()
	if err != nil {
		return false, err
	}
	if !ok {
		c.pos = len(c.buf) + 1
		return false, c.readErr
	}
	c.pos = len(c.buf)
	return true, nil
}

// Previous moves back one row within the visited window.
func (c *Cursor) Previous() bool {
	if c.pos > 1 {
		c.pos--
		return true
	}
	c.pos = 0
	return false
}

// BeforeFirst repositions before the first row.
func (c *Cursor) BeforeFirst() { c.pos = 0 }

// AfterLast drains the stream and positions after the last row.
func (c *Cursor) AfterLast() error {
	if err := c.drain(); err != nil {
		return err
	}
	c.pos = len(c.buf) + 1
	return nil
}

// Absolute positions on the 1-based row n; negative n counts from the
// end. Returns false when n is outside the result.
func (c *Cursor) Absolute(n int) (bool, error) {
	if n < 0 {
		if err := c.drain(); err != nil {
			return false, err
		}
		n = len(c.buf) + n + 1
	}
	if n < 1 {
		c.pos = 0
		return false, nil
	}
	for len(c.buf) < n && !c.drained {
		if _, err := c.fetch(); err != nil {
			return false, err
		}
	}
	if n > len(c.buf) {
		c.pos = len(c.buf) + 1
		return false, nil
	}
	c.pos = n
	return true, nil
}

func (c *Cursor) fetch() (bool, error) {
	if !c.rows.Next() {
		c.drained = true
		c.readErr = c.rows.Err()
		return false, nil
	}
	receivers := make([]any, len(c.columns))
	values := make([]any, len(c.columns))
	for i := range receivers {
		receivers[i] = &values[i]
	}
	if err := c.rows.Scan(receivers...); err != nil {
		return false, err
	}
	row := make([]any, len(values))
	for i, v := range values {
		decoded, err := c.decodeColumn(v, c.dbTypes[i])
		if err != nil {
			return false, err
		}
		row[i] = decoded
	}
	c.buf = append(c.buf, row)
	return true, nil
}

func (c *Cursor) decodeColumn(v any, dbType string) (any, error) {
	if v == nil {
		return nil, nil
	}
	if desc, ok := c.udtMap[dbType]; ok {
		switch x := v.(type) {
		case []byte:
			return c.m.decodeStructText(string(x), desc, c.udtMap)
		case string:
			return c.m.decodeStructText(x, desc, c.udtMap)
		}
	}
	return c.m.inferDecode(v, c.udtMap)
}

func (c *Cursor) drain() error {
	for !c.drained {
		if _, err := c.fetch(); err != nil {
			return err
		}
	}
	return c.readErr
}

func (c *Cursor) currentRow() ([]any, error) {
	if c.pos < 1 || c.pos > len(c.buf) {
		return nil, fmt.Errorf("db: cursor not positioned on a row")
	}
	return c.buf[c.pos-1], nil
}

// Value returns the zero-based column of the current row.
func (c *Cursor) Value(col int) (any, error) {
	row, err := c.currentRow()
	if err != nil {
		return nil, err
	}
	if col < 0 || col >= len(row) {
		return nil, fmt.Errorf("db: column %d out of range", col)
	}
	return row[col], nil
}

// ValueByName returns the named column of the current row. Name lookup
// is case-insensitive; a missing column returns nil.
func (c *Cursor) ValueByName(name string) (any, error) {
	row, err := c.currentRow()
	if err != nil {
		return nil, err
	}
	idx, ok := c.colMap[strings.ToLower(name)]
	if !ok {
		return nil, nil
	}
	return row[idx], nil
}

// TypedValue converts the zero-based column of the current row to the
// given destination type.
func (c *Cursor) TypedValue(col int, dest DestType) (any, error) {
	v, err := c.Value(col)
	if err != nil {
		return nil, err
	}
	return c.m.fromNative(v, dest, c.udtMap)
}

// Table materializes every remaining row into a snapshot, consuming
// the stream.
func (c *Cursor) Table() (*Table, error) {
	t := &Table{Columns: append([]string(nil), c.columns...)}
	for {
		ok, err := c.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		row, err := c.currentRow()
		if err != nil {
			return nil, err
		}
		t.Rows = append(t.Rows, row)
	}
	t.Length = len(t.Rows)
	return t, nil
}

// Close releases the result stream and every owned handle. Safe to
// call more than once.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.rows.Close()
	for _, h := range c.owned {
		if cerr := h.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
