package db

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func cursorFixture(t *testing.T) (*Cursor, sqlmock.Sqlmock) {
	t.Helper()
	dbh, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { dbh.Close() })

	mock.ExpectQuery("SELECT id, name FROM users").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "alice").
			AddRow(int64(2), "bob").
			AddRow(int64(3), "carol"))

	rows, err := dbh.QueryContext(context.Background(), "SELECT id, name FROM users")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	cursor, err := NewCursor(rows, &Marshaller{}, nil)
	if err != nil {
		t.Fatalf("new cursor: %v", err)
	}
	t.Cleanup(func() { cursor.Close() })
	return cursor, mock
}

func TestCursorForward(t *testing.T) {
	cursor, _ := cursorFixture(t)

	if _, err := cursor.Value(0); err == nil {
		t.Fatal("expected error before first row")
	}

	names := []string{"alice", "bob", "carol"}
	for i, want := range names {
		ok, err := cursor.Next()
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("next %d: stream ended early", i)
		}
		got, err := cursor.ValueByName("name")
		if err != nil {
			t.Fatalf("value %d: %v", i, err)
		}
		if got.(string) != want {
			t.Fatalf("row %d name = %v, want %q", i, got, want)
		}
	}
	ok, err := cursor.Next()
	if err != nil {
		t.Fatalf("next past end: %v", err)
	}
	if ok {
		t.Fatal("expected end of stream")
	}
}

func TestCursorBackward(t *testing.T) {
	cursor, _ := cursorFixture(t)

	cursor.Next()
	cursor.Next()
	if !cursor.Previous() {
		t.Fatal("previous must succeed from row 2")
	}
	v, err := cursor.Value(0)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v.(int64) != 1 {
		t.Fatalf("id = %v, want 1", v)
	}
	if cursor.Previous() {
		t.Fatal("previous from row 1 must land before first")
	}
	if _, err := cursor.Value(0); err == nil {
		t.Fatal("expected error before first row")
	}
}

func TestCursorAbsolute(t *testing.T) {
	cursor, _ := cursorFixture(t)

	ok, err := cursor.Absolute(3)
	if err != nil || !ok {
		t.Fatalf("absolute(3): %v, %v", ok, err)
	}
	v, _ := cursor.ValueByName("name")
	if v.(string) != "carol" {
		t.Fatalf("row 3 name = %v", v)
	}

	// Negative positions count from the end.
	ok, err = cursor.Absolute(-2)
	if err != nil || !ok {
		t.Fatalf("absolute(-2): %v, %v", ok, err)
	}
	v, _ = cursor.ValueByName("name")
	if v.(string) != "bob" {
		t.Fatalf("row -2 name = %v", v)
	}

	ok, err = cursor.Absolute(9)
	if err != nil {
		t.Fatalf("absolute(9): %v", err)
	}
	if ok {
		t.Fatal("absolute beyond the end must report false")
	}

	// The visited window survives repositioning.
	cursor.BeforeFirst()
	ok, err = cursor.Next()
	if err != nil || !ok {
		t.Fatalf("next after rewind: %v, %v", ok, err)
	}
	v, _ = cursor.ValueByName("name")
	if v.(string) != "alice" {
		t.Fatalf("rewound row name = %v", v)
	}
}

func TestCursorAfterLast(t *testing.T) {
	cursor, _ := cursorFixture(t)

	if err := cursor.AfterLast(); err != nil {
		t.Fatalf("after last: %v", err)
	}
	if _, err := cursor.Value(0); err == nil {
		t.Fatal("expected error after last row")
	}
	if !cursor.Previous() {
		t.Fatal("previous from after-last must land on the last row")
	}
	v, _ := cursor.ValueByName("name")
	if v.(string) != "carol" {
		t.Fatalf("last row name = %v", v)
	}
}

func TestCursorTableSnapshot(t *testing.T) {
	cursor, _ := cursorFixture(t)

	table, err := cursor.Table()
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	if table.Length != 3 {
		t.Fatalf("length = %d, want 3", table.Length)
	}
	v, err := table.Value(table.Rows[1], "name")
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v.(string) != "bob" {
		t.Fatalf("row 1 name = %v", v)
	}
	if _, err := table.Value(table.Rows[0], "missing"); err == nil {
		t.Fatal("expected error for unknown column")
	}
}

func TestCursorCloseIdempotent(t *testing.T) {
	cursor, _ := cursorFixture(t)
	if err := cursor.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := cursor.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
