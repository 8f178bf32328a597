package db

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func sessionFixture(t *testing.T) (*Session, sqlmock.Sqlmock) {
	t.Helper()
	dbh, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	svc := NewWithDB(dbh, nil)
	sess, err := svc.Session(context.Background())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	t.Cleanup(func() {
		sess.Close()
		dbh.Close()
	})
	return sess, mock
}

func TestExecuteAffectedRows(t *testing.T) {
	sess, mock := sessionFixture(t)

	mock.ExpectExec("UPDATE accounts").
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 3))

	affected, err := sess.Execute(context.Background(), "UPDATE accounts SET active = false WHERE owner = $1", "alice")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if affected != 3 {
		t.Fatalf("affected = %d, want 3", affected)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExecuteWrapsFailure(t *testing.T) {
	sess, mock := sessionFixture(t)

	mock.ExpectExec("DELETE FROM orders").WillReturnError(errors.New("boom"))

	_, err := sess.Execute(context.Background(), "DELETE FROM orders")
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected call error, got %v", err)
	}
	if callErr.Statement != "DELETE FROM orders" {
		t.Fatalf("statement = %q", callErr.Statement)
	}
	if callErr.Unwrap().Error() != "boom" {
		t.Fatalf("cause = %v", callErr.Unwrap())
	}
}

func TestInvokeScalarReturn(t *testing.T) {
	sess, mock := sessionFixture(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM get_balance($1)")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"get_balance"}).AddRow(int64(42)))

	ret, err := sess.Invoke(context.Background(), "get_balance", DestType{Kind: KindBigInt}, nil, int64(7))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if ret.(int64) != 42 {
		t.Fatalf("return = %v, want 42", ret)
	}
}

func TestPerformOutParameters(t *testing.T) {
	sess, mock := sessionFixture(t)

	// Out-only slots contribute no placeholder; their values come back
	// as columns of the single result row, in declaration order.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM create_order($1)")).
		WithArgs(`{"item":"book"}`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "body"}).
			AddRow(int64(201), `{"id":7}`))

	status := Out(KindInteger)
	body := Out(KindVarchar)
	err := sess.Perform(context.Background(), "create_order", nil, `{"item":"book"}`, status, body)
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if v, ok := status.IntValue(); !ok || v != 201 {
		t.Fatalf("status = %v, %v", v, ok)
	}
	if v, ok := body.StringValue(); !ok || v != `{"id":7}` {
		t.Fatalf("body = %q, %v", v, ok)
	}
}

func TestPerformInOutParameter(t *testing.T) {
	sess, mock := sessionFixture(t)

	// An in-out slot binds its input value and is reassigned from the
	// result row.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM touch_session($1)")).
		WithArgs(`{"a":1}`).
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(`{"a":1,"b":2}`))

	state := Ref(KindVarchar, `{"a":1}`)
	if err := sess.Perform(context.Background(), "touch_session", nil, state); err != nil {
		t.Fatalf("perform: %v", err)
	}
	if v, ok := state.StringValue(); !ok || v != `{"a":1,"b":2}` {
		t.Fatalf("state = %q, %v", v, ok)
	}
}

func TestPerformWithoutOutputsUsesExec(t *testing.T) {
	sess, mock := sessionFixture(t)

	mock.ExpectExec(regexp.QuoteMeta("SELECT * FROM ping()")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := sess.Perform(context.Background(), "ping", nil); err != nil {
		t.Fatalf("perform: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCallWithoutResultRowFails(t *testing.T) {
	sess, mock := sessionFixture(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM broken()")).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	err := sess.Perform(context.Background(), "broken", nil, Out(KindInteger))
	if err == nil {
		t.Fatal("expected error for missing result row")
	}
}

func TestInvokeCursorReturn(t *testing.T) {
	sess, mock := sessionFixture(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM list_users()")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "alice").
			AddRow(int64(2), "bob"))

	ret, err := sess.Invoke(context.Background(), "list_users", DestType{Kind: KindCursor}, nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	cursor := ret.(*Cursor)
	defer cursor.Close()

	ok, err := cursor.Next()
	if err != nil || !ok {
		t.Fatalf("next: %v, %v", ok, err)
	}
	v, _ := cursor.ValueByName("name")
	if v.(string) != "alice" {
		t.Fatalf("name = %v", v)
	}
}

func TestInvokeTableReturn(t *testing.T) {
	sess, mock := sessionFixture(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM list_users()")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "alice"))

	ret, err := sess.Invoke(context.Background(), "list_users", DestType{Kind: KindTable}, nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	table := ret.(*Table)
	if table.Length != 1 {
		t.Fatalf("length = %d", table.Length)
	}
}

func TestCursorReturnRejectsOutParameters(t *testing.T) {
	sess, _ := sessionFixture(t)

	_, err := sess.Invoke(context.Background(), "bad", DestType{Kind: KindCursor}, nil, Out(KindInteger))
	if err == nil {
		t.Fatal("cursor return combined with out parameters must fail")
	}
}

func TestOutParameterOutsideCall(t *testing.T) {
	sess, _ := sessionFixture(t)

	_, err := sess.Execute(context.Background(), "UPDATE t SET x = $1", Out(KindInteger))
	if err == nil {
		t.Fatal("out parameter must not bind in a plain statement")
	}
}

func TestQueryFuncClosesCursor(t *testing.T) {
	sess, mock := sessionFixture(t)

	mock.ExpectQuery("SELECT name FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("alice"))

	var captured *Cursor
	err := sess.QueryFunc(context.Background(), "SELECT name FROM users", func(c *Cursor) error {
		captured = c
		ok, err := c.Next()
		if err != nil || !ok {
			t.Fatalf("next: %v, %v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("query func: %v", err)
	}
	if !captured.closed {
		t.Fatal("cursor must be closed when the callback returns")
	}
}

func TestObserverRecordsCalls(t *testing.T) {
	sess, mock := sessionFixture(t)

	var calls []CallInfo
	sess.svc.AddObserver(CallObserverFunc(func(info CallInfo) {
		calls = append(calls, info)
	}))

	mock.ExpectExec("UPDATE a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE b").WillReturnError(errors.New("boom"))

	sess.Execute(context.Background(), "UPDATE a")
	sess.Execute(context.Background(), "UPDATE b")

	if len(calls) != 2 {
		t.Fatalf("observed %d calls, want 2", len(calls))
	}
	if !calls[0].Success || calls[0].Statement != "UPDATE a" {
		t.Fatalf("first record = %+v", calls[0])
	}
	if calls[1].Success {
		t.Fatalf("second record must report failure")
	}
}

func TestObserverPanicIsIsolated(t *testing.T) {
	sess, mock := sessionFixture(t)

	sess.svc.AddObserver(CallObserverFunc(func(CallInfo) {
		panic("observer bug")
	}))

	mock.ExpectExec("UPDATE a").WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := sess.Execute(context.Background(), "UPDATE a"); err != nil {
		t.Fatalf("a panicking observer must not fail the call: %v", err)
	}
}

func TestSessionTransaction(t *testing.T) {
	sess, mock := sessionFixture(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO t").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	if err := sess.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := sess.Execute(ctx, "INSERT INTO t VALUES (1)"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSessionPoolExhaustionIsRetryable(t *testing.T) {
	dbh, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer dbh.Close()
	dbh.SetMaxOpenConns(1)

	svc := NewWithDB(dbh, nil)
	svc.acquireTimeout = 50 * time.Millisecond

	held, err := svc.Session(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	_, err = svc.Session(context.Background())
	if err == nil {
		t.Fatal("acquire must fail while the pool is saturated")
	}
	if !errors.Is(err, ErrPoolBusy) {
		t.Fatalf("err = %v, want ErrPoolBusy", err)
	}

	held.Close()
	sess, err := svc.Session(context.Background())
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	sess.Close()
}
