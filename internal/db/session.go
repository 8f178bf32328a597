package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Session wraps exactly one pooled connection for its whole lifetime.
// It is not safe for concurrent use: callers must serialize access.
// Close releases the connection back to the pool.
type Session struct {
	svc  *Service
	conn *sql.Conn
	m    Marshaller
	tx   *sql.Tx
}

// execer abstracts the connection and an open transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Session) execer() execer {
	if s.tx != nil {
		return s.tx
	}
	return s.conn
}

// Begin opens a transaction on the session's connection.
func (s *Session) Begin(ctx context.Context) error {
	if s.tx != nil {
		return fmt.Errorf("db: transaction already open")
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	s.tx = tx
	return nil
}

// Commit commits the open transaction.
func (s *Session) Commit() error {
	if s.tx == nil {
		return fmt.Errorf("db: no open transaction")
	}
	err := s.tx.Commit()
	s.tx = nil
	return err
}

// Rollback aborts the open transaction.
func (s *Session) Rollback() error {
	if s.tx == nil {
		return fmt.Errorf("db: no open transaction")
	}
	err := s.tx.Rollback()
	s.tx = nil
	return err
}

// Close rolls back any open transaction and releases the connection.
func (s *Session) Close() error {
	if s.tx != nil {
		s.tx.Rollback()
		s.tx = nil
	}
	return s.conn.Close()
}

func (s *Session) bindArgs(args []any) ([]any, error) {
	bound := make([]any, 0, len(args))
	for _, arg := range args {
		if _, ok := arg.(*OutParam); ok {
			return nil, unsupported("out parameter outside procedure call")
		}
		native, err := s.m.ToNative(arg)
		if err != nil {
			return nil, err
		}
		bound = append(bound, native)
	}
	return bound, nil
}

// Execute binds args positionally, runs the statement and returns the
// affected row count. Statement resources are released win or fail.
func (s *Session) Execute(ctx context.Context, statement string, args ...any) (int64, error) {
	start := time.Now()
	affected, err := s.execute(ctx, statement, args)
	s.svc.notify(statement, err == nil, start)
	if err != nil {
		return 0, &CallError{Statement: statement, Err: err}
	}
	return affected, nil
}

func (s *Session) execute(ctx context.Context, statement string, args []any) (int64, error) {
	bound, err := s.bindArgs(args)
	if err != nil {
		return 0, err
	}
	res, err := s.execer().ExecContext(ctx, statement, bound...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Query opens a result stream that outlives the call; ownership of the
// underlying resources transfers to the returned cursor.
func (s *Session) Query(ctx context.Context, statement string, args ...any) (*Cursor, error) {
	return s.QueryUDT(ctx, statement, nil, args...)
}

// QueryUDT is Query with a type-name map for result decoding.
func (s *Session) QueryUDT(ctx context.Context, statement string, udtMap UDTMap, args ...any) (*Cursor, error) {
	start := time.Now()
	cursor, err := s.query(ctx, statement, udtMap, args)
	s.svc.notify(statement, err == nil, start)
	if err != nil {
		return nil, &CallError{Statement: statement, Err: err}
	}
	return cursor, nil
}

func (s *Session) query(ctx context.Context, statement string, udtMap UDTMap, args []any) (*Cursor, error) {
	bound, err := s.bindArgs(args)
	if err != nil {
		return nil, err
	}
	rows, err := s.execer().QueryContext(ctx, statement, bound...)
	if err != nil {
		return nil, err
	}
	return NewCursor(rows, &s.m, udtMap)
}

// QueryFunc is the scoped query variant: the result stream is closed
// when fn returns, regardless of outcome.
func (s *Session) QueryFunc(ctx context.Context, statement string, fn func(*Cursor) error, args ...any) error {
	start := time.Now()
	err := func() error {
		cursor, err := s.query(ctx, statement, nil, args)
		if err != nil {
			return err
		}
		defer cursor.Close()
		return fn(cursor)
	}()
	s.svc.notify(statement, err == nil, start)
	if err != nil {
		return &CallError{Statement: statement, Err: err}
	}
	return nil
}

// Invoke calls a procedure with one leading return slot. OutParam args
// become output (or in/out) slots and are populated after execution;
// the decoded return value is returned. A Cursor or Table return type
// streams or materializes the procedure's result set and is only valid
// without out slots.
func (s *Session) Invoke(ctx context.Context, proc string, returnType DestType, udtMap UDTMap, args ...any) (any, error) {
	start := time.Now()
	statement := callStatement(proc, args)
	ret, err := s.call(ctx, statement, &returnType, udtMap, args)
	s.svc.notify(statement, err == nil, start)
	if err != nil {
		return nil, &CallError{Statement: statement, Err: err}
	}
	return ret, nil
}

// Perform calls a procedure with no return slot: a pure side-effecting
// call with optional out and in/out parameters.
func (s *Session) Perform(ctx context.Context, proc string, udtMap UDTMap, args ...any) error {
	start := time.Now()
	statement := callStatement(proc, args)
	_, err := s.call(ctx, statement, nil, udtMap, args)
	s.svc.notify(statement, err == nil, start)
	if err != nil {
		return &CallError{Statement: statement, Err: err}
	}
	return nil
}

// callStatement builds the fixed call syntax: one placeholder per bound
// input value. Out-only slots contribute no placeholder; their values
// come back as columns of the call's single result row.
func callStatement(proc string, args []any) string {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(proc)
	b.WriteByte('(')
	n := 0
	for _, arg := range args {
		if p, ok := arg.(*OutParam); ok && !p.InOut() {
			continue
		}
		n++
		if n > 1 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "$%d", n)
	}
	b.WriteByte(')')
	return b.String()
}

func (s *Session) call(ctx context.Context, statement string, returnType *DestType, udtMap UDTMap, args []any) (any, error) {
	var (
		bound []any
		outs  []*OutParam
	)
	for _, arg := range args {
		if p, ok := arg.(*OutParam); ok {
			outs = append(outs, p)
			if !p.InOut() {
				continue
			}
			native, err := s.m.ToNative(p.Value())
			if err != nil {
				return nil, err
			}
			bound = append(bound, native)
			continue
		}
		native, err := s.m.ToNative(arg)
		if err != nil {
			return nil, err
		}
		bound = append(bound, native)
	}

	if returnType != nil && (returnType.Kind == KindCursor || returnType.Kind == KindTable) {
		if len(outs) > 0 {
			return nil, unsupported("cursor return combined with out parameters")
		}
		return s.callResultSet(ctx, statement, returnType.Kind, udtMap, bound)
	}

	columns := len(outs)
	if returnType != nil {
		columns++
	}
	if columns == 0 {
		_, err := s.execer().ExecContext(ctx, statement, bound...)
		return nil, err
	}

	rows, err := s.execer().QueryContext(ctx, statement, bound...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dbTypes := make([]string, columns)
	if colTypes, err := rows.ColumnTypes(); err == nil {
		for i, ct := range colTypes {
			if i < columns {
				dbTypes[i] = ct.DatabaseTypeName()
			}
		}
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("db: call produced no result row")
	}
	values := make([]any, columns)
	receivers := make([]any, columns)
	for i := range receivers {
		receivers[i] = &values[i]
	}
	if err := rows.Scan(receivers...); err != nil {
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	col := 0
	var ret any
	if returnType != nil {
		ret, err = s.decodeSlot(values[col], dbTypes[col], *returnType, udtMap)
		if err != nil {
			return nil, err
		}
		col++
	}
	for _, out := range outs {
		v, err := s.decodeSlot(values[col], dbTypes[col], out.Dest(), udtMap)
		if err != nil {
			return nil, err
		}
		out.assign(v)
		col++
	}
	return ret, nil
}

func (s *Session) callResultSet(ctx context.Context, statement string, kind Kind, udtMap UDTMap, bound []any) (any, error) {
	rows, err := s.execer().QueryContext(ctx, statement, bound...)
	if err != nil {
		return nil, err
	}
	cursor, err := NewCursor(rows, &s.m, udtMap)
	if err != nil {
		return nil, err
	}
	if kind == KindCursor {
		return cursor, nil
	}
	defer cursor.Close()
	return cursor.Table()
}

// decodeSlot reads one native output slot back into a domain value.
// For structured slots the reported native type name, when the driver
// exposes it, must match the registered descriptor.
func (s *Session) decodeSlot(v any, dbType string, dest DestType, udtMap UDTMap) (any, error) {
	if dest.Kind == KindStruct && dest.UDT != nil && dbType != "" &&
		!strings.EqualFold(dbType, dest.UDT.Name) {
		return nil, fmt.Errorf("db: cannot convert UDT value from %s to %s", dbType, dest.UDT.Name)
	}
	if dest.Kind == KindObject {
		if desc, ok := udtMap[dbType]; ok {
			dest = DestType{Kind: KindStruct, UDT: desc}
		}
	}
	return s.m.fromNative(v, dest, udtMap)
}
