// Package testutil provides an in-memory database/sql driver that understands
// the handful of statements the postgres entity store issues.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

var driverSeq atomic.Uint64

// StubConn records statements and keeps inserted rows per table.
type StubConn struct {
	mu         sync.Mutex
	Execs      []string
	Tables     map[string][]map[string]any
	FailPing   bool
	FailExec   bool
	FailTables map[string]bool
	RowsErr    error
}

// NewStubDB registers a uniquely named driver backed by a fresh StubConn.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", driverSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Rows returns a copy of the rows stored for table.
func (c *StubConn) Rows(table string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.Tables[table]))
	for _, row := range c.Tables[table] {
		cp := make(map[string]any, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

// Executed reports whether a statement starting with prefix was run.
func (c *StubConn) Executed(prefix string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, stmt := range c.Execs {
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(stmt)), strings.ToUpper(prefix)) {
			return true
		}
	}
	return false
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) { return stubTx{}, nil }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	verb := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(verb, "INSERT INTO"):
		return c.insert(query, args)
	case strings.HasPrefix(verb, "DELETE FROM"):
		return c.delete(query, args)
	default:
		return driver.RowsAffected(0), nil
	}
}

func (c *StubConn) insert(query string, args []driver.NamedValue) (driver.Result, error) {
	table, cols, err := parseInsert(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("exec fail for %s", table)
	}
	if len(cols) != len(args) {
		return nil, fmt.Errorf("column/arg mismatch for %s", table)
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	if strings.Contains(strings.ToUpper(query), "ON CONFLICT") {
		c.Tables[table] = without(c.Tables[table], cols[0], row[cols[0]])
	}
	c.Tables[table] = append(c.Tables[table], row)
	return driver.RowsAffected(1), nil
}

func (c *StubConn) delete(query string, args []driver.NamedValue) (driver.Result, error) {
	table, col, err := parseDelete(query)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("missing args for delete %s", table)
	}
	before := len(c.Tables[table])
	c.Tables[table] = without(c.Tables[table], col, args[0].Value)
	return driver.RowsAffected(int64(before - len(c.Tables[table]))), nil
}

func without(rows []map[string]any, col string, value any) []map[string]any {
	var out []map[string]any
	for _, row := range rows {
		if row[col] == value {
			continue
		}
		out = append(out, row)
	}
	return out
}

// QueryContext implements driver.QueryerContext. WHERE clauses are ignored.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	table, cols, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("query fail for %s", table)
	}
	values := make([][]driver.Value, 0, len(c.Tables[table]))
	for _, row := range c.Tables[table] {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: cols, rows: values, err: c.RowsErr}, nil
}

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func parseInsert(query string) (string, []string, error) {
	intoIdx := strings.Index(strings.ToUpper(query), "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	return strings.ToLower(strings.TrimSpace(rest[:open])), splitColumns(rest[open+1 : closeIdx]), nil
}

func parseDelete(query string) (string, string, error) {
	rest := strings.TrimSpace(query)[len("delete from "):]
	whereIdx := strings.Index(strings.ToLower(rest), " where ")
	if whereIdx == -1 {
		return "", "", fmt.Errorf("cannot parse delete: %s", query)
	}
	parts := strings.SplitN(rest[whereIdx+len(" where "):], "=", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("cannot parse delete predicate: %s", query)
	}
	return strings.ToLower(strings.TrimSpace(rest[:whereIdx])), strings.ToLower(strings.TrimSpace(parts[0])), nil
}

func parseSelect(query string) (string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	trimmed := strings.TrimSpace(query)
	if !strings.HasPrefix(lower, "select ") {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, " from ")
	if fromIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	fields := strings.Fields(trimmed[fromIdx+len(" from "):])
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	return strings.ToLower(fields[0]), splitColumns(trimmed[len("select "):fromIdx]), nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
