package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Conn is one database connection. A pool never shares a Conn between
// goroutines.
type Conn interface {
	Exec(ctx context.Context, stmt *Statement) (int64, error)
	Query(ctx context.Context, stmt *Statement) (*ResultSet, error)
	ExecTx(ctx context.Context, stmts []*Statement) error
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens a connection for the given role.
type Dialer func(ctx context.Context, role ConnFlags) (Conn, error)

// OpenDB opens a database/sql handle sized for a pool with conns
// connections.
func OpenDB(driver, dsn string, conns int) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(conns + 1)
	db.SetMaxIdleConns(conns + 1)
	return db, nil
}

// SQLDialer dedicates one *sql.Conn per pool connection and prepares the
// catalog statements whose flags include the role.
func SQLDialer(db *sql.DB, catalog *Catalog) Dialer {
	return func(ctx context.Context, role ConnFlags) (Conn, error) {
		c, err := db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		conn := &sqlConn{conn: c, stmts: make(map[StatementID]*sql.Stmt)}
		for _, id := range catalog.IDs() {
			t, _ := catalog.Template(id)
			if t.Flags&role == 0 {
				continue
			}
			st, err := c.PrepareContext(ctx, t.SQL)
			if err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("prepare %s: %w", id, err)
			}
			conn.stmts[id] = st
		}
		return conn, nil
	}
}

type sqlConn struct {
	conn  *sql.Conn
	stmts map[StatementID]*sql.Stmt
}

func (c *sqlConn) prepared(id StatementID) (*sql.Stmt, error) {
	st, ok := c.stmts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotPrepared, id)
	}
	return st, nil
}

func (c *sqlConn) Exec(ctx context.Context, stmt *Statement) (int64, error) {
	st, err := c.prepared(stmt.ID())
	if err != nil {
		return 0, err
	}
	res, err := st.ExecContext(ctx, stmt.Args()...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (c *sqlConn) Query(ctx context.Context, stmt *Statement) (*ResultSet, error) {
	st, err := c.prepared(stmt.ID())
	if err != nil {
		return nil, err
	}
	rows, err := st.QueryContext(ctx, stmt.Args()...)
	if err != nil {
		return nil, err
	}
	return materialize(rows)
}

func materialize(rows *sql.Rows) (*ResultSet, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		raw := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for i, v := range raw {
			row[i] = NewField(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return NewResultSet(columns, out), nil
}

func (c *sqlConn) ExecTx(ctx context.Context, stmts []*Statement) error {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		st, err := c.prepared(s.ID())
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.StmtContext(ctx, st).ExecContext(ctx, s.Args()...); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *sqlConn) Ping(ctx context.Context) error {
	return c.conn.PingContext(ctx)
}

func (c *sqlConn) Close() error {
	var errs []error
	for _, st := range c.stmts {
		errs = append(errs, st.Close())
	}
	errs = append(errs, c.conn.Close())
	return errors.Join(errs...)
}

// IsTransient reports lock conflicts that succeed when retried: ErrDeadlock,
// SQLite BUSY/LOCKED and the MySQL deadlock and lock-wait errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeadlock) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "error 1213") ||
		strings.Contains(msg, "error 1205") ||
		strings.Contains(msg, "deadlock")
}
