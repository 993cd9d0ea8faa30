package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"

	"github.com/go-sql-driver/mysql"

	"github.com/gridforge/griddb/internal/errs"
)

// Conn is one live session to the database server. A Conn is exclusively
// assigned to at most one consumer at a time; it is not safe for
// concurrent use.
type Conn interface {
	// Ping verifies the session is still alive.
	Ping(ctx context.Context) error

	// Query executes sql and fetches all rows. A statement returning no
	// rows yields an empty, non-nil slice.
	Query(ctx context.Context, sql string) ([][]any, error)

	// Exec executes sql and returns the affected-row count and, when the
	// engine reports one, the last inserted auto-increment id.
	Exec(ctx context.Context, sql string) (affected int64, lastInsertID int64, err error)

	// Close terminates the session.
	Close() error
}

// Dialer opens new physical connections. The pool depends on this
// interface so tests can inject fakes.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// session is the subset of driver interfaces a usable MySQL connection
// must implement. go-sql-driver connections satisfy all of them.
type session interface {
	driver.Pinger
	driver.ExecerContext
	driver.QueryerContext
	io.Closer
}

// mysqlDialer opens raw driver connections to one server endpoint.
// The pool, not database/sql, owns connection lifecycle: each Dial yields
// exactly one session whose selected schema persists until changed.
type mysqlDialer struct {
	connector driver.Connector
}

// NewMySQLDialer builds a Dialer for the endpoint in cfg. No schema is
// selected at dial time; the pool issues USE statements as needed.
func NewMySQLDialer(cfg *Config) (Dialer, error) {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.ParseTime = true

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "invalid connection parameters", err)
	}
	return &mysqlDialer{connector: connector}, nil
}

func (d *mysqlDialer) Dial(ctx context.Context) (Conn, error) {
	raw, err := d.connector.Connect(ctx)
	if err != nil {
		return nil, mapError(err, "could not connect")
	}
	sess, ok := raw.(session)
	if !ok {
		_ = raw.Close()
		return nil, errs.New(errs.KindConnection, "driver connection lacks required interfaces")
	}
	conn := &mysqlConn{sess: sess}
	// Engine autocommit is the default, but the original contract states
	// it explicitly at connection creation.
	if _, _, err := conn.Exec(ctx, "SET AUTOCOMMIT=1"); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

type mysqlConn struct {
	sess session
}

func (c *mysqlConn) Ping(ctx context.Context) error {
	if err := c.sess.Ping(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

func (c *mysqlConn) Query(ctx context.Context, sqlText string) ([][]any, error) {
	rows, err := c.sess.QueryContext(ctx, sqlText, nil)
	if err != nil {
		return nil, mapError(err, "execution failed")
	}
	defer rows.Close()

	result := make([][]any, 0)
	ncols := len(rows.Columns())
	dest := make([]driver.Value, ncols)
	for {
		if err := rows.Next(dest); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, mapError(err, "row fetch failed")
		}
		row := make([]any, ncols)
		for i, v := range dest {
			// Text-protocol results arrive as []byte; surface them as
			// strings so callers and tests compare naturally.
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			} else {
				row[i] = v
			}
		}
		result = append(result, row)
	}
	return result, nil
}

func (c *mysqlConn) Exec(ctx context.Context, sqlText string) (int64, int64, error) {
	res, err := c.sess.ExecContext(ctx, sqlText, nil)
	if err != nil {
		return 0, 0, mapError(err, "execution failed")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		lastID = 0
	}
	return affected, lastID, nil
}

func (c *mysqlConn) Close() error {
	return c.sess.Close()
}

// MySQL error numbers that indicate the session or endpoint is unusable
// rather than the statement being wrong.
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	errAccessDenied      = 1044
	errAccessDeniedUser  = 1045
	errNoDatabase        = 1046
	errUnknownDatabase   = 1049
	errTooManyConns      = 1040
	errAbortingConn      = 1152
	errServerShutdown    = 1053
	errLockWaitTimeout   = 1205
	errConnRefusedClient = 2003
	errServerGone        = 2006
	errLostConnection    = 2013
)

// mapError converts a go-sql-driver error into a typed *errs.Error,
// preserving the driver diagnostic text.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.KindConnection, msg, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return errs.Wrap(errs.KindConnection, msg, err)
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		kind := errs.KindQuery
		switch mysqlErr.Number {
		case errAccessDenied, errAccessDeniedUser, errNoDatabase, errUnknownDatabase,
			errTooManyConns, errAbortingConn, errServerShutdown,
			errConnRefusedClient, errServerGone, errLostConnection:
			kind = errs.KindConnection
		}
		return errs.Wrap(kind, fmt.Sprintf("%s: %s", msg, mysqlErr.Message), err)
	}

	return errs.Wrap(errs.KindConnection, msg, err)
}
