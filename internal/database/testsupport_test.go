package database

import (
	"context"
	"sync"
	"time"

	"github.com/gridforge/griddb/internal/errs"
)

// fakeConn is a scriptable Conn used by pool, client and schema tests.
type fakeConn struct {
	id int

	mu       sync.Mutex
	execs    []string
	queries  []string
	pingLeft int // number of pings that fail before the conn looks alive
	dead     bool
	closed   bool

	queryFn func(sql string) ([][]any, error)
	execFn  func(sql string) (int64, int64, error)
}

func (f *fakeConn) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead {
		return errs.New(errs.KindConnection, "ping failed")
	}
	if f.pingLeft > 0 {
		f.pingLeft--
		return errs.New(errs.KindConnection, "ping failed")
	}
	return nil
}

func (f *fakeConn) Query(_ context.Context, sql string) ([][]any, error) {
	f.mu.Lock()
	f.queries = append(f.queries, sql)
	fn := f.queryFn
	f.mu.Unlock()
	if fn != nil {
		return fn(sql)
	}
	return [][]any{}, nil
}

func (f *fakeConn) Exec(_ context.Context, sql string) (int64, int64, error) {
	f.mu.Lock()
	f.execs = append(f.execs, sql)
	fn := f.execFn
	f.mu.Unlock()
	if fn != nil {
		return fn(sql)
	}
	return 1, 0, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) recorded() (execs, queries []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.execs...), append([]string(nil), f.queries...)
}

// fakeDialer hands out fresh fakeConns, tracking every conn it created.
type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	dialErr error
	prepare func(*fakeConn) // optional per-conn setup
}

func (d *fakeDialer) Dial(_ context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	c := &fakeConn{id: len(d.conns)}
	if d.prepare != nil {
		d.prepare(c)
	}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// testPoolConfig keeps retries cheap for tests.
func testPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSpares:  2,
		GraceTime:  600 * time.Second,
		MaxRetries: 3,
		Backoff:    0,
	}
}
