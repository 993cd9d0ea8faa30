package database

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridforge/griddb/internal/errs"
	"github.com/gridforge/griddb/internal/logger"
)

// consumerKey is the context key carrying the consumer identity.
type consumerKey struct{}

// WithConsumer attaches a consumer identity to ctx. The pool pins every
// consumer to at most one connection, so each concurrently running worker
// must carry its own token.
func WithConsumer(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, consumerKey{}, id)
}

// ConsumerFromContext extracts the consumer identity from ctx.
func ConsumerFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(consumerKey{}).(string)
	return id, ok && id != ""
}

// NewConsumerID mints a fresh opaque consumer token.
func NewConsumerID() string {
	return uuid.NewString()
}

// assignment pins a connection to one consumer.
type assignment struct {
	conn     Conn
	schema   string // currently selected schema, "" when none yet
	lastUsed time.Time
}

type spare struct {
	conn   Conn
	schema string
}

// PoolStats is a snapshot of pool state for the ops surface.
type PoolStats struct {
	Assigned int    `json:"assigned"`
	Spares   int    `json:"spares"`
	Opened   uint64 `json:"opened"`
	Closed   uint64 `json:"closed"`
}

// Pool manages the live connections of one server endpoint, shared by
// every Client addressing schemas on that server.
//
// Each consumer identity is pinned to at most one connection, so the
// worst-case number of physical connections tracks the number of
// concurrently active consumers; the pool grows on demand rather than
// queuing acquisitions. Released connections are kept in a bounded LIFO
// spare queue for reuse.
type Pool struct {
	dialer Dialer
	cfg    PoolConfig
	log    *logger.Logger

	// Alive, when set, lets Clean detect consumers that no longer exist
	// (a worker registry lookup, for example). Without it only the idle
	// grace period reclaims assignments.
	alive func(consumer string) bool

	mu       sync.Mutex
	assigned map[string]*assignment
	spares   []spare
	opened   uint64
	closed   uint64
}

// NewPool creates a pool over the given dialer.
func NewPool(dialer Dialer, cfg PoolConfig, log *logger.Logger) *Pool {
	if log == nil {
		log = logger.Nop()
	}
	return &Pool{
		dialer:   dialer,
		cfg:      cfg,
		log:      log.Component("pool"),
		assigned: make(map[string]*assignment),
	}
}

// SetAliveCheck installs the liveness hook used by Clean.
func (p *Pool) SetAliveCheck(alive func(consumer string) bool) {
	p.mu.Lock()
	p.alive = alive
	p.mu.Unlock()
}

// Get returns the connection assigned to the calling consumer, selecting
// the requested schema if it differs from the session's current one.
//
// The consumer identity must be present in ctx (WithConsumer). A held
// connection is reused; otherwise a spare is popped (most recently
// released first) or a new connection is dialed. Dead connections are
// detected by ping and replaced. Attempts are bounded by MaxRetries with
// linear backoff between them; the backoff sleep honours ctx
// cancellation. The lock is never held across network I/O.
func (p *Pool) Get(ctx context.Context, schema string) (Conn, error) {
	consumer, ok := ConsumerFromContext(ctx)
	if !ok {
		return nil, errs.New(errs.KindConfiguration, "no consumer identity in context")
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*p.cfg.Backoff); err != nil {
				return nil, errs.Wrap(errs.KindConnection, "acquisition cancelled", err)
			}
		}
		conn, err := p.acquire(ctx, consumer, schema)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		p.log.WithField("consumer", consumer).
			Warnf("acquisition attempt %d failed: %v", attempt+1, err)
	}
	return nil, errs.Wrap(errs.KindConnection, "could not acquire connection", lastErr)
}

// acquire performs one assignment-reuse/spare-pop/dial cycle plus the
// liveness check and schema selection.
func (p *Pool) acquire(ctx context.Context, consumer, schema string) (Conn, error) {
	now := time.Now()

	p.mu.Lock()
	a, exists := p.assigned[consumer]
	if exists {
		a.lastUsed = now
		p.mu.Unlock()
	} else if n := len(p.spares); n > 0 {
		s := p.spares[n-1]
		p.spares = p.spares[:n-1]
		a = &assignment{conn: s.conn, schema: s.schema, lastUsed: now}
		p.assigned[consumer] = a
		p.mu.Unlock()
	} else {
		p.mu.Unlock()
		conn, err := p.dialer.Dial(ctx)
		if err != nil {
			return nil, err
		}
		a = &assignment{conn: conn, lastUsed: now}
		p.mu.Lock()
		p.opened++
		p.assigned[consumer] = a
		p.mu.Unlock()
	}

	if err := a.conn.Ping(ctx); err != nil {
		p.drop(consumer)
		return nil, err
	}

	if a.schema != schema {
		if _, _, err := a.conn.Exec(ctx, "USE "+QuoteIdent(schema)); err != nil {
			p.drop(consumer)
			return nil, errs.Wrap(errs.KindConnection, "could not select schema "+schema, err)
		}
		p.mu.Lock()
		a.schema = schema
		p.mu.Unlock()
	}

	return a.conn, nil
}

// drop removes a consumer's assignment and closes the connection. Used
// when the session turned out to be dead or unusable.
func (p *Pool) drop(consumer string) {
	p.mu.Lock()
	a, ok := p.assigned[consumer]
	if ok {
		delete(p.assigned, consumer)
		p.closed++
	}
	p.mu.Unlock()
	if ok {
		_ = a.conn.Close()
	}
}

// Release returns the consumer's connection to the spare queue, or closes
// it when the queue is full. Consumers normally never call this directly;
// the periodic Clean sweep reclaims idle assignments the same way.
func (p *Pool) Release(consumer string) {
	p.mu.Lock()
	a, ok := p.assigned[consumer]
	var toClose Conn
	if ok {
		delete(p.assigned, consumer)
		if len(p.spares) < p.cfg.MaxSpares {
			p.spares = append(p.spares, spare{conn: a.conn, schema: a.schema})
		} else {
			toClose = a.conn
			p.closed++
		}
	}
	p.mu.Unlock()
	if toClose != nil {
		_ = toClose.Close()
	}
}

// Clean reclaims assignments whose consumer is gone (when an alive hook
// is installed) or idle beyond the grace period. Call it from a periodic
// sweep; without it, idle connections are reclaimed only the next time
// the same consumer calls Get.
func (p *Pool) Clean(now time.Time) {
	p.mu.Lock()
	var stale []string
	for consumer, a := range p.assigned {
		if p.alive != nil && !p.alive(consumer) {
			stale = append(stale, consumer)
			continue
		}
		if now.Sub(a.lastUsed) > p.cfg.GraceTime {
			stale = append(stale, consumer)
		}
	}
	p.mu.Unlock()

	for _, consumer := range stale {
		p.Release(consumer)
	}
}

// TransactionStart opens a consistent-snapshot transaction on the calling
// consumer's connection.
func (p *Pool) TransactionStart(ctx context.Context, schema string) error {
	return p.transactionExec(ctx, schema, "START TRANSACTION WITH CONSISTENT SNAPSHOT", "could not begin transaction")
}

// TransactionCommit commits the calling consumer's open transaction.
func (p *Pool) TransactionCommit(ctx context.Context, schema string) error {
	return p.transactionExec(ctx, schema, "COMMIT", "could not commit transaction")
}

// TransactionRollback rolls back the calling consumer's open transaction.
func (p *Pool) TransactionRollback(ctx context.Context, schema string) error {
	return p.transactionExec(ctx, schema, "ROLLBACK", "could not rollback transaction")
}

func (p *Pool) transactionExec(ctx context.Context, schema, stmt, failMsg string) error {
	conn, err := p.Get(ctx, schema)
	if err != nil {
		return err
	}
	if _, _, err := conn.Exec(ctx, stmt); err != nil {
		return errs.Wrap(errs.KindConnection, failMsg, err)
	}
	return nil
}

// Stats returns a snapshot of pool state.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Assigned: len(p.assigned),
		Spares:   len(p.spares),
		Opened:   p.opened,
		Closed:   p.closed,
	}
}

// Close shuts every connection the pool still tracks. Used at process
// teardown via the registry.
func (p *Pool) Close() {
	p.mu.Lock()
	conns := make([]Conn, 0, len(p.assigned)+len(p.spares))
	for _, a := range p.assigned {
		conns = append(conns, a.conn)
	}
	for _, s := range p.spares {
		conns = append(conns, s.conn)
	}
	p.assigned = make(map[string]*assignment)
	p.spares = nil
	p.closed += uint64(len(conns))
	p.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// sleepCtx sleeps for d unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
