package database

import (
	"fmt"
	"sync"

	"github.com/gridforge/griddb/internal/logger"
)

// endpointKey identifies one server endpoint. Every Client addressing any
// schema on the same endpoint shares one pool.
type endpointKey struct {
	host     string
	user     string
	password string
	port     int
}

// Registry holds the process-wide pools, one per endpoint. It replaces
// the implicit ambient singleton of the original design with an explicit
// lifecycle: pools are created on first use and torn down with CloseAll.
type Registry struct {
	log *logger.Logger

	mu    sync.Mutex
	pools map[endpointKey]*Pool
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		log:   log,
		pools: make(map[endpointKey]*Pool),
	}
}

// PoolFor returns the pool for cfg's endpoint, creating it on first use.
func (r *Registry) PoolFor(cfg *Config) (*Pool, error) {
	key := endpointKey{host: cfg.Host, user: cfg.User, password: cfg.Password, port: cfg.Port}

	r.mu.Lock()
	defer r.mu.Unlock()

	if pool, ok := r.pools[key]; ok {
		return pool, nil
	}

	dialer, err := NewMySQLDialer(cfg)
	if err != nil {
		return nil, err
	}
	pool := NewPool(dialer, cfg.Pool, r.log)
	r.pools[key] = pool
	if r.log != nil {
		r.log.Infof("created pool for %s@%s:%d", cfg.User, cfg.Host, cfg.Port)
	}
	return pool, nil
}

// Stats returns a snapshot per endpoint, keyed "user@host:port".
func (r *Registry) Stats() map[string]PoolStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]PoolStats, len(r.pools))
	for key, pool := range r.pools {
		out[fmt.Sprintf("%s@%s:%d", key.user, key.host, key.port)] = pool.Stats()
	}
	return out
}

// CloseAll closes every pool. Call once at process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.pools = make(map[endpointKey]*Pool)
	r.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}
