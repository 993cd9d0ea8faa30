package database

import (
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/gridforge/griddb/internal/errs"
)

// Config holds all settings needed to reach one MySQL server endpoint and
// tune its shared connection pool. One pool exists per distinct
// (host, user, password, port) tuple; Database selects the schema a
// Client addresses on that server.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	Pool PoolConfig `yaml:"pool"`
}

// PoolConfig tunes connection reuse and retry behaviour.
type PoolConfig struct {
	// MaxSpares bounds the queue of released, still-open connections.
	// Excess released connections are closed instead of queued.
	MaxSpares int `yaml:"max_spares"`

	// GraceTime is the idle threshold after which an assigned connection
	// is reclaimed during cleanup sweeps.
	GraceTime time.Duration `yaml:"grace_time"`

	// MaxRetries bounds connection acquisition attempts.
	MaxRetries int `yaml:"max_retries"`

	// Backoff is the linear backoff step: attempt n sleeps n × Backoff
	// before retrying.
	Backoff time.Duration `yaml:"backoff"`
}

// UnmarshalYAML accepts "600s" / "5m" style duration strings for the
// grace and backoff settings.
func (p *PoolConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxSpares  int    `yaml:"max_spares"`
		GraceTime  string `yaml:"grace_time"`
		MaxRetries int    `yaml:"max_retries"`
		Backoff    string `yaml:"backoff"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	p.MaxSpares = raw.MaxSpares
	p.MaxRetries = raw.MaxRetries

	var err error
	if raw.GraceTime != "" {
		if p.GraceTime, err = time.ParseDuration(raw.GraceTime); err != nil {
			return errs.Wrap(errs.KindConfiguration, "invalid grace_time", err)
		}
	}
	if raw.Backoff != "" {
		if p.Backoff, err = time.ParseDuration(raw.Backoff); err != nil {
			return errs.Wrap(errs.KindConfiguration, "invalid backoff", err)
		}
	}
	return nil
}

const (
	defaultPort       = 3306
	defaultMaxSpares  = 10
	defaultGraceTime  = 600 * time.Second
	defaultMaxRetries = 10
	defaultBackoff    = 5 * time.Second
)

// DefaultConfig returns production defaults for the given endpoint.
func DefaultConfig(host, user, password, database string) *Config {
	cfg := &Config{
		Host:     host,
		Port:     defaultPort,
		User:     user,
		Password: password,
		Database: database,
	}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads a YAML config file and fills in defaults for anything
// omitted.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "cannot read config file", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "cannot parse config file", err)
	}
	if cfg.Host == "" || cfg.User == "" {
		return nil, errs.New(errs.KindConfiguration, "config must set host and user")
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Pool.MaxSpares == 0 {
		c.Pool.MaxSpares = defaultMaxSpares
	}
	if c.Pool.GraceTime == 0 {
		c.Pool.GraceTime = defaultGraceTime
	}
	if c.Pool.MaxRetries == 0 {
		c.Pool.MaxRetries = defaultMaxRetries
	}
	if c.Pool.Backoff == 0 {
		c.Pool.Backoff = defaultBackoff
	}
}
