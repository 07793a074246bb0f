package kv

import (
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend        string
	DatabaseURL    string
	Table          string
	RedisAddr      string
	RedisPassword  string
	RedisNamespace string
}

// Open constructs the configured backend.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		return NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisNamespace)
	case BackendPostgres:
		if strings.TrimSpace(opts.DatabaseURL) == "" {
			return nil, fmt.Errorf("kv: database URL required for %s backend", BackendPostgres)
		}
		return NewGormStore(opts.DatabaseURL, opts.Table)
	default:
		return nil, fmt.Errorf("kv: unknown backend %q", opts.Backend)
	}
}
