package cache

import (
	"time"

	"github.com/shaxzod-muhandis/Admin-Panel/internal/cacheinfra"
)

// NoExpiry is the retention used for stored values. Entries only leave the
// store through invalidation or capacity eviction.
const NoExpiry = cacheinfra.NoExpiry

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Capacity           int
	NumShards          int
	Retention          time.Duration
	EvictionPercentage int
	EvictionInterval   time.Duration
	// LoadTimeout bounds a single loader run. Zero means the loader is only
	// bounded by the transport.
	LoadTimeout time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	cfg := convertFromInternal(cacheinfra.DefaultConfig())
	cfg.LoadTimeout = 30 * time.Second
	return cfg
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if c.LoadTimeout < 0 {
		return &cacheinfra.ConfigError{Field: "LoadTimeout", Message: "must be non-negative"}
	}
	return c.toInternal().Validate()
}

// NewCacheService constructs the default cache service implementation using the provided configuration.
func NewCacheService(cfg Config) (CacheService, error) {
	return cacheinfra.NewSturdycService(cfg.toInternal())
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		Retention:          c.Retention,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		Retention:          cfg.Retention,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
