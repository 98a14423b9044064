package config

import "time"

// Config is the immutable process configuration. It is constructed once at
// startup and passed explicitly to each component; there is no ambient
// global state.
type Config struct {
	Host string
	Port int

	// DatabasePath is the embedded store file. ":memory:" is valid for tests.
	DatabasePath   string
	MigrationsPath string

	MaxUploadBytes int64
	PreviewRowCap  int

	QueryTimeout time.Duration
	CacheTTL     time.Duration
	CacheSize    int

	// ChunkSize bounds how many records are read and flushed per batch so
	// peak memory stays independent of row count.
	ChunkSize int

	// ExactDistinctThreshold is the per-column cardinality up to which
	// distinct counts stay exact; beyond it a probabilistic estimator takes
	// over.
	ExactDistinctThreshold int
	MostCommonValues       int
	SkipMalformed          bool

	// OutboundQueueSize bounds each live connection's pending messages.
	OutboundQueueSize int

	CORSOrigins []string

	LogLevel  string
	LogFormat string
}

// Default returns the configuration the server runs with when no config file
// or environment overrides are present.
func Default() Config {
	return Config{
		Host:                   "127.0.0.1",
		Port:                   3000,
		DatabasePath:           "datapulse.db",
		MigrationsPath:         "./migrations",
		MaxUploadBytes:         1 << 30, // 1 GiB
		PreviewRowCap:          1000,
		QueryTimeout:           30 * time.Second,
		CacheTTL:               5 * time.Minute,
		CacheSize:              256,
		ChunkSize:              4096,
		ExactDistinctThreshold: 50_000,
		MostCommonValues:       5,
		SkipMalformed:          true,
		OutboundQueueSize:      64,
		CORSOrigins:            []string{"*"},
		LogLevel:               "info",
		LogFormat:              "text",
	}
}
