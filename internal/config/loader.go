package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load reads config.yaml from configPath (optional) and applies environment
// overrides prefixed DATAPULSE_, e.g. DATAPULSE_SERVER_PORT.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	} else {
		v.AddConfigPath(".")
	}
	v.AutomaticEnv()
	v.SetEnvPrefix("DATAPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.BindEnv("server.host")
	v.BindEnv("server.port")
	v.BindEnv("store.path")
	v.BindEnv("store.migrations")
	v.BindEnv("limits.max_upload_bytes")
	v.BindEnv("limits.preview_row_cap")
	v.BindEnv("query.timeout_seconds")
	v.BindEnv("query.cache_ttl_seconds")
	v.BindEnv("query.cache_size")
	v.BindEnv("ingest.chunk_size")
	v.BindEnv("ingest.exact_distinct_threshold")
	v.BindEnv("ingest.skip_malformed")
	v.BindEnv("broker.outbound_queue_size")
	v.BindEnv("cors.origins")
	v.BindEnv("log.level")
	v.BindEnv("log.format")

	if err := v.ReadInConfig(); err != nil {
		slog.Info("no config.yaml found, using defaults and env vars")
	} else {
		slog.Info("loaded config.yaml", "path", v.ConfigFileUsed())
	}

	if v.IsSet("server.host") {
		cfg.Host = v.GetString("server.host")
	}
	if v.IsSet("server.port") {
		cfg.Port = v.GetInt("server.port")
	}
	if v.IsSet("store.path") {
		cfg.DatabasePath = v.GetString("store.path")
	}
	if v.IsSet("store.migrations") {
		cfg.MigrationsPath = v.GetString("store.migrations")
	}
	if v.IsSet("limits.max_upload_bytes") {
		cfg.MaxUploadBytes = v.GetInt64("limits.max_upload_bytes")
	}
	if v.IsSet("limits.preview_row_cap") {
		cfg.PreviewRowCap = v.GetInt("limits.preview_row_cap")
	}
	if v.IsSet("query.timeout_seconds") {
		cfg.QueryTimeout = time.Duration(v.GetInt("query.timeout_seconds")) * time.Second
	}
	if v.IsSet("query.cache_ttl_seconds") {
		cfg.CacheTTL = time.Duration(v.GetInt("query.cache_ttl_seconds")) * time.Second
	}
	if v.IsSet("query.cache_size") {
		cfg.CacheSize = v.GetInt("query.cache_size")
	}
	if v.IsSet("ingest.chunk_size") {
		cfg.ChunkSize = v.GetInt("ingest.chunk_size")
	}
	if v.IsSet("ingest.exact_distinct_threshold") {
		cfg.ExactDistinctThreshold = v.GetInt("ingest.exact_distinct_threshold")
	}
	if v.IsSet("ingest.skip_malformed") {
		cfg.SkipMalformed = v.GetBool("ingest.skip_malformed")
	}
	if v.IsSet("broker.outbound_queue_size") {
		cfg.OutboundQueueSize = v.GetInt("broker.outbound_queue_size")
	}
	if v.IsSet("cors.origins") {
		cfg.CORSOrigins = v.GetStringSlice("cors.origins")
	}
	if v.IsSet("log.level") {
		cfg.LogLevel = v.GetString("log.level")
	}
	if v.IsSet("log.format") {
		cfg.LogFormat = v.GetString("log.format")
	}

	return cfg, nil
}
