// Package config loads daemon configuration from an optional TOML file and
// TRENDD_* environment variables. Environment values override the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DatabaseURL string // TRENDD_DATABASE_URL (required)
	HTTPAddr    string // TRENDD_HTTP_ADDR (default ":8080")

	// Counter store. Empty RedisAddr selects the in-process store.
	RedisAddr     string // TRENDD_REDIS_ADDR (optional)
	RedisPassword string // TRENDD_REDIS_PASSWORD (optional)
	RedisDB       int    // TRENDD_REDIS_DB (default 0)

	// Bus. Empty NATSURL disables publish and consume.
	NATSURL         string // TRENDD_NATS_URL (optional)
	ConsumerDurable string // TRENDD_CONSUMER_DURABLE (default "trendd")

	// Event buffer.
	BufferCapacity int           // TRENDD_BUFFER_CAPACITY (default 50000)
	FlushInterval  time.Duration // TRENDD_FLUSH_INTERVAL (default 200ms)
	MaxBatch       int           // TRENDD_MAX_BATCH (default 500)

	// Ingest workers.
	IngestWorkers int           // TRENDD_INGEST_WORKERS (default 4)
	FetchWait     time.Duration // TRENDD_FETCH_WAIT (default 1s)

	// Counter bucket TTLs.
	DailyTTL    time.Duration // TRENDD_DAILY_TTL (default 192h)
	RealtimeTTL time.Duration // TRENDD_REALTIME_TTL (default 2h)
	RankTTL     time.Duration // TRENDD_RANK_TTL (default 1h)

	// Query limits.
	DefaultLimit int // TRENDD_DEFAULT_LIMIT (default 20)
	MaxLimit     int // TRENDD_MAX_LIMIT (default 100)

	// Batch jobs.
	RollupInterval       time.Duration // TRENDD_ROLLUP_INTERVAL (default 10m)
	RebuildInterval      time.Duration // TRENDD_REBUILD_INTERVAL (default 5m)
	CleanupInterval      time.Duration // TRENDD_CLEANUP_INTERVAL (default 24h)
	RollupDays           int           // TRENDD_ROLLUP_DAYS (default 8)
	OverlayMinutes       int           // TRENDD_OVERLAY_MINUTES (default 30)
	ScanCount            int           // TRENDD_SCAN_COUNT (default 100)
	LockTTL              time.Duration // TRENDD_LOCK_TTL (default 5m)
	RebuildFetchLimit    int           // TRENDD_REBUILD_FETCH_LIMIT (default 1000)
	DurableRetentionDays int           // TRENDD_DURABLE_RETENTION_DAYS (default 0 = keep all)

	// Snapshot export.
	ExportInterval   time.Duration // TRENDD_EXPORT_INTERVAL (default 0 = disabled)
	ExportS3Bucket   string        // TRENDD_EXPORT_S3_BUCKET (enables S3 when set)
	ExportS3Endpoint string        // TRENDD_EXPORT_S3_ENDPOINT (custom endpoint for MinIO)
	ExportS3Region   string        // TRENDD_EXPORT_S3_REGION (default "us-east-1")
	ExportS3Prefix   string        // TRENDD_EXPORT_S3_PREFIX (default "trendd")
}

// fileConfig mirrors Config for TOML decoding. Durations are strings in
// the file ("10m", "192h") and parsed after decode.
type fileConfig struct {
	DatabaseURL string `toml:"database_url"`
	HTTPAddr    string `toml:"http_addr"`

	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       *int   `toml:"redis_db"`

	NATSURL         string `toml:"nats_url"`
	ConsumerDurable string `toml:"consumer_durable"`

	BufferCapacity *int   `toml:"buffer_capacity"`
	FlushInterval  string `toml:"flush_interval"`
	MaxBatch       *int   `toml:"max_batch"`

	IngestWorkers *int   `toml:"ingest_workers"`
	FetchWait     string `toml:"fetch_wait"`

	DailyTTL    string `toml:"daily_ttl"`
	RealtimeTTL string `toml:"realtime_ttl"`
	RankTTL     string `toml:"rank_ttl"`

	DefaultLimit *int `toml:"default_limit"`
	MaxLimit     *int `toml:"max_limit"`

	RollupInterval       string `toml:"rollup_interval"`
	RebuildInterval      string `toml:"rebuild_interval"`
	CleanupInterval      string `toml:"cleanup_interval"`
	RollupDays           *int   `toml:"rollup_days"`
	OverlayMinutes       *int   `toml:"overlay_minutes"`
	ScanCount            *int   `toml:"scan_count"`
	LockTTL              string `toml:"lock_ttl"`
	RebuildFetchLimit    *int   `toml:"rebuild_fetch_limit"`
	DurableRetentionDays *int   `toml:"durable_retention_days"`

	ExportInterval   string `toml:"export_interval"`
	ExportS3Bucket   string `toml:"export_s3_bucket"`
	ExportS3Endpoint string `toml:"export_s3_endpoint"`
	ExportS3Region   string `toml:"export_s3_region"`
	ExportS3Prefix   string `toml:"export_s3_prefix"`
}

// Load builds the configuration: defaults, then the TOML file named by
// TRENDD_CONFIG (if set), then environment overrides.
func Load() (*Config, error) {
	c := defaults()

	if path := os.Getenv("TRENDD_CONFIG"); path != "" {
		if err := c.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func defaults() *Config {
	return &Config{
		HTTPAddr:          ":8080",
		ConsumerDurable:   "trendd",
		BufferCapacity:    50000,
		FlushInterval:     200 * time.Millisecond,
		MaxBatch:          500,
		IngestWorkers:     4,
		FetchWait:         time.Second,
		DailyTTL:          192 * time.Hour,
		RealtimeTTL:       2 * time.Hour,
		RankTTL:           time.Hour,
		DefaultLimit:      20,
		MaxLimit:          100,
		RollupInterval:    10 * time.Minute,
		RebuildInterval:   5 * time.Minute,
		CleanupInterval:   24 * time.Hour,
		RollupDays:        8,
		OverlayMinutes:    30,
		ScanCount:         100,
		LockTTL:           5 * time.Minute,
		RebuildFetchLimit: 1000,
		ExportS3Region:    "us-east-1",
		ExportS3Prefix:    "trendd",
	}
}

func (c *Config) applyFile(path string) error {
	var f fileConfig
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	setString(&c.DatabaseURL, f.DatabaseURL)
	setString(&c.HTTPAddr, f.HTTPAddr)
	setString(&c.RedisAddr, f.RedisAddr)
	setString(&c.RedisPassword, f.RedisPassword)
	setIntPtr(&c.RedisDB, f.RedisDB)
	setString(&c.NATSURL, f.NATSURL)
	setString(&c.ConsumerDurable, f.ConsumerDurable)
	setIntPtr(&c.BufferCapacity, f.BufferCapacity)
	setIntPtr(&c.MaxBatch, f.MaxBatch)
	setIntPtr(&c.IngestWorkers, f.IngestWorkers)
	setIntPtr(&c.DefaultLimit, f.DefaultLimit)
	setIntPtr(&c.MaxLimit, f.MaxLimit)
	setIntPtr(&c.RollupDays, f.RollupDays)
	setIntPtr(&c.OverlayMinutes, f.OverlayMinutes)
	setIntPtr(&c.ScanCount, f.ScanCount)
	setIntPtr(&c.RebuildFetchLimit, f.RebuildFetchLimit)
	setIntPtr(&c.DurableRetentionDays, f.DurableRetentionDays)
	setString(&c.ExportS3Bucket, f.ExportS3Bucket)
	setString(&c.ExportS3Endpoint, f.ExportS3Endpoint)
	setString(&c.ExportS3Region, f.ExportS3Region)
	setString(&c.ExportS3Prefix, f.ExportS3Prefix)

	for _, d := range []struct {
		dst  *time.Duration
		raw  string
		name string
	}{
		{&c.FlushInterval, f.FlushInterval, "flush_interval"},
		{&c.FetchWait, f.FetchWait, "fetch_wait"},
		{&c.DailyTTL, f.DailyTTL, "daily_ttl"},
		{&c.RealtimeTTL, f.RealtimeTTL, "realtime_ttl"},
		{&c.RankTTL, f.RankTTL, "rank_ttl"},
		{&c.RollupInterval, f.RollupInterval, "rollup_interval"},
		{&c.RebuildInterval, f.RebuildInterval, "rebuild_interval"},
		{&c.CleanupInterval, f.CleanupInterval, "cleanup_interval"},
		{&c.LockTTL, f.LockTTL, "lock_ttl"},
		{&c.ExportInterval, f.ExportInterval, "export_interval"},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.DatabaseURL, os.Getenv("TRENDD_DATABASE_URL"))
	setString(&c.HTTPAddr, os.Getenv("TRENDD_HTTP_ADDR"))
	setString(&c.RedisAddr, os.Getenv("TRENDD_REDIS_ADDR"))
	setString(&c.RedisPassword, os.Getenv("TRENDD_REDIS_PASSWORD"))
	setString(&c.NATSURL, os.Getenv("TRENDD_NATS_URL"))
	setString(&c.ConsumerDurable, os.Getenv("TRENDD_CONSUMER_DURABLE"))
	setString(&c.ExportS3Bucket, os.Getenv("TRENDD_EXPORT_S3_BUCKET"))
	setString(&c.ExportS3Endpoint, os.Getenv("TRENDD_EXPORT_S3_ENDPOINT"))
	setString(&c.ExportS3Region, os.Getenv("TRENDD_EXPORT_S3_REGION"))
	setString(&c.ExportS3Prefix, os.Getenv("TRENDD_EXPORT_S3_PREFIX"))

	for _, i := range []struct {
		dst *int
		key string
	}{
		{&c.RedisDB, "TRENDD_REDIS_DB"},
		{&c.BufferCapacity, "TRENDD_BUFFER_CAPACITY"},
		{&c.MaxBatch, "TRENDD_MAX_BATCH"},
		{&c.IngestWorkers, "TRENDD_INGEST_WORKERS"},
		{&c.DefaultLimit, "TRENDD_DEFAULT_LIMIT"},
		{&c.MaxLimit, "TRENDD_MAX_LIMIT"},
		{&c.RollupDays, "TRENDD_ROLLUP_DAYS"},
		{&c.OverlayMinutes, "TRENDD_OVERLAY_MINUTES"},
		{&c.ScanCount, "TRENDD_SCAN_COUNT"},
		{&c.RebuildFetchLimit, "TRENDD_REBUILD_FETCH_LIMIT"},
		{&c.DurableRetentionDays, "TRENDD_DURABLE_RETENTION_DAYS"},
	} {
		raw := os.Getenv(i.key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", i.key, err)
		}
		*i.dst = v
	}

	for _, d := range []struct {
		dst *time.Duration
		key string
	}{
		{&c.FlushInterval, "TRENDD_FLUSH_INTERVAL"},
		{&c.FetchWait, "TRENDD_FETCH_WAIT"},
		{&c.DailyTTL, "TRENDD_DAILY_TTL"},
		{&c.RealtimeTTL, "TRENDD_REALTIME_TTL"},
		{&c.RankTTL, "TRENDD_RANK_TTL"},
		{&c.RollupInterval, "TRENDD_ROLLUP_INTERVAL"},
		{&c.RebuildInterval, "TRENDD_REBUILD_INTERVAL"},
		{&c.CleanupInterval, "TRENDD_CLEANUP_INTERVAL"},
		{&c.LockTTL, "TRENDD_LOCK_TTL"},
		{&c.ExportInterval, "TRENDD_EXPORT_INTERVAL"},
	} {
		raw := os.Getenv(d.key)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("TRENDD_DATABASE_URL is required")
	}
	// The rollup re-reads its window from the daily buckets; a shorter TTL
	// would expire data the rollup still needs.
	if c.DailyTTL < time.Duration(c.RollupDays)*24*time.Hour {
		return fmt.Errorf("daily TTL %s is shorter than the %d-day rollup window", c.DailyTTL, c.RollupDays)
	}
	if c.RealtimeTTL < time.Duration(c.OverlayMinutes)*time.Minute {
		return fmt.Errorf("realtime TTL %s is shorter than the %d-minute overlay window", c.RealtimeTTL, c.OverlayMinutes)
	}
	if c.DefaultLimit > c.MaxLimit {
		return fmt.Errorf("default limit %d exceeds max limit %d", c.DefaultLimit, c.MaxLimit)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setIntPtr(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
