package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultStyle         = "all_docs"
	DefaultHeartbeat     = 30 * time.Second
	DefaultMaxPending    = 2
	DefaultDBPort        = 5432
	DefaultDBSSLMode     = "prefer"
	DefaultMaxConns      = 10
	DefaultMinConns      = 2
	DefaultBatchSize     = 500
	DefaultFlushInterval = 1 * time.Second
	DefaultBufferSize    = 2000
	DefaultRetryBase     = 1 * time.Second
	DefaultRetryMax      = 60 * time.Second
)

func (c *TailConfig) applyDefaults() {
	// Feed defaults
	if c.Feed.Style == "" {
		c.Feed.Style = DefaultStyle
	}
	if c.Feed.Heartbeat == 0 {
		c.Feed.Heartbeat = DefaultHeartbeat
	}
	if c.Feed.MaxPending == 0 {
		c.Feed.MaxPending = DefaultMaxPending
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultBufferSize
	}

	// Retry defaults
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = DefaultRetryBase
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = DefaultRetryMax
	}
}
