package config

import "time"

// TailConfig is the root configuration for a feedtail instance.
type TailConfig struct {
	Feed     FeedConfig   `yaml:"feed"`
	Auth     AuthConfig   `yaml:"auth"`
	TLS      TLSConfig    `yaml:"tls"`
	Database DBConfig     `yaml:"database"`
	Writer   WriterConfig `yaml:"writer"`
	Retry    RetryConfig  `yaml:"retry"`
}

// FeedConfig holds change-feed settings.
type FeedConfig struct {
	URL          string            `yaml:"url"`   // Base database URL (http/https)
	Since        string            `yaml:"since"` // Start sequence; empty resumes from the checkpoint
	Filter       string            `yaml:"filter"`
	FilterParams map[string]string `yaml:"filter_params"`
	Style        string            `yaml:"style"` // "all_docs" or "main_only"
	IncludeDocs  bool              `yaml:"include_docs"`
	Heartbeat    time.Duration     `yaml:"heartbeat"`
	Headers      map[string]string `yaml:"headers"`
	MaxPending   int               `yaml:"max_pending"` // In-flight message bound before reads pause
}

// AuthConfig holds feed credentials. Token and username/password are
// mutually exclusive.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
}

// TLSConfig holds transport trust settings.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// DBConfig holds the Postgres connection for the change log.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// RetryConfig holds reconnect backoff settings.
type RetryConfig struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	MaxRetries int           `yaml:"max_retries"` // 0 = retry forever
}
