package config

import "time"

// TrackerConfig is the root configuration for a tracker instance.
type TrackerConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Log      LogConfig      `yaml:"log"`
	Feed     FeedConfig     `yaml:"feed"`
	Store    StoreConfig    `yaml:"store"`
	Writer   WriterConfig   `yaml:"writer"`
	Poller   PollerConfig   `yaml:"poller"`
	Icons    IconsConfig    `yaml:"icons"`
	Publish  PublishConfig  `yaml:"publish"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// InstanceConfig identifies this tracker.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// FeedConfig holds price feed settings.
type FeedConfig struct {
	RestURL        string        `yaml:"rest_url"`
	WSURL          string        `yaml:"ws_url"`
	APIKey         string        `yaml:"api_key"`          // Key ID for FEED-ACCESS-KEY header
	PrivateKeyPath string        `yaml:"private_key_path"` // RSA private key PEM; empty = unsigned requests
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	EventBuffer    int           `yaml:"event_buffer"`
}

// StoreConfig selects and configures the local coin store.
type StoreConfig struct {
	Driver   string   `yaml:"driver"` // sqlite or postgres
	Path     string   `yaml:"path"`   // SQLite database file
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single PostgreSQL connection.
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

// WriterConfig holds observation writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// PollerConfig holds full-fetch settings. Interval 0 fetches once at startup only.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// IconsConfig holds icon prefetch settings.
type IconsConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"max_bytes"`
}

// PublishConfig holds the optional Redis change publisher settings.
type PublishConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
	HashKey  string `yaml:"hash_key"`
}

// HTTPConfig holds the health/query server settings.
type HTTPConfig struct {
	Port int `yaml:"port"`
}
