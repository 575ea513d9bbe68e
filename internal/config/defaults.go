package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultRestURL        = "http://localhost:8090/api"
	DefaultWSURL          = "ws://localhost:8090/stream"
	DefaultFeedTimeout    = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultPingTimeout    = 60 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultEventBuffer    = 10000
	DefaultStoreDriver    = DriverSQLite
	DefaultStorePath      = "coins.db"
	DefaultDBPort         = 5432
	DefaultDBSSLMode      = "prefer"
	DefaultMaxConns       = 10
	DefaultMinConns       = 2
	DefaultBatchSize      = 500
	DefaultFlushInterval  = 250 * time.Millisecond
	DefaultBufferSize     = 10000
	DefaultPollTimeout    = 30 * time.Second
	DefaultIconTimeout    = 10 * time.Second
	DefaultIconMaxBytes   = 1 << 20
	DefaultPublishChannel = "coins:changes"
	DefaultPublishHashKey = "coins:latest"
	DefaultHTTPPort       = 8080
	DriverSQLite          = "sqlite"
	DriverPostgres        = "postgres"
)

func (c *TrackerConfig) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Feed defaults
	if c.Feed.RestURL == "" {
		c.Feed.RestURL = DefaultRestURL
	}
	if c.Feed.WSURL == "" {
		c.Feed.WSURL = DefaultWSURL
	}
	if c.Feed.Timeout == 0 {
		c.Feed.Timeout = DefaultFeedTimeout
	}
	if c.Feed.MaxRetries == 0 {
		c.Feed.MaxRetries = DefaultMaxRetries
	}
	if c.Feed.PingTimeout == 0 {
		c.Feed.PingTimeout = DefaultPingTimeout
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feed.EventBuffer == 0 {
		c.Feed.EventBuffer = DefaultEventBuffer
	}

	// Store defaults
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	if c.Store.Driver == DriverSQLite && c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Store.Driver == DriverPostgres {
		applyDBDefaults(&c.Store.Postgres)
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

	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	if c.Icons.Timeout == 0 {
		c.Icons.Timeout = DefaultIconTimeout
	}
	if c.Icons.MaxBytes == 0 {
		c.Icons.MaxBytes = DefaultIconMaxBytes
	}

	// Publish defaults apply even when disabled so the effective config is printable.
	if c.Publish.Channel == "" {
		c.Publish.Channel = DefaultPublishChannel
	}
	if c.Publish.HashKey == "" {
		c.Publish.HashKey = DefaultPublishHashKey
	}

	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
