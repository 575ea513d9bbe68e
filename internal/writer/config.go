package writer

import "time"

// WriterConfig configures batching.
type WriterConfig struct {
	BatchSize     int           // Flush when this many observations are pending
	FlushInterval time.Duration // Flush at least this often
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: 250 * time.Millisecond,
	}
}

// WriterMetrics counts writer activity.
type WriterMetrics struct {
	Observations int64 // Observations merged
	Inserts      int64 // New coins
	Updates      int64 // Existing coins whose record changed
	Unchanged    int64 // Observations that left the record as it was
	Flushes      int64
	Errors       int64
}
