package writer

import "time"

// WriterConfig controls batching.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultWriterConfig returns the batching used when none is configured.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
	}
}

// WriterMetrics counts writer outcomes since start.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64 // rows already present
	Skipped   int64 // snapshots without a symbol or quote time
	Errors    int64
	Flushes   int64
}
