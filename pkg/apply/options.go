package apply

import "github.com/rs/zerolog"

// ProgressCallback is invoked once per voxel as it completes, from the
// driver for masked voxels and from workers for fitted ones. It must be
// safe for concurrent use.
type ProgressCallback func(completed, total int)

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	poolSize    int
	scaleToMean bool
	logger      zerolog.Logger
	metrics     *Metrics
	progress    ProgressCallback
}

func defaultConfig() engineConfig {
	return engineConfig{logger: zerolog.Nop()}
}

// WithPoolSize sets the number of workers. 0 uses every CPU.
func WithPoolSize(n int) Option {
	return func(c *engineConfig) {
		if n >= 0 {
			c.poolSize = n
		}
	}
}

// WithScaleToMean divides each data input's voxel vector by its own mean
// before concatenation.
func WithScaleToMean(enabled bool) Option {
	return func(c *engineConfig) { c.scaleToMean = enabled }
}

// WithLogger sets the engine logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *engineConfig) { c.logger = l }
}

// WithMetrics records pass metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(c *engineConfig) { c.metrics = m }
}

// WithProgress registers a per-voxel completion callback.
func WithProgress(cb ProgressCallback) Option {
	return func(c *engineConfig) { c.progress = cb }
}
