package exr

import (
	"github.com/mrjoshuak/go-openexr-deep/compression"
)

// Sample-count cache defaults. Parts with fewer pixels than the threshold
// keep decoded sample counts in memory so repeated count reads skip the
// file.
const (
	DefaultSampleCountCacheThreshold = 50_000_000
	DefaultSampleCountCacheBytes     = 64 << 20
)

type inputOptions struct {
	scheduler      *Scheduler
	cacheThreshold int64
	cacheBytes     int
}

func defaultInputOptions() inputOptions {
	return inputOptions{
		cacheThreshold: DefaultSampleCountCacheThreshold,
		cacheBytes:     DefaultSampleCountCacheBytes,
	}
}

// InputOption configures a deep reader.
type InputOption func(*inputOptions)

// WithScheduler runs chunk decoding on s instead of the default scheduler.
func WithScheduler(s *Scheduler) InputOption {
	return func(o *inputOptions) { o.scheduler = s }
}

// WithSampleCountCache sets the pixel threshold below which decoded sample
// counts are cached, and the cache size. A threshold of zero disables the
// cache.
func WithSampleCountCache(pixelThreshold int64, bytes int) InputOption {
	return func(o *inputOptions) {
		o.cacheThreshold = pixelThreshold
		o.cacheBytes = bytes
	}
}

type outputOptions struct {
	scheduler *Scheduler
	level     compression.Level
}

// OutputOption configures a deep writer.
type OutputOption func(*outputOptions)

// WithOutputScheduler runs chunk encoding on s instead of the default scheduler.
func WithOutputScheduler(s *Scheduler) OutputOption {
	return func(o *outputOptions) { o.scheduler = s }
}

// WithCompressionLevel sets the zlib level for ZIP and ZIPS parts.
func WithCompressionLevel(l compression.Level) OutputOption {
	return func(o *outputOptions) { o.level = l }
}

func schedulerOr(s *Scheduler) *Scheduler {
	if s != nil {
		return s
	}
	return DefaultScheduler()
}
