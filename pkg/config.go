package cache

// config.go defines the internal configuration object and the set of
// functional options that can be passed to New(...). The shape is carried
// over from the teacher's pkg/config.go: a private config struct filled in
// by defaultConfig() and mutated by a slice of Option closures, validated
// and finalised by applyOptions(). Unlike the teacher, options here are not
// generic over a value type — entries are byte streams, not typed Go
// values — so CacheType (rather than K/V) is the main behavioural knob.
//
// © 2025 simplecache authors. MIT License.

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// CacheType selects the eviction-weighting behaviour described in §9: only
// the two generated-byte-code variants disable size-weighted eviction, and
// only AppCache disables last-used-time tracking in favour of prefetch
// hints. Every other enumerant (including Shader and PNaCl) behaves like
// DiskCache.
type CacheType uint8

const (
	DiskCache CacheType = iota
	AppCache
	GeneratedByteCode
	GeneratedWebUIByteCode
	Shader
	PNaCl
)

func (t CacheType) isByteCode() bool {
	return t == GeneratedByteCode || t == GeneratedWebUIByteCode
}

func (t CacheType) isAppCache() bool {
	return t == AppCache
}

// Option mutates config at construction time. All fields are fixed once the
// Backend is built, except maxBytes, which SetMaxSize updates.
type Option func(*config)

type config struct {
	dir      string
	maxBytes int64
	cacheType CacheType

	logger   *zap.Logger
	registry *prometheus.Registry

	// tunables with sensible defaults, overridable for tests.
	writebackForegroundDelay time.Duration
	writebackBackgroundDelay time.Duration
	maxEntriesInIndex        int

	prioritizedCaching   bool
	prioritizationPeriod time.Duration
	prioritizationFactor uint64

	workerPoolConcurrency int64
}

func defaultConfig(dir string, maxBytes int64, cacheType CacheType) *config {
	return &config{
		dir:                      dir,
		maxBytes:                 maxBytes,
		cacheType:                cacheType,
		logger:                   zap.NewNop(),
		writebackForegroundDelay: 20 * time.Second,
		writebackBackgroundDelay: 100 * time.Millisecond,
		maxEntriesInIndex:        1_000_000,
		prioritizationFactor:     5,
		prioritizationPeriod:     5 * time.Minute,
		workerPoolConcurrency:    int64(8),
	}
}

// WithLogger plugs an external zap.Logger. The coordinator never logs on
// the hit/miss hot path; only recovery, upgrade, and overflow events are
// emitted, at Warn or above.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection. Passing nil disables
// metrics (the default): a noop sink is used so the hot path never pays for
// metric updates when the caller hasn't opted in.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *config) {
		c.registry = reg
	}
}

// WithPrioritizedCaching turns on the HIGH_PRIORITY eviction discount
// (§4.2 step 2): entries with the HIGH_PRIORITY in-memory-data bit set and
// younger than period survive eviction factor times longer, all else equal.
func WithPrioritizedCaching(period time.Duration, factor uint64) Option {
	return func(c *config) {
		c.prioritizedCaching = true
		if period > 0 {
			c.prioritizationPeriod = period
		}
		if factor > 0 {
			c.prioritizationFactor = factor
		}
	}
}

// WithMaxEntriesInIndex overrides the index-file size ceiling (§4.3
// deserialize contract): files larger than maxEntries*(8+16) bytes are
// rejected as corrupt.
func WithMaxEntriesInIndex(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxEntriesInIndex = n
		}
	}
}

// WithWorkerPoolConcurrency bounds how many entry file operations may run
// concurrently against the worker pool (§4.6).
func WithWorkerPoolConcurrency(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.workerPoolConcurrency = n
		}
	}
}

func applyOptions(cfg *config, opts []Option) error {
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.dir == "" {
		return errInvalidDir
	}
	if cfg.maxBytes <= 0 {
		return errInvalidMaxSize
	}
	return nil
}

// watermarks mirrors distilled spec §3: high = max - max/20, low = max - 2*max/20.
func watermarks(maxBytes int64) (high, low int64) {
	margin := maxBytes / 20
	return maxBytes - margin, maxBytes - 2*margin
}
