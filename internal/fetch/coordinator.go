// Package fetch coordinates data loads for one consumer: it serves fresh
// cache hits without calling out, and when several loads overlap only the
// most recently issued one may deliver its result.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/flipbook/internal/loading"
	"github.com/sakif/flipbook/internal/navigation"
)

// DefaultCacheDuration applies when neither the coordinator nor the call sets one.
const DefaultCacheDuration = 5 * time.Minute

// ErrSuperseded is returned by a fetch that finished after a newer fetch for
// the same consumer was issued. Its result was discarded.
var ErrSuperseded = errors.New("fetch: superseded by a newer request")

// Func loads the data. ctx is cancelled when the call is superseded.
type Func[T any] func(ctx context.Context) (T, error)

// Options tunes a single Fetch call.
type Options struct {
	ForceRefresh  bool
	CacheDuration time.Duration
	Message       string // shown by the loading registry while the fetch runs
}

// Result is the outcome of a successful Fetch.
type Result[T any] struct {
	Data      T
	FromCache bool
	FetchID   string // empty for cache hits
}

// IDGenerator mints fetch ids.
type IDGenerator interface {
	Next() string
}

type xidGenerator struct{}

func (xidGenerator) Next() string { return xid.New().String() }

// Option configures a Coordinator.
type Option func(*config)

type config struct {
	tracker  *navigation.Tracker
	registry *loading.Registry
	ids      IDGenerator
	duration time.Duration
}

// WithTracker registers every network fetch as pending navigation work.
func WithTracker(t *navigation.Tracker) Option {
	return func(c *config) { c.tracker = t }
}

// WithLoading registers every network fetch with the loading registry.
func WithLoading(r *loading.Registry) Option {
	return func(c *config) { c.registry = r }
}

// WithIDGenerator replaces the default xid-based fetch ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *config) { c.ids = g }
}

// WithCacheDuration sets the freshness window used when a call does not set one.
func WithCacheDuration(d time.Duration) Option {
	return func(c *config) { c.duration = d }
}

// Coordinator serializes fetches for one consumer. Safe for concurrent use.
type Coordinator[T any] struct {
	name  string
	cache *Cache[T]
	cfg   config

	mu     sync.Mutex
	latest string
	cancel context.CancelFunc
}

// NewCoordinator creates a Coordinator that reads and writes cache.
func NewCoordinator[T any](name string, cache *Cache[T], opts ...Option) *Coordinator[T] {
	cfg := config{ids: xidGenerator{}, duration: DefaultCacheDuration}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Coordinator[T]{name: name, cache: cache, cfg: cfg}
}

// Cache returns the underlying cache.
func (c *Coordinator[T]) Cache() *Cache[T] { return c.cache }

// Fetch returns the cached value for key when it is fresh, and otherwise
// calls fn. Issuing a Fetch cancels the previous in-flight one; a fetch that
// is no longer the latest returns ErrSuperseded and never touches the cache.
func (c *Coordinator[T]) Fetch(ctx context.Context, key string, fn Func[T], opts Options) (Result[T], error) {
	maxAge := opts.CacheDuration
	if maxAge <= 0 {
		maxAge = c.cfg.duration
	}

	if !opts.ForceRefresh {
		if data, ok := c.cache.Get(key, maxAge); ok {
			return Result[T]{Data: data, FromCache: true}, nil
		}
	}

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()

	id := c.cfg.ids.Next()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.latest = id
	c.cancel = cancel
	c.mu.Unlock()

	c.register(id, opts.Message)
	var once sync.Once
	defer once.Do(func() { c.unregister(id) })

	data, err := fn(fctx)

	// The latest check and the cache write happen under one lock so a newer
	// fetch cannot slip in between them.
	c.mu.Lock()
	isLatest := c.latest == id
	if isLatest {
		c.cancel = nil
		if err == nil {
			c.cache.Set(key, data)
		}
	}
	c.mu.Unlock()

	var zero Result[T]
	if !isLatest {
		return zero, ErrSuperseded
	}
	if err != nil {
		return zero, fmt.Errorf("fetch %s: %w", c.name, err)
	}
	return Result[T]{Data: data, FetchID: id}, nil
}

// InFlight reports whether the latest issued fetch is still running.
func (c *Coordinator[T]) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Cancel aborts the in-flight fetch, if any. It will return ErrSuperseded.
func (c *Coordinator[T]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.latest = ""
}

func (c *Coordinator[T]) register(id, message string) {
	if c.cfg.registry != nil {
		if message != "" {
			c.cfg.registry.Register(id, message)
		} else {
			c.cfg.registry.Register(id)
		}
	}
	if c.cfg.tracker != nil {
		c.cfg.tracker.RegisterFetch(id)
	}
}

func (c *Coordinator[T]) unregister(id string) {
	if c.cfg.registry != nil {
		c.cfg.registry.Unregister(id)
	}
	if c.cfg.tracker != nil {
		c.cfg.tracker.UnregisterFetch(id)
	}
}
