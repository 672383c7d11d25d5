// Package coordinator owns a store, its main context and the save protocol.
//
// # Save protocol
//
// Save runs guard checks on the caller's goroutine, then writes the writer
// context's change set on the writer's queue. A successful write is handed
// to the notifier queue, which merges it into the main context (awaiting the
// main context's queue) and only then delivers the Success outcome. By the
// time a callback sees Success, reads through the main context observe the
// saved values.
//
// # Delivery
//
// Guard failures are delivered synchronously. Every other outcome is
// delivered on the executor chosen with WithDelivery: a dedicated serial
// callback queue (DeliverBackground, default) or the main context's queue
// (DeliverMain). Callbacks delivered on the main context's queue must not
// call main.PerformAndWait or SaveAndWait: both wait on that same queue.
package coordinator

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/graphstore/internal/graph"
	"github.com/roach88/graphstore/internal/logging"
	"github.com/roach88/graphstore/internal/queue"
	"github.com/roach88/graphstore/internal/registry"
	"github.com/roach88/graphstore/internal/schema"
	"github.com/roach88/graphstore/internal/storage"
	"github.com/roach88/graphstore/internal/storage/sqlite"
)

// Delivery selects the executor completion callbacks run on.
type Delivery int

const (
	// DeliverBackground runs callbacks on a dedicated serial queue.
	DeliverBackground Delivery = iota
	// DeliverMain runs callbacks on the main context's queue.
	DeliverMain
)

func (d Delivery) String() string {
	switch d {
	case DeliverBackground:
		return "background"
	case DeliverMain:
		return "main"
	}
	return fmt.Sprintf("Delivery(%d)", int(d))
}

// ParseDelivery parses "background" or "main".
func ParseDelivery(s string) (Delivery, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "background":
		return DeliverBackground, nil
	case "main":
		return DeliverMain, nil
	}
	return 0, fmt.Errorf("unknown delivery %q (want background or main)", s)
}

// pending is a registered completion. seq ties it to one save.
type pending struct {
	seq uint64
	cb  Callback
}

// Coordinator owns a backend, the main context and in-flight saves.
type Coordinator struct {
	backend storage.Backend
	handle  *sqlite.Handle // nil when constructed with New
	logger  *slog.Logger

	schema      *schema.Schema
	policy      registry.PendingPolicy
	delivery    Delivery
	mergePolicy graph.MergePolicy
	watchDir    string
	watchName   string

	main        *graph.Context
	completions *registry.Registry[graph.ID, pending]
	notifier    *queue.Queue
	callbacks   *queue.Queue
	saveSeq     atomic.Uint64

	watcher        *fsnotify.Watcher
	watchDone      chan struct{}
	refreshPending atomic.Bool

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Defaults to a discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithSchema enables preflight validation of every saved change set.
func WithSchema(s *schema.Schema) Option {
	return func(c *Coordinator) {
		c.schema = s
	}
}

// WithPendingPolicy decides what a save does while the same context's
// previous completion is pending. Defaults to RejectIfPending.
func WithPendingPolicy(p registry.PendingPolicy) Option {
	return func(c *Coordinator) {
		c.policy = p
	}
}

// WithDelivery selects the callback executor. Defaults to DeliverBackground.
func WithDelivery(d Delivery) Option {
	return func(c *Coordinator) {
		c.delivery = d
	}
}

// WithDefaultMergePolicy sets the merge policy of new writer contexts.
// Defaults to ClientWins.
func WithDefaultMergePolicy(p graph.MergePolicy) Option {
	return func(c *Coordinator) {
		c.mergePolicy = p
	}
}

// WithSharedWatch watches dir for changes to the store file name made by
// other processes and refreshes the main context when they happen. Open
// enables it for stores in a shared group.
func WithSharedWatch(dir, name string) Option {
	return func(c *Coordinator) {
		c.watchDir = dir
		c.watchName = name
	}
}

// Open opens the SQLite store described by cfg and returns a coordinator
// over it. Open errors are fatal: the caller must not continue without a
// store.
func Open(cfg storage.Config, opts ...Option) (*Coordinator, error) {
	probe := &Coordinator{}
	for _, opt := range opts {
		opt(probe)
	}

	h, err := sqlite.Open(cfg, sqlite.WithLogger(probe.logger))
	if err != nil {
		return nil, err
	}
	if cfg.SharedGroupID != "" && probe.watchDir == "" {
		opts = append(opts, WithSharedWatch(h.Dir(), cfg.Name+"."+storage.Extension))
	}

	c, err := newCoordinator(h, opts)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	c.handle = h
	return c, nil
}

// New returns a coordinator over an already open backend. The coordinator
// takes ownership and closes it on Close.
func New(backend storage.Backend, opts ...Option) (*Coordinator, error) {
	return newCoordinator(backend, opts)
}

func newCoordinator(backend storage.Backend, opts []Option) (*Coordinator, error) {
	c := &Coordinator{
		backend:     backend,
		mergePolicy: graph.ClientWins,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.Default(c.logger).With("component", "coordinator")

	c.completions = registry.New[graph.ID, pending](c.policy)
	c.notifier = queue.New("notifier", queue.WithLogger(c.logger))
	c.callbacks = queue.New("callbacks", queue.WithLogger(c.logger))
	c.main = graph.NewMain(backend,
		graph.WithName("main"),
		graph.WithOwner(c),
		graph.WithLogger(c.logger),
	)

	if c.watchDir != "" {
		if err := c.startWatch(); err != nil {
			c.notifier.Close()
			c.callbacks.Close()
			c.main.Close()
			return nil, err
		}
	}

	c.logger.Info("coordinator started",
		"pending_policy", c.policy.String(),
		"delivery", c.delivery.String(),
		"merge_policy", c.mergePolicy.String(),
		"schema", c.schema != nil,
	)
	return c, nil
}

// Store returns the SQLite handle, or nil when the coordinator was built
// with New.
func (c *Coordinator) Store() *sqlite.Handle {
	return c.handle
}

// Backend returns the backend the coordinator writes to.
func (c *Coordinator) Backend() storage.Backend {
	return c.backend
}

// MainContext returns the main context. Every call returns the same
// instance.
func (c *Coordinator) MainContext() (*graph.Context, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, saveError(ErrCodeStoreUnavailable, graph.ID{}, nil, "coordinator is closed")
	}
	return c.main, nil
}

// NewWriterContext returns a writer context whose parent is the main
// context. Without a WithMergePolicy option it uses the coordinator's
// default merge policy.
func (c *Coordinator) NewWriterContext(opts ...graph.Option) (*graph.Context, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, saveError(ErrCodeStoreUnavailable, graph.ID{}, nil, "coordinator is closed")
	}
	base := []graph.Option{
		graph.WithMergePolicy(c.mergePolicy),
		graph.WithOwner(c),
		graph.WithLogger(c.logger),
	}
	return graph.NewWriter(c.main, append(base, opts...)...), nil
}

// Pending returns the number of registered, undelivered completions.
func (c *Coordinator) Pending() int {
	return c.completions.Len()
}

// Close rejects new saves, waits until every accepted save has delivered
// its outcome, then stops the queues, the watcher and the store.
// Must not be called from a completion callback.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.inflight.Wait()
	c.stopWatch()
	c.notifier.Close()
	c.callbacks.Close()
	c.main.Close()

	err := c.backend.Close()
	c.logger.Info("coordinator closed")
	return err
}
