// File: dma/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Engine is the explicit context shared by every channel: descriptor pool,
// buffer heap, socket bus, cache, interrupt dispatcher and runtime control.

package dma

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-dma/adapters"
	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/control"
	"github.com/momentics/hioload-dma/internal/concurrency"
)

// Runtime config keys read on reload.
const (
	KeyLockTimeout = "dma.lock_timeout"
)

// Metric keys maintained by the engine.
const (
	MetricEvents          = "dma.events"
	MetricEventsDropped   = "dma.events.dropped"
	MetricBuffersProduced = "dma.buffers.produced"
	MetricBuffersReleased = "dma.buffers.released"
	MetricChannelsOpen    = "dma.channels.open"
)

// Engine owns the shared DMA resources.
type Engine struct {
	pool  api.DescriptorPool
	heap  api.BufferHeap
	bus   api.SocketBus
	cache api.Cache
	ctrl  api.Control
	disp  *concurrency.Dispatcher
	log   *log.Logger

	// poolMu serializes descriptor alloc/free across channels.
	// Descriptor reads and writes of a live chain are guarded by the
	// owning channel's lock instead.
	poolMu sync.Mutex

	lockTimeout atomic.Int64

	mu       sync.Mutex
	channels map[string]*Channel
	seq      int

	batchSize, queueSize int
	serviceCPU           int
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache sets the cache maintenance backend.
func WithCache(c api.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithControl sets the runtime control surface.
func WithControl(c api.Control) Option {
	return func(e *Engine) { e.ctrl = c }
}

// WithLogger sets the engine logger. The default discards output.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithLockTimeout sets the default channel lock timeout.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) { e.lockTimeout.Store(int64(d)) }
}

// WithDispatcher sizes the interrupt dispatcher.
func WithDispatcher(batchSize, queueSize int) Option {
	return func(e *Engine) { e.batchSize, e.queueSize = batchSize, queueSize }
}

// WithServiceCPU pins the thread running Engine.Run to cpu.
func WithServiceCPU(cpu int) Option {
	return func(e *Engine) { e.serviceCPU = cpu }
}

type noCache struct{}

func (noCache) Clean(api.BufferRef, int)      {}
func (noCache) Invalidate(api.BufferRef, int) {}
func (noCache) Barrier()                      {}

// NewEngine creates an engine over the given pool, heap and bus.
func NewEngine(pool api.DescriptorPool, heap api.BufferHeap, bus api.SocketBus, opts ...Option) *Engine {
	e := &Engine{
		pool:       pool,
		heap:       heap,
		bus:        bus,
		cache:      noCache{},
		log:        log.New(io.Discard, "", log.LstdFlags),
		channels:   make(map[string]*Channel),
		batchSize:  16,
		queueSize:  1024,
		serviceCPU: -1,
	}
	e.lockTimeout.Store(int64(WaitForever))
	for _, opt := range opts {
		opt(e)
	}
	if e.ctrl == nil {
		e.ctrl = adapters.NewControlAdapter()
	}
	e.disp = concurrency.NewDispatcher(e.batchSize, e.queueSize)
	e.disp.PinTo(e.serviceCPU)
	e.disp.OnDrop = func(ev api.SocketEvent) {
		e.ctrl.AddMetric(MetricEventsDropped, 1)
		e.log.Printf("[dma] no channel owns socket %s, dropped %s event", ev.Socket, ev.Kind)
	}

	e.ctrl.RegisterDebugProbe("pool.descriptors", func() any {
		e.poolMu.Lock()
		defer e.poolMu.Unlock()
		return e.pool.Stats()
	})
	e.ctrl.RegisterDebugProbe("heap.blocks", func() any { return e.heap.Stats() })
	e.ctrl.RegisterDebugProbe("dispatch.pending", func() any { return e.disp.Pending() })
	e.ctrl.OnReload(e.reload)
	e.reload()
	return e
}

// reload applies runtime tunables from the control config.
func (e *Engine) reload() {
	v, ok := e.ctrl.GetConfig()[KeyLockTimeout]
	if !ok {
		return
	}
	d, err := control.Duration(v)
	if err != nil {
		e.log.Printf("[dma] ignoring %s: %v", KeyLockTimeout, err)
		return
	}
	e.lockTimeout.Store(int64(d))
}

// LockTimeout returns the default channel lock timeout.
func (e *Engine) LockTimeout() time.Duration {
	return time.Duration(e.lockTimeout.Load())
}

// Control returns the runtime control surface.
func (e *Engine) Control() api.Control { return e.ctrl }

// Pool returns the descriptor pool.
func (e *Engine) Pool() api.DescriptorPool { return e.pool }

// Heap returns the buffer heap.
func (e *Engine) Heap() api.BufferHeap { return e.heap }

// PoolStats reads descriptor pool accounting.
func (e *Engine) PoolStats() api.DescriptorPoolStats {
	e.poolMu.Lock()
	defer e.poolMu.Unlock()
	return e.pool.Stats()
}

// Configure creates a channel: descriptors and buffers are allocated and
// linked, sockets are registered for interrupt routing, and the channel is
// left in the Configured state.
func (e *Engine) Configure(cfg ChannelConfig) (*Channel, error) {
	if err := cfg.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	for _, id := range append(append([]api.SocketID{}, cfg.Producers...), cfg.Consumers...) {
		if !e.bus.Valid(id) {
			return nil, api.Errorf(api.ErrCodeBadArgument, "socket %s does not exist", id)
		}
	}

	e.mu.Lock()
	if cfg.Name == "" {
		e.seq++
		cfg.Name = fmt.Sprintf("ch%d", e.seq)
	}
	if _, ok := e.channels[cfg.Name]; ok {
		e.mu.Unlock()
		return nil, api.ErrAlreadyExists.WithContext("channel", cfg.Name)
	}
	e.channels[cfg.Name] = nil // reserve the name
	e.mu.Unlock()

	ch, err := newChannel(e, cfg)
	if err != nil {
		e.mu.Lock()
		delete(e.channels, cfg.Name)
		e.mu.Unlock()
		return nil, err
	}

	e.mu.Lock()
	e.channels[cfg.Name] = ch
	e.mu.Unlock()
	e.ctrl.AddMetric(MetricChannelsOpen, 1)
	e.ctrl.RegisterDebugProbe("channel."+cfg.Name+".state", func() any { return ch.State().String() })
	return ch, nil
}

func (e *Engine) forget(ch *Channel) {
	e.mu.Lock()
	delete(e.channels, ch.name)
	e.mu.Unlock()
	e.ctrl.AddMetric(MetricChannelsOpen, -1)
	e.ctrl.UnregisterDebugProbe("channel." + ch.name + ".state")
}

// Channel returns an open channel by name.
func (e *Engine) Channel(name string) (*Channel, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.channels[name]
	return ch, ok && ch != nil
}

// Channels returns the names of open channels, sorted.
func (e *Engine) Channels() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.channels))
	for name, ch := range e.channels {
		if ch != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Dispatch handles an interrupt event synchronously. Callbacks run on the
// caller's goroutine before Dispatch returns.
func (e *Engine) Dispatch(ev api.SocketEvent) bool {
	e.ctrl.AddMetric(MetricEvents, 1)
	return e.disp.Dispatch(ev)
}

// Post queues an interrupt event for Run. It returns false when the
// inbox is full; the event is counted as dropped.
func (e *Engine) Post(ev api.SocketEvent) bool {
	e.ctrl.AddMetric(MetricEvents, 1)
	if !e.disp.Post(ev) {
		e.ctrl.AddMetric(MetricEventsDropped, 1)
		e.log.Printf("[dma] inbox full, dropped %s event of socket %s", ev.Kind, ev.Socket)
		return false
	}
	return true
}

// Run services posted events until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	return e.disp.Run(ctx)
}

// Hold stops event servicing until the returned function is called.
// Hardware models driven from another goroutine use it to update
// descriptor memory without racing the tracker.
func (e *Engine) Hold() (release func()) {
	return e.disp.Hold()
}

func (e *Engine) allocDscr() (api.DscrIndex, error) {
	e.poolMu.Lock()
	defer e.poolMu.Unlock()
	return e.pool.Alloc()
}

func (e *Engine) freeDscrs(idx []api.DscrIndex) error {
	e.poolMu.Lock()
	defer e.poolMu.Unlock()
	var first error
	for _, i := range idx {
		if err := e.pool.Free(i); err != nil && first == nil {
			first = err
		}
	}
	return first
}
