// File: internal/concurrency/dispatcher.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Dispatcher is the DMA service loop: interrupt events are posted into a
// bounded lock-free inbox, drained in batches, and routed by socket id.
// Handlers update their state under the service lock; Deliver is called
// after the lock is released so user callbacks may re-enter the API.

package concurrency

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/pool"
)

// EventHandler receives the socket events routed to it.
type EventHandler interface {
	// HandleSocketEvent runs with the service lock held. It must not block.
	HandleSocketEvent(ev api.SocketEvent)
	// Deliver runs after the service lock is released.
	Deliver()
}

// Dispatcher routes socket events to handlers.
type Dispatcher struct {
	inbox     *pool.RingBuffer[api.SocketEvent]
	batchSize int

	mu       sync.RWMutex
	handlers map[api.SocketID]EventHandler

	svc sync.Mutex

	running   atomic.Bool
	cpu       atomic.Int64
	backoffNs atomic.Int64
	handled   atomic.Uint64
	dropped   atomic.Uint64

	// OnDrop, when set, observes events with no registered handler.
	OnDrop func(ev api.SocketEvent)
}

// NewDispatcher creates a dispatcher with the given batch and inbox sizes.
// The inbox is rounded up to a power of two.
func NewDispatcher(batchSize, queueSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 16
	}
	d := &Dispatcher{
		inbox:     pool.NewRingBuffer[api.SocketEvent](uint64(nextPowerOfTwo(uint32(queueSize)))),
		batchSize: batchSize,
		handlers:  make(map[api.SocketID]EventHandler),
	}
	d.backoffNs.Store(1)
	d.cpu.Store(-1)
	return d
}

// PinTo binds the thread running the next Run to cpu. A negative cpu
// leaves the loop unpinned.
func (d *Dispatcher) PinTo(cpu int) {
	d.cpu.Store(int64(cpu))
}

// Register routes events of socket id to h.
func (d *Dispatcher) Register(id api.SocketID, h EventHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[id]; ok {
		return api.ErrAlreadyExists.WithContext("socket", id.String())
	}
	d.handlers[id] = h
	return nil
}

// Unregister removes the route of socket id.
func (d *Dispatcher) Unregister(id api.SocketID) {
	d.mu.Lock()
	delete(d.handlers, id)
	d.mu.Unlock()
}

func (d *Dispatcher) lookup(id api.SocketID) EventHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[id]
}

// Post hands an event to the run loop. It returns false when the inbox is full.
func (d *Dispatcher) Post(ev api.SocketEvent) bool {
	return d.inbox.Enqueue(ev)
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	return d.inbox.Len()
}

// Dispatch handles one event synchronously on the caller's goroutine.
// It reports whether a handler accepted the event.
func (d *Dispatcher) Dispatch(ev api.SocketEvent) bool {
	h := d.lookup(ev.Socket)
	if h == nil {
		d.drop(ev)
		return false
	}
	d.svc.Lock()
	h.HandleSocketEvent(ev)
	d.svc.Unlock()
	d.handled.Add(1)
	h.Deliver()
	return true
}

// Hold acquires the service lock and returns its release function.
// While held no event is handled.
func (d *Dispatcher) Hold() (release func()) {
	d.svc.Lock()
	return d.svc.Unlock
}

// Run drains the inbox until ctx is done. Only one Run may be active.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return api.ErrAlreadyStarted.WithContext("component", "dispatcher")
	}
	defer d.running.Store(false)

	if cpu := int(d.cpu.Load()); cpu >= 0 {
		unpin, err := PinCurrentThread(cpu)
		if err != nil {
			return err
		}
		defer unpin()
	}

	batch := make([]api.SocketEvent, d.batchSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.processBatch(batch) == 0 {
			d.adaptiveBackoff(ctx)
		} else {
			d.backoffNs.Store(1)
		}
	}
}

func (d *Dispatcher) processBatch(batch []api.SocketEvent) int {
	count := 0
	for count < len(batch) {
		ev, ok := d.inbox.Dequeue()
		if !ok {
			break
		}
		batch[count] = ev
		count++
	}
	if count == 0 {
		return 0
	}

	touched := make([]EventHandler, 0, count)
	d.svc.Lock()
	for i := 0; i < count; i++ {
		h := d.lookup(batch[i].Socket)
		if h == nil {
			d.drop(batch[i])
			continue
		}
		h.HandleSocketEvent(batch[i])
		d.handled.Add(1)
		if !contains(touched, h) {
			touched = append(touched, h)
		}
	}
	d.svc.Unlock()

	for _, h := range touched {
		h.Deliver()
	}
	return count
}

func contains(hs []EventHandler, h EventHandler) bool {
	for _, x := range hs {
		if x == h {
			return true
		}
	}
	return false
}

func (d *Dispatcher) drop(ev api.SocketEvent) {
	d.dropped.Add(1)
	if d.OnDrop != nil {
		d.OnDrop(ev)
	}
}

func (d *Dispatcher) adaptiveBackoff(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	default:
	}
	backoff := d.backoffNs.Load()
	if backoff < 1000 {
		runtime.Gosched()
	} else {
		time.Sleep(time.Duration(backoff))
	}
	next := backoff * 2
	if next > 1_000_000 {
		next = 1_000_000
	}
	d.backoffNs.Store(next)
}

// Stats returns handled and dropped event totals.
func (d *Dispatcher) Stats() (handled, dropped uint64) {
	return d.handled.Load(), d.dropped.Load()
}

func nextPowerOfTwo(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
