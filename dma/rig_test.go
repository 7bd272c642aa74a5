// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

// rig_test.go - shared fixture: engine over the fake bus, pool and arena.
package dma

import (
	"sync"
	"testing"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/fake"
	"github.com/momentics/hioload-dma/pool"
)

var prodSck = api.MakeSocketID(1, 0)

func consSck(i int) api.SocketID { return api.MakeSocketID(2, uint8(i)) }

func prodSckN(i int) api.SocketID { return api.MakeSocketID(1, uint8(i)) }

type rig struct {
	t     *testing.T
	pool  *pool.DescriptorPool
	heap  *pool.Arena
	bus   *fake.Bus
	cache *fake.Cache
	eng   *Engine
}

// newRig builds an engine with dscrs descriptors and four producer and
// eight consumer sockets.
func newRig(t *testing.T, dscrs int, opts ...Option) *rig {
	t.Helper()
	r := &rig{
		t:     t,
		pool:  pool.NewDescriptorPool(dscrs),
		heap:  pool.NewArena(0),
		cache: fake.NewCache(),
	}
	var ids []api.SocketID
	for i := 0; i < 4; i++ {
		ids = append(ids, prodSckN(i))
	}
	for i := 0; i < api.MaxSockets; i++ {
		ids = append(ids, consSck(i))
	}
	r.bus = fake.NewBus(r.pool, r.heap, ids...)
	r.eng = NewEngine(r.pool, r.heap, r.bus, append([]Option{WithCache(r.cache)}, opts...)...)
	return r
}

func (r *rig) configure(cfg ChannelConfig) *Channel {
	r.t.Helper()
	ch, err := r.eng.Configure(cfg)
	if err != nil {
		r.t.Fatalf("configure %s: %v", cfg.String(), err)
	}
	return ch
}

// produce fills the socket's next buffer and dispatches the interrupt.
func (r *rig) produce(id api.SocketID, data []byte) {
	r.t.Helper()
	ev, err := r.bus.Produce(id, data, false)
	if err != nil {
		r.t.Fatalf("produce on %s: %v", id, err)
	}
	r.eng.Dispatch(ev)
}

// consume drains the socket's next buffer and dispatches the interrupt.
func (r *rig) consume(id api.SocketID) []byte {
	r.t.Helper()
	data, ev, err := r.bus.Consume(id)
	if err != nil {
		r.t.Fatalf("consume on %s: %v", id, err)
	}
	r.eng.Dispatch(ev)
	return data
}

// releases counts buffer hand-backs sent to a producer socket.
func (r *rig) releases(id api.SocketID) int {
	n := 0
	for _, ev := range r.bus.SentTo(id) {
		if !ev.Produce {
			n++
		}
	}
	return n
}

// fills counts buffers handed to a consumer socket.
func (r *rig) fills(id api.SocketID) int {
	n := 0
	for _, ev := range r.bus.SentTo(id) {
		if ev.Produce {
			n++
		}
	}
	return n
}

type recorder struct {
	mu    sync.Mutex
	kinds []api.Notification
	infos []api.BufferInfo
}

func (rec *recorder) callback(_ *Channel, n api.Notification, info *api.BufferInfo) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.kinds = append(rec.kinds, n)
	if info != nil {
		rec.infos = append(rec.infos, *info)
	}
}

func (rec *recorder) count(n api.Notification) int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	c := 0
	for _, k := range rec.kinds {
		if k == n {
			c++
		}
	}
	return c
}

func (rec *recorder) seq() []api.Notification {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]api.Notification(nil), rec.kinds...)
}

func multicastConfig(consumers, count int, rec *recorder) ChannelConfig {
	cfg := ChannelConfig{
		Type:      api.Multicast,
		Count:     count,
		Size:      1024,
		Producers: []api.SocketID{prodSck},
	}
	for i := 0; i < consumers; i++ {
		cfg.Consumers = append(cfg.Consumers, consSck(i))
	}
	if rec != nil {
		cfg.Notify = api.NotifyAll
		cfg.Callback = rec.callback
	}
	return cfg
}
