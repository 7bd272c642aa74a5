// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

// engine_test.go - channel lifecycle, resource accounting and validation.
package dma

import (
	"errors"
	"testing"
	"time"

	"github.com/momentics/hioload-dma/api"
)

func TestConfigureDestroyReturnsResources(t *testing.T) {
	r := newRig(t, 256)
	for _, cfg := range []ChannelConfig{
		multicastConfig(3, 4, nil),
		{Type: api.OneToMany, Count: 2, Size: 512, Producers: []api.SocketID{prodSck},
			Consumers: []api.SocketID{consSck(0), consSck(1), consSck(2)}},
		{Type: api.ManyToOne, Count: 3, Size: 256, Producers: []api.SocketID{prodSckN(0), prodSckN(1)},
			Consumers: []api.SocketID{consSck(0)}},
	} {
		ch := r.configure(cfg)
		if ch.State() != api.StateConfigured {
			t.Fatalf("%s: state %s", ch.Type(), ch.State())
		}
		if got := r.eng.Channels(); len(got) != 1 || got[0] != ch.Name() {
			t.Fatalf("channels %v", got)
		}
		if err := ch.Destroy(); err != nil {
			t.Fatalf("destroy %s: %v", ch.Type(), err)
		}
		if st := r.eng.PoolStats(); st.InUse != 0 {
			t.Errorf("%s: %d descriptors leaked", ch.Type(), st.InUse)
		}
		if st := r.heap.Stats(); st.InUse != 0 {
			t.Errorf("%s: %d buffers leaked", ch.Type(), st.InUse)
		}
		if ch.State() != api.StateNotConfigured {
			t.Errorf("destroyed channel in state %s", ch.State())
		}
		if err := ch.SetXfer(0, 0); !errors.Is(err, api.ErrNotConfigured) {
			t.Errorf("SetXfer on destroyed channel: %v", err)
		}
	}
	if n := r.eng.Channels(); len(n) != 0 {
		t.Errorf("channels left: %v", n)
	}
}

func TestConfigureChainSizes(t *testing.T) {
	r := newRig(t, 256)
	r.configure(multicastConfig(3, 4, nil))
	// One chain per socket plus the override descriptor.
	if got := r.eng.PoolStats().InUse; got != 4+3*4+1 {
		t.Errorf("multicast uses %d descriptors", got)
	}
	if got := r.heap.Stats().InUse; got != 4 {
		t.Errorf("multicast owns %d buffers, want 4", got)
	}
}

func TestConfigureExhaustedPoolRollsBack(t *testing.T) {
	r := newRig(t, 10)
	before := r.eng.PoolStats().InUse
	_, err := r.eng.Configure(multicastConfig(3, 4, nil))
	if !errors.Is(err, api.ErrResourceExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if got := r.eng.PoolStats().InUse; got != before {
		t.Errorf("descriptors in use %d after failed configure, want %d", got, before)
	}
	if got := r.heap.Stats().InUse; got != 0 {
		t.Errorf("buffers in use %d after failed configure", got)
	}
	// The sockets were not claimed.
	r2 := r.configure(ChannelConfig{Type: api.Multicast, Count: 1, Size: 64,
		Producers: []api.SocketID{prodSck}, Consumers: []api.SocketID{consSck(0)}})
	if r2.State() != api.StateConfigured {
		t.Errorf("state %s", r2.State())
	}
}

func TestConfigureSocketConflicts(t *testing.T) {
	r := newRig(t, 256)
	r.configure(ChannelConfig{Name: "a", Type: api.Multicast, Count: 1, Size: 64,
		Producers: []api.SocketID{prodSck}, Consumers: []api.SocketID{consSck(0)}})

	_, err := r.eng.Configure(ChannelConfig{Name: "a", Type: api.Multicast, Count: 1, Size: 64,
		Producers: []api.SocketID{prodSckN(1)}, Consumers: []api.SocketID{consSck(1)}})
	if !errors.Is(err, api.ErrAlreadyExists) {
		t.Errorf("duplicate name: %v", err)
	}

	inUse := r.eng.PoolStats().InUse
	_, err = r.eng.Configure(ChannelConfig{Name: "b", Type: api.Multicast, Count: 1, Size: 64,
		Producers: []api.SocketID{prodSckN(1)}, Consumers: []api.SocketID{consSck(0)}})
	if !errors.Is(err, api.ErrAlreadyExists) {
		t.Errorf("shared socket: %v", err)
	}
	if got := r.eng.PoolStats().InUse; got != inUse {
		t.Errorf("descriptors leaked by rejected channel: %d -> %d", inUse, got)
	}

	late := ChannelConfig{Name: "c", Type: api.Multicast, Count: 1, Size: 64,
		Producers: []api.SocketID{api.MakeSocketID(9, 9)}, Consumers: []api.SocketID{consSck(2)}}
	_, err = r.eng.Configure(late)
	if !errors.Is(err, api.ErrBadArgument) {
		t.Errorf("unknown socket: %v", err)
	}
	r.bus.AddSocket(api.MakeSocketID(9, 9))
	if _, err := r.eng.Configure(late); err != nil {
		t.Errorf("socket added after rejection: %v", err)
	}
}

func TestConfigureDisableFailure(t *testing.T) {
	r := newRig(t, 256)
	r.bus.SetDisableError(errors.New("bus fault"))
	_, err := r.eng.Configure(multicastConfig(2, 2, nil))
	if !errors.Is(err, api.ErrDMAFailure) {
		t.Fatalf("expected dma failure, got %v", err)
	}
	if st := r.eng.PoolStats(); st.InUse != 0 {
		t.Errorf("%d descriptors leaked", st.InUse)
	}
	r.bus.SetDisableError(nil)
	r.configure(multicastConfig(2, 2, nil))
}

func TestValidateConfig(t *testing.T) {
	base := func() ChannelConfig { return multicastConfig(2, 4, nil) }
	cases := []struct {
		name string
		edit func(c *ChannelConfig)
		ok   bool
	}{
		{"valid", func(c *ChannelConfig) {}, true},
		{"zero count", func(c *ChannelConfig) { c.Count = 0 }, false},
		{"zero size", func(c *ChannelConfig) { c.Size = 0 }, false},
		{"unaligned size", func(c *ChannelConfig) { c.Size = 1000 }, false},
		{"oversize", func(c *ChannelConfig) { c.Size = 0x10000 }, false},
		{"max size", func(c *ChannelConfig) { c.Size = api.MaxBufferSize }, true},
		{"header eats buffer", func(c *ChannelConfig) { c.ProdHeader = 512; c.ProdFooter = 512 }, false},
		{"unaligned producer size", func(c *ChannelConfig) { c.ProdHeader = 8 }, false},
		{"header and footer", func(c *ChannelConfig) { c.ProdHeader = 12; c.ProdFooter = 4 }, true},
		{"consumer header too big", func(c *ChannelConfig) { c.ConsHeader = 1024 }, false},
		{"no consumers", func(c *ChannelConfig) { c.Consumers = nil }, false},
		{"two producers", func(c *ChannelConfig) { c.Producers = append(c.Producers, prodSckN(1)) }, false},
		{"nine consumers", func(c *ChannelConfig) {
			c.Consumers = nil
			for i := 0; i < 9; i++ {
				c.Consumers = append(c.Consumers, api.MakeSocketID(3, uint8(i)))
			}
		}, false},
		{"duplicate socket", func(c *ChannelConfig) { c.Consumers = []api.SocketID{consSck(0), consSck(0)} }, false},
		{"producer as consumer", func(c *ChannelConfig) { c.Consumers = []api.SocketID{prodSck} }, false},
		{"descriptor space", func(c *ChannelConfig) { c.Count = 0x8000 }, false},
		{"bad type", func(c *ChannelConfig) { c.Type = api.ChannelType(7) }, false},
		{"bad mode", func(c *ChannelConfig) { c.Mode = api.XferMode(5) }, false},
		{"many-to-one with two consumers", func(c *ChannelConfig) { c.Type = api.ManyToOne }, false},
		{"many-to-one", func(c *ChannelConfig) {
			c.Type = api.ManyToOne
			c.Producers = []api.SocketID{prodSckN(0), prodSckN(1)}
			c.Consumers = []api.SocketID{consSck(0)}
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.edit(&c)
			err := c.ValidateAndSetDefaults()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, api.ErrBadArgument) {
				t.Fatalf("expected bad argument, got %v", err)
			}
		})
	}
}

func TestValidateDropsNotifyWithoutCallback(t *testing.T) {
	c := multicastConfig(1, 1, nil)
	c.Notify = api.NotifyAll
	if err := c.ValidateAndSetDefaults(); err != nil {
		t.Fatal(err)
	}
	if c.Notify != 0 {
		t.Errorf("notify mask %s kept without callback", c.Notify)
	}
}

func TestHeaderFooterSizes(t *testing.T) {
	r := newRig(t, 64)
	cfg := multicastConfig(1, 2, nil)
	cfg.Size = 1024
	cfg.ProdHeader, cfg.ProdFooter, cfg.ConsHeader = 16, 16, 8
	ch := r.configure(cfg)
	if got := ch.ProducerSize(); got != 992 {
		t.Errorf("producer size %d", got)
	}
	if got := ch.ConsumerSize(); got != 992 {
		t.Errorf("consumer size %d", got)
	}

	if err := ch.SetXfer(0, 0); err != nil {
		t.Fatal(err)
	}
	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte(i)
	}
	r.produce(prodSck, payload)
	got := r.consume(consSck(0))
	if len(got) != 32 || got[0] != 8 {
		t.Errorf("consumer saw %d bytes starting with %d", len(got), got[0])
	}
}

func TestLockTimeoutReload(t *testing.T) {
	r := newRig(t, 64)
	ch := r.configure(multicastConfig(1, 1, nil))
	if ch.LockTimeout() != WaitForever {
		t.Fatalf("default timeout %v", ch.LockTimeout())
	}
	if err := r.eng.Control().SetConfig(map[string]any{KeyLockTimeout: "5ms"}); err != nil {
		t.Fatal(err)
	}
	if got := ch.LockTimeout(); got != 5*time.Millisecond {
		t.Errorf("timeout after reload %v", got)
	}
	if err := r.eng.Control().SetConfig(map[string]any{KeyLockTimeout: "soon"}); err != nil {
		t.Fatal(err)
	}
	if got := ch.LockTimeout(); got != 5*time.Millisecond {
		t.Errorf("bad value changed timeout to %v", got)
	}
}

func TestLockTimeoutMutexFailure(t *testing.T) {
	r := newRig(t, 64)
	cfg := multicastConfig(1, 1, nil)
	cfg.LockTimeout = 10 * time.Millisecond
	ch := r.configure(cfg)

	if err := ch.lock.Lock(WaitForever); err != nil {
		t.Fatal(err)
	}
	err := ch.SetXfer(0, 0)
	ch.lock.Unlock()
	if !errors.Is(err, api.ErrMutexFailure) {
		t.Fatalf("expected mutex failure, got %v", err)
	}
	if err := ch.SetXfer(0, 0); err != nil {
		t.Fatalf("after unlock: %v", err)
	}
}

func TestEngineMetricsAndProbes(t *testing.T) {
	r := newRig(t, 64)
	ch := r.configure(multicastConfig(1, 2, nil))
	if err := ch.SetXfer(0, 0); err != nil {
		t.Fatal(err)
	}
	r.produce(prodSck, []byte("x"))
	r.consume(consSck(0))
	r.eng.Dispatch(api.SocketEvent{Socket: api.MakeSocketID(7, 7), Kind: api.EventProduce})

	stats := r.eng.Control().Stats()
	want := map[string]int64{
		MetricChannelsOpen:    1,
		MetricBuffersProduced: 1,
		MetricBuffersReleased: 1,
		MetricEvents:          3,
		MetricEventsDropped:   1,
	}
	for k, v := range want {
		if got, _ := stats[k].(int64); got != v {
			t.Errorf("%s = %v, want %d", k, stats[k], v)
		}
	}
	if got := stats["debug.channel."+ch.Name()+".state"]; got != "active" {
		t.Errorf("state probe %v", got)
	}
	if _, ok := stats["debug.pool.descriptors"]; !ok {
		t.Error("pool probe missing")
	}
	if got, ok := stats["debug.dispatch.pending"].(int); !ok || got != 0 {
		t.Errorf("dispatch probe %v", stats["debug.dispatch.pending"])
	}
	r.eng.Post(api.SocketEvent{Socket: api.MakeSocketID(7, 7), Kind: api.EventProduce})
	if got, _ := r.eng.Control().Stats()["debug.dispatch.pending"].(int); got != 1 {
		t.Errorf("posted event not pending: %d", got)
	}

	if err := ch.Abort(); err != nil {
		t.Fatal(err)
	}
	if err := ch.Destroy(); err != nil {
		t.Fatal(err)
	}
	stats = r.eng.Control().Stats()
	if got, _ := stats[MetricChannelsOpen].(int64); got != 0 {
		t.Errorf("open channels %v", stats[MetricChannelsOpen])
	}
	if _, ok := stats["debug.channel."+ch.Name()+".state"]; ok {
		t.Error("state probe survived destroy")
	}
}
