// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

// multicast_test.go - fan-out tracking and the buffer release rule.
package dma

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/fake"
)

func TestMulticastEachBufferReleasedOnce(t *testing.T) {
	r := newRig(t, 64)
	ch := r.configure(multicastConfig(3, 4, nil))
	if err := ch.SetXfer(0, 0); err != nil {
		t.Fatal(err)
	}
	for k := 0; k < 4; k++ {
		r.produce(prodSck, []byte{byte(k)})
	}
	for i := 0; i < 3; i++ {
		if got := r.fills(consSck(i)); got != 4 {
			t.Errorf("consumer %d got %d buffers", i, got)
		}
	}
	if got := r.releases(prodSck); got != 0 {
		t.Fatalf("%d releases before any consumer drained", got)
	}

	// Drain in a skewed order: consumer 2 first, then 0, then 1.
	order := []int{2, 2, 0, 2, 0, 0, 1, 2, 1, 0, 1, 1}
	drained := make([]int, 3)
	for _, i := range order {
		data := r.consume(consSck(i))
		if !bytes.Equal(data, []byte{byte(drained[i])}) {
			t.Fatalf("consumer %d buffer %d holds %v", i, drained[i], data)
		}
		drained[i]++
		min := drained[0]
		for _, d := range drained {
			if d < min {
				min = d
			}
		}
		if got := r.releases(prodSck); got != min {
			t.Fatalf("after %v drains: %d releases, want %d", drained, got, min)
		}
	}
	if got := r.releases(prodSck); got != 4 {
		t.Errorf("released %d buffers, want 4", got)
	}
	prod, cons := ch.Transferred()
	if prod != 4 || cons != 4 {
		t.Errorf("transferred %d/%d", prod, cons)
	}
	// The producer chain is free again.
	for k := 0; k < 4; k++ {
		r.produce(prodSck, []byte{byte(k)})
	}
}

// TestMulticastReleaseProperty drives random interleavings of produce and
// drain and checks that the release count always equals the number of
// buffers every consumer has drained.
func TestMulticastReleaseProperty(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		rnd := rand.New(rand.NewSource(seed))
		consumers := 1 + rnd.Intn(4)
		count := 1 + rnd.Intn(5)

		r := newRig(t, 128)
		ch := r.configure(multicastConfig(consumers, count, nil))
		if err := ch.SetXfer(0, 0); err != nil {
			t.Fatal(err)
		}

		produced := 0
		drained := make([]int, consumers)
		for step := 0; step < 400; step++ {
			i := rnd.Intn(consumers + 1)
			if i == consumers {
				if !r.bus.Ready(prodSck, true) {
					continue
				}
				r.produce(prodSck, []byte{byte(produced)})
				produced++
				continue
			}
			if !r.bus.Ready(consSck(i), false) {
				continue
			}
			data := r.consume(consSck(i))
			if len(data) != 1 || data[0] != byte(drained[i]) {
				t.Fatalf("seed %d: consumer %d read %v, want buffer %d", seed, i, data, drained[i])
			}
			drained[i]++

			min := produced
			for _, d := range drained {
				if d < min {
					min = d
				}
			}
			if got := r.releases(prodSck); got != min {
				t.Fatalf("seed %d step %d: %d releases, want %d (produced %d, drained %v)",
					seed, step, got, min, produced, drained)
			}
		}
		if produced-r.releases(prodSck) > count {
			t.Fatalf("seed %d: %d buffers outstanding with %d in the chain", seed,
				produced-r.releases(prodSck), count)
		}
	}
}

func TestMulticastSocketSelect(t *testing.T) {
	rec := &recorder{}
	r := newRig(t, 64)
	ch := r.configure(multicastConfig(3, 4, rec))

	if err := ch.SetXfer(0, 0); err != nil {
		t.Fatal(err)
	}
	if err := ch.SocketSelect(0b101); !errors.Is(err, api.ErrAlreadyStarted) {
		t.Fatalf("select while active: %v", err)
	}
	if err := ch.Abort(); err != nil {
		t.Fatal(err)
	}
	if err := ch.SocketSelect(0b101); !errors.Is(err, api.ErrAlreadyStarted) {
		t.Fatalf("select while aborted: %v", err)
	}
	if err := ch.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := ch.SocketSelect(0b101); err != nil {
		t.Fatal(err)
	}
	if got := ch.SelectedSockets(); got != 0b101 {
		t.Fatalf("selected %b", got)
	}

	r.bus.ResetSent()
	if err := ch.SetXfer(2, 0); err != nil {
		t.Fatal(err)
	}
	if r.bus.Enabled(consSck(1)) {
		t.Fatal("deselected consumer was enabled")
	}
	r.produce(prodSck, []byte("a"))
	r.produce(prodSck, []byte("b"))
	if ch.State() != api.StateInCompletion {
		t.Fatalf("state %s after the last buffer", ch.State())
	}
	for _, i := range []int{0, 2, 0, 2} {
		r.consume(consSck(i))
	}
	if err := ch.WaitForCompletion(NoWait); err != nil {
		t.Fatalf("completion: %v", err)
	}
	if ch.State() != api.StateConfigured {
		t.Errorf("state %s", ch.State())
	}
	if got := r.fills(consSck(1)); got != 0 {
		t.Errorf("deselected consumer got %d buffers", got)
	}
	if got := r.releases(prodSck); got != 2 {
		t.Errorf("%d releases", got)
	}
	if got := rec.count(api.NotifyXferComplete); got != 1 {
		t.Errorf("%d xfer-complete notifications", got)
	}
}

func TestSocketSelectArguments(t *testing.T) {
	r := newRig(t, 64)
	ch := r.configure(multicastConfig(3, 2, nil))
	writes := r.bus.RegisterWrites()
	for _, mask := range []uint32{0, 1 << 3, 0xFF} {
		if err := ch.SocketSelect(mask); !errors.Is(err, api.ErrBadArgument) {
			t.Errorf("mask %#x: %v", mask, err)
		}
	}
	if got := r.bus.RegisterWrites(); got != writes {
		t.Errorf("rejected masks wrote %d registers", got-writes)
	}
	if got := ch.SelectedSockets(); got != 0b111 {
		t.Errorf("selection changed to %b", got)
	}
	if err := ch.SocketSelect(0b111); err != nil {
		t.Errorf("unchanged mask: %v", err)
	}
	if got := r.bus.RegisterWrites(); got != writes {
		t.Errorf("unchanged mask wrote %d registers", got-writes)
	}
}

func TestMulticastCoalescedEvents(t *testing.T) {
	r := newRig(t, 64)
	ch := r.configure(multicastConfig(2, 4, nil))
	if err := ch.SetXfer(0, 0); err != nil {
		t.Fatal(err)
	}
	var last api.SocketEvent
	for k := 0; k < 3; k++ {
		ev, err := r.bus.Produce(prodSck, []byte{byte(k)}, false)
		if err != nil {
			t.Fatal(err)
		}
		last = ev
	}
	r.eng.Dispatch(last)
	for i := 0; i < 2; i++ {
		if got := r.fills(consSck(i)); got != 3 {
			t.Errorf("consumer %d got %d buffers from one interrupt", i, got)
		}
	}

	// Both consumers drain everything; only the final interrupts are seen.
	for i := 0; i < 2; i++ {
		var ev api.SocketEvent
		for k := 0; k < 3; k++ {
			_, e, err := r.bus.Consume(consSck(i))
			if err != nil {
				t.Fatal(err)
			}
			ev = e
		}
		r.eng.Dispatch(ev)
	}
	if got := r.releases(prodSck); got != 3 {
		t.Errorf("%d releases after coalesced drains", got)
	}
	// A repeated interrupt for the same position changes nothing.
	r.eng.Dispatch(last)
	if got := r.fills(consSck(0)); got != 3 {
		t.Errorf("stale interrupt exposed %d buffers", got)
	}
}

func TestMulticastFullChainInOneInterrupt(t *testing.T) {
	r := newRig(t, 64)
	ch := r.configure(multicastConfig(1, 4, nil))
	if err := ch.SetXfer(0, 0); err != nil {
		t.Fatal(err)
	}
	var last api.SocketEvent
	for k := 0; k < 4; k++ {
		ev, err := r.bus.Produce(prodSck, []byte{byte(k)}, false)
		if err != nil {
			t.Fatal(err)
		}
		last = ev
	}
	if _, err := r.bus.Produce(prodSck, nil, false); !errors.Is(err, fake.ErrSocketStalled) {
		t.Fatalf("producer past a full chain: %v", err)
	}
	r.eng.Dispatch(last)
	if got := r.fills(consSck(0)); got != 4 {
		t.Errorf("wrapped interrupt exposed %d of 4 buffers", got)
	}
}

// orderedCache calls before at the start of every invalidate.
type orderedCache struct {
	fake.Cache
	before func()
}

func (c *orderedCache) Invalidate(ref api.BufferRef, n int) {
	c.before()
	c.Cache.Invalidate(ref, n)
}

func TestInvalidateBeforeConsumersSeeBuffer(t *testing.T) {
	c := &orderedCache{}
	r := newRig(t, 64, WithCache(c))
	var seen []int
	c.before = func() { seen = append(seen, r.fills(consSck(0))+r.fills(consSck(1))) }
	cfg := multicastConfig(2, 2, nil)
	cfg.CacheControl = true
	ch := r.configure(cfg)
	if err := ch.SetXfer(0, 0); err != nil {
		t.Fatal(err)
	}
	r.produce(prodSck, []byte("abc"))
	r.produce(prodSck, []byte("def"))
	if len(seen) != 2 || seen[0] != 0 || seen[1] != 2 {
		t.Errorf("produce events sent before each invalidate: %v, want [0 2]", seen)
	}
}

func TestMulticastCacheMaintenance(t *testing.T) {
	r := newRig(t, 64)
	cfg := multicastConfig(1, 2, nil)
	cfg.CacheControl = true
	ch := r.configure(cfg)
	if err := ch.SetXfer(0, 0); err != nil {
		t.Fatal(err)
	}
	r.produce(prodSck, []byte("abc"))
	ops := r.cache.Ops()
	if len(ops) != 1 || ops[0].Clean || ops[0].Len != 3 {
		t.Fatalf("cache ops %+v", ops)
	}
	r.consume(consSck(0))
	if r.cache.Barriers() != 1 {
		t.Errorf("%d barriers before hand-back", r.cache.Barriers())
	}

	if err := ch.Abort(); err != nil {
		t.Fatal(err)
	}
	if err := ch.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := ch.CacheControl(false); err != nil {
		t.Fatal(err)
	}
	if err := ch.SetXfer(0, 0); err != nil {
		t.Fatal(err)
	}
	r.produce(prodSck, []byte("abc"))
	if got := len(r.cache.Ops()); got != 1 {
		t.Errorf("cache maintenance with control off: %d ops", got)
	}
}

func TestErrorEventStopsChannel(t *testing.T) {
	rec := &recorder{}
	r := newRig(t, 64)
	ch := r.configure(multicastConfig(2, 4, rec))
	if err := ch.SetXfer(10, 0); err != nil {
		t.Fatal(err)
	}
	r.produce(prodSck, []byte("x"))

	done := make(chan error, 1)
	go func() { done <- ch.WaitForCompletion(time.Second) }()

	r.eng.Dispatch(r.bus.Fail(prodSck, 0x40))
	if ch.State() != api.StateError {
		t.Fatalf("state %s", ch.State())
	}
	if err := <-done; !errors.Is(err, api.ErrDMAFailure) {
		t.Errorf("waiter got %v", err)
	}
	for _, id := range []api.SocketID{prodSck, consSck(0), consSck(1)} {
		if r.bus.Enabled(id) {
			t.Errorf("socket %s still enabled", id)
		}
	}

	// Late interrupts are ignored.
	r.eng.Dispatch(api.SocketEvent{Socket: consSck(0), Kind: api.EventConsume, Dscr: api.NoDscr})
	r.eng.Dispatch(r.bus.Fail(consSck(1), 0x40))
	if got := r.releases(prodSck); got != 0 {
		t.Errorf("%d releases after error", got)
	}
	if got := rec.count(api.NotifyError); got != 1 {
		t.Errorf("%d error notifications", got)
	}
	if err := ch.SetXfer(0, 0); !errors.Is(err, api.ErrAlreadyStarted) {
		t.Errorf("SetXfer in error state: %v", err)
	}

	if err := ch.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := ch.SetXfer(0, 0); err != nil {
		t.Fatal(err)
	}
	r.produce(prodSck, []byte("y"))
	r.consume(consSck(0))
	r.consume(consSck(1))
	if got := r.releases(prodSck); got != 1 {
		t.Errorf("%d releases after reset", got)
	}
}

func TestFiniteTransferCompletes(t *testing.T) {
	rec := &recorder{}
	r := newRig(t, 64)
	ch := r.configure(multicastConfig(2, 4, rec))
	if err := ch.WaitForCompletion(NoWait); !errors.Is(err, api.ErrInvalidSequence) {
		t.Fatalf("wait without transfer: %v", err)
	}
	if err := ch.SetXfer(3, 0); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- ch.WaitForCompletion(2 * time.Second) }()

	for k := 0; k < 3; k++ {
		r.produce(prodSck, []byte{byte(k)})
	}
	if _, err := r.bus.Produce(prodSck, []byte{9}, false); !errors.Is(err, fake.ErrSocketDisabled) {
		t.Fatalf("producer past the transfer size: %v", err)
	}
	for k := 0; k < 3; k++ {
		r.consume(consSck(0))
		r.consume(consSck(1))
	}
	if err := <-done; err != nil {
		t.Fatalf("wait: %v", err)
	}
	if ch.State() != api.StateConfigured {
		t.Errorf("state %s", ch.State())
	}
	if got := rec.count(api.NotifyXferComplete); got != 1 {
		t.Errorf("%d completions", got)
	}
	if got := rec.count(api.NotifyProduce); got != 3 {
		t.Errorf("%d produce notifications", got)
	}
	if got := rec.count(api.NotifyConsume); got != 3 {
		t.Errorf("%d consume notifications", got)
	}
	st, err := ch.GetStatus(1)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != api.StateConfigured || st.ProdXferCount != 3 || st.ConsXferCount != 3 {
		t.Errorf("status %+v", st)
	}
}

func TestInfiniteTransferWait(t *testing.T) {
	r := newRig(t, 64)
	ch := r.configure(multicastConfig(1, 2, nil))
	if err := ch.SetXfer(0, 0); err != nil {
		t.Fatal(err)
	}
	if err := ch.WaitForCompletion(time.Millisecond); !errors.Is(err, api.ErrInvalidSequence) {
		t.Errorf("wait on infinite transfer: %v", err)
	}
}

func TestWaitForCompletionTimeout(t *testing.T) {
	r := newRig(t, 64)
	ch := r.configure(multicastConfig(1, 2, nil))
	if err := ch.SetXfer(5, 0); err != nil {
		t.Fatal(err)
	}
	if err := ch.WaitForCompletion(5 * time.Millisecond); !errors.Is(err, api.ErrTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestByteModeTransfer(t *testing.T) {
	r := newRig(t, 64)
	ch := r.configure(multicastConfig(1, 4, nil))
	if err := ch.UpdateMode(api.ModeByte); err != nil {
		t.Fatal(err)
	}
	if err := ch.SetXfer(10, 0); err != nil {
		t.Fatal(err)
	}
	cfg, _ := r.bus.GetConfig(prodSck)
	if cfg.Status&api.SocketUnitBytes == 0 {
		t.Fatal("producer not in byte units")
	}
	r.produce(prodSck, make([]byte, 6))
	if ch.State() != api.StateActive {
		t.Fatalf("state %s after 6 of 10 bytes", ch.State())
	}
	r.produce(prodSck, make([]byte, 6))
	if ch.State() != api.StateInCompletion {
		t.Fatalf("state %s after 12 of 10 bytes", ch.State())
	}
	r.consume(consSck(0))
	r.consume(consSck(0))
	if prod, cons := ch.Transferred(); prod != 12 || cons != 12 {
		t.Errorf("transferred %d/%d bytes", prod, cons)
	}
	st, _ := ch.GetStatus(0)
	if st.ProdXferCount != 12 {
		t.Errorf("hardware count %d", st.ProdXferCount)
	}
	if err := ch.UpdateMode(api.XferMode(9)); !errors.Is(err, api.ErrBadArgument) {
		t.Errorf("bad mode: %v", err)
	}
}

func TestAvailCountQuirk(t *testing.T) {
	r := newRig(t, 64)
	r.bus.SetAvailCountRequired(prodSck, true)
	ch := r.configure(multicastConfig(2, 4, nil))
	if err := ch.SetXfer(0, 0); err != nil {
		t.Fatal(err)
	}
	cfg, _ := r.bus.GetConfig(prodSck)
	if cfg.AvailCount != 4 {
		t.Errorf("avail count %d", cfg.AvailCount)
	}
	cc, _ := r.bus.GetConfig(consSck(0))
	if cc.AvailCount != 0 {
		t.Errorf("consumer avail count %d", cc.AvailCount)
	}
}
