// File: cmd/dmasim/sim.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Hardware model driver: producers fill buffers with a pattern, consumers
// drain them in a seeded random order, and every interrupt goes through
// the engine either synchronously or via the posted run loop.

package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/dma"
	"github.com/momentics/hioload-dma/fake"
)

const stallLimit = 10000

type simulator struct {
	eng   *dma.Engine
	bus   *fake.Bus
	ch    *dma.Channel
	prods []api.SocketID
	cons  []api.SocketID
	rnd   *rand.Rand
	async bool

	payload []byte
	seq     byte
	mode    api.XferMode
	size    uint64

	buffersIn, buffersOut uint64
	bytesIn, bytesOut     uint64
	corrupt               uint64
}

type result struct {
	Elapsed    time.Duration
	BuffersIn  uint64
	BuffersOut uint64
	BytesIn    uint64
	BytesOut   uint64
	Corrupt    uint64
	Status     api.ChannelStatus
}

// hw runs one hardware operation. In async mode descriptor memory is
// shared with the run loop, so the operation runs under the service hold.
func (s *simulator) hw(fn func() (api.SocketEvent, bool)) (api.SocketEvent, bool) {
	if !s.async {
		return fn()
	}
	release := s.eng.Hold()
	defer release()
	return fn()
}

func (s *simulator) deliver(ev api.SocketEvent) {
	if !s.async {
		s.eng.Dispatch(ev)
		return
	}
	for !s.eng.Post(ev) {
		time.Sleep(10 * time.Microsecond)
	}
}

// exhausted reports whether the host has sent the whole transfer.
func (s *simulator) exhausted() bool {
	if s.mode == api.ModeByte {
		return s.bytesIn >= s.size
	}
	return s.buffersIn >= s.size
}

func (s *simulator) produce(id api.SocketID) bool {
	if s.exhausted() {
		return false
	}
	for i := range s.payload {
		s.payload[i] = s.seq
	}
	ev, ok := s.hw(func() (api.SocketEvent, bool) {
		if !s.bus.Ready(id, true) {
			return api.SocketEvent{}, false
		}
		ev, err := s.bus.Produce(id, s.payload, false)
		return ev, err == nil
	})
	if !ok {
		return false
	}
	s.seq++
	s.buffersIn++
	s.bytesIn += uint64(len(s.payload))
	s.deliver(ev)
	return true
}

func (s *simulator) consume(id api.SocketID) bool {
	var data []byte
	ev, ok := s.hw(func() (api.SocketEvent, bool) {
		if !s.bus.Ready(id, false) {
			return api.SocketEvent{}, false
		}
		d, ev, err := s.bus.Consume(id)
		data = d
		return ev, err == nil
	})
	if !ok {
		return false
	}
	for _, b := range data[min(1, len(data)):] {
		if b != data[0] {
			s.corrupt++
			break
		}
	}
	s.buffersOut++
	s.bytesOut += uint64(len(data))
	s.deliver(ev)
	return true
}

func (s *simulator) running() bool {
	switch s.ch.State() {
	case api.StateActive, api.StateInCompletion:
		return true
	}
	return false
}

// run drives the channel until the transfer completes.
func (s *simulator) run(ctx context.Context, size uint64, offset int) (result, error) {
	if s.async {
		loopCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- s.eng.Run(loopCtx) }()
		defer func() {
			cancel()
			<-done
		}()
	}

	s.size = size
	start := time.Now()
	if err := s.ch.SetXfer(size, offset); err != nil {
		return result{}, fmt.Errorf("starting transfer: %w", err)
	}

	idle := 0
	for s.running() {
		if err := ctx.Err(); err != nil {
			_ = s.ch.Abort()
			return result{}, err
		}
		progress := false
		for _, i := range s.rnd.Perm(len(s.prods)) {
			if s.produce(s.prods[i]) {
				progress = true
			}
		}
		for _, i := range s.rnd.Perm(len(s.cons)) {
			if s.rnd.Intn(4) == 0 {
				continue
			}
			if s.consume(s.cons[i]) {
				progress = true
			}
		}
		if progress {
			idle = 0
			continue
		}
		if idle++; idle > stallLimit {
			_ = s.ch.Abort()
			return result{}, errors.New("hardware model stalled")
		}
		if s.async {
			time.Sleep(20 * time.Microsecond)
		}
	}
	if err := s.ch.WaitForCompletion(time.Second); err != nil {
		return result{}, fmt.Errorf("waiting for completion: %w", err)
	}

	st, err := s.ch.GetStatus(0)
	if err != nil {
		return result{}, err
	}
	return result{
		Elapsed:    time.Since(start),
		BuffersIn:  s.buffersIn,
		BuffersOut: s.buffersOut,
		BytesIn:    s.bytesIn,
		BytesOut:   s.bytesOut,
		Corrupt:    s.corrupt,
		Status:     st,
	}, nil
}
