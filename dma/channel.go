// File: dma/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dma

import (
	"errors"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/internal/concurrency"
	"github.com/momentics/hioload-dma/pool"
)

// sockSlot is the per-socket record of a channel side.
type sockSlot struct {
	id    api.SocketID
	nodes []api.DscrIndex // chain in link order
	bufs  []pool.Block    // producer slots only: owned buffer of each node

	first  api.DscrIndex // chain head
	active api.DscrIndex // next node the tracker expects the socket to finish
	commit api.DscrIndex // producer slots: next node to hand back
	count  int           // consumer slots: produced but not yet drained
	// disabled consumers keep their count frozen and are skipped by the tracker.
	disabled bool
}

// Channel is a multi-socket DMA channel. All methods are safe for
// concurrent use.
type Channel struct {
	eng  *Engine
	name string
	cfg  ChannelConfig
	topo topology

	lock   *concurrency.TimedMutex
	events *concurrency.EventFlags

	// Guarded by lock.
	state     api.ChannelState
	prod      []*sockSlot
	cons      []*sockSlot
	prodOwner map[api.DscrIndex]int
	consOwner map[api.DscrIndex]int
	prodSize  uint32
	consSize  uint32
	override  api.DscrIndex
	ovrSocket api.SocketID
	recvInfo  api.BufferInfo
	sendInfo  api.BufferInfo
	xferSize  uint64
	prodXfer  uint64
	consXfer  uint64
	mode      api.XferMode
	cacheOn   bool

	notifyMu  sync.Mutex
	pending   *queue.Queue
	deliverMu sync.Mutex
}

func newChannel(e *Engine, cfg ChannelConfig) (*Channel, error) {
	ch := &Channel{
		eng:       e,
		name:      cfg.Name,
		cfg:       cfg,
		topo:      newTopology(cfg),
		lock:      concurrency.NewTimedMutex(),
		events:    concurrency.NewEventFlags(),
		prodOwner: make(map[api.DscrIndex]int),
		consOwner: make(map[api.DscrIndex]int),
		prodSize:  cfg.Size - cfg.ProdHeader - cfg.ProdFooter,
		override:  api.NoDscr,
		mode:      cfg.Mode,
		cacheOn:   cfg.CacheControl,
		pending:   queue.New(),
	}
	ch.consSize = (ch.prodSize + 0xF - cfg.ConsHeader) &^ 0xF
	for _, id := range cfg.Producers {
		ch.prod = append(ch.prod, &sockSlot{id: id})
	}
	for _, id := range cfg.Consumers {
		ch.cons = append(ch.cons, &sockSlot{id: id})
	}

	if err := ch.build(); err != nil {
		return nil, err
	}
	if err := ch.registerSockets(); err != nil {
		if rerr := ch.release(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return nil, err
	}
	if err := ch.disableAll(); err != nil {
		for _, s := range ch.sockets() {
			e.disp.Unregister(s.id)
		}
		return nil, errors.Join(api.ErrDMAFailure.WithContext("cause", err.Error()), ch.release())
	}
	ch.topo.link(ch)
	ch.state = api.StateConfigured
	return ch, nil
}

func (ch *Channel) sockets() []*sockSlot {
	out := make([]*sockSlot, 0, len(ch.prod)+len(ch.cons))
	out = append(out, ch.prod...)
	return append(out, ch.cons...)
}

func (ch *Channel) registerSockets() error {
	var done []api.SocketID
	for _, s := range ch.sockets() {
		if err := ch.eng.disp.Register(s.id, ch); err != nil {
			for _, id := range done {
				ch.eng.disp.Unregister(id)
			}
			return err
		}
		done = append(done, s.id)
	}
	return nil
}

// Name returns the channel name.
func (ch *Channel) Name() string { return ch.name }

// Type returns the channel topology.
func (ch *Channel) Type() api.ChannelType { return ch.topo.kind() }

// State returns the current state.
func (ch *Channel) State() api.ChannelState {
	if err := ch.lock.Lock(WaitForever); err != nil {
		return api.StateError
	}
	defer ch.lock.Unlock()
	return ch.state
}

// ProducerSize is the usable byte size of a producer buffer.
func (ch *Channel) ProducerSize() uint32 { return ch.prodSize }

// ConsumerSize is the byte size of the consumer view of a buffer.
func (ch *Channel) ConsumerSize() uint32 { return ch.consSize }

// LockTimeout returns the timeout applied to the channel lock.
func (ch *Channel) LockTimeout() time.Duration {
	if ch.cfg.LockTimeout != 0 {
		return ch.cfg.LockTimeout
	}
	return ch.eng.LockTimeout()
}

// acquire takes the channel lock for a public operation.
func (ch *Channel) acquire() error {
	if err := ch.lock.Lock(ch.LockTimeout()); err != nil {
		return api.ErrMutexFailure.WithContext("channel", ch.name)
	}
	if ch.state == api.StateNotConfigured {
		ch.lock.Unlock()
		return api.ErrNotConfigured.WithContext("channel", ch.name)
	}
	return nil
}

// requireConfigured fails with ErrAlreadyStarted unless the channel is idle.
func (ch *Channel) requireConfigured() error {
	if ch.state != api.StateConfigured {
		return api.ErrAlreadyStarted.WithContext("state", ch.state.String())
	}
	return nil
}

// singleSide and multiSide name the channel's socket groups.
func (ch *Channel) multiSide() []*sockSlot {
	if ch.cfg.Type == api.ManyToOne {
		return ch.prod
	}
	return ch.cons
}

func (ch *Channel) singleSide() []*sockSlot {
	if ch.cfg.Type == api.ManyToOne {
		return ch.cons
	}
	return ch.prod
}

// disableAll stops every socket, multi side first.
func (ch *Channel) disableAll() error {
	var errs []error
	for _, s := range ch.multiSide() {
		if err := ch.eng.bus.Disable(s.id); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range ch.singleSide() {
		if err := ch.eng.bus.Disable(s.id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Destroy stops the channel and returns its descriptors and buffers.
// Pending and later waits on the channel return ErrNotConfigured.
func (ch *Channel) Destroy() error {
	if err := ch.acquire(); err != nil {
		return err
	}
	errDisable := ch.disableAll()
	for _, s := range ch.sockets() {
		ch.eng.disp.Unregister(s.id)
	}
	errRelease := ch.release()
	ch.state = api.StateNotConfigured
	ch.events.Delete()
	ch.lock.Unlock()
	ch.eng.forget(ch)
	if err := errors.Join(errDisable, errRelease); err != nil {
		return api.ErrDMAFailure.WithContext("cause", err.Error())
	}
	return nil
}
