// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Bus models the socket register file plus a minimal hardware socket that
// walks descriptor chains: producers fill the current descriptor and follow
// WriteNext, consumers drain it and follow ReadNext.

package fake

import (
	"errors"
	"sync"

	"github.com/momentics/hioload-dma/api"
)

var (
	// ErrSocketStalled is returned when a producer finds its current
	// buffer still occupied or a consumer finds it empty.
	ErrSocketStalled = errors.New("fake: socket stalled")
	// ErrSocketDisabled is returned by data operations on a disabled socket.
	ErrSocketDisabled = errors.New("fake: socket disabled")
	// ErrSocketSuspended is returned by data operations on a suspended socket.
	ErrSocketSuspended = errors.New("fake: socket suspended")
)

// SentEvent is one SendEvent call recorded by the bus.
type SentEvent struct {
	Socket  api.SocketID
	Dscr    api.DscrIndex
	Produce bool
}

type socketRegs struct {
	cfg     api.SocketConfig
	suspend api.SuspendMode
	quirk   bool
}

// Bus is a fake implementation of api.SocketBus for testing.
type Bus struct {
	mu      sync.Mutex
	pool    api.DescriptorPool
	heap    api.BufferHeap
	sockets map[api.SocketID]*socketRegs
	sent    []SentEvent
	writes  int

	setConfigError error
	sendEventError error
	disableError   error
}

// NewBus creates a bus with the given sockets registered. The pool and heap
// back the hardware model and must be the ones the engine uses.
func NewBus(pool api.DescriptorPool, heap api.BufferHeap, ids ...api.SocketID) *Bus {
	b := &Bus{
		pool:    pool,
		heap:    heap,
		sockets: make(map[api.SocketID]*socketRegs, len(ids)),
	}
	for _, id := range ids {
		b.sockets[id] = &socketRegs{}
	}
	return b
}

// AddSocket registers another socket.
func (b *Bus) AddSocket(id api.SocketID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sockets[id]; !ok {
		b.sockets[id] = &socketRegs{}
	}
}

func (b *Bus) socket(id api.SocketID) (*socketRegs, error) {
	s, ok := b.sockets[id]
	if !ok {
		return nil, api.ErrNotFound.WithContext("socket", id.String())
	}
	return s, nil
}

// GetConfig implements api.SocketBus.
func (b *Bus) GetConfig(id api.SocketID) (api.SocketConfig, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.socket(id)
	if err != nil {
		return api.SocketConfig{}, err
	}
	return s.cfg, nil
}

// SetConfig implements api.SocketBus.
func (b *Bus) SetConfig(id api.SocketID, cfg api.SocketConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.setConfigError != nil {
		return b.setConfigError
	}
	s, err := b.socket(id)
	if err != nil {
		return err
	}
	s.cfg = cfg
	b.writes++
	return nil
}

// Disable implements api.SocketBus.
func (b *Bus) Disable(id api.SocketID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disableError != nil {
		return b.disableError
	}
	s, err := b.socket(id)
	if err != nil {
		return err
	}
	s.cfg.Status &^= api.SocketEnabled
	b.writes++
	return nil
}

// SendEvent implements api.SocketBus.
func (b *Bus) SendEvent(id api.SocketID, dscr api.DscrIndex, produce bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendEventError != nil {
		return b.sendEventError
	}
	if _, err := b.socket(id); err != nil {
		return err
	}
	b.sent = append(b.sent, SentEvent{Socket: id, Dscr: dscr, Produce: produce})
	return nil
}

// AvailCountRequired implements api.SocketBus.
func (b *Bus) AvailCountRequired(id api.SocketID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sockets[id]
	return ok && s.quirk
}

// SetSuspend implements api.SocketBus.
func (b *Bus) SetSuspend(id api.SocketID, mode api.SuspendMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.socket(id)
	if err != nil {
		return err
	}
	s.suspend = mode
	if mode == api.SuspendNone {
		s.cfg.Status &^= api.SocketSuspended
	}
	b.writes++
	return nil
}

// Valid implements api.SocketBus.
func (b *Bus) Valid(id api.SocketID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sockets[id]
	return ok
}

// SetAvailCountRequired toggles the avail-count quirk of a socket.
func (b *Bus) SetAvailCountRequired(id api.SocketID, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sockets[id]; ok {
		s.quirk = on
	}
}

// SuspendMode returns the suspend option last programmed on a socket.
func (b *Bus) SuspendMode(id api.SocketID) api.SuspendMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sockets[id]; ok {
		return s.suspend
	}
	return api.SuspendNone
}

// Enabled reports whether a socket is enabled.
func (b *Bus) Enabled(id api.SocketID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sockets[id]
	return ok && s.cfg.Status&api.SocketEnabled != 0
}

// Sent returns a copy of the recorded SendEvent traffic.
func (b *Bus) Sent() []SentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SentEvent(nil), b.sent...)
}

// SentTo returns the recorded events addressed to one socket.
func (b *Bus) SentTo(id api.SocketID) []SentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []SentEvent
	for _, ev := range b.sent {
		if ev.Socket == id {
			out = append(out, ev)
		}
	}
	return out
}

// ResetSent clears the recorded SendEvent traffic.
func (b *Bus) ResetSent() {
	b.mu.Lock()
	b.sent = nil
	b.mu.Unlock()
}

// RegisterWrites counts SetConfig, Disable and SetSuspend calls.
func (b *Bus) RegisterWrites() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// SetConfigError configures the bus to fail SetConfig.
func (b *Bus) SetConfigError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setConfigError = err
}

// SetSendEventError configures the bus to fail SendEvent.
func (b *Bus) SetSendEventError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendEventError = err
}

// SetDisableError configures the bus to fail Disable.
func (b *Bus) SetDisableError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disableError = err
}

func (b *Bus) active(id api.SocketID) (*socketRegs, error) {
	s, err := b.socket(id)
	if err != nil {
		return nil, err
	}
	if s.cfg.Status&api.SocketEnabled == 0 || !s.cfg.Dscr.Valid() {
		return nil, ErrSocketDisabled
	}
	if s.cfg.Status&api.SocketSuspended != 0 {
		return nil, ErrSocketSuspended
	}
	return s, nil
}

func (s *socketRegs) advance(n uint32) {
	if s.cfg.Status&api.SocketUnitBytes != 0 {
		s.cfg.XferCount += n
	} else {
		s.cfg.XferCount++
	}
}

// Produce fills the producer socket's current buffer with data and moves
// the socket along its write chain. The returned event is what the
// hardware would raise; the caller dispatches it.
func (b *Bus) Produce(id api.SocketID, data []byte, eop bool) (api.SocketEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.active(id)
	if err != nil {
		return api.SocketEvent{}, err
	}
	cur := s.cfg.Dscr
	d := b.pool.Get(cur)
	if d.Occupied() {
		return api.SocketEvent{}, ErrSocketStalled
	}
	n := uint32(len(data))
	if n > d.Size {
		n = d.Size
	}
	if n > 0 {
		copy(b.heap.Bytes(d.Buffer, int(n)), data)
	}
	d.Count = n
	d.Flags = api.DscrOccupied
	if eop {
		d.Flags |= api.DscrEOP
	}
	b.pool.Set(cur, d)
	s.advance(n)
	s.cfg.Dscr = d.WriteNext
	return api.SocketEvent{Socket: id, Kind: api.EventProduce, Dscr: s.cfg.Dscr}, nil
}

// Consume drains the consumer socket's current buffer and moves the socket
// along its read chain. It returns a copy of the drained bytes.
func (b *Bus) Consume(id api.SocketID) ([]byte, api.SocketEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.active(id)
	if err != nil {
		return nil, api.SocketEvent{}, err
	}
	cur := s.cfg.Dscr
	d := b.pool.Get(cur)
	if !d.Occupied() {
		return nil, api.SocketEvent{}, ErrSocketStalled
	}
	out := make([]byte, d.Count)
	if d.Count > 0 {
		copy(out, b.heap.Bytes(d.Buffer, int(d.Count)))
	}
	d.Flags &^= api.DscrOccupied
	b.pool.Set(cur, d)
	s.advance(d.Count)
	s.cfg.Dscr = d.ReadNext
	return out, api.SocketEvent{Socket: id, Kind: api.EventConsume, Dscr: s.cfg.Dscr}, nil
}

// Ready reports whether the socket's current buffer can be drained
// (consumer) or filled (producer).
func (b *Bus) Ready(id api.SocketID, producer bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.active(id)
	if err != nil {
		return false
	}
	return b.pool.Get(s.cfg.Dscr).Occupied() != producer
}

// Current returns the socket's current descriptor.
func (b *Bus) Current(id api.SocketID) api.DscrIndex {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sockets[id]; ok {
		return s.cfg.Dscr
	}
	return api.NoDscr
}

// Fail builds the error event a faulting socket would raise.
func (b *Bus) Fail(id api.SocketID, status uint32) api.SocketEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := api.NoDscr
	if s, ok := b.sockets[id]; ok {
		cur = s.cfg.Dscr
	}
	return api.SocketEvent{Socket: id, Kind: api.EventError, Dscr: cur, Status: status}
}

// Suspend marks the socket suspended and builds the event it would raise.
func (b *Bus) Suspend(id api.SocketID) api.SocketEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := api.NoDscr
	if s, ok := b.sockets[id]; ok {
		cur = s.cfg.Dscr
		s.cfg.Status |= api.SocketSuspended
	}
	return api.SocketEvent{Socket: id, Kind: api.EventSuspend, Dscr: cur}
}

var _ api.SocketBus = (*Bus)(nil)
