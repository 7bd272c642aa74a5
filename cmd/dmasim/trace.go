// File: cmd/dmasim/trace.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Notification trace: one CBOR array per delivered notification, written
// back to back so a partial trace stays readable.

package main

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/momentics/hioload-dma/api"
)

type traceRecord struct {
	_     struct{} `cbor:",toarray"`
	Seq   uint64
	At    int64 // nanoseconds since the trace started
	Kind  string
	Count uint32
	Flags uint16
}

type tracer struct {
	mu    sync.Mutex
	enc   *cbor.Encoder
	start time.Time
	seq   uint64
	err   error
}

func newTracer(w io.Writer) (*tracer, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return &tracer{enc: em.NewEncoder(w), start: time.Now()}, nil
}

// record appends one notification. The first write error is kept and
// later records are dropped.
func (t *tracer) record(n api.Notification, info *api.BufferInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return
	}
	rec := traceRecord{
		Seq:  t.seq,
		At:   time.Since(t.start).Nanoseconds(),
		Kind: n.String(),
	}
	if info != nil {
		rec.Count = info.Count
		rec.Flags = uint16(info.Status)
	}
	t.seq++
	t.err = t.enc.Encode(rec)
}

func (t *tracer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// readTrace decodes every record of a trace stream.
func readTrace(r io.Reader) ([]traceRecord, error) {
	dec := cbor.NewDecoder(r)
	var out []traceRecord
	for {
		var rec traceRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("decoding record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}
