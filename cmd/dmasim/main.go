// File: cmd/dmasim/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// dmasim configures one multi-socket channel over the in-memory hardware
// model, runs a finite transfer through it and prints a report.
//
//	dmasim -config multicast.yaml -n 1000 -trace run.cbor
//	dmasim -dump run.cbor

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/dma"
	"github.com/momentics/hioload-dma/fake"
	"github.com/momentics/hioload-dma/pool"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "dmasim: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("dmasim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fConfig := fs.String("config", "", "path to scenario YAML file")
	fType := fs.String("type", "", "channel type: multicast, one-to-many, many-to-one")
	fCount := fs.Int("count", 0, "buffers per socket")
	fSize := fs.Uint("size", 0, "buffer size in bytes")
	fProds := fs.Int("producers", 0, "producer sockets")
	fCons := fs.Int("consumers", 0, "consumer sockets")
	fXfer := fs.Uint64("n", 0, "transfer size in buffers (bytes in byte mode)")
	fSeed := fs.Int64("seed", 0, "drain order seed")
	fAsync := fs.Bool("async", false, "service interrupts on the engine run loop")
	fCPU := fs.Int("cpu", -1, "pin the engine run loop to this CPU (with -async)")
	fTrace := fs.String("trace", "", "write a CBOR notification trace to this file")
	fDump := fs.String("dump", "", "print a CBOR trace file and exit")
	fVerbose := fs.Bool("v", false, "log engine diagnostics to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *fDump != "" {
		return dumpTrace(*fDump, stdout)
	}

	sc, err := loadScenario(*fConfig)
	if err != nil {
		return err
	}
	// Apply CLI overrides if necessary.
	if *fType != "" {
		sc.Channel.Type = *fType
	}
	if *fCount != 0 {
		sc.Channel.Count = *fCount
	}
	if *fSize != 0 {
		sc.Channel.Size = uint32(*fSize)
	}
	if *fProds != 0 {
		sc.Channel.Producers = *fProds
	}
	if *fCons != 0 {
		sc.Channel.Consumers = *fCons
	}
	if *fXfer != 0 {
		sc.Transfer.Size = *fXfer
	}
	if *fSeed != 0 {
		sc.Seed = *fSeed
	}
	if *fAsync {
		sc.Engine.Async = true
	}
	if *fCPU >= 0 {
		sc.Engine.ServiceCPU = *fCPU
	}
	if *fTrace != "" {
		sc.Trace = *fTrace
	}
	if err := sc.validate(); err != nil {
		return err
	}

	var logger *log.Logger
	if *fVerbose {
		logger = log.New(stderr, "", log.LstdFlags)
	}
	res, stats, err := simulate(ctx, sc, logger)
	if err != nil {
		return err
	}
	report(stdout, sc, res, stats)
	return nil
}

// simulate builds the engine and channel for sc and runs the transfer.
func simulate(ctx context.Context, sc *Scenario, logger *log.Logger) (result, map[string]any, error) {
	cfg, err := sc.channelConfig()
	if err != nil {
		return result{}, nil, err
	}
	limit, _ := sc.heapLimit()

	dscrs := pool.NewDescriptorPool(sc.Engine.Descriptors)
	heap := pool.NewArena(limit)
	var ids []api.SocketID
	ids = append(ids, cfg.Producers...)
	ids = append(ids, cfg.Consumers...)
	bus := fake.NewBus(dscrs, heap, ids...)

	opts := []dma.Option{
		dma.WithCache(fake.NewCache()),
		dma.WithServiceCPU(sc.Engine.ServiceCPU),
	}
	if logger != nil {
		opts = append(opts, dma.WithLogger(logger))
	}
	eng := dma.NewEngine(dscrs, heap, bus, opts...)
	if sc.Engine.LockTimeout != "" {
		if err := eng.Control().SetConfig(map[string]any{dma.KeyLockTimeout: sc.Engine.LockTimeout}); err != nil {
			return result{}, nil, err
		}
	}

	var tr *tracer
	if sc.Trace != "" {
		f, err := os.Create(sc.Trace)
		if err != nil {
			return result{}, nil, fmt.Errorf("creating trace file: %w", err)
		}
		defer f.Close()
		if tr, err = newTracer(f); err != nil {
			return result{}, nil, err
		}
		cfg.Notify = api.NotifyAll
		cfg.Callback = func(_ *dma.Channel, n api.Notification, info *api.BufferInfo) {
			tr.record(n, info)
		}
	}

	ch, err := eng.Configure(cfg)
	if err != nil {
		return result{}, nil, fmt.Errorf("configuring %s: %w", cfg.String(), err)
	}
	defer ch.Destroy()
	if sc.Channel.Select != 0 {
		if err := ch.SocketSelect(sc.Channel.Select); err != nil {
			return result{}, nil, fmt.Errorf("selecting sockets: %w", err)
		}
	}

	payload := sc.Transfer.Payload
	if payload > ch.ProducerSize() {
		payload = ch.ProducerSize()
	}
	sim := &simulator{
		eng:     eng,
		bus:     bus,
		ch:      ch,
		prods:   cfg.Producers,
		cons:    cfg.Consumers,
		rnd:     rand.New(rand.NewSource(sc.Seed)),
		async:   sc.Engine.Async,
		mode:    cfg.Mode,
		payload: make([]byte, payload),
	}
	res, err := sim.run(ctx, sc.Transfer.Size, sc.Transfer.Offset)
	if err != nil {
		return result{}, nil, err
	}
	if tr != nil {
		if err := tr.Err(); err != nil {
			return result{}, nil, fmt.Errorf("writing trace: %w", err)
		}
	}
	return res, eng.Control().Stats(), nil
}

func report(w io.Writer, sc *Scenario, res result, stats map[string]any) {
	p := message.NewPrinter(language.English)

	p.Fprintf(w, "\nFINAL REPORT (%s, seed %d)\n", sc.Channel.Type, sc.Seed)
	p.Fprintf(w, " Elapsed:           %v\n", res.Elapsed)
	p.Fprintf(w, " Produced:          %d buffers, %s\n", res.BuffersIn, humanize.Bytes(res.BytesIn))
	p.Fprintf(w, " Drained:           %d buffers, %s\n", res.BuffersOut, humanize.Bytes(res.BytesOut))
	p.Fprintf(w, " Socket 0 counts:   %d produced / %d consumed\n",
		res.Status.ProdXferCount, res.Status.ConsXferCount)
	p.Fprintf(w, " Corrupt buffers:   %d\n", res.Corrupt)
	if secs := res.Elapsed.Seconds(); secs > 0 {
		p.Fprintf(w, " Drain rate:        %s/s\n", humanize.Bytes(uint64(float64(res.BytesOut)/secs)))
	}
	for _, key := range []string{
		dma.MetricEvents, dma.MetricEventsDropped,
		dma.MetricBuffersProduced, dma.MetricBuffersReleased,
	} {
		n, _ := stats[key].(int64)
		p.Fprintf(w, " %-19s%d\n", key+":", n)
	}
}

func dumpTrace(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening trace: %w", err)
	}
	defer f.Close()
	recs, err := readTrace(f)
	for _, r := range recs {
		fmt.Fprintf(w, "%6d %12d %-14s count=%d flags=%#x\n", r.Seq, r.At, r.Kind, r.Count, r.Flags)
	}
	return err
}
