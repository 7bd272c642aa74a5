// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

// ring_test.go - randomized and concurrent checks for RingBuffer.
package pool_test

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/momentics/hioload-dma/pool"
)

func TestRingPropertyBased(t *testing.T) {
	for seed := int64(0); seed < 10; seed++ {
		rng := rand.New(rand.NewSource(seed))
		ring := pool.NewRingBuffer[int](64)
		var model []int
		for i := 0; i < 5000; i++ {
			if rng.Intn(2) == 0 {
				v := rng.Intn(100000)
				if ring.Enqueue(v) {
					model = append(model, v)
				} else if len(model) != 64 {
					t.Fatalf("enqueue refused at len %d", len(model))
				}
			} else {
				v, ok := ring.Dequeue()
				if ok != (len(model) > 0) {
					t.Fatalf("dequeue ok=%v with model len %d", ok, len(model))
				}
				if ok {
					if v != model[0] {
						t.Fatalf("FIFO order broken: got %d want %d", v, model[0])
					}
					model = model[1:]
				}
			}
			if ring.Len() != len(model) {
				t.Fatalf("Invariant failed: expected %d, got %d", len(model), ring.Len())
			}
		}
	}
}

func TestRingConcurrentProducers(t *testing.T) {
	ring := pool.NewRingBuffer[int](1024)
	const producers, perProducer = 4, 200
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !ring.Enqueue(i) {
				}
			}
		}()
	}
	wg.Wait()
	if ring.Len() != producers*perProducer {
		t.Fatalf("expected %d items, got %d", producers*perProducer, ring.Len())
	}
	n := 0
	for {
		if _, ok := ring.Dequeue(); !ok {
			break
		}
		n++
	}
	if n != producers*perProducer {
		t.Errorf("dequeued %d items", n)
	}
}

func TestRingSizeMustBePowerOfTwo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for size 3")
		}
	}()
	pool.NewRingBuffer[int](3)
}
