// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

import (
	"sync"
	"testing"
)

func newTestDescriptor() *descriptor {
	d := &descriptor{}
	d.qNext.StoreRelease(qNextFree)
	return d
}

// TestDescQueueFIFO checks property 7 (FIFO per enqueueing goroutine) for
// a single producer.
func TestDescQueueFIFO(t *testing.T) {
	q := newDescQueue()
	th := RegisterThread()
	defer th.Unregister()

	const n = 50
	nodes := make([]*descriptor, n)
	for i := range nodes {
		nodes[i] = newTestDescriptor()
		q.enqueue(th.id, nodes[i])
	}

	for i := 0; i < n; i++ {
		d, ok := q.dequeue(th.id)
		if !ok {
			t.Fatalf("dequeue %d: queue unexpectedly empty", i)
		}
		if d != nodes[i] {
			t.Fatalf("dequeue %d: FIFO order violated", i)
		}
	}

	if _, ok := q.dequeue(th.id); ok {
		t.Fatal("dequeue on drained queue should report empty")
	}
}

// TestDescQueueDummyRotation covers spec scenario (e): enqueue then
// dequeue a single node, and confirm the queue's own dummy is rotated —
// the returned node is never the one currently serving as dummy, and the
// queue's internal head/tail still resolve to a pool-owned dummy
// afterward.
func TestDescQueueDummyRotation(t *testing.T) {
	q := newDescQueue()
	th := RegisterThread()
	defer th.Unregister()

	d := newTestDescriptor()
	q.enqueue(th.id, d)

	got, ok := q.dequeue(th.id)
	if !ok {
		t.Fatal("dequeue after enqueue should succeed")
	}
	if got != d {
		t.Fatalf("dequeue returned %p, want %p", got, d)
	}

	headAddr := q.head.LoadAcquire()
	head := (*descriptor)(unsafePointerFromUintptr(headAddr))
	if !q.pool.owns(head) {
		t.Fatal("queue head after drain should be a pool-owned dummy")
	}
}

// TestDescQueueConcurrent is a lighter-weight stand-in for property 1 and
// 7: four goroutines enqueue concurrently, then a single consumer drains
// the queue and must dequeue exactly as many nodes as were enqueued.
func TestDescQueueConcurrent(t *testing.T) {
	q := newDescQueue()
	const numProducers = 4
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < numProducers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th := RegisterThread()
			defer th.Unregister()
			for i := 0; i < perProducer; i++ {
				q.enqueue(th.id, newTestDescriptor())
			}
		}()
	}
	wg.Wait()

	th := RegisterThread()
	defer th.Unregister()

	count := 0
	for {
		_, ok := q.dequeue(th.id)
		if !ok {
			break
		}
		count++
	}
	if count != numProducers*perProducer {
		t.Fatalf("dequeued %d nodes, want %d", count, numProducers*perProducer)
	}
}
