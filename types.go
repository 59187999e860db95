// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

// Queue is the combined producer-consumer interface for a bounded FIFO
// queue, implemented by the deferred OS reclaim queue (reclaim.go's
// mpmc[T]). The thread-id pool's compact queue (registry.go) has its own
// unexported methods and does not implement it. It is distinct from the
// unbounded, caller-owned-node MS-queue
// in queue.go, which the allocator uses to track partial superblocks.
//
// Queue provides non-blocking Enqueue and Dequeue operations. Both operations
// return ErrWouldBlock when they cannot proceed (queue full or empty).
//
// The interface intentionally excludes length because accurate counts in
// lock-free algorithms require expensive cross-core synchronization.
type Queue[T any] interface {
	Producer[T]
	Consumer[T]
	Cap() int
}

// Producer is the interface for enqueueing elements.
//
// The element is passed by pointer to avoid copying large structs. The
// queue stores a copy of the pointed-to value, so the original can be
// modified after Enqueue returns.
type Producer[T any] interface {
	// Enqueue adds an element to the queue (non-blocking).
	// Returns nil on success, ErrWouldBlock if the queue is full.
	Enqueue(elem *T) error
}

// Consumer is the interface for dequeueing elements.
//
// The element is returned by value (copied from the queue's internal
// buffer). The original slot is cleared to allow garbage collection of
// referenced objects.
type Consumer[T any] interface {
	// Dequeue removes and returns an element from the queue (non-blocking).
	// Returns (zero-value, ErrWouldBlock) if the queue is empty.
	Dequeue() (T, error)
}

// Drainer signals that no more enqueues will occur.
//
// The FAA-based MPMC queue implements this interface. Call Drain after all
// producers have finished so consumers can drain remaining items without
// the livelock-prevention threshold blocking them.
type Drainer interface {
	// Drain is a hint — the caller must ensure no further Enqueue calls
	// will be made after calling Drain.
	Drain()
}
