// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

import (
	"errors"
	"testing"
)

func TestMPMCBasic(t *testing.T) {
	q := newMPMC[int](3)

	if q.Cap() != 4 {
		t.Fatalf("Cap: got %d, want 4", q.Cap())
	}

	for i := 0; i < 4; i++ {
		v := i + 100
		if err := q.Enqueue(&v); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}

	v := 999
	if err := q.Enqueue(&v); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("Enqueue on full: got %v, want ErrWouldBlock", err)
	}

	for i := 0; i < 4; i++ {
		val, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue(%d): %v", i, err)
		}
		if val != i+100 {
			t.Fatalf("Dequeue(%d): got %d, want %d", i, val, i+100)
		}
	}

	if _, err := q.Dequeue(); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("Dequeue on empty: got %v, want ErrWouldBlock", err)
	}
}

func TestMPMCDequeuesEveryItem(t *testing.T) {
	q := newMPMC[unmapRequest](256)
	const n = 200
	for i := 0; i < n; i++ {
		req := unmapRequest{addr: uintptr(i), size: sbSize}
		if err := q.Enqueue(&req); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}
	seen := make(map[uintptr]bool)
	for i := 0; i < n; i++ {
		req, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue(%d): %v", i, err)
		}
		seen[req.addr] = true
	}
	if len(seen) != n {
		t.Fatalf("saw %d distinct addrs, want %d", len(seen), n)
	}
}
