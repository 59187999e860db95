// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"code.hybscloud.com/atomix"
)

// TestHazardSafetyUnderDelayedReader covers spec property 8 and scenario
// (e)'s second half: an object protected by a hazard pointer must never
// be freed while that hazard pointer is still published, even when the
// retiring goroutine races ahead of a slow reader.
func TestHazardSafetyUnderDelayedReader(t *testing.T) {
	th := RegisterThread()
	defer th.Unregister()
	row := hazardRowFor(th.id)

	d := newTestDescriptor()
	addr := addrOf(d)

	// Simulate a concurrent reader that has published a hazard pointer on
	// addr but not yet retracted it.
	hpSet(row, 0, addr)

	var freed atomic.Bool
	hazardousFreeOrQueue(addr, func(uintptr) { freed.Store(true) })

	if freed.Load() {
		t.Fatal("object freed while a hazard pointer still protected it")
	}

	// The reader finishes and retracts its hazard pointer; a later scan
	// must now find the object safe to free.
	hpClear(row, 0)
	tryFreeAll()

	if !freed.Load() {
		t.Fatal("object never freed after the hazard pointer was retracted")
	}
}

// TestHazardSafetyConcurrentReadersAndRetirers is a stress variant of
// property 8: four goroutines hazard-load a shared pointer while the
// object behind it is unlinked and retired through hazardousFreeOrQueue;
// no reader may see the object tagged freed while holding a hazardous
// load of it.
func TestHazardSafetyConcurrentReadersAndRetirers(t *testing.T) {
	var shared atomix.Uintptr
	d := newTestDescriptor()
	shared.StoreRelease(addrOf(d))

	var freed atomic.Bool
	var mismatches atomic.Int64
	stop := make(chan struct{})

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th := RegisterThread()
			defer th.Unregister()
			row := hazardRowFor(th.id)
			for {
				select {
				case <-stop:
					return
				default:
				}
				p := hpLoad(&shared, row, 0)
				if p != 0 && p != addrOf(d) {
					mismatches.Add(1)
				} else if p != 0 && freed.Load() {
					mismatches.Add(1)
				}
				hpClear(row, 0)
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	// Unlink the object, then retire it while the readers are still running.
	retired := shared.LoadAcquire()
	shared.StoreRelease(0)
	hazardousFreeOrQueue(retired, func(uintptr) { freed.Store(true) })
	time.Sleep(5 * time.Millisecond)
	close(stop)
	wg.Wait()

	tryFreeAll()

	if mismatches.Load() != 0 {
		t.Fatalf("observed %d hazard-pointer mismatches", mismatches.Load())
	}
	if !freed.Load() {
		t.Fatal("object never freed after every reader retracted its hazard pointer")
	}
}
