// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

import (
	"errors"
	"testing"
)

func TestNewSizeClassRejectsOversizeSlot(t *testing.T) {
	if _, err := newSizeClass(maxSmallSize + 1); !errors.Is(err, errInvalidSlotSize) {
		t.Fatalf("got %v, want errInvalidSlotSize", err)
	}
	if _, err := newSizeClass(0); !errors.Is(err, errInvalidSlotSize) {
		t.Fatalf("zero slot size: got %v, want errInvalidSlotSize", err)
	}
}

func TestNewSizeClassAcceptsValidSlot(t *testing.T) {
	sc, err := newSizeClass(64)
	if err != nil {
		t.Fatalf("newSizeClass(64): %v", err)
	}
	if sc.slotSize != 64 {
		t.Fatalf("slotSize = %d, want 64", sc.slotSize)
	}
	if sc.partial == nil {
		t.Fatal("partial queue not initialized")
	}
}
