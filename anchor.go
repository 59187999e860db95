// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

import "code.hybscloud.com/atomix"

// descState is a Descriptor's position in the allocator's state machine.
type descState uint64

const (
	stateActive descState = iota
	stateFull
	statePartial
	stateEmpty
)

func (s descState) String() string {
	switch s {
	case stateActive:
		return "ACTIVE"
	case stateFull:
		return "FULL"
	case statePartial:
		return "PARTIAL"
	case stateEmpty:
		return "EMPTY"
	default:
		return "INVALID"
	}
}

// Bit widths of the packed anchor word. avail and count must each fit a
// slot index, so a superblock holds at most 1024 slots (maxSlotsPerSB).
const (
	anchorAvailBits = 10
	anchorCountBits = 10
	anchorStateBits = 2
	anchorTagBits   = 42

	anchorAvailShift = 0
	anchorCountShift = anchorAvailShift + anchorAvailBits
	anchorStateShift = anchorCountShift + anchorCountBits
	anchorTagShift   = anchorStateShift + anchorStateBits

	anchorAvailMask = uint64(1)<<anchorAvailBits - 1
	anchorCountMask = uint64(1)<<anchorCountBits - 1
	anchorStateMask = uint64(1)<<anchorStateBits - 1
	anchorTagMask   = uint64(1)<<anchorTagBits - 1

	maxSlotsPerSB = 1 << anchorAvailBits
)

// anchor is the decoded view of a Descriptor's packed 64-bit state word.
// The packed form is what's actually stored and CAS'd — see Descriptor.anchor
// and descriptor.go. Splitting these fields into separate atomics would
// break the single-CAS commit property the design depends on (spec §9).
type anchor struct {
	avail uint32
	count uint32
	state descState
	tag   uint64
}

func (a anchor) pack() uint64 {
	return uint64(a.avail)&anchorAvailMask<<anchorAvailShift |
		uint64(a.count)&anchorCountMask<<anchorCountShift |
		uint64(a.state)&anchorStateMask<<anchorStateShift |
		a.tag&anchorTagMask<<anchorTagShift
}

func unpackAnchor(v uint64) anchor {
	return anchor{
		avail: uint32(v >> anchorAvailShift & anchorAvailMask),
		count: uint32(v >> anchorCountShift & anchorCountMask),
		state: descState(v >> anchorStateShift & anchorStateMask),
		tag:   v >> anchorTagShift & anchorTagMask,
	}
}

// loadAnchor reads the current packed anchor word.
func loadAnchor(word *atomix.Uint64) anchor {
	return unpackAnchor(word.LoadAcquire())
}

// casAnchor attempts to replace oldA with newA in a single 64-bit CAS.
// Callers are responsible for setting newA.tag (conventionally oldA.tag+1)
// before calling — the tag's bump, not this function, is what defeats ABA
// on the slot-list head; see spec §9 "Packed anchor".  Returns false (no
// write performed) on contention; callers retry by reloading the anchor.
func casAnchor(word *atomix.Uint64, oldA, newA anchor) bool {
	return word.CompareAndSwapAcqRel(oldA.pack(), newA.pack())
}
