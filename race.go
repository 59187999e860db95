// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package lfalloc

// RaceEnabled is true when the race detector is active.
// It turns on the debug-only in_queue check in descQueue.enqueue
// (queue.go), which runs only in race-enabled builds.
const RaceEnabled = true
