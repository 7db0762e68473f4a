// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kona

import (
	"sync/atomic"
	"unsafe"
)

// Register offsets within a timer block.
const (
	rSTCS  = 0x00 // Control and status
	rSTCLO = 0x04 // Counter low word
	rSTCHI = 0x08 // Counter high word
	rSTCM0 = 0x0C // Channel 0 compare value, channel n is at rSTCM0 + 4*n

	regSize = rSTCM0 + 4*maxChannels
)

// STCS fields. Each field has one bit per channel.
const (
	stcsMatchShift       = 0  // Match flags, write 1 to acknowledge
	stcsEnableShift      = 4  // Compare enables
	stcsEnableSyncShift  = 8  // Read-only mirror of the compare enables
	stcsCompareSyncShift = 12 // Pulses when a compare value has been loaded

	stcsMatchMask = 0xF << stcsMatchShift
)

func matchBit(ch int) uint32       { return 1 << uint(stcsMatchShift+ch) }
func enableBit(ch int) uint32      { return 1 << uint(stcsEnableShift+ch) }
func enableSyncBit(ch int) uint32  { return 1 << uint(stcsEnableSyncShift+ch) }
func compareSyncBit(ch int) uint32 { return 1 << uint(stcsCompareSyncShift+ch) }
func compareReg(ch int) uintptr    { return rSTCM0 + 4*uintptr(ch) }

// Regs provides 32 bit access to the registers of one timer block.
// Offsets are relative to the start of the block.
type Regs interface {
	Read32(offs uintptr) uint32
	Write32(offs uintptr, v uint32)
}

// window is a register block inside a memory mapped region.
type window []byte

// Read32 reads one 32 bit register.
func (w window) Read32(offs uintptr) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&w[offs])))
}

// Write32 writes one 32 bit register.
func (w window) Write32(offs uintptr, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&w[offs])), v)
}
