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
	"fmt"
	"sync/atomic"
)

const (
	// There are 2 timers on Kona (AON and peripheral), plus the core
	// timer on the BCM23550.
	maxTimers = 3
	// Each timer has 4 channels, each with its own interrupt.
	maxChannels = 4
)

// Role is the use the system makes of a timer.
type Role int

const (
	RoleClocksource Role = iota // Free running clocksource, channels unused
	RoleLocal                   // One channel per CPU as local timers
	RoleSystem                  // Channel 0 as a fixed system timer on CPU 0
)

func (r Role) String() string {
	switch r {
	case RoleClocksource:
		return "clocksource"
	case RoleLocal:
		return "local"
	case RoleSystem:
		return "system"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// chanRef identifies a channel by the index of its timer in the system
// and its index within the timer.
type chanRef struct {
	timer int
	ch    int
}

// Channel is one compare channel of a timer.
type Channel struct {
	ref    chanRef
	irq    int
	active int32 // Non-zero while ev is registered
	ev     EventDevice

	fired    uint32
	spurious uint32
}

func (c *Channel) isActive() bool {
	return atomic.LoadInt32(&c.active) != 0
}

func (c *Channel) setActive(a bool) {
	var v int32
	if a {
		v = 1
	}
	atomic.StoreInt32(&c.active, v)
}

// ChannelStats counts the interrupts seen by a channel.
type ChannelStats struct {
	Fired    uint64 // Interrupts with the match bit set
	Spurious uint64 // Interrupts without a pending match
}

// Timer is one hardware timer block.
type Timer struct {
	id        int
	name      string
	rate      uint32
	regs      Regs
	role      Role
	polls     int
	channels  [maxChannels]Channel
	nChannels int

	syncTimeouts uint32
}

// ID returns the index of the timer in the system.
func (t *Timer) ID() int {
	return t.id
}

// Name returns the device tree name of the timer.
func (t *Timer) Name() string {
	return t.name
}

// Rate returns the counter frequency in Hz.
func (t *Timer) Rate() uint32 {
	return t.rate
}

// Role returns the use the system makes of the timer.
func (t *Timer) Role() Role {
	return t.role
}

// Channels returns the number of channels in use.
func (t *Timer) Channels() int {
	return t.nChannels
}

// Counter returns the current value of the free running counter.
func (t *Timer) Counter() (uint64, error) {
	hi, lo, err := readCounter(t.regs)
	v := uint64(hi)<<32 | uint64(lo)
	if err != nil {
		return v, fmt.Errorf("%s: %w", t.name, err)
	}
	return v, nil
}

// Stats returns the interrupt counts of a channel.
func (t *Timer) Stats(ch int) ChannelStats {
	c := &t.channels[ch]
	return ChannelStats{
		Fired:    uint64(atomic.LoadUint32(&c.fired)),
		Spurious: uint64(atomic.LoadUint32(&c.spurious)),
	}
}

// SyncTimeouts returns the number of register syncs that timed out.
func (t *Timer) SyncTimeouts() uint64 {
	return uint64(atomic.LoadUint32(&t.syncTimeouts))
}

// Description returns a human readable string describing the timer.
func (t *Timer) Description() string {
	return fmt.Sprintf("%s: %d Hz, %d channels, %s", t.name, t.rate, t.nChannels, t.role)
}
