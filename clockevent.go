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
	"math/bits"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const nsecPerSec = 1000000000

// Programmable range of a channel, in ticks.
const (
	minDeltaTicks = 6
	maxDeltaTicks = 0xffffffff
)

// Rating of the per-CPU clockevents.
const eventRating = 250

// Feature is a capability flag of an EventDevice.
type Feature int

const (
	FeatOneshot Feature = 1 << iota
)

// EventState is the programming state of an EventDevice.
type EventState int

const (
	StateIdle  EventState = iota // Compare disabled
	StateArmed                   // Compare enabled, waiting for a match
)

func (s EventState) String() string {
	if s == StateArmed {
		return "armed"
	}
	return "idle"
}

// EventHandler receives expiry of a one-shot event. Fire is called from
// the interrupt goroutine of the channel and must not block.
type EventHandler interface {
	Fire()
}

// HandlerFunc adapts a function to an EventHandler.
type HandlerFunc func()

// Fire calls f.
func (f HandlerFunc) Fire() {
	f()
}

// EventDevice is a one-shot clockevent backed by a timer channel.
type EventDevice struct {
	Name     string
	Features Feature
	Rating   int
	Mult     uint32 // ns to ticks: ticks = ns * Mult >> Shift
	Shift    uint32
	MinDelta uint32 // Ticks
	MaxDelta uint32 // Ticks
	CPUs     unix.CPUSet

	sys *System
	ref chanRef

	mu      sync.Mutex
	state   EventState
	handler EventHandler
}

// setup (re)initialises the device for a channel, bound to a single CPU.
func (e *EventDevice) setup(k *System, ref chanRef, name string, rate uint32, cpu int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Name = name
	e.Features = FeatOneshot
	e.Rating = eventRating
	e.MinDelta = minDeltaTicks
	e.MaxDelta = maxDeltaTicks
	sec := e.MaxDelta / rate
	if sec == 0 {
		sec = 1
	}
	e.Mult, e.Shift = calcMultShift(nsecPerSec, rate, sec)
	e.CPUs.Zero()
	e.CPUs.Set(cpu)
	e.sys = k
	e.ref = ref
	e.state = StateIdle
	e.handler = nil
}

// SetHandler installs the handler called when the event expires.
func (e *EventDevice) SetHandler(h EventHandler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// ClearHandler removes the handler.
func (e *EventDevice) ClearHandler() {
	e.SetHandler(nil)
}

// State returns whether the event is armed.
func (e *EventDevice) State() EventState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *EventDevice) setState(s EventState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// SetNextEvent arms the channel to expire ticks from now.
func (e *EventDevice) SetNextEvent(ticks uint32) error {
	t := e.sys.timer(e.ref.timer)
	if t == nil {
		return fmt.Errorf("%s: no timer %d", e.Name, e.ref.timer)
	}
	if err := t.arm(e.ref.ch, ticks); err != nil {
		return err
	}
	e.setState(StateArmed)
	return nil
}

// Shutdown disarms the channel. Shutting down an idle channel has no effect.
func (e *EventDevice) Shutdown() error {
	t := e.sys.timer(e.ref.timer)
	if t == nil {
		return fmt.Errorf("%s: no timer %d", e.Name, e.ref.timer)
	}
	t.disarm(e.ref.ch)
	e.setState(StateIdle)
	return nil
}

// TickResume puts the channel in the state expected after a resume,
// which is idle.
func (e *EventDevice) TickResume() error {
	return e.Shutdown()
}

// ProgramEvent arms the channel to expire after d. The delay is clamped
// to the programmable range of the channel.
func (e *EventDevice) ProgramEvent(d time.Duration) error {
	if d < 0 {
		d = 0
	}
	ticks, ok := mulShift(uint64(d), e.Mult, e.Shift)
	if !ok || ticks > uint64(e.MaxDelta) {
		ticks = uint64(e.MaxDelta)
	}
	if ticks < uint64(e.MinDelta) {
		ticks = uint64(e.MinDelta)
	}
	return e.SetNextEvent(uint32(ticks))
}

// DeltaToDuration converts ticks to a duration.
func (e *EventDevice) DeltaToDuration(ticks uint32) time.Duration {
	return time.Duration((uint64(ticks) << e.Shift) / uint64(e.Mult))
}

// fire marks the event expired and runs the handler.
func (e *EventDevice) fire() {
	e.mu.Lock()
	e.state = StateIdle
	h := e.handler
	e.mu.Unlock()
	if h != nil {
		h.Fire()
	}
}

// calcMultShift finds mult and shift such that v * mult >> shift
// converts a value at frequency from to frequency to, and does not
// overflow 64 bits for values covering up to maxsec seconds.
func calcMultShift(from, to, maxsec uint32) (mult, shift uint32) {
	tmp := uint64(maxsec) * uint64(from) >> 32
	sftacc := uint32(32)
	for tmp != 0 {
		tmp >>= 1
		sftacc--
	}
	var sft uint32
	for sft = 32; sft > 0; sft-- {
		tmp = uint64(to) << sft
		tmp += uint64(from) / 2
		tmp /= uint64(from)
		if tmp>>sftacc == 0 {
			break
		}
	}
	return uint32(tmp), sft
}

// mulShift returns v * mult >> shift, and false if the result does
// not fit in 64 bits.
func mulShift(v uint64, mult, shift uint32) (uint64, bool) {
	hi, lo := bits.Mul64(v, uint64(mult))
	if shift == 0 {
		return lo, hi == 0
	}
	if hi>>shift != 0 {
		return 0, false
	}
	return hi<<(64-shift) | lo>>shift, true
}
