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

	"github.com/platinasystems/log"
)

// IRQController delivers the interrupts of the timer channels.
// Handlers run on a goroutine owned by the controller, one per line.
type IRQController interface {
	// Request installs h as the handler of line and enables the line.
	Request(line int, name string, h func()) error
	// Free disables line and removes its handler.
	Free(line int) error
	Enable(line int) error
	Disable(line int) error
}

// requestIRQs installs the interrupt handler on each channel of t.
// On failure the lines already requested are freed.
func (k *System) requestIRQs(t *Timer) error {
	for i := 0; i < t.nChannels; i++ {
		ref := t.channels[i].ref
		if err := k.irq.Request(t.channels[i].irq, "Kona Timer Tick", func() { k.interrupt(ref) }); err != nil {
			for i != 0 {
				i--
				k.irq.Free(t.channels[i].irq)
			}
			return err
		}
	}
	return nil
}

// interrupt services a channel interrupt. An interrupt without a pending
// match is counted and otherwise ignored, so that a spurious interrupt
// cannot disarm a channel that is still counting down.
func (k *System) interrupt(ref chanRef) {
	t := k.timer(ref.timer)
	if t == nil {
		log.Print("kern", "err", "kona-timer: no timer")
		return
	}
	c := &t.channels[ref.ch]
	if !t.matchPending(ref.ch) {
		atomic.AddUint32(&c.spurious, 1)
		return
	}
	t.disarm(ref.ch)
	atomic.AddUint32(&c.fired, 1)
	if c.isActive() {
		c.ev.fire()
	}
}
