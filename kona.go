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
	"os"
	"strings"
	"sync"

	"github.com/platinasystems/log"
)

// System is the set of Kona timers in use.
type System struct {
	lastCycles uint64 // Last good clocksource read, accessed atomically

	mapper Mapper
	irq    IRQController
	hz     int
	polls  int

	mu      sync.RWMutex // Guards timers
	timers  [maxTimers]*Timer
	nTimers int
	localID int
	cs      *Clocksource

	hotplug sync.Mutex
}

// Single instance of the timers.
var kona *System

// Open sets up the timers described by the configuration. A timer that
// fails to initialise is logged and skipped; Open fails only if no
// timer could be set up.
func Open(c *Config) (*System, error) {
	if kona != nil {
		return nil, fmt.Errorf("Timers already open; must close them first")
	}
	if c.mapper == nil || c.irq == nil {
		return nil, fmt.Errorf("Config needs a mapper and an interrupt controller")
	}
	var nodes []*Node
	if c.treePath != "" {
		b, err := os.ReadFile(c.treePath)
		if err != nil {
			return nil, err
		}
		nodes, err = ParseDeviceTree(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", c.treePath, err)
		}
	}
	nodes = append(nodes, c.nodes...)
	k := &System{
		mapper:  c.mapper,
		irq:     c.irq,
		hz:      c.hz,
		polls:   c.polls,
		localID: -1,
	}
	for _, n := range nodes {
		if _, err := k.addTimer(n); err != nil {
			log.Print("kern", "err", "kona-timer: ", n.Name, ": ", err)
		}
	}
	if k.nTimers == 0 {
		return nil, fmt.Errorf("No timers initialised")
	}
	kona = k
	return k, nil
}

// addTimer initialises one timer block and assigns its role.
func (k *System) addTimer(n *Node) (*Timer, error) {
	if k.nTimers >= maxTimers {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyInstances, maxTimers)
	}
	rate, err := n.rate()
	if err != nil {
		return nil, err
	}
	regs, err := k.mapper.Map(n.Base, n.Size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMapFailed, err)
	}
	// Each channel has one interrupt, so the number of channels is
	// taken from the interrupt count.
	nch := len(n.IRQs)
	if nch == 0 {
		k.mapper.Unmap(regs)
		return nil, ErrNoInterrupts
	}
	if nch > maxChannels {
		log.Print("kern", "warn", "kona-timer: ", n.Name, ": too many interrupts provided, capping out at ", maxChannels)
		nch = maxChannels
	}
	id := k.nTimers
	t := &Timer{id: id, name: n.Name, rate: rate, regs: regs, polls: k.polls, nChannels: nch}
	switch {
	case n.FreeRunning && k.cs == nil:
		t.role = RoleClocksource
	case k.localID < 0:
		if n.FreeRunning {
			log.Print("kern", "warn", "kona-timer: ", n.Name, ": clocksource already set, using as local timer")
		}
		t.role = RoleLocal
	default:
		log.Print("kern", "warn", "kona-timer: ", n.Name, ": local timer already set, using as system timer")
		t.role = RoleSystem
	}
	log.Printf("kern", "debug", "kona-timer: initializing timer %d, %d channels, %s", id, nch, t.role)
	for i := 0; i < nch; i++ {
		t.channels[i].ref = chanRef{timer: id, ch: i}
		t.channels[i].irq = n.IRQs[i]
		t.disarm(i)
	}
	k.mu.Lock()
	k.timers[id] = t
	k.mu.Unlock()
	if t.role != RoleClocksource {
		if err := k.requestIRQs(t); err != nil {
			k.mu.Lock()
			k.timers[id] = nil
			k.mu.Unlock()
			k.mapper.Unmap(regs)
			return nil, err
		}
	}
	switch t.role {
	case RoleClocksource:
		k.cs = newClocksource(k, t)
	case RoleLocal:
		// Lines are enabled as CPUs start.
		for i := 0; i < nch; i++ {
			k.irq.Disable(t.channels[i].irq)
		}
		k.localID = id
	case RoleSystem:
		k.startSystemTimer(t)
	}
	k.nTimers++
	return t, nil
}

// startSystemTimer registers channel 0 of t as a clockevent on CPU 0
// and arms it for one tick.
func (k *System) startSystemTimer(t *Timer) {
	c := &t.channels[0]
	c.ev.setup(k, c.ref, "system timer", t.rate, 0)
	c.setActive(true)
	if err := c.ev.SetNextEvent(t.rate / uint32(k.hz)); err != nil {
		log.Print("kern", "err", "kona-timer: ", t.name, ": ", err)
	}
}

// timer returns the timer with the given index, or nil.
func (k *System) timer(id int) *Timer {
	if id < 0 || id >= maxTimers {
		return nil
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.timers[id]
}

// local returns the local timer, or nil.
func (k *System) local() *Timer {
	return k.timer(k.localID)
}

// Timer returns the timer with the given index, or nil.
func (k *System) Timer(id int) *Timer {
	return k.timer(id)
}

// Timers returns the timers that were set up, in order.
func (k *System) Timers() []*Timer {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var ts []*Timer
	for _, t := range k.timers {
		if t != nil {
			ts = append(ts, t)
		}
	}
	return ts
}

// Clocksource returns the clocksource, or nil if there is no always-on timer.
func (k *System) Clocksource() *Clocksource {
	return k.cs
}

// SystemEvents returns the clockevents of system timers.
func (k *System) SystemEvents() []*EventDevice {
	var evs []*EventDevice
	for _, t := range k.Timers() {
		if t.role == RoleSystem {
			evs = append(evs, &t.channels[0].ev)
		}
	}
	return evs
}

// Close disarms all channels, releases their interrupts and unmaps the timers.
func (k *System) Close() {
	for _, t := range k.Timers() {
		for i := 0; i < t.nChannels; i++ {
			t.channels[i].setActive(false)
			t.disarm(i)
			if t.role != RoleClocksource {
				k.irq.Free(t.channels[i].irq)
			}
		}
	}
	k.mu.Lock()
	ts := k.timers
	k.timers = [maxTimers]*Timer{}
	k.mu.Unlock()
	regLock.Lock()
	for _, t := range ts {
		if t != nil {
			k.mapper.Unmap(t.regs)
		}
	}
	regLock.Unlock()
	k.cs = nil
	k.localID = -1
	k.nTimers = 0
	if kona == k {
		kona = nil
	}
}

// Description returns a human readable string describing the timers.
func (k *System) Description() string {
	var s strings.Builder
	fmt.Fprint(&s, "Kona timers")
	for _, t := range k.Timers() {
		fmt.Fprintf(&s, "\n  %d %s", t.id, t.Description())
	}
	return s.String()
}
