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

	"github.com/platinasystems/log"
	"golang.org/x/sys/unix"
)

// localChannel returns the local timer channel used by cpu.
// The channel index is the CPU number.
func (k *System) localChannel(cpu int) (*Timer, *Channel, error) {
	t := k.local()
	if t == nil {
		return nil, nil, ErrNoLocalTimer
	}
	if cpu < 0 || cpu >= t.nChannels {
		return nil, nil, fmt.Errorf("cpu %d: %w (%s has %d)", cpu, ErrNoChannelForCPU, t.name, t.nChannels)
	}
	return t, &t.channels[cpu], nil
}

// CPUStarting registers the local timer clockevent of cpu and enables
// its interrupt. Starting a CPU that is already started returns its
// existing clockevent.
func (k *System) CPUStarting(cpu int) (*EventDevice, error) {
	k.hotplug.Lock()
	defer k.hotplug.Unlock()
	t, c, err := k.localChannel(cpu)
	if err != nil {
		return nil, err
	}
	if c.isActive() {
		return &c.ev, nil
	}
	c.ev.setup(k, c.ref, fmt.Sprintf("local timer %d", cpu), t.rate, cpu)
	if err := k.irq.Enable(c.irq); err != nil {
		return nil, fmt.Errorf("cpu %d: irq %d: %v", cpu, c.irq, err)
	}
	c.setActive(true)
	log.Print("kern", "debug", "kona-timer: cpu ", cpu, " using ", t.name, " channel ", c.ref.ch)
	return &c.ev, nil
}

// CPUDying shuts down the clockevent of cpu and disables its interrupt.
func (k *System) CPUDying(cpu int) error {
	k.hotplug.Lock()
	defer k.hotplug.Unlock()
	_, c, err := k.localChannel(cpu)
	if err != nil {
		return err
	}
	c.setActive(false)
	c.ev.Shutdown()
	if err := k.irq.Disable(c.irq); err != nil {
		return fmt.Errorf("cpu %d: irq %d: %v", cpu, c.irq, err)
	}
	return nil
}

// EventDevice returns the clockevent of a started CPU, or nil.
func (k *System) EventDevice(cpu int) *EventDevice {
	_, c, err := k.localChannel(cpu)
	if err != nil || !c.isActive() {
		return nil
	}
	return &c.ev
}

// StartOnline starts the local timer of each CPU this process may run
// on. CPUs that cannot be given a timer are logged and skipped.
func (k *System) StartOnline() ([]*EventDevice, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, err
	}
	var evs []*EventDevice
	for cpu, n := 0, set.Count(); n > 0; cpu++ {
		if !set.IsSet(cpu) {
			continue
		}
		n--
		ev, err := k.CPUStarting(cpu)
		if err != nil {
			log.Print("kern", "err", "kona-timer: ", err)
			continue
		}
		evs = append(evs, ev)
	}
	return evs, nil
}
