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

// Path of the device tree the kernel booted with.
const drvFdt = "/sys/firmware/fdt"

// Default tick rate of a system timer.
const defaultHZ = 100

// Config describes the timers to set up and how to reach the hardware.
type Config struct {
	mapper   Mapper
	irq      IRQController
	hz       int
	polls    int
	nodes    []*Node
	treePath string
}

// DefaultConfig maps the registers through /dev/mem and takes the timers
// from the running kernel's device tree. Interrupt lines must be bound to
// their UIO devices through DefaultInterrupts before Open.
var DefaultConfig *Config

// DefaultInterrupts is the interrupt controller of DefaultConfig.
var DefaultInterrupts *UIOInterrupts

func init() {
	DefaultInterrupts = NewUIOInterrupts()
	DefaultConfig = NewConfig().Mapper(&DevMem{}).IRQ(DefaultInterrupts).DeviceTree(drvFdt)
}

// NewConfig returns an empty configuration.
func NewConfig() *Config {
	c := new(Config)
	c.Clear()
	return c
}

// Clear resets the configuration.
func (c *Config) Clear() *Config {
	c.mapper = nil
	c.irq = nil
	c.hz = defaultHZ
	c.polls = syncPolls
	c.nodes = nil
	c.treePath = ""
	return c
}

// Mapper sets how timer registers are mapped.
func (c *Config) Mapper(m Mapper) *Config {
	c.mapper = m
	return c
}

// IRQ sets the controller delivering channel interrupts.
func (c *Config) IRQ(ic IRQController) *Config {
	c.irq = ic
	return c
}

// HZ sets the tick rate a system timer is first armed with.
func (c *Config) HZ(hz int) *Config {
	if hz > 0 {
		c.hz = hz
	}
	return c
}

// SyncPolls sets how many times a register sync bit is polled before
// the sync is reported as timed out.
func (c *Config) SyncPolls(n int) *Config {
	if n > 0 {
		c.polls = n
	}
	return c
}

// Node adds a timer. Timers are set up in the order they are added,
// after those found in the device tree.
func (c *Config) Node(n *Node) *Config {
	c.nodes = append(c.nodes, n)
	return c
}

// DeviceTree sets a flattened device tree file to take timers from.
func (c *Config) DeviceTree(path string) *Config {
	c.treePath = path
	return c
}
