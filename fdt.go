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
	"math"
	"os"
	"sort"
	"strings"

	"github.com/platinasystems/fdt"
)

// Compatible strings of Kona timer nodes. bcm,kona-timer is deprecated.
var compatible = []string{"brcm,kona-timer", "bcm,kona-timer"}

// Properties marking the always-on timer used as the clocksource.
var alwaysOnProps = []string{"brcm,always-on", "always-on"}

const (
	drvClkRate   = "/sys/kernel/debug/clk/%s/clk_rate"
	drvClkEnable = "/sys/kernel/debug/clk/%s/clk_prepare_enable"

	gicSPIBase = 32
	gicPPIBase = 16
)

// Clock is an external clock feeding a timer.
type Clock interface {
	Rate() (uint64, error)
	Enable() error
}

// DebugfsClock reads a clock of the common clock framework through debugfs.
type DebugfsClock struct {
	Name string
}

// Rate returns the clock rate in Hz.
func (c *DebugfsClock) Rate() (uint64, error) {
	v, err := readDriverValue(fmt.Sprintf(drvClkRate, c.Name))
	if err != nil {
		return 0, err
	}
	return uint64(v), nil
}

// Enable prepares and enables the clock, where debugfs allows it.
func (c *DebugfsClock) Enable() error {
	err := os.WriteFile(fmt.Sprintf(drvClkEnable, c.Name), []byte("1"), 0)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Node describes one timer block.
type Node struct {
	Name           string
	Base           uint64
	Size           uint64
	IRQs           []int  // One interrupt per channel
	ClockFrequency uint32 // Used when Clock is nil or fails
	Clock          Clock
	FreeRunning    bool // Always-on timer, used as the clocksource
}

// rate returns the counter frequency, preferring the external clock.
func (n *Node) rate() (uint32, error) {
	if n.Clock != nil {
		r, err := n.Clock.Rate()
		if err == nil && r != 0 && r <= math.MaxUint32 {
			if err := n.Clock.Enable(); err != nil {
				return 0, fmt.Errorf("%s: enabling clock: %v", n.Name, err)
			}
			return uint32(r), nil
		}
	}
	if n.ClockFrequency != 0 {
		return n.ClockFrequency, nil
	}
	return 0, ErrClockRateUnresolved
}

// ParseDeviceTree returns the timer nodes of a flattened device tree blob,
// ordered by register address.
func ParseDeviceTree(b []byte) ([]*Node, error) {
	t := &fdt.Tree{Debug: false, IsLittleEndian: false}
	if err := t.Parse(b); err != nil {
		return nil, err
	}
	return timerNodes(t), nil
}

func timerNodes(t *fdt.Tree) []*Node {
	phandles := make(map[uint32]*fdt.Node)
	t.EachProperty("phandle", "", func(n *fdt.Node, name string, value string) {
		if len(value) == 4 {
			phandles[t.PropUint32([]byte(value))] = n
		}
	})
	var nodes []*Node
	t.EachProperty("compatible", "kona-timer", func(n *fdt.Node, name string, value string) {
		if !isCompatible(t.PropStringSlice([]byte(value))) {
			return
		}
		nodes = append(nodes, timerNode(t, n, phandles))
	})
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Base < nodes[j].Base })
	return nodes
}

func isCompatible(values []string) bool {
	for _, v := range values {
		for _, c := range compatible {
			if v == c {
				return true
			}
		}
	}
	return false
}

func timerNode(t *fdt.Tree, fn *fdt.Node, phandles map[uint32]*fdt.Node) *Node {
	n := &Node{Name: fn.Name}
	if b, ok := fn.Properties["reg"]; ok {
		reg := t.PropUint32Slice(b)
		switch {
		case len(reg) >= 4:
			n.Base = uint64(reg[0])<<32 | uint64(reg[1])
			n.Size = uint64(reg[2])<<32 | uint64(reg[3])
		case len(reg) >= 2:
			n.Base, n.Size = uint64(reg[0]), uint64(reg[1])
		}
	}
	if b, ok := fn.Properties["interrupts"]; ok {
		n.IRQs = interruptLines(t.PropUint32Slice(b))
	}
	if b, ok := fn.Properties["clock-frequency"]; ok && len(b) >= 4 {
		n.ClockFrequency = t.PropUint32(b)
	}
	if b, ok := fn.Properties["clocks"]; ok && len(b) >= 4 {
		if cn, ok := phandles[t.PropUint32(b)]; ok {
			n.Clock = &DebugfsClock{Name: clockName(t, cn)}
		}
	}
	for _, p := range alwaysOnProps {
		if _, ok := fn.Properties[p]; ok {
			n.FreeRunning = true
		}
	}
	return n
}

// interruptLines converts GIC interrupt specifiers (type, number, flags)
// to interrupt numbers.
func interruptLines(cells []uint32) []int {
	if len(cells)%3 != 0 {
		lines := make([]int, len(cells))
		for i, c := range cells {
			lines[i] = int(c)
		}
		return lines
	}
	lines := make([]int, 0, len(cells)/3)
	for i := 0; i < len(cells); i += 3 {
		base := gicSPIBase
		if cells[i] != 0 {
			base = gicPPIBase
		}
		lines = append(lines, base+int(cells[i+1]))
	}
	return lines
}

// clockName returns the name the clock framework uses for a clock node.
func clockName(t *fdt.Tree, cn *fdt.Node) string {
	if b, ok := cn.Properties["clock-output-names"]; ok && len(b) > 0 {
		return t.PropString(b)
	}
	return strings.SplitN(cn.Name, "@", 2)[0]
}
