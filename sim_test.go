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
	"sync"
)

// simTimer models the registers of one Kona timer block.
type simTimer struct {
	mu      sync.Mutex
	counter uint64
	match   uint32 // STCS[3:0]
	enable  uint32 // STCS[7:4], unshifted
	enSync  uint32 // STCS[11:8], unshifted
	cmpSync uint32 // STCS[15:12], unshifted
	compare [maxChannels]uint32

	syncLag  int // STCS reads before the sync bits follow a write
	enLag    int
	cmpLag   [maxChannels]int
	stuck    bool // Sync bits never follow
	hiScript []uint32
	loScript []uint32

	stcsReads  int
	stcsWrites int
	unmapped   bool

	irq func(ch int)
}

func (s *simTimer) Read32(offs uintptr) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch offs {
	case rSTCS:
		s.stcsReads++
		s.settle()
		return s.match<<stcsMatchShift | s.enable<<stcsEnableShift |
			s.enSync<<stcsEnableSyncShift | s.cmpSync<<stcsCompareSyncShift
	case rSTCLO:
		if len(s.loScript) > 0 {
			v := s.loScript[0]
			s.loScript = s.loScript[1:]
			return v
		}
		return uint32(s.counter)
	case rSTCHI:
		if len(s.hiScript) > 0 {
			v := s.hiScript[0]
			s.hiScript = s.hiScript[1:]
			return v
		}
		return uint32(s.counter >> 32)
	}
	if offs >= rSTCM0 && offs < regSize {
		return s.compare[(offs-rSTCM0)/4]
	}
	panic(fmt.Sprintf("read of unknown register 0x%x", offs))
}

func (s *simTimer) Write32(offs uintptr, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case offs == rSTCS:
		s.stcsWrites++
		s.match &^= (v >> stcsMatchShift) & 0xF
		s.enable = (v >> stcsEnableShift) & 0xF
		s.enLag = s.syncLag
		s.settle()
	case offs >= rSTCM0 && offs < regSize:
		ch := int(offs-rSTCM0) / 4
		s.compare[ch] = v
		s.cmpSync &^= 1 << uint(ch)
		s.cmpLag[ch] = s.syncLag
		s.settle()
	case offs == rSTCLO || offs == rSTCHI:
		// Read only.
	default:
		panic(fmt.Sprintf("write of unknown register 0x%x", offs))
	}
}

// settle moves the sync bits towards the written values.
func (s *simTimer) settle() {
	if s.stuck {
		return
	}
	if s.enLag > 0 {
		s.enLag--
	} else {
		s.enSync = s.enable
	}
	for ch := range s.cmpLag {
		if s.cmpLag[ch] > 0 {
			s.cmpLag[ch]--
		} else {
			s.cmpSync |= 1 << uint(ch)
		}
	}
}

// advance moves the counter on by n ticks, setting the match bits of
// enabled channels whose compare value is passed, and raises their
// interrupts.
func (s *simTimer) advance(n uint64) {
	s.mu.Lock()
	old := uint32(s.counter)
	s.counter += n
	var fired []int
	for ch := 0; ch < maxChannels; ch++ {
		if s.enable&(1<<uint(ch)) == 0 {
			continue
		}
		dist := uint64(s.compare[ch] - old)
		if dist == 0 {
			dist = 1 << 32
		}
		if dist <= n {
			s.match |= 1 << uint(ch)
			fired = append(fired, ch)
		}
	}
	irq := s.irq
	s.mu.Unlock()
	if irq != nil {
		for _, ch := range fired {
			irq(ch)
		}
	}
}

func (s *simTimer) stcs() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.match<<stcsMatchShift | s.enable<<stcsEnableShift
}

func (s *simTimer) compareValue(ch int) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compare[ch]
}

// simMapper hands out a simTimer per base address.
type simMapper struct {
	mu     sync.Mutex
	timers map[uint64]*simTimer
	fail   map[uint64]bool
}

func newSimMapper() *simMapper {
	return &simMapper{timers: make(map[uint64]*simTimer), fail: make(map[uint64]bool)}
}

func (m *simMapper) Map(base, size uint64) (Regs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[base] {
		return nil, fmt.Errorf("no memory at 0x%x", base)
	}
	s, ok := m.timers[base]
	if !ok {
		s = &simTimer{}
		m.timers[base] = s
	}
	s.unmapped = false
	return s, nil
}

func (m *simMapper) Unmap(r Regs) error {
	s, ok := r.(*simTimer)
	if !ok {
		return fmt.Errorf("not a sim timer")
	}
	s.mu.Lock()
	s.unmapped = true
	s.mu.Unlock()
	return nil
}

func (m *simMapper) sim(base uint64) *simTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.timers[base]
	if !ok {
		s = &simTimer{}
		m.timers[base] = s
	}
	return s
}

// fakeIRQ delivers interrupts synchronously when raised.
type fakeIRQ struct {
	mu       sync.Mutex
	handlers map[int]func()
	enabled  map[int]bool
	fail     map[int]bool
	freed    []int
}

func newFakeIRQ() *fakeIRQ {
	return &fakeIRQ{handlers: make(map[int]func()), enabled: make(map[int]bool), fail: make(map[int]bool)}
}

func (f *fakeIRQ) Request(line int, name string, h func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[line] {
		return fmt.Errorf("irq %d busy", line)
	}
	if _, ok := f.handlers[line]; ok {
		return fmt.Errorf("irq %d already requested", line)
	}
	f.handlers[line] = h
	f.enabled[line] = true
	return nil
}

func (f *fakeIRQ) Free(line int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, line)
	delete(f.enabled, line)
	f.freed = append(f.freed, line)
	return nil
}

func (f *fakeIRQ) Enable(line int) error {
	return f.set(line, true)
}

func (f *fakeIRQ) Disable(line int) error {
	return f.set(line, false)
}

func (f *fakeIRQ) set(line int, en bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.handlers[line]; !ok {
		return fmt.Errorf("irq %d not requested", line)
	}
	f.enabled[line] = en
	return nil
}

func (f *fakeIRQ) isEnabled(line int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled[line]
}

// raise runs the handler of line if it is enabled.
func (f *fakeIRQ) raise(line int) {
	f.mu.Lock()
	h := f.handlers[line]
	en := f.enabled[line]
	f.mu.Unlock()
	if h != nil && en {
		h()
	}
}

// testRig is a system of simulated timers.
type testRig struct {
	k      *System
	mapper *simMapper
	irq    *fakeIRQ
}

// wire routes the channel interrupts of the sim at base to the fake
// controller, using the node's interrupt lines.
func (r *testRig) wire(n *Node) *simTimer {
	s := r.mapper.sim(n.Base)
	lines := append([]int(nil), n.IRQs...)
	s.irq = func(ch int) {
		if ch < len(lines) {
			r.irq.raise(lines[ch])
		}
	}
	return s
}

func openRig(c *Config, nodes ...*Node) (*testRig, error) {
	r := &testRig{mapper: newSimMapper(), irq: newFakeIRQ()}
	for _, n := range nodes {
		r.wire(n)
		c.Node(n)
	}
	k, err := Open(c.Mapper(r.mapper).IRQ(r.irq))
	if err != nil {
		return nil, err
	}
	r.k = k
	return r, nil
}

func testNode(name string, base uint64, irqs ...int) *Node {
	return &Node{Name: name, Base: base, Size: 0x1000, IRQs: irqs, ClockFrequency: 32768}
}

// testTimer returns a timer on a sim, outside of any system.
func testTimer(s *simTimer) *Timer {
	return &Timer{id: 0, name: "test", rate: 32768, regs: s, polls: syncPolls, nChannels: maxChannels}
}
