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
	"errors"
	"testing"
)

func clocksourceRig(t *testing.T) (*testRig, *simTimer) {
	n := testNode("timer@35000000", 0x35000000, 32, 33, 34, 35)
	n.FreeRunning = true
	r, err := openRig(NewConfig(), n)
	if err != nil {
		t.Fatal(err)
	}
	return r, r.mapper.sim(n.Base)
}

func TestClocksourceDelta(t *testing.T) {
	r, s := clocksourceRig(t)
	defer r.k.Close()
	cs := r.k.Clocksource()
	if cs == nil {
		t.Fatal("no clocksource")
	}
	if cs.Bits != 64 || cs.Rating != clocksourceRating {
		t.Errorf("bits %d rating %d", cs.Bits, cs.Rating)
	}
	s.counter = 0xfffffff0
	c1, err := cs.Read()
	if err != nil {
		t.Fatal(err)
	}
	s.advance(65536)
	c2, err := cs.Read()
	if err != nil {
		t.Fatal(err)
	}
	if c2-c1 != 65536 {
		t.Errorf("delta %d, want 65536", c2-c1)
	}
	if ns := cs.CyclesToNs(c2 - c1); ns != 2*nsecPerSec {
		t.Errorf("65536 cycles is %d ns", ns)
	}
}

func TestClocksourceReadError(t *testing.T) {
	r, s := clocksourceRig(t)
	defer r.k.Close()
	s.hiScript = []uint32{1, 2, 3, 4, 5, 6}
	if _, err := r.k.Clocksource().Read(); !errors.Is(err, ErrCounterReadTimeout) {
		t.Errorf("got %v, want ErrCounterReadTimeout", err)
	}
}

func TestSchedClock(t *testing.T) {
	r, s := clocksourceRig(t)
	defer r.k.Close()
	s.counter = 32768 * 3
	if ns := r.k.SchedClock(); ns != 3*nsecPerSec {
		t.Errorf("sched clock %d", ns)
	}
	// An unreadable counter repeats the last good value.
	s.advance(32768)
	s.hiScript = []uint32{1, 2, 3, 4, 5, 6}
	if ns := r.k.SchedClock(); ns != 3*nsecPerSec {
		t.Errorf("sched clock %d after failed read", ns)
	}
	if ns := r.k.SchedClock(); ns != 4*nsecPerSec {
		t.Errorf("sched clock %d", ns)
	}
}

func TestClocksourceChannelsUnused(t *testing.T) {
	r, s := clocksourceRig(t)
	defer r.k.Close()
	for line := 32; line < 36; line++ {
		r.irq.mu.Lock()
		_, ok := r.irq.handlers[line]
		r.irq.mu.Unlock()
		if ok {
			t.Errorf("irq %d requested for the clocksource", line)
		}
	}
	if v := s.stcs(); v != 0 {
		t.Errorf("STCS 0x%x", v)
	}
}

func TestSchedClockWithoutClocksource(t *testing.T) {
	r, _ := localRig(t)
	defer r.k.Close()
	if r.k.Clocksource() != nil {
		t.Fatal("unexpected clocksource")
	}
	if ns := r.k.SchedClock(); ns != 0 {
		t.Errorf("sched clock %d", ns)
	}
}
