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

	"github.com/platinasystems/log"
)

// Properties of the clocksource.
const (
	clocksourceRating = 300
	clocksourceBits   = 64
	clocksourceMaxSec = 600
)

var schedLog = log.NewLimited(16)

// Clocksource is a monotonic time reference backed by the free running
// counter of the always-on timer.
type Clocksource struct {
	Name   string
	Rating int
	Bits   int
	Mult   uint32 // cycles to ns: ns = cycles * Mult >> Shift
	Shift  uint32

	sys   *System
	timer int
}

func newClocksource(k *System, t *Timer) *Clocksource {
	cs := &Clocksource{
		Name:   t.name,
		Rating: clocksourceRating,
		Bits:   clocksourceBits,
		sys:    k,
		timer:  t.id,
	}
	cs.Mult, cs.Shift = calcMultShift(t.rate, nsecPerSec, clocksourceMaxSec)
	return cs
}

// Read returns the current counter value.
func (cs *Clocksource) Read() (uint64, error) {
	t := cs.sys.timer(cs.timer)
	if t == nil {
		return 0, fmt.Errorf("%s: timer closed", cs.Name)
	}
	return t.Counter()
}

// CyclesToNs converts a counter value or delta to nanoseconds.
func (cs *Clocksource) CyclesToNs(c uint64) uint64 {
	ns, ok := mulShift(c, cs.Mult, cs.Shift)
	if !ok {
		return ^uint64(0)
	}
	return ns
}

// SchedClock returns the clocksource time in nanoseconds. If the counter
// cannot be read the last good reading is used. Without a clocksource
// it returns 0.
func (k *System) SchedClock() uint64 {
	cs := k.cs
	if cs == nil {
		return 0
	}
	c, err := cs.Read()
	if err != nil {
		schedLog.Print("kern", "warn", "kona-timer: sched clock: ", err)
		c = atomic.LoadUint64(&k.lastCycles)
	} else {
		atomic.StoreUint64(&k.lastCycles, c)
	}
	return cs.CyclesToNs(c)
}
