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
	"sync"
	"sync/atomic"

	"github.com/platinasystems/log"
)

// Polls of STCS made while waiting for a sync bit.
const syncPolls = 1000

// regLock serialises read-modify-write of the STCS register of every
// timer. The match and enable bits of all channels share one register.
var regLock sync.Mutex

// syncLog limits reports of sync timeouts, which can otherwise repeat on
// every tick.
var syncLog = log.NewLimited(64)

// poll calls cond until it returns true, at most n times.
func poll(n int, cond func() bool) bool {
	for i := 0; i < n; i++ {
		if cond() {
			return true
		}
	}
	return false
}

// waitCompareSync waits for a new compare value to be loaded.
func (t *Timer) waitCompareSync(ch int) error {
	bit := compareSyncBit(ch)
	if poll(t.polls, func() bool { return t.regs.Read32(rSTCS)&bit != 0 }) {
		return nil
	}
	return &SyncTimeoutError{Timer: t.id, Channel: ch, Polls: t.polls, Err: ErrCompareSyncTimeout}
}

// waitEnableSync waits for the compare enable of the channel to reach
// the target state.
func (t *Timer) waitEnableSync(ch int, target bool) error {
	bit := enableSyncBit(ch)
	if poll(t.polls, func() bool { return (t.regs.Read32(rSTCS)&bit != 0) == target }) {
		return nil
	}
	return &SyncTimeoutError{Timer: t.id, Channel: ch, Polls: t.polls, Err: ErrEnableSyncTimeout}
}

// syncFailed records a sync timeout. The hardware usually honours the
// write anyway, so the operation carries on.
func (t *Timer) syncFailed(err error) {
	if err == nil {
		return
	}
	atomic.AddUint32(&t.syncTimeouts, 1)
	syncLog.Print("kern", "err", "kona-timer: ", err)
}

// arm loads the compare register of the channel with a value ticks ahead
// of the counter and enables the compare.
func (t *Timer) arm(ch int, ticks uint32) error {
	regLock.Lock()
	defer regLock.Unlock()
	_, lo, err := readCounter(t.regs)
	if err != nil {
		syncLog.Print("kern", "err", "kona-timer: getting counter failed, timer will be impacted")
		return err
	}
	t.regs.Write32(compareReg(ch), lo+ticks)
	t.syncFailed(t.waitCompareSync(ch))
	// Writing back a set match bit acknowledges it, so only this
	// channel's match bit is written.
	reg := t.regs.Read32(rSTCS) &^ stcsMatchMask
	reg |= matchBit(ch) | enableBit(ch)
	t.regs.Write32(rSTCS, reg)
	t.syncFailed(t.waitEnableSync(ch, true))
	return nil
}

// disarm acknowledges any match on the channel and disables its compare.
// Disarming an idle channel leaves the registers unchanged.
func (t *Timer) disarm(ch int) {
	regLock.Lock()
	defer regLock.Unlock()
	reg := t.regs.Read32(rSTCS) &^ stcsMatchMask
	reg |= matchBit(ch)
	reg &^= enableBit(ch)
	t.regs.Write32(rSTCS, reg)
	t.syncFailed(t.waitEnableSync(ch, false))
}

// matchPending reports whether the channel's compare has matched and
// not yet been acknowledged.
func (t *Timer) matchPending(ch int) bool {
	return t.regs.Read32(rSTCS)&matchBit(ch) != 0
}
