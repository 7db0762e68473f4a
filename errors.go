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
	"fmt"
)

// Runtime errors.
var (
	ErrCounterReadTimeout = errors.New("counter read did not stabilise")
	ErrCompareSyncTimeout = errors.New("compare value sync timed out")
	ErrEnableSyncTimeout  = errors.New("compare enable sync timed out")
)

// Boot time configuration errors. These discard the timer being set up.
var (
	ErrClockRateUnresolved = errors.New("unable to determine clock-frequency")
	ErrMapFailed           = errors.New("unable to map base")
	ErrNoInterrupts        = errors.New("no interrupts provided")
	ErrTooManyInstances    = errors.New("exceeded maximum number of timers")
)

// Hotplug errors. These fail the CPU's timer, not the CPU.
var (
	ErrNoLocalTimer    = errors.New("no local timer configured")
	ErrNoChannelForCPU = errors.New("no timer channel for cpu")
)

// SyncTimeoutError reports a sync bit that did not reach its expected
// value within the polling budget.
type SyncTimeoutError struct {
	Timer   int
	Channel int
	Polls   int
	Err     error // ErrCompareSyncTimeout or ErrEnableSyncTimeout
}

func (e *SyncTimeoutError) Error() string {
	return fmt.Sprintf("timer %d channel %d: %v after %d polls", e.Timer, e.Channel, e.Err, e.Polls)
}

func (e *SyncTimeoutError) Unwrap() error {
	return e.Err
}
