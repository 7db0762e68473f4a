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

// Attempts made to read a stable counter value.
const counterReadAttempts = 3

// readCounter reads the 64 bit free running counter, which is split
// across two registers. The high word is read before and after the low
// word, and the read is retried if the low word wrapped in between.
// On failure the last values read are returned along with
// ErrCounterReadTimeout.
func readCounter(r Regs) (hi, lo uint32, err error) {
	for i := 0; i < counterReadAttempts; i++ {
		hi = r.Read32(rSTCHI)
		lo = r.Read32(rSTCLO)
		if hi == r.Read32(rSTCHI) {
			return hi, lo, nil
		}
	}
	return hi, lo, ErrCounterReadTimeout
}
