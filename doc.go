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

/*

Package kona drives the general purpose timers of the Broadcom Kona SoC family
(BCM281xx, BCM21664, BCM23550) from Linux user space.

Each timer block has a free-running 64 bit counter and up to 4 compare
channels, each with its own interrupt line. The package exposes the blocks as:

 - a Clocksource, reading the 64 bit counter of the always-on timer,
 - one-shot EventDevices, one per CPU, taken from the channels of the
   local timer as CPUs are brought online with CPUStarting.

Register windows are mapped through /dev/mem (or a UIO map), and channel
interrupts are received through UIO devices. Timer nodes are found in the
flattened device tree, using the same bindings as the kernel driver:

	timer@35006000 {
		compatible = "brcm,kona-timer";
		reg = <0x35006000 0x1000>;
		interrupts = <GIC_SPI 7 IRQ_TYPE_LEVEL_HIGH>;
		clock-frequency = <32768>;
	};

A typical sequence is:

	k, err := kona.Open(kona.DefaultConfig)
	...
	ev, err := k.CPUStarting(0)
	ev.SetHandler(kona.HandlerFunc(func() { ... }))
	ev.ProgramEvent(time.Millisecond * 10)

Complete documentation is available via https://github.com/aamcrae/kona

*/
package kona
