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
	"os"
	"sync"
	"sync/atomic"
	"unsafe"
)

const drvUioDev = "/dev/%s"

// UIOInterrupts receives interrupts through UIO devices bound to the
// timer channels with uio_pdrv_genirq. Each interrupt line must be bound
// to its device with Bind before it is requested.
type UIOInterrupts struct {
	mu    sync.Mutex
	devs  map[int]string
	lines map[int]*uioLine
}

type uioLine struct {
	name    string
	file    *os.File
	enabled int32
	handler func()
}

// NewUIOInterrupts returns a controller with no lines bound.
func NewUIOInterrupts() *UIOInterrupts {
	return &UIOInterrupts{devs: make(map[int]string), lines: make(map[int]*uioLine)}
}

// Bind associates an interrupt line with a UIO device name, e.g. "uio2".
func (u *UIOInterrupts) Bind(line int, dev string) *UIOInterrupts {
	u.mu.Lock()
	u.devs[line] = dev
	u.mu.Unlock()
	return u
}

// Request opens the UIO device of the line and starts a goroutine
// that runs h for each interrupt.
func (u *UIOInterrupts) Request(line int, name string, h func()) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.lines[line]; ok {
		return fmt.Errorf("irq %d: already requested", line)
	}
	dev, ok := u.devs[line]
	if !ok {
		return fmt.Errorf("irq %d: no UIO device bound", line)
	}
	f, err := os.OpenFile(fmt.Sprintf(drvUioDev, dev), os.O_RDWR|os.O_SYNC, 0660)
	if err != nil {
		return fmt.Errorf("irq %d: %v", line, err)
	}
	l := &uioLine{name: name, file: f, handler: h}
	u.lines[line] = l
	go l.reader()
	return l.control(true)
}

// Free disables the line and closes its device, which ends its goroutine.
func (u *UIOInterrupts) Free(line int) error {
	u.mu.Lock()
	l, ok := u.lines[line]
	delete(u.lines, line)
	u.mu.Unlock()
	if !ok {
		return fmt.Errorf("irq %d: not requested", line)
	}
	l.control(false)
	return l.file.Close()
}

// Enable unmasks the line.
func (u *UIOInterrupts) Enable(line int) error {
	l, err := u.line(line)
	if err != nil {
		return err
	}
	return l.control(true)
}

// Disable masks the line.
func (u *UIOInterrupts) Disable(line int) error {
	l, err := u.line(line)
	if err != nil {
		return err
	}
	return l.control(false)
}

func (u *UIOInterrupts) line(line int) (*uioLine, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	l, ok := u.lines[line]
	if !ok {
		return nil, fmt.Errorf("irq %d: not requested", line)
	}
	return l, nil
}

// control writes the interrupt enable to the UIO device.
func (l *uioLine) control(enable bool) error {
	var v int32
	if enable {
		v = 1
	}
	atomic.StoreInt32(&l.enabled, v)
	b := make([]byte, 4)
	*(*int32)(unsafe.Pointer(&b[0])) = v
	_, err := l.file.Write(b)
	return err
}

// reader waits for interrupts on the device. uio_pdrv_genirq masks the
// line as each interrupt is delivered, so it is unmasked again after the
// handler unless it has been disabled meanwhile.
func (l *uioLine) reader() {
	b := make([]byte, 4)
	for {
		n, err := l.file.Read(b)
		if err != nil {
			// Assume device has been closed.
			return
		}
		if n == 4 {
			l.handler()
			if atomic.LoadInt32(&l.enabled) != 0 {
				l.control(true)
			}
		}
	}
}
