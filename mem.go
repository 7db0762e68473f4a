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

	"golang.org/x/sys/unix"
)

// Device paths.
const (
	drvDevMem  = "/dev/mem"
	drvUioAddr = "/sys/class/uio/%s/maps/map%d/addr"
	drvUioSize = "/sys/class/uio/%s/maps/map%d/size"
)

// Mapper maps the physical register block of a timer into the process.
type Mapper interface {
	Map(base, size uint64) (Regs, error)
	Unmap(r Regs) error
}

// mapping is a register window and the pages that back it.
type mapping struct {
	window
	pages []byte
}

// DevMem maps registers through /dev/mem.
type DevMem struct {
	mu   sync.Mutex
	file *os.File
}

// Map maps the physical region starting at base.
func (d *DevMem) Map(base, size uint64) (Regs, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		f, err := os.OpenFile(drvDevMem, os.O_RDWR|os.O_SYNC, 0)
		if err != nil {
			return nil, err
		}
		d.file = f
	}
	return mmapRegion(d.file, int64(base), size)
}

// Unmap releases a region returned by Map.
func (d *DevMem) Unmap(r Regs) error {
	return unmapRegion(r)
}

// Close releases /dev/mem. Mapped regions remain valid.
func (d *DevMem) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// UIO maps registers through the memory maps of a UIO device, for
// boards where the timer has been bound to uio_pdrv_genirq.
type UIO struct {
	Name string // Device name, e.g "uio0"

	mu   sync.Mutex
	file *os.File
}

// Map finds the UIO map covering base and maps it.
func (u *UIO) Map(base, size uint64) (Regs, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.file == nil {
		f, err := os.OpenFile("/dev/"+u.Name, os.O_RDWR|os.O_SYNC, 0660)
		if err != nil {
			return nil, err
		}
		u.file = f
	}
	for i := 0; ; i++ {
		addr, err := readDriverValue(fmt.Sprintf(drvUioAddr, u.Name, i))
		if err != nil {
			break
		}
		msize, err := readDriverValue(fmt.Sprintf(drvUioSize, u.Name, i))
		if err != nil {
			return nil, err
		}
		if base < uint64(addr) || base+size > uint64(addr+msize) {
			continue
		}
		// UIO selects map N with an offset of N pages.
		pg := int64(os.Getpagesize())
		r, err := mmapRegion(u.file, int64(i)*pg, uint64(msize))
		if err != nil {
			return nil, err
		}
		m := r.(*mapping)
		m.window = m.window[base-uint64(addr):]
		return m, nil
	}
	return nil, fmt.Errorf("%s: no map covers 0x%x", u.Name, base)
}

// Unmap releases a region returned by Map.
func (u *UIO) Unmap(r Regs) error {
	return unmapRegion(r)
}

// mmapRegion maps size bytes of f at offs, which need not be page aligned.
func mmapRegion(f *os.File, offs int64, size uint64) (Regs, error) {
	pg := int64(os.Getpagesize())
	start := offs &^ (pg - 1)
	skip := offs - start
	length := int((skip + int64(size) + pg - 1) &^ (pg - 1))
	pages, err := unix.Mmap(int(f.Fd()), start, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", f.Name(), err)
	}
	return &mapping{window: window(pages[skip : skip+int64(size)]), pages: pages}, nil
}

func unmapRegion(r Regs) error {
	m, ok := r.(*mapping)
	if !ok {
		return fmt.Errorf("registers were not mapped by this mapper")
	}
	return unix.Munmap(m.pages)
}

// readDriverValue opens and reads a string from a device file and decodes
// the string as an integer.
func readDriverValue(s string) (int, error) {
	var val int
	f, err := os.Open(s)
	if err != nil {
		return -1, err
	}
	defer f.Close()
	n, err := fmt.Fscanf(f, "%v", &val)
	if err != nil {
		return -1, fmt.Errorf("%s: %v", s, err)
	}
	if n != 1 {
		return -1, fmt.Errorf("%s: no value found", s)
	}
	return val, nil
}
