// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package earth

import (
	"errors"
	"fmt"
	"sync"

	"rsc.io/egos/grass"
	"rsc.io/egos/rv32"
)

// Physical memory: NFrames page frames starting at FrameBase.
const (
	FrameBase = 0x80400000
	NFrames   = 256
)

var (
	ErrUnmapped = errors.New("unmapped address")
	ErrNoFrame  = errors.New("out of page frames")
)

// An MMU maps each process's virtual pages to physical frames.
// Translations for the current address space go through a small
// cache that Switch and FlushCache invalidate.
type MMU struct {
	mu     sync.Mutex
	mem    *rv32.RAM
	owner  [NFrames]int // pid owning each frame, 0 if free
	tables map[int]map[uint32]uint32 // pid → virtual page → frame
	cur    int
	cache  map[uint32]uint32

	hits, misses int
}

func NewMMU(mem *rv32.RAM) *MMU {
	return &MMU{
		mem:    mem,
		tables: make(map[int]map[uint32]uint32),
		cache:  make(map[uint32]uint32),
	}
}

// frameAddr returns the physical address of frame f.
func frameAddr(f uint32) uint32 { return FrameBase + f*grass.PageSize }

func page(va uint32) (vpn, off uint32) {
	return va / grass.PageSize, va % grass.PageSize
}

// Alloc maps a zeroed frame at the page holding va in pid's address
// space and returns the physical address of va.
// If the page is already mapped, Alloc returns its existing frame.
func (m *MMU) Alloc(pid int, va uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vpn, off := page(va)
	if f, ok := m.tables[pid][vpn]; ok {
		return frameAddr(f) + off, nil
	}
	for f := range m.owner {
		if m.owner[f] != 0 {
			continue
		}
		m.owner[f] = pid
		pa := frameAddr(uint32(f))
		if err := m.mem.Write(pa, make([]byte, grass.PageSize)); err != nil {
			return 0, err
		}
		m.mapLocked(pid, vpn, uint32(f))
		return pa + off, nil
	}
	return 0, fmt.Errorf("alloc %#08x for pid %d: %w", va, pid, ErrNoFrame)
}

// Map maps the page holding va in pid's address space to the frame
// holding physical address pa. The frame is shared, not owned.
func (m *MMU) Map(pid int, va, pa uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pa < FrameBase || pa >= frameAddr(NFrames) {
		return fmt.Errorf("map %#08x: %w", pa, rv32.ErrMem)
	}
	vpn, _ := page(va)
	m.mapLocked(pid, vpn, (pa-FrameBase)/grass.PageSize)
	return nil
}

func (m *MMU) mapLocked(pid int, vpn, f uint32) {
	t := m.tables[pid]
	if t == nil {
		t = make(map[uint32]uint32)
		m.tables[pid] = t
	}
	t[vpn] = f
	if pid == m.cur {
		delete(m.cache, vpn)
	}
}

// Free releases pid's page table and the frames it owns.
func (m *MMU) Free(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for f, owner := range m.owner {
		if owner == pid {
			m.owner[f] = 0
		}
	}
	delete(m.tables, pid)
	if pid == m.cur {
		clear(m.cache)
	}
}

// Switch makes pid's address space current.
func (m *MMU) Switch(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pid != m.cur {
		m.cur = pid
		clear(m.cache)
	}
}

func (m *MMU) FlushCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.cache)
}

// Translate returns the physical address of va in pid's address space.
func (m *MMU) Translate(pid int, va uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vpn, off := page(va)
	if pid == m.cur {
		if f, ok := m.cache[vpn]; ok {
			m.hits++
			return frameAddr(f) + off, nil
		}
		m.misses++
	}
	f, ok := m.tables[pid][vpn]
	if !ok {
		return 0, fmt.Errorf("pid %d va %#08x: %w", pid, va, ErrUnmapped)
	}
	if pid == m.cur {
		m.cache[vpn] = f
	}
	return frameAddr(f) + off, nil
}

// Frames returns the number of frames in use.
func (m *MMU) Frames() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, owner := range m.owner {
		if owner != 0 {
			n++
		}
	}
	return n
}

// Stats returns the translation cache hit and miss counts.
func (m *MMU) Stats() (hits, misses int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses
}
