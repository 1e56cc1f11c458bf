// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rv32 models the parts of a 32-bit RISC-V hart that a
// machine-mode kernel touches when it takes a trap: the mepc, mcause
// and mstatus CSRs, the register save area written by the trap vector,
// and physical memory.
package rv32

import (
	"encoding/binary"
	"fmt"
)

// A Hart represents the trap state of a single RISC-V hardware thread.
type Hart struct {
	ID      int     // mhartid
	Priv    Priv    // current privilege level
	Mepc    uint32  // pc of the trapped instruction
	Mcause  Cause   // cause of the most recent trap
	Mstatus Mstatus // machine status register
}

// Mret returns from a trap: interrupts are restored from MPIE and the
// hart drops to the privilege level in MPP. It returns the pc to resume at.
func (h *Hart) Mret() uint32 {
	h.Mstatus.set(h.Mstatus&MstatusMPIE != 0, MstatusMIE)
	h.Mstatus |= MstatusMPIE
	h.Priv = h.Mstatus.MPP()
	h.Mstatus.SetMPP(PrivUser)
	return h.Mepc
}

var (
	ErrMem = fmt.Errorf("invalid memory access")
)

// A Memory represents physical memory.
type Memory interface {
	Read(addr uint32, b []byte) error
	Write(addr uint32, b []byte) error
}

// A RAM is a Memory implementation backed by a byte slice
// mapped at physical address Base.
type RAM struct {
	Base uint32
	Data []byte
}

// NewRAM returns size bytes of zeroed memory mapped at base.
func NewRAM(base uint32, size int) *RAM {
	return &RAM{Base: base, Data: make([]byte, size)}
}

func (m *RAM) slice(addr uint32, n int) ([]byte, error) {
	if addr < m.Base || uint64(addr-m.Base)+uint64(n) > uint64(len(m.Data)) {
		return nil, fmt.Errorf("%w: %#08x+%d", ErrMem, addr, n)
	}
	off := addr - m.Base
	return m.Data[off : int(off)+n], nil
}

func (m *RAM) Read(addr uint32, b []byte) error {
	s, err := m.slice(addr, len(b))
	if err != nil {
		return err
	}
	copy(b, s)
	return nil
}

func (m *RAM) Write(addr uint32, b []byte) error {
	s, err := m.slice(addr, len(b))
	if err != nil {
		return err
	}
	copy(s, b)
	return nil
}

// ReadW reads and returns the little-endian word at addr.
func (m *RAM) ReadW(addr uint32) (uint32, error) {
	s, err := m.slice(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(s), nil
}

// WriteW writes the word val to addr.
func (m *RAM) WriteW(addr uint32, val uint32) error {
	s, err := m.slice(addr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(s, val)
	return nil
}

// NumRegs is the number of words in the register save area.
const NumRegs = 32

// Regs is the register save area: the general purpose registers in
// the order the trap vector stores them.
type Regs [NumRegs]uint32

// A RegNum is a slot number in Regs.
type RegNum uint8

const (
	A0 RegNum = iota
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	T0
	T1
	T2
	T3
	T4
	T5
	T6
	S0
	S1
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	RA
	SP
	GP
	TP
)

var regNames = [...]string{
	"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7",
	"t0", "t1", "t2", "t3", "t4", "t5", "t6",
	"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9", "s10", "s11",
	"ra", "sp", "gp", "tp",
}

// String returns the ABI name of the register saved in slot r.
// Slot 31 is padding and prints as "x31".
func (r RegNum) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("x%d", r)
}

// A Priv is a RISC-V privilege level.
type Priv uint8

const (
	PrivUser       Priv = 0
	PrivSupervisor Priv = 1
	PrivMachine    Priv = 3
)

func (p Priv) String() string {
	switch p {
	case PrivUser:
		return "U"
	case PrivSupervisor:
		return "S"
	case PrivMachine:
		return "M"
	}
	return fmt.Sprintf("Priv(%d)", p)
}

// A Mstatus is the machine status register.
// Only the interrupt enable and previous privilege fields are used.
type Mstatus uint32

const (
	MstatusMIE  Mstatus = 1 << 3  // machine interrupts enabled
	MstatusMPIE Mstatus = 1 << 7  // MIE before the trap
	MstatusMPP  Mstatus = 3 << 11 // privilege before the trap
)

const mppShift = 11

// set sets the given bits to the bool value b.
func (m *Mstatus) set(b bool, bits Mstatus) {
	if b {
		*m |= bits
	} else {
		*m &^= bits
	}
}

// MIE reports whether machine interrupts are enabled.
func (m Mstatus) MIE() bool { return m&MstatusMIE != 0 }

// SetMIE sets the machine interrupt enable bit.
func (m *Mstatus) SetMIE(b bool) { m.set(b, MstatusMIE) }

// MPP returns the previous privilege field: the level mret returns to.
func (m Mstatus) MPP() Priv { return Priv((m & MstatusMPP) >> mppShift) }

// SetMPP sets the previous privilege field.
func (m *Mstatus) SetMPP(p Priv) {
	*m = *m&^MstatusMPP | Mstatus(p)<<mppShift&MstatusMPP
}
