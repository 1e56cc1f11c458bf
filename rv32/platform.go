// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rv32

import "fmt"

// A Platform describes how a board takes traps and how its trap vector
// hands the trapped context to the kernel.
type Platform interface {
	// Name returns the board name.
	Name() string

	// HartID returns the mhartid of the n'th core.
	HartID(n int) int

	// EnterTrap performs the hardware side of a trap on h: it latches
	// cause and the trapped pc, saves and clears the interrupt enable
	// and raises the hart to machine mode.
	EnterTrap(h *Hart, cause Cause, pc uint32)

	// Classify splits a cause into interrupt or exception and its code.
	Classify(c Cause) (intr bool, code uint32)

	// SaveContext returns the trapped pc and registers of h.
	SaveContext(h *Hart, area *Regs) (pc uint32, regs Regs)

	// RestoreContext arranges for the next mret on h to resume
	// at pc with registers regs.
	RestoreContext(h *Hart, area *Regs, pc uint32, regs *Regs)
}

// The two boards share one trap convention: the trap vector stores the
// registers in a single trap area and mepc carries the pc. Only their
// hart numbering differs.

// QEMU numbers its harts 1..N; hart 0 is the management core.
var QEMU Platform = board{name: "qemu", base: 1}

// Arty numbers its harts 0..N-1.
var Arty Platform = board{name: "arty", base: 0}

// Lookup returns the platform with the given name.
func Lookup(name string) (Platform, error) {
	for _, p := range []Platform{QEMU, Arty} {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("unknown platform %q", name)
}

type board struct {
	name string
	base int
}

func (b board) Name() string { return b.name }

func (b board) HartID(n int) int { return b.base + n }

func (b board) EnterTrap(h *Hart, cause Cause, pc uint32) {
	h.Mcause = cause
	h.Mepc = pc
	h.Mstatus.set(h.Mstatus.MIE(), MstatusMPIE)
	h.Mstatus.SetMIE(false)
	h.Mstatus.SetMPP(h.Priv)
	h.Priv = PrivMachine
}

func (b board) Classify(c Cause) (bool, uint32) {
	return c.IsInterrupt(), c.Code()
}

func (b board) SaveContext(h *Hart, area *Regs) (uint32, Regs) {
	return h.Mepc, *area
}

func (b board) RestoreContext(h *Hart, area *Regs, pc uint32, regs *Regs) {
	h.Mepc = pc
	*area = *regs
}
