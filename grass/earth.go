// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grass

import "rsc.io/egos/rv32"

// Earth is the hardware layer the kernel runs on.
type Earth interface {
	Platform() rv32.Platform

	// Hart returns the CSR state of hart hartid.
	Hart(hartid int) *rv32.Hart

	// TrapArea returns the register save area shared by all harts.
	TrapArea() *rv32.Regs

	// Memory returns physical memory.
	Memory() rv32.Memory

	MMUTranslate(pid int, va uint32) (uint32, error)
	MMUSwitch(pid int)
	MMUFlushCache()

	// TimerReset arms the next timer interrupt of hart hartid.
	TimerReset(hartid int)

	// WaitForInterrupt parks hart hartid until its next interrupt,
	// which enters the kernel afresh. It returns only if the hart
	// can never be woken up.
	WaitForInterrupt(hartid int)
}
