// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grass

import (
	"fmt"

	"rsc.io/egos/rv32"
)

// yield picks the next process to run on the hart and switches to it.
// It is the last step of every kernel entry.
func (t *trap) yield() {
	k := t.k

	if !t.idle() && t.curr().Status == ProcRunning {
		t.curr().Status = ProcRunnable
	}

	// Sleep timers advance on every hart's tick, whether or not
	// the sleeper is scheduled. A sleeper wakes on the tick after
	// its counter reaches zero. The timer set by this entry's SLEEP
	// starts counting at the next one.
	for i := 0; i < MaxNProcess; i++ {
		p := &k.procs[i]
		if p == t.slept {
			continue
		}
		if p.Sleep > 0 {
			p.Sleep--
		} else if p.Status == ProcSleeping {
			p.Status = ProcRunnable
		}
	}

	/*
	 * Search in slot order starting after the current slot.
	 * The first pass finds a fallback; the second retries pending
	 * system calls and its first runnable process wins.
	 */
	cur := k.cur[t.hart]
	next := MaxNProcess
	for i := 1; i <= MaxNProcess; i++ {
		j := (cur + i) % MaxNProcess
		p := &k.procs[j]
		if p.Sleep == 0 && p.runnable() {
			next = j
			break
		}
	}
	for i := 1; i <= MaxNProcess; i++ {
		j := (cur + i) % MaxNProcess
		p := &k.procs[j]
		if p.Status == ProcPendingSyscall {
			t.trySyscall(p)
		}
		if p.runnable() {
			next = j
			break
		}
	}

	k.cur[t.hart] = next
	k.earth.TimerReset(t.hart)
	h := k.earth.Hart(t.hart)
	if next == MaxNProcess {
		if k.Trace {
			k.log.Trace("idle", "hart", t.hart)
		}
		t.unlock()
		h.Mstatus.SetMIE(true)
		k.earth.WaitForInterrupt(t.hart)
		t.fatal(fmt.Errorf("%w on hart %d", ErrIdleFallthrough, t.hart))
	}

	p := &k.procs[next]
	k.earth.MMUSwitch(p.Pid)
	k.earth.MMUFlushCache()

	// Kernel processes run in machine mode, applications in user mode.
	if p.Pid < k.userStart {
		h.Mstatus.SetMPP(rv32.PrivMachine)
	} else {
		h.Mstatus.SetMPP(rv32.PrivUser)
	}

	if p.Status == ProcReady {
		// First run: main(argc, argv) at the application entry.
		p.Regs[rv32.A0] = AppsArg
		p.Regs[rv32.A1] = AppsArg + 4
		p.Mepc = AppsEntry
	}
	if k.Trace {
		k.log.Trace("switch", "hart", t.hart, "pid", p.Pid, "status", p.Status, "mpp", h.Mstatus.MPP())
	}
	p.Status = ProcRunning
}
