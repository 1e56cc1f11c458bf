// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grass

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"rsc.io/egos/rv32"
)

// A trap is one kernel entry on one hart.
type trap struct {
	k      *Kernel
	hart   int
	locked bool
	slept  *PCB // put to sleep during this entry
}

func (t *trap) unlock() {
	if t.locked {
		t.locked = false
		t.k.Big.Unlock()
	}
}

func (t *trap) curr() *PCB { return &t.k.procs[t.k.cur[t.hart]] }

func (t *trap) idle() bool { return t.k.cur[t.hart] == MaxNProcess }

// Entry is the kernel entry point. The trap vector of hart hartid calls
// it with the value of mcause after storing the trapped registers in the
// trap area. When Entry returns, mepc and the trap area hold the context
// mret resumes, which may belong to a different process.
//
// If the hart has nothing to run, Entry does not return: the hart waits
// for its next interrupt, which enters the kernel again.
func (k *Kernel) Entry(hartid int, mcause rv32.Cause) {
	k.Big.Lock()
	t := &trap{k: k, hart: hartid, locked: true}
	defer t.unlock()

	h := k.earth.Hart(hartid)
	area := k.earth.TrapArea()
	p := t.curr()
	p.Mepc, p.Regs = k.plat.SaveContext(h, area)
	if k.Trace {
		k.log.Trace("entry", "hart", hartid, "pid", p.Pid, "cause", mcause, "mepc", hclog.Hex(p.Mepc))
	}

	if intr, code := k.plat.Classify(mcause); intr {
		t.interrupt(code)
	} else {
		t.exception(code)
	}

	p = t.curr()
	k.plat.RestoreContext(h, area, p.Mepc, &p.Regs)
}

func (t *trap) exception(id uint32) {
	k := t.k
	p := t.curr()
	if rv32.IsEcall(id) {
		// Copy the system call arguments from user space to the kernel.
		if err := t.copyin(p); err != nil {
			t.fatal(err)
		}
		p.Mepc += 4
		p.Syscall.Status = SyscallPending
		t.trySyscall(p)
		t.yield()
		return
	}

	if !t.idle() && p.Pid >= k.userStart {
		k.log.Info("process terminated", "pid", p.Pid, "cause", rv32.Exception(id), "mepc", hclog.Hex(p.Mepc))
		p.Status = ProcUnused
		t.yield()
		return
	}
	t.fatal(fmt.Errorf("%w: %v (pid %d, mepc %#08x)", ErrKernelFault, rv32.Exception(id), p.Pid, p.Mepc))
}

func (t *trap) interrupt(id uint32) {
	if id == rv32.IntrTimer {
		t.yield()
		return
	}
	if fn := t.k.intr[id]; fn != nil {
		if fn(t.hart) {
			t.yield()
		}
		return
	}
	t.fatal(fmt.Errorf("%w %d", ErrUnhandledInterrupt, id))
}

// HandleInterrupt registers fn to handle interrupt code id.
// The timer interrupt always reschedules and cannot be replaced.
// fn runs with the kernel lock held; if it returns true the hart
// reschedules as on a timer interrupt.
func (k *Kernel) HandleInterrupt(id uint32, fn func(hartid int) bool) {
	if id == rv32.IntrTimer {
		panic("grass: HandleInterrupt of timer interrupt")
	}
	k.Big.Lock()
	defer k.Big.Unlock()
	k.intr[id] = fn
}

// copyin reads p's syscall descriptor from its address space.
func (t *trap) copyin(p *PCB) error {
	pa, err := t.k.earth.MMUTranslate(p.Pid, SyscallArg)
	if err != nil {
		return fmt.Errorf("%w: pid %d: %v", ErrSyscallArg, p.Pid, err)
	}
	buf := make([]byte, SyscallSize)
	if err := t.k.earth.Memory().Read(pa, buf); err != nil {
		return fmt.Errorf("%w: pid %d: %v", ErrSyscallArg, p.Pid, err)
	}
	return p.Syscall.UnmarshalBinary(buf)
}

// copyout writes p's completed syscall descriptor back to its address space.
func (t *trap) copyout(p *PCB) error {
	e := t.k.earth
	e.MMUSwitch(p.Pid)
	e.MMUFlushCache()
	pa, err := e.MMUTranslate(p.Pid, SyscallArg)
	if err != nil {
		return fmt.Errorf("%w: pid %d: %v", ErrSyscallArg, p.Pid, err)
	}
	buf, err := p.Syscall.MarshalBinary()
	if err != nil {
		return err
	}
	if err := e.Memory().Write(pa, buf); err != nil {
		return fmt.Errorf("%w: pid %d: %v", ErrSyscallArg, p.Pid, err)
	}
	return nil
}
