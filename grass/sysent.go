// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grass

import "fmt"

var sysent [4]sysentry

// A sysentry is one system call. impl makes a single attempt at the
// call in p.Syscall and reports whether it completed. A call that
// does not complete leaves p pending; the scheduler retries it on
// every tick until it does.
type sysentry struct {
	name string
	impl func(*trap, *PCB) bool
}

func init() {
	sysent = [4]sysentry{
		{"", nil},                   /* 0 = unused */
		{"recv", (*trap).tryRecv},   /* 1 = recv */
		{"send", (*trap).trySend},   /* 2 = send */
		{"sleep", (*trap).trySleep}, /* 3 = sleep */
	}
}

func (t *trap) trySyscall(p *PCB) {
	typ := p.Syscall.Type
	if int(typ) >= len(sysent) || sysent[typ].impl == nil {
		t.fatal(fmt.Errorf("%w: type=%d (pid %d)", ErrUnknownSyscall, uint32(typ), p.Pid))
	}
	ent := &sysent[typ]
	if !ent.impl(t, p) {
		p.Status = ProcPendingSyscall
		return
	}
	if t.k.Trace {
		t.k.log.Trace("syscall done", "hart", t.hart, "pid", p.Pid, "call", ent.name, "sender", p.Syscall.Sender)
	}

	// Deliver the result exactly once; the slot's call is then inert.
	p.Syscall.Status = SyscallDone
	if err := t.copyout(p); err != nil {
		t.fatal(err)
	}
	p.Syscall.Type = SysUnused
	if p.Status != ProcSleeping {
		p.Status = ProcRunnable
	}
}

// trySend delivers p's message if the receiver is waiting for it.
func (t *trap) trySend(p *PCB) bool {
	dst := t.k.lookpid(int(p.Syscall.Receiver))
	if dst == nil {
		t.fatal(fmt.Errorf("%w: process %d sending to unknown process %d", ErrUnknownPID, p.Pid, p.Syscall.Receiver))
	}
	// Not ready unless dst is receiving and will take a message from p.
	// A delivered message stays in dst until dst's RECV completes.
	if dst.Syscall.Type != SysRecv || dst.Syscall.Status != SyscallPending {
		return false
	}
	if dst.Syscall.Sender != GPIDAll && int(dst.Syscall.Sender) != p.Pid {
		return false
	}

	dst.Syscall.Status = SyscallDone
	dst.Syscall.Sender = int32(p.Pid)
	dst.Syscall.Content = p.Syscall.Content
	return true
}

// tryRecv reports whether a message has been delivered to p.
func (t *trap) tryRecv(p *PCB) bool {
	return p.Syscall.Status != SyscallPending
}

func (t *trap) trySleep(p *PCB) bool {
	t.sleep(p.Pid, p.Syscall.Ticks())
	return true
}

func (t *trap) sleep(pid, ticks int) {
	p := t.k.lookpid(pid)
	if p == nil {
		t.fatal(fmt.Errorf("%w: sleep on process %d", ErrUnknownPID, pid))
	}
	if ticks < 0 {
		ticks = 0
	}
	p.Sleep = ticks
	p.Status = ProcSleeping
	t.slept = p
}
