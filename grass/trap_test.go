// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grass

import (
	"bytes"
	"errors"
	"testing"

	"rsc.io/egos/rv32"
)

func TestMessage(t *testing.T) {
	k, f := newKernel(t, 1, 16, 10, 20)
	f.tick(t, k, 1)

	// Nobody is sending yet.
	if res, h := f.ecall(t, k, 1, 20, NewRecv(GPIDAll)); res != returned {
		t.Fatalf("recv: %v %v", res, h)
	}
	if s := pcb(t, k, 20).Status; s != ProcPendingSyscall {
		t.Fatalf("receiver is %v, want PendingSyscall", s)
	}
	if pid := current(t, k, 1); pid != 10 {
		t.Fatalf("running %d, want 10", pid)
	}

	// The send lands and the same pass finds the receive satisfied.
	if res, h := f.ecall(t, k, 1, 10, NewSend(20, []byte("hi"))); res != returned {
		t.Fatalf("send: %v %v", res, h)
	}
	if pid := current(t, k, 1); pid != 20 {
		t.Fatalf("running %d after send, want 20", pid)
	}
	sc := f.readSyscall(t, 20)
	if sc.Status != SyscallDone || sc.Sender != 10 || string(sc.Message()) != "hi" {
		t.Errorf("receiver got %v from %d: %q", sc.Status, sc.Sender, sc.Message())
	}
	if sc := f.readSyscall(t, 10); sc.Status != SyscallDone || sc.Type != SysSend {
		t.Errorf("sender result = %v %v", sc.Type, sc.Status)
	}
	if p := pcb(t, k, 10); p.Status != ProcRunnable || p.Mepc != AppsEntry+4 {
		t.Errorf("sender is %v at %#x", p.Status, p.Mepc)
	}
	if p := pcb(t, k, 20); p.Syscall.Type != SysUnused || p.Mepc != AppsEntry+4 {
		t.Errorf("receiver call %v at %#x after delivery", p.Syscall.Type, p.Mepc)
	}
}

func TestSecondSend(t *testing.T) {
	// Slots: 0 = pid 10, 1 = pid 11, 2 = pid 20.
	k, f := newKernel(t, 1, 16, 10, 11, 20)
	f.tick(t, k, 1) // 11
	f.tick(t, k, 1) // 20
	f.ecall(t, k, 1, 20, NewRecv(GPIDAll))
	if pid := current(t, k, 1); pid != 10 {
		t.Fatalf("running %d, want 10", pid)
	}

	// 11 comes before 20 in scan order from 10's slot, so the
	// delivered message waits in 20's PCB.
	f.ecall(t, k, 1, 10, NewSend(20, []byte("a")))
	if pid := current(t, k, 1); pid != 11 {
		t.Fatalf("running %d, want 11", pid)
	}
	if p := pcb(t, k, 20); p.Status != ProcPendingSyscall || p.Syscall.Status != SyscallDone {
		t.Fatalf("receiver is %v with call %v", p.Status, p.Syscall.Status)
	}
	if sc := f.readSyscall(t, 20); sc.Status != SyscallPending {
		t.Fatalf("receiver saw its result before its receive completed")
	}

	// A second send must not overwrite the undelivered message.
	// Pass 1 falls back to 10, but pass 2 completes 20's receive first.
	f.ecall(t, k, 1, 11, NewSend(20, []byte("b")))
	if s := pcb(t, k, 11).Status; s != ProcPendingSyscall {
		t.Fatalf("second sender is %v, want PendingSyscall", s)
	}
	if pid := current(t, k, 1); pid != 20 {
		t.Fatalf("running %d, want 20", pid)
	}
	if sc := f.readSyscall(t, 20); sc.Sender != 10 || string(sc.Message()) != "a" {
		t.Fatalf("receiver got %q from %d, want %q from 10", sc.Message(), sc.Sender, "a")
	}

	// 20 receives again; 11's send is retried on the next ticks.
	f.ecall(t, k, 1, 20, NewRecv(GPIDAll))
	if pid := current(t, k, 1); pid != 10 {
		t.Fatalf("running %d, want 10", pid)
	}
	f.tick(t, k, 1)
	if pid := current(t, k, 1); pid != 11 {
		t.Fatalf("running %d, want 11", pid)
	}
	if sc := f.readSyscall(t, 11); sc.Status != SyscallDone {
		t.Errorf("second send result is %v", sc.Status)
	}
	f.tick(t, k, 1)
	if pid := current(t, k, 1); pid != 20 {
		t.Fatalf("running %d, want 20", pid)
	}
	if sc := f.readSyscall(t, 20); sc.Sender != 11 || string(sc.Message()) != "b" {
		t.Errorf("receiver got %q from %d, want %q from 11", sc.Message(), sc.Sender, "b")
	}
}

func TestRecvFrom(t *testing.T) {
	k, f := newKernel(t, 1, 16, 10, 11, 20)
	f.tick(t, k, 1) // 11
	f.tick(t, k, 1) // 20
	f.ecall(t, k, 1, 20, NewRecv(11))

	// 20 does not take messages from 10.
	f.ecall(t, k, 1, 10, NewSend(20, []byte("no")))
	if s := pcb(t, k, 10).Status; s != ProcPendingSyscall {
		t.Fatalf("rejected sender is %v, want PendingSyscall", s)
	}
	if pid := current(t, k, 1); pid != 11 {
		t.Fatalf("running %d, want 11", pid)
	}
	f.ecall(t, k, 1, 11, NewSend(20, []byte("yes")))
	if pid := current(t, k, 1); pid != 20 {
		t.Fatalf("running %d, want 20", pid)
	}
	if sc := f.readSyscall(t, 20); sc.Sender != 11 || !bytes.Equal(sc.Message(), []byte("yes")) {
		t.Errorf("receiver got %q from %d", sc.Message(), sc.Sender)
	}
	if s := pcb(t, k, 10).Status; s != ProcPendingSyscall {
		t.Errorf("sender 10 is %v, want still PendingSyscall", s)
	}
}

func TestUserFault(t *testing.T) {
	k, f := newKernel(t, 1, 16, 10, 20)
	f.tick(t, k, 1)
	res, h := f.enter(k, 1, rv32.Exception(rv32.ExcpIllegalInst))
	if res != returned {
		t.Fatalf("user fault: %v %v", res, h)
	}
	if p := k.procs[1]; p.Status != ProcUnused {
		t.Fatalf("faulting process is %v, want Unused", p.Status)
	}
	if k.Alive(20) || !k.Alive(10) {
		t.Errorf("Alive(20), Alive(10) = %v, %v after fault", k.Alive(20), k.Alive(10))
	}
	for i := 0; i < 5; i++ {
		if pid := current(t, k, 1); pid != 10 {
			t.Fatalf("tick %d: running %d, want 10", i, pid)
		}
		f.tick(t, k, 1)
	}
	if n := k.Live(); n != 1 {
		t.Errorf("Live() = %d, want 1", n)
	}
}

func TestKernelHalts(t *testing.T) {
	tests := []struct {
		name string
		run  func(*testing.T, *Kernel, *fakeEarth) (result, *Halt)
		want error
	}{
		{"kernel fault", func(t *testing.T, k *Kernel, f *fakeEarth) (result, *Halt) {
			return f.enter(k, 1, rv32.Exception(rv32.ExcpLoadAccess))
		}, ErrKernelFault},
		{"external interrupt", func(t *testing.T, k *Kernel, f *fakeEarth) (result, *Halt) {
			return f.enter(k, 1, rv32.Interrupt(rv32.IntrExternal))
		}, ErrUnhandledInterrupt},
		{"unknown syscall", func(t *testing.T, k *Kernel, f *fakeEarth) (result, *Halt) {
			return f.ecall(t, k, 1, 10, Syscall{Type: 9})
		}, ErrUnknownSyscall},
		{"unused syscall", func(t *testing.T, k *Kernel, f *fakeEarth) (result, *Halt) {
			return f.ecall(t, k, 1, 10, Syscall{})
		}, ErrUnknownSyscall},
		{"send to unknown pid", func(t *testing.T, k *Kernel, f *fakeEarth) (result, *Halt) {
			return f.ecall(t, k, 1, 10, NewSend(99, []byte("x")))
		}, ErrUnknownPID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Pid 10 is a kernel process and runs first.
			k, f := newKernel(t, 1, 16, 20, 10)
			f.tick(t, k, 1)
			res, h := tt.run(t, k, f)
			if res != halted || !errors.Is(h, tt.want) {
				t.Fatalf("have %v %v, want halt with %v", res, h, tt.want)
			}
			if h.Hart != 1 {
				t.Errorf("halt on hart %d, want 1", h.Hart)
			}
			if !k.Big.TryLock() {
				t.Fatalf("kernel lock held after halt")
			}
			k.Big.Unlock()
		})
	}
}

func TestSyscallArgUnmapped(t *testing.T) {
	k, f := newKernel(t, 1, 0, 70)
	f.tick(t, k, 1)
	res, h := f.enter(k, 1, rv32.Exception(rv32.ExcpEcallU))
	if res != halted || !errors.Is(h, ErrSyscallArg) {
		t.Fatalf("ecall with unmapped arguments: %v %v", res, h)
	}
}

func TestHandleInterrupt(t *testing.T) {
	k, f := newKernel(t, 1, 0, 6, 7)
	var calls []int
	k.HandleInterrupt(rv32.IntrSoftware, func(hart int) bool {
		calls = append(calls, hart)
		return true
	})
	k.HandleInterrupt(rv32.IntrExternal, func(hart int) bool {
		calls = append(calls, hart)
		return false
	})

	f.tick(t, k, 1)
	if pid := current(t, k, 1); pid != 7 {
		t.Fatalf("running %d, want 7", pid)
	}
	f.harts[1].Mepc = AppsEntry + 8
	if res, h := f.enter(k, 1, rv32.Interrupt(rv32.IntrExternal)); res != returned {
		t.Fatalf("external interrupt: %v %v", res, h)
	}
	if pid := current(t, k, 1); pid != 7 || f.harts[1].Mepc != AppsEntry+8 {
		t.Fatalf("after external interrupt running %d at %#x, want 7 at %#x", pid, f.harts[1].Mepc, AppsEntry+8)
	}
	if res, h := f.enter(k, 1, rv32.Interrupt(rv32.IntrSoftware)); res != returned {
		t.Fatalf("software interrupt: %v %v", res, h)
	}
	if pid := current(t, k, 1); pid != 6 {
		t.Fatalf("after software interrupt running %d, want 6", pid)
	}
	if len(calls) != 2 || calls[0] != 1 || calls[1] != 1 {
		t.Errorf("handler calls = %v", calls)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("HandleInterrupt(IntrTimer) did not panic")
		}
	}()
	k.HandleInterrupt(rv32.IntrTimer, func(int) bool { return false })
}
