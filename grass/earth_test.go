// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grass

import (
	"fmt"
	"runtime"
	"testing"

	"rsc.io/egos/rv32"
)

// fakeEarth gives every pid one page of physical memory
// holding its syscall descriptor.
type fakeEarth struct {
	plat  rv32.Platform
	harts map[int]*rv32.Hart
	area  rv32.Regs
	mem   *rv32.RAM

	current  int // last MMUSwitch
	switches []int
	flushes  int
	resets   map[int]int
	waits    map[int]int
	wake     bool // WaitForInterrupt returns instead of parking
}

func newFakeEarth(ncores int) *fakeEarth {
	f := &fakeEarth{
		plat:   rv32.QEMU,
		harts:  make(map[int]*rv32.Hart),
		mem:    rv32.NewRAM(0, 64*PageSize),
		resets: make(map[int]int),
		waits:  make(map[int]int),
	}
	for n := 0; n < ncores; n++ {
		id := f.plat.HartID(n)
		f.harts[id] = &rv32.Hart{ID: id, Priv: rv32.PrivMachine}
	}
	return f
}

func (f *fakeEarth) Platform() rv32.Platform { return f.plat }
func (f *fakeEarth) Hart(id int) *rv32.Hart  { return f.harts[id] }
func (f *fakeEarth) TrapArea() *rv32.Regs    { return &f.area }
func (f *fakeEarth) Memory() rv32.Memory     { return f.mem }
func (f *fakeEarth) MMUFlushCache()          { f.flushes++ }
func (f *fakeEarth) TimerReset(hartid int)   { f.resets[hartid]++ }
func (f *fakeEarth) MMUSwitch(pid int)       { f.current = pid; f.switches = append(f.switches, pid) }
func (f *fakeEarth) MMUTranslate(pid int, va uint32) (uint32, error) {
	if va&^(PageSize-1) != SyscallArg&^(PageSize-1) || pid <= 0 || pid >= 64 {
		return 0, fmt.Errorf("unmapped %#x for pid %d", va, pid)
	}
	return uint32(pid)*PageSize + va&(PageSize-1), nil
}

func (f *fakeEarth) WaitForInterrupt(hartid int) {
	f.waits[hartid]++
	if f.wake {
		return
	}
	runtime.Goexit()
}

// writeSyscall stores sc where pid's next ecall reads it.
func (f *fakeEarth) writeSyscall(t *testing.T, pid int, sc Syscall) {
	t.Helper()
	pa, err := f.MMUTranslate(pid, SyscallArg)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := sc.MarshalBinary()
	if err := f.mem.Write(pa, b); err != nil {
		t.Fatal(err)
	}
}

// readSyscall returns the descriptor in pid's address space.
func (f *fakeEarth) readSyscall(t *testing.T, pid int) Syscall {
	t.Helper()
	pa, _ := f.MMUTranslate(pid, SyscallArg)
	b := make([]byte, SyscallSize)
	if err := f.mem.Read(pa, b); err != nil {
		t.Fatal(err)
	}
	var sc Syscall
	if err := sc.UnmarshalBinary(b); err != nil {
		t.Fatal(err)
	}
	return sc
}

type result int

const (
	returned result = iota
	parked
	halted
)

func (r result) String() string {
	return [...]string{"returned", "parked", "halted"}[r]
}

// enter performs a trap with the given cause on hart, the way the trap
// vector does, and reports how the kernel entry ended.
func (f *fakeEarth) enter(k *Kernel, hart int, cause rv32.Cause) (result, *Halt) {
	h := f.harts[hart]
	f.plat.EnterTrap(h, cause, h.Mepc)

	var (
		res  = parked
		halt *Halt
		done = make(chan bool)
	)
	go func() {
		defer close(done)
		defer func() {
			if e := recover(); e != nil {
				hh, ok := e.(*Halt)
				if !ok {
					panic(e)
				}
				res, halt = halted, hh
			}
		}()
		k.Entry(hart, cause)
		res = returned
	}()
	<-done
	if res == returned {
		h.Mret()
	}
	return res, halt
}

// tick delivers a timer interrupt to hart and fails the test unless
// the kernel returns to some process.
func (f *fakeEarth) tick(t *testing.T, k *Kernel, hart int) {
	t.Helper()
	if res, h := f.enter(k, hart, rv32.Interrupt(rv32.IntrTimer)); res != returned {
		t.Fatalf("timer on hart %d: %v %v", hart, res, h)
	}
}

// ecall has pid, which must be running on hart, issue system call sc.
func (f *fakeEarth) ecall(t *testing.T, k *Kernel, hart, pid int, sc Syscall) (result, *Halt) {
	t.Helper()
	if have, ok := k.Current(hart); !ok || have != pid {
		t.Fatalf("ecall by pid %d on hart %d running %d (%v)", pid, hart, have, ok)
	}
	f.writeSyscall(t, pid, sc)
	cause := rv32.ExcpEcallU
	if f.harts[hart].Priv == rv32.PrivMachine {
		cause = rv32.ExcpEcallM
	}
	return f.enter(k, hart, rv32.Exception(uint32(cause)))
}
