// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package grass is the trap handling and scheduling core of the egos
// teaching kernel: the process table, the kernel entry point every
// interrupt and exception comes through, the preemptive scheduler and
// the SEND/RECV/SLEEP system calls.
//
// Every hart enters the kernel through [Kernel.Entry]. The whole entry,
// from saving the trapped context to restoring the next one, runs
// with the kernel lock held.
package grass

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"rsc.io/egos/rv32"
)

const (
	MaxNProcess   = 16 // size of the process table
	GPIDAll       = -1 // RECV from any sender
	GPIDUserStart = 5  // default first pid of a user application
)

// Pids of the kernel processes.
const (
	GPIDProcess = 1
	GPIDFile    = 2
	GPIDDir     = 3
	GPIDShell   = 4
)

type ProcStatus int8

const (
	ProcUnused         ProcStatus = iota
	ProcLoading                   // allocated, image being loaded
	ProcReady                     // loaded, never run
	ProcRunning                   // running on some hart
	ProcRunnable                  // waiting for a hart
	ProcSleeping                  // waiting for its sleep timer
	ProcPendingSyscall            // waiting for a system call to complete
)

func (ps ProcStatus) String() string {
	switch ps {
	case ProcUnused:
		return "Unused"
	case ProcLoading:
		return "Loading"
	case ProcReady:
		return "Ready"
	case ProcRunning:
		return "Running"
	case ProcRunnable:
		return "Runnable"
	case ProcSleeping:
		return "Sleeping"
	case ProcPendingSyscall:
		return "PendingSyscall"
	}
	return fmt.Sprintf("ProcStatus(%d)", ps)
}

// A PCB is a process control block.
// Mepc and Regs are only meaningful while Status is not ProcRunning.
type PCB struct {
	Pid     int
	Status  ProcStatus
	Syscall Syscall   // call in flight
	Sleep   int       // scheduler ticks left to sleep
	Mepc    uint32    // saved pc
	Regs    rv32.Regs // saved registers
}

func (p *PCB) runnable() bool {
	return p.Status == ProcReady || p.Status == ProcRunnable
}

type Config struct {
	NCores    int  // number of harts entering the kernel
	UserStart int  // first user pid; 0 means GPIDUserStart
	Trace     bool // log every kernel entry
}

// A Kernel is the process table shared by every hart, with the
// lock that serializes kernel entries.
type Kernel struct {
	Big   sync.Mutex
	Trace bool

	earth     Earth
	plat      rv32.Platform
	log       hclog.Logger
	userStart int
	nextPid   int
	intr      map[uint32]func(hartid int) bool

	// procs[MaxNProcess] is a placeholder holding the context
	// of idle harts.
	procs [MaxNProcess + 1]PCB
	cur   []int // mhartid → index in procs
}

// New returns a kernel running on e. Every hart starts out idle.
func New(e Earth, log hclog.Logger, cfg Config) *Kernel {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	k := &Kernel{
		Trace:     cfg.Trace,
		earth:     e,
		plat:      e.Platform(),
		log:       log,
		userStart: cfg.UserStart,
		nextPid:   1,
		intr:      make(map[uint32]func(int) bool),
	}
	if k.userStart <= 0 {
		k.userStart = GPIDUserStart
	}
	ncores := cfg.NCores
	if ncores <= 0 {
		ncores = 1
	}
	// Harts are numbered from 0 or 1 depending on the platform.
	k.cur = make([]int, k.plat.HartID(ncores-1)+1)
	for i := range k.cur {
		k.setIdle(i)
	}
	return k
}

func (k *Kernel) setIdle(hartid int) { k.cur[hartid] = MaxNProcess }

// UserStart returns the first pid treated as a user application.
func (k *Kernel) UserStart() int { return k.userStart }

// lookpid returns the active process with the given pid, or nil.
func (k *Kernel) lookpid(pid int) *PCB {
	for i := 0; i < MaxNProcess; i++ {
		p := &k.procs[i]
		if p.Pid == pid && p.Status != ProcUnused {
			return p
		}
	}
	return nil
}

// Alloc reserves a process slot under a fresh pid and marks it loading.
func (k *Kernel) Alloc() (int, error) {
	k.Big.Lock()
	defer k.Big.Unlock()

Retry:
	pid := k.nextPid
	k.nextPid++
	if k.lookpid(pid) != nil {
		goto Retry
	}
	if err := k.alloc(pid); err != nil {
		return 0, err
	}
	return pid, nil
}

// AllocPID is like Alloc but uses the given pid.
func (k *Kernel) AllocPID(pid int) error {
	k.Big.Lock()
	defer k.Big.Unlock()

	if pid <= 0 {
		return fmt.Errorf("alloc pid %d: %w", pid, ErrBadPID)
	}
	if k.lookpid(pid) != nil {
		return fmt.Errorf("alloc pid %d: %w", pid, ErrPIDInUse)
	}
	if pid >= k.nextPid {
		k.nextPid = pid + 1
	}
	return k.alloc(pid)
}

func (k *Kernel) alloc(pid int) error {
	for i := 0; i < MaxNProcess; i++ {
		p := &k.procs[i]
		if p.Status == ProcUnused && !k.assigned(i) {
			*p = PCB{Pid: pid, Status: ProcLoading}
			return nil
		}
	}
	return fmt.Errorf("alloc pid %d: %w", pid, ErrTooManyProcs)
}

// assigned reports whether slot i is some hart's current slot.
// Such a slot may be unused because its process just exited,
// but its saved context is still written on the hart's next entry.
func (k *Kernel) assigned(i int) bool {
	for _, j := range k.cur {
		if i == j {
			return true
		}
	}
	return false
}

// SetReady marks a loaded process ready for its first run.
func (k *Kernel) SetReady(pid int) error {
	k.Big.Lock()
	defer k.Big.Unlock()

	p := k.lookpid(pid)
	if p == nil {
		return fmt.Errorf("set ready %d: %w", pid, ErrNoProc)
	}
	if p.Status != ProcLoading {
		return fmt.Errorf("set ready %d: process is %v", pid, p.Status)
	}
	p.Status = ProcReady
	return nil
}

// Free releases the process slot of pid.
// The process may be running; the hart it runs on schedules
// another process on its next kernel entry.
func (k *Kernel) Free(pid int) error {
	k.Big.Lock()
	defer k.Big.Unlock()

	p := k.lookpid(pid)
	if p == nil {
		return fmt.Errorf("free %d: %w", pid, ErrNoProc)
	}
	*p = PCB{}
	return nil
}

// Alive reports whether pid names an active process.
func (k *Kernel) Alive(pid int) bool {
	k.Big.Lock()
	defer k.Big.Unlock()
	return k.lookpid(pid) != nil
}

// Current returns the pid of the process running on hart hartid.
// It reports false if the hart is idle.
func (k *Kernel) Current(hartid int) (int, bool) {
	k.Big.Lock()
	defer k.Big.Unlock()

	i := k.cur[hartid]
	if i == MaxNProcess || k.procs[i].Status != ProcRunning {
		return 0, false
	}
	return k.procs[i].Pid, true
}

// Live returns the number of processes that are not unused.
func (k *Kernel) Live() int {
	k.Big.Lock()
	defer k.Big.Unlock()

	n := 0
	for i := 0; i < MaxNProcess; i++ {
		if k.procs[i].Status != ProcUnused {
			n++
		}
	}
	return n
}

// A ProcInfo describes one active process.
type ProcInfo struct {
	Slot   int
	Pid    int
	Status ProcStatus
	Sleep  int
	Hart   int // hart the process runs on, or -1
}

// Procs returns a snapshot of the active processes in slot order.
func (k *Kernel) Procs() []ProcInfo {
	k.Big.Lock()
	defer k.Big.Unlock()

	var list []ProcInfo
	for i := 0; i < MaxNProcess; i++ {
		p := &k.procs[i]
		if p.Status == ProcUnused {
			continue
		}
		info := ProcInfo{Slot: i, Pid: p.Pid, Status: p.Status, Sleep: p.Sleep, Hart: -1}
		for h, j := range k.cur {
			if j == i && p.Status == ProcRunning {
				info.Hart = h
			}
		}
		list = append(list, info)
	}
	return list
}

// CoresInfo returns the pid running on each of the first n harts,
// or 0 for an idle hart.
func (k *Kernel) CoresInfo(n int) []int {
	k.Big.Lock()
	defer k.Big.Unlock()

	pids := make([]int, n)
	for c := range pids {
		i := k.cur[k.plat.HartID(c)]
		if i != MaxNProcess && k.procs[i].Status == ProcRunning {
			pids[c] = k.procs[i].Pid
		}
	}
	return pids
}
