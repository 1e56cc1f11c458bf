// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package earth simulates the machine the grass kernel runs on:
// harts executing process images, a machine timer per hart,
// an MMU and physical memory.
//
// Each hart is a goroutine. A trap stores the hart's registers in the
// trap area shared by all harts and calls the kernel's entry point,
// then returns to whatever context the kernel left behind. A hart
// with nothing to run parks in WaitForInterrupt; a new goroutine takes
// over the hart at its next timer interrupt.
package earth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"rsc.io/egos/grass"
	"rsc.io/egos/rv32"
)

var ErrStepLimit = errors.New("step limit reached")

// recvMark in s0 tells the instruction after a RECV ecall
// to report the received message.
const recvMark = 0x52454356

type hart struct {
	h    *rv32.Hart
	pc   uint32
	regs rv32.Regs
	pid  int // process running on the hart, 0 if none
}

// interruptible reports whether a pending interrupt is taken:
// always in user mode, in machine mode only if enabled.
func (c *hart) interruptible() bool {
	return c.h.Priv == rv32.PrivUser || c.h.Mstatus.MIE()
}

// A Machine is a simulated multi-hart RISC-V board running the kernel.
type Machine struct {
	// If Clock is non-nil, every timer interrupt waits
	// for a value from it.
	Clock <-chan struct{}

	cfg    Config
	plat   rv32.Platform
	log    hclog.Logger
	kernel *grass.Kernel
	mem    *rv32.RAM
	mmu    *MMU
	timer  *Timer
	harts  []*hart // indexed by mhartid

	progMu sync.Mutex
	progs  map[int]*Program

	vector sync.Mutex // held from trap entry to mret
	area   rv32.Regs

	outMu sync.Mutex
	out   io.Writer

	steps atomic.Int64
	wg    sync.WaitGroup
	once  sync.Once
	done  chan struct{}
	err   error
}

// New returns a machine that prints console output to out
// and reports to log, which may be nil.
func New(cfg Config, out io.Writer, log hclog.Logger) (*Machine, error) {
	cfg = cfg.withDefaults()
	plat, err := rv32.Lookup(cfg.Platform)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	m := &Machine{
		cfg:   cfg,
		plat:  plat,
		log:   log.ResetNamed("earth"),
		mem:   rv32.NewRAM(FrameBase, NFrames*grass.PageSize),
		progs: make(map[int]*Program),
		out:   out,
		done:  make(chan struct{}),
	}
	m.mmu = NewMMU(m.mem)

	nhart := plat.HartID(cfg.NCores-1) + 1
	m.timer = NewTimer(nhart, cfg.Quantum)
	m.harts = make([]*hart, nhart)
	for n := 0; n < cfg.NCores; n++ {
		id := plat.HartID(n)
		c := &hart{h: &rv32.Hart{ID: id, Priv: rv32.PrivMachine}}
		c.h.Mstatus.SetMIE(true)
		m.harts[id] = c
	}

	m.kernel = grass.New(m, log, grass.Config{
		NCores:    cfg.NCores,
		UserStart: cfg.UserStart,
		Trace:     cfg.Trace,
	})
	// Exiting processes raise a software interrupt to give up the hart.
	m.kernel.HandleInterrupt(rv32.IntrSoftware, func(int) bool { return true })
	return m, nil
}

func (m *Machine) Kernel() *grass.Kernel { return m.kernel }
func (m *Machine) MMU() *MMU             { return m.mmu }

// Steps returns the number of instructions executed so far.
func (m *Machine) Steps() int64 { return m.steps.Load() }

// Load loads the processes of s and marks them ready.
func (m *Machine) Load(s *Scenario) error {
	userStart := m.kernel.UserStart()
	for _, p := range s.Procs {
		if p.Kernel != (p.Pid < userStart) {
			kind := "user"
			if p.Kernel {
				kind = "kernel"
			}
			return fmt.Errorf("pid %d: %s process outside its pid range (user pids start at %d)", p.Pid, kind, userStart)
		}
		prog := s.Programs[p.Prog]
		if err := m.kernel.AllocPID(p.Pid); err != nil {
			return err
		}
		if err := m.loadImage(p.Pid, prog); err != nil {
			return err
		}
		m.setProg(p.Pid, prog)
		if err := m.kernel.SetReady(p.Pid); err != nil {
			return err
		}
		m.log.Debug("loaded", "pid", p.Pid, "program", prog.Name, "insts", len(prog.Text))
	}
	return nil
}

// loadImage maps the argument, stack and syscall pages of pid and
// writes main's arguments: argc at AppsArg, then argv.
func (m *Machine) loadImage(pid int, prog *Program) error {
	arg, err := m.mmu.Alloc(pid, grass.AppsArg)
	if err != nil {
		return err
	}
	if _, err := m.mmu.Alloc(pid, grass.AppsStackTop-grass.PageSize); err != nil {
		return err
	}
	if _, err := m.mmu.Alloc(pid, grass.SyscallArg); err != nil {
		return err
	}

	const strOff = 12
	name := append([]byte(prog.Name), 0)
	if strOff+len(name) > grass.PageSize {
		return fmt.Errorf("pid %d: program name too long", pid)
	}
	if err := m.mem.WriteW(arg, 1); err != nil {
		return err
	}
	if err := m.mem.WriteW(arg+4, grass.AppsArg+strOff); err != nil {
		return err
	}
	if err := m.mem.WriteW(arg+8, 0); err != nil {
		return err
	}
	return m.mem.Write(arg+strOff, name)
}

func (m *Machine) Platform() rv32.Platform    { return m.plat }
func (m *Machine) Hart(hartid int) *rv32.Hart { return m.harts[hartid].h }
func (m *Machine) TrapArea() *rv32.Regs       { return &m.area }
func (m *Machine) Memory() rv32.Memory        { return m.mem }

func (m *Machine) MMUTranslate(pid int, va uint32) (uint32, error) {
	return m.mmu.Translate(pid, va)
}

func (m *Machine) MMUSwitch(pid int)     { m.mmu.Switch(pid) }
func (m *Machine) MMUFlushCache()        { m.mmu.FlushCache() }
func (m *Machine) TimerReset(hartid int) { m.timer.Reset(hartid) }

// WaitForInterrupt abandons the calling hart goroutine and starts a
// new one that resumes the hart at its next timer interrupt.
func (m *Machine) WaitForInterrupt(hartid int) {
	if m.cfg.Trace {
		m.log.Trace("wfi", "hart", hartid, "now", m.timer.Now(hartid))
	}
	c := m.harts[hartid]
	c.pid = 0
	m.wg.Add(1)
	go m.run(c, true)
	runtime.Goexit()
}

// Run runs the machine until every process has exited, the step
// limit is reached, the kernel halts or ctx is done.
// It returns nil only if every process exited.
func (m *Machine) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { m.stop(ctx.Err()) })
	defer stop()

	m.log.Debug("boot", "platform", m.plat.Name(), "cores", m.cfg.NCores, "procs", m.kernel.Live())
	for _, c := range m.harts {
		if c != nil {
			m.wg.Add(1)
			go m.run(c, false)
		}
	}
	m.wg.Wait()

	hits, misses := m.mmu.Stats()
	m.log.Debug("stopped", "steps", m.Steps(), "tlb_hits", hits, "tlb_misses", misses, "err", m.err)
	return m.err
}

func (m *Machine) stop(err error) {
	m.once.Do(func() {
		m.err = err
		close(m.done)
	})
}

func (m *Machine) stopped() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// run executes instructions on hart c. If idle is set the hart
// was parked and first waits for its timer.
func (m *Machine) run(c *hart, idle bool) {
	defer m.wg.Done()
	defer func() {
		if e := recover(); e != nil {
			h, ok := e.(*grass.Halt)
			if !ok {
				panic(e)
			}
			m.stop(h)
		}
	}()

	id := c.h.ID
	if idle {
		if m.stopped() {
			return
		}
		if m.kernel.Live() == 0 {
			m.stop(nil)
			return
		}
		if !m.count(m.timer.Skip(id)) || !m.wait() {
			return
		}
		m.trap(c, rv32.Interrupt(rv32.IntrTimer))
	}
	for !m.stopped() {
		if m.timer.Due(id) && c.interruptible() {
			if !m.wait() {
				return
			}
			m.trap(c, rv32.Interrupt(rv32.IntrTimer))
			continue
		}
		m.timer.Tick(id)
		if !m.count(1) {
			return
		}
		m.step(c)
	}
}

// wait waits for the clock, if any.
// It reports false if the machine stopped instead.
func (m *Machine) wait() bool {
	if m.Clock == nil {
		return !m.stopped()
	}
	select {
	case <-m.Clock:
		return true
	case <-m.done:
		return false
	}
}

func (m *Machine) count(n int64) bool {
	total := m.steps.Add(n)
	if m.cfg.MaxSteps > 0 && total > int64(m.cfg.MaxSteps) {
		m.stop(fmt.Errorf("%w after %d instructions", ErrStepLimit, m.cfg.MaxSteps))
		return false
	}
	return true
}

// trap is the trap vector: it hands the hart's context to the kernel
// through the trap area and resumes whatever the kernel picked.
func (m *Machine) trap(c *hart, cause rv32.Cause) {
	m.vector.Lock()
	defer m.vector.Unlock()

	// The process that trapped may have exited or been killed.
	// Entry does not return if the hart parks, so check on the way out.
	if old := c.pid; old != 0 {
		defer func() {
			if !m.kernel.Alive(old) {
				m.release(old)
			}
		}()
	}

	m.plat.EnterTrap(c.h, cause, c.pc)
	m.area = c.regs
	m.kernel.Entry(c.h.ID, cause)
	c.regs = m.area
	c.pc = c.h.Mret()
	c.pid, _ = m.kernel.Current(c.h.ID)
}

// release frees the memory and program of a process that is gone.
func (m *Machine) release(pid int) {
	m.mmu.Free(pid)
	m.progMu.Lock()
	delete(m.progs, pid)
	m.progMu.Unlock()
	m.log.Debug("released", "pid", pid)
}

func (m *Machine) prog(pid int) *Program {
	m.progMu.Lock()
	defer m.progMu.Unlock()
	return m.progs[pid]
}

func (m *Machine) setProg(pid int, prog *Program) {
	m.progMu.Lock()
	defer m.progMu.Unlock()
	m.progs[pid] = prog
}

// step executes one instruction of the process running on c.
func (m *Machine) step(c *hart) {
	if c.pid == 0 {
		return
	}
	prog := m.prog(c.pid)
	if c.regs[rv32.S0] == recvMark {
		m.received(c)
		return
	}
	in, ok := prog.At(c.pc)
	if !ok {
		m.trap(c, rv32.Exception(rv32.ExcpInstAccess))
		return
	}
	if c.pc == grass.AppsEntry {
		if err := m.checkArgs(c, prog); err != nil {
			m.stop(err)
			return
		}
	}
	if m.cfg.Trace {
		m.log.Trace("step", "hart", c.h.ID, "pid", c.pid, "pc", hclog.Hex(c.pc), "inst", in)
	}

	switch in.Op {
	case OpCompute:
		t0 := &c.regs[rv32.T0]
		if *t0 == 0 {
			*t0 = uint32(in.N)
		}
		if *t0 > 0 {
			*t0--
		}
		if *t0 == 0 {
			c.pc += 4
		}
	case OpPrint:
		m.printf(c.pid, "%s", in.Text)
		c.pc += 4
	case OpSend:
		m.syscall(c, grass.NewSend(in.N, []byte(in.Text)))
	case OpRecv:
		c.regs[rv32.S0] = recvMark
		m.syscall(c, grass.NewRecv(in.N))
	case OpSleep:
		m.syscall(c, grass.NewSleep(in.N))
	case OpFault:
		m.trap(c, rv32.Exception(uint32(in.N)))
	case OpLoop:
		c.pc = grass.AppsEntry
	case OpExit:
		m.printf(c.pid, "exit")
		if err := m.kernel.Free(c.pid); err != nil {
			m.stop(err)
			return
		}
		m.trap(c, rv32.Interrupt(rv32.IntrSoftware))
	}
}

// syscall writes sc to the syscall page and executes ecall.
func (m *Machine) syscall(c *hart, sc grass.Syscall) {
	pa, err := m.mmu.Translate(c.pid, grass.SyscallArg)
	if err != nil {
		m.trap(c, rv32.Exception(rv32.ExcpStorePage))
		return
	}
	b, err := sc.MarshalBinary()
	if err != nil {
		m.stop(err)
		return
	}
	if err := m.mem.Write(pa, b); err != nil {
		m.trap(c, rv32.Exception(rv32.ExcpStoreAccess))
		return
	}
	var cause uint32 = rv32.ExcpEcallU
	if c.h.Priv == rv32.PrivMachine {
		cause = rv32.ExcpEcallM
	}
	m.trap(c, rv32.Exception(cause))
}

// received prints the message delivered by the RECV that just returned.
func (m *Machine) received(c *hart) {
	c.regs[rv32.S0] = 0
	pa, err := m.mmu.Translate(c.pid, grass.SyscallArg)
	if err != nil {
		m.stop(err)
		return
	}
	b := make([]byte, grass.SyscallSize)
	if err := m.mem.Read(pa, b); err != nil {
		m.stop(err)
		return
	}
	var sc grass.Syscall
	if err := sc.UnmarshalBinary(b); err != nil {
		m.stop(err)
		return
	}
	m.printf(c.pid, "recv from %d: %q", sc.Sender, sc.Message())
}

// checkArgs checks that main was entered with the arguments
// written by loadImage.
func (m *Machine) checkArgs(c *hart, prog *Program) error {
	a0, a1 := c.regs[rv32.A0], c.regs[rv32.A1]
	if a0 != grass.AppsArg || a1 != grass.AppsArg+4 {
		return fmt.Errorf("pid %d: main entered with a0=%#x a1=%#x", c.pid, a0, a1)
	}
	word := func(va uint32) (uint32, error) {
		pa, err := m.mmu.Translate(c.pid, va)
		if err != nil {
			return 0, err
		}
		return m.mem.ReadW(pa)
	}
	argc, err := word(a0)
	if err != nil {
		return err
	}
	argv0, err := word(a1)
	if err != nil {
		return err
	}
	pa, err := m.mmu.Translate(c.pid, argv0)
	if err != nil {
		return err
	}
	name := make([]byte, len(prog.Name)+1)
	if err := m.mem.Read(pa, name); err != nil {
		return err
	}
	if argc != 1 || string(name) != prog.Name+"\x00" {
		return fmt.Errorf("pid %d: main entered with argc=%d argv[0]=%q", c.pid, argc, name)
	}
	return nil
}

func (m *Machine) printf(pid int, format string, args ...any) {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	fmt.Fprintf(m.out, "[pid %d] %s\n", pid, fmt.Sprintf(format, args...))
}
