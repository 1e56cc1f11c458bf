// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grass

import (
	"errors"
	"fmt"
)

// Errors returned by the process control entry points.
var (
	ErrTooManyProcs = errors.New("too many processes")
	ErrPIDInUse     = errors.New("pid in use")
	ErrBadPID       = errors.New("invalid pid")
	ErrNoProc       = errors.New("no such process")
)

// Causes of a kernel halt.
var (
	ErrKernelFault        = errors.New("kernel got exception")
	ErrUnhandledInterrupt = errors.New("kernel got interrupt")
	ErrUnknownSyscall     = errors.New("unknown syscall type")
	ErrUnknownPID         = errors.New("unknown process")
	ErrIdleFallthrough    = errors.New("no process to run")
	ErrSyscallArg         = errors.New("cannot access syscall arguments")
)

// A Halt is the value the kernel panics with when one of its
// invariants is broken. Nothing in the kernel recovers from it:
// the machine running the kernel must stop every hart.
type Halt struct {
	Hart int   // hart that halted
	Err  error // one of the ErrXxx causes above, wrapped
}

func (h *Halt) Error() string {
	return fmt.Sprintf("kernel halt on hart %d: %v", h.Hart, h.Err)
}

func (h *Halt) Unwrap() error { return h.Err }
