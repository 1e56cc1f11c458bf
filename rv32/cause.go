// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rv32

import "fmt"

// A Cause is the value of the mcause CSR.
// The high bit is set for interrupts; the low bits hold the code.
type Cause uint32

const (
	CauseIntr Cause = 1 << 31

	intrCodeMask = 0x3FF
)

// Interrupt codes.
const (
	IntrSoftware = 3
	IntrTimer    = 7
	IntrExternal = 11
)

// Exception codes.
const (
	ExcpInstMisaligned  = 0
	ExcpInstAccess      = 1
	ExcpIllegalInst     = 2
	ExcpBreakpoint      = 3
	ExcpLoadMisaligned  = 4
	ExcpLoadAccess      = 5
	ExcpStoreMisaligned = 6
	ExcpStoreAccess     = 7
	ExcpEcallU          = 8
	ExcpEcallS          = 9
	ExcpEcallM          = 11
	ExcpInstPage        = 12
	ExcpLoadPage        = 13
	ExcpStorePage       = 15
)

// Interrupt returns the cause for interrupt code.
func Interrupt(code uint32) Cause { return CauseIntr | Cause(code&intrCodeMask) }

// Exception returns the cause for exception code.
func Exception(code uint32) Cause { return Cause(code) &^ CauseIntr }

// IsInterrupt reports whether c is an asynchronous interrupt.
func (c Cause) IsInterrupt() bool { return c&CauseIntr != 0 }

// Code returns the interrupt or exception code of c.
func (c Cause) Code() uint32 {
	if c.IsInterrupt() {
		return uint32(c) & intrCodeMask
	}
	return uint32(c)
}

// IsEcall reports whether exception code is an environment call
// from any privilege level.
func IsEcall(code uint32) bool {
	return code >= ExcpEcallU && code <= ExcpEcallM
}

var intrNames = map[uint32]string{
	IntrSoftware: "software interrupt",
	IntrTimer:    "timer interrupt",
	IntrExternal: "external interrupt",
}

var excpNames = map[uint32]string{
	ExcpInstMisaligned:  "instruction address misaligned",
	ExcpInstAccess:      "instruction access fault",
	ExcpIllegalInst:     "illegal instruction",
	ExcpBreakpoint:      "breakpoint",
	ExcpLoadMisaligned:  "load address misaligned",
	ExcpLoadAccess:      "load access fault",
	ExcpStoreMisaligned: "store address misaligned",
	ExcpStoreAccess:     "store access fault",
	ExcpEcallU:          "ecall from U-mode",
	ExcpEcallS:          "ecall from S-mode",
	ExcpEcallM:          "ecall from M-mode",
	ExcpInstPage:        "instruction page fault",
	ExcpLoadPage:        "load page fault",
	ExcpStorePage:       "store page fault",
}

func (c Cause) String() string {
	names := excpNames
	kind := "exception"
	if c.IsInterrupt() {
		names = intrNames
		kind = "interrupt"
	}
	if s, ok := names[c.Code()]; ok {
		return s
	}
	return fmt.Sprintf("%s %d", kind, c.Code())
}
