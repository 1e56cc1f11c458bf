// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rv32

import "testing"

var causeTests = []struct {
	c     Cause
	intr  bool
	code  uint32
	ecall bool
	str   string
}{
	{0x80000007, true, IntrTimer, false, "timer interrupt"},
	{0x80000003, true, IntrSoftware, false, "software interrupt"},
	{0x80000403, true, 3, false, "software interrupt"}, // code masked to 10 bits
	{0x80000010, true, 16, false, "interrupt 16"},
	{8, false, ExcpEcallU, true, "ecall from U-mode"},
	{9, false, ExcpEcallS, true, "ecall from S-mode"},
	{10, false, 10, true, "exception 10"},
	{11, false, ExcpEcallM, true, "ecall from M-mode"},
	{2, false, ExcpIllegalInst, false, "illegal instruction"},
	{13, false, ExcpLoadPage, false, "load page fault"},
}

func TestCause(t *testing.T) {
	for _, tt := range causeTests {
		intr, code := QEMU.Classify(tt.c)
		if intr != tt.intr || code != tt.code {
			t.Errorf("Classify(%#x) = %v, %d, want %v, %d", uint32(tt.c), intr, code, tt.intr, tt.code)
		}
		if !intr && IsEcall(code) != tt.ecall {
			t.Errorf("IsEcall(%d) = %v, want %v", code, !tt.ecall, tt.ecall)
		}
		if s := tt.c.String(); s != tt.str {
			t.Errorf("Cause(%#x).String() = %q, want %q", uint32(tt.c), s, tt.str)
		}
	}

	if c := Interrupt(IntrTimer); c != 0x80000007 {
		t.Errorf("Interrupt(IntrTimer) = %#x", uint32(c))
	}
	if c := Exception(ExcpEcallM); c != 11 || c.IsInterrupt() {
		t.Errorf("Exception(ExcpEcallM) = %#x", uint32(c))
	}
}

func TestLookup(t *testing.T) {
	for _, tt := range []struct {
		name string
		hart int
	}{
		{"qemu", 1},
		{"arty", 0},
	} {
		p, err := Lookup(tt.name)
		if err != nil {
			t.Fatal(err)
		}
		if p.Name() != tt.name || p.HartID(0) != tt.hart || p.HartID(2) != tt.hart+2 {
			t.Errorf("%s: HartID(0) = %d, want %d", tt.name, p.HartID(0), tt.hart)
		}
	}
	if _, err := Lookup("vax"); err == nil {
		t.Errorf("Lookup(vax) succeeded")
	}
}
