// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package earth

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"rsc.io/egos/grass"
	"rsc.io/egos/rv32"
)

type Op int

const (
	OpCompute Op = iota // burn N instructions
	OpPrint             // print text on the console
	OpSend              // SEND text to a pid
	OpRecv              // RECV from a pid or anyone
	OpSleep             // SLEEP for N ticks
	OpFault             // raise exception N
	OpLoop              // jump back to the entry point
	OpExit              // free the process
)

var opNames = [...]string{
	OpCompute: "compute",
	OpPrint:   "print",
	OpSend:    "send",
	OpRecv:    "recv",
	OpSleep:   "sleep",
	OpFault:   "fault",
	OpLoop:    "loop",
	OpExit:    "exit",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// An Inst is one instruction of a program. Each instruction occupies
// four bytes of the program's text, starting at grass.AppsEntry.
type Inst struct {
	Op   Op
	N    int    // count, pid or exception code
	Text string // print or send payload
}

func (i Inst) String() string {
	switch i.Op {
	case OpCompute, OpSleep, OpFault:
		return fmt.Sprintf("%v %d", i.Op, i.N)
	case OpPrint:
		return fmt.Sprintf("%v %s", i.Op, i.Text)
	case OpSend:
		return fmt.Sprintf("%v %d %s", i.Op, i.N, i.Text)
	case OpRecv:
		if i.N == grass.GPIDAll {
			return "recv any"
		}
		return fmt.Sprintf("recv %d", i.N)
	}
	return i.Op.String()
}

// A Program is the image of a process.
type Program struct {
	Name string
	Text []Inst
}

// At returns the instruction at pc.
func (p *Program) At(pc uint32) (Inst, bool) {
	if pc < grass.AppsEntry || pc%4 != 0 {
		return Inst{}, false
	}
	i := (pc - grass.AppsEntry) / 4
	if i >= uint32(len(p.Text)) {
		return Inst{}, false
	}
	return p.Text[i], true
}

var faultNames = map[string]uint32{
	"misaligned": rv32.ExcpInstMisaligned,
	"access":     rv32.ExcpInstAccess,
	"illegal":    rv32.ExcpIllegalInst,
	"breakpoint": rv32.ExcpBreakpoint,
	"load":       rv32.ExcpLoadAccess,
	"store":      rv32.ExcpStoreAccess,
	"pagefault":  rv32.ExcpLoadPage,
}

// ParseProgram parses the text of a program, one instruction per line.
// Blank lines and lines starting with # are ignored.
func ParseProgram(name string, data []byte) (*Program, error) {
	p := &Program{Name: name}
	s := bufio.NewScanner(bytes.NewReader(data))
	lineno := 0
	for s.Scan() {
		lineno++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		inst, err := parseInst(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %v", name, lineno, err)
		}
		p.Text = append(p.Text, inst)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if len(p.Text) == 0 {
		return nil, fmt.Errorf("%s: empty program", name)
	}
	return p, nil
}

func parseInst(line string) (Inst, error) {
	op, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch op {
	case "compute", "sleep":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return Inst{}, fmt.Errorf("%s: bad count %q", op, arg)
		}
		if op == "sleep" {
			return Inst{Op: OpSleep, N: n}, nil
		}
		return Inst{Op: OpCompute, N: n}, nil

	case "print":
		return Inst{Op: OpPrint, Text: arg}, nil

	case "send":
		spid, text, _ := strings.Cut(arg, " ")
		pid, err := strconv.Atoi(spid)
		if err != nil || pid <= 0 {
			return Inst{}, fmt.Errorf("send: bad pid %q", spid)
		}
		if len(text) > grass.SyscallMsgLen {
			return Inst{}, fmt.Errorf("send: message longer than %d bytes", grass.SyscallMsgLen)
		}
		return Inst{Op: OpSend, N: pid, Text: text}, nil

	case "recv":
		if arg == "any" {
			return Inst{Op: OpRecv, N: grass.GPIDAll}, nil
		}
		pid, err := strconv.Atoi(arg)
		if err != nil || pid <= 0 {
			return Inst{}, fmt.Errorf("recv: bad pid %q", arg)
		}
		return Inst{Op: OpRecv, N: pid}, nil

	case "fault":
		code, ok := faultNames[arg]
		if !ok {
			n, err := strconv.ParseUint(arg, 0, 32)
			if err != nil || n > 15 {
				return Inst{}, fmt.Errorf("fault: bad exception %q", arg)
			}
			code = uint32(n)
		}
		if rv32.IsEcall(code) {
			return Inst{}, fmt.Errorf("fault: %v is a system call", rv32.Exception(code))
		}
		return Inst{Op: OpFault, N: int(code)}, nil

	case "loop", "exit":
		if arg != "" {
			return Inst{}, fmt.Errorf("%s takes no argument", op)
		}
		if op == "loop" {
			return Inst{Op: OpLoop}, nil
		}
		return Inst{Op: OpExit}, nil
	}
	return Inst{}, fmt.Errorf("unknown instruction %q", op)
}
