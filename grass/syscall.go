// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grass

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Memory layout shared by the kernel and applications.
const (
	PageSize     = 4096
	AppsArg      = 0x80000000 // argc, argv of main
	AppsStackTop = 0x80002000
	SyscallArg   = 0x80002400 // syscall descriptor
	AppsEntry    = 0x08005000 // first instruction of an application
)

// SyscallMsgLen is the payload capacity of a syscall descriptor.
const SyscallMsgLen = 256

// SyscallSize is the size of an encoded Syscall.
const SyscallSize = 16 + SyscallMsgLen

type SyscallType uint32

const (
	SysUnused SyscallType = iota
	SysRecv
	SysSend
	SysSleep
)

func (t SyscallType) String() string {
	if int(t) < len(sysent) && sysent[t].name != "" {
		return sysent[t].name
	}
	if t == SysUnused {
		return "unused"
	}
	return fmt.Sprintf("SyscallType(%d)", uint32(t))
}

type SyscallStatus uint32

const (
	SyscallPending SyscallStatus = iota
	SyscallDone
)

func (s SyscallStatus) String() string {
	switch s {
	case SyscallPending:
		return "pending"
	case SyscallDone:
		return "done"
	}
	return fmt.Sprintf("SyscallStatus(%d)", uint32(s))
}

// A Syscall is the descriptor an application writes at SyscallArg
// before it traps, and the kernel writes back once the call is done.
// It is encoded little-endian in field order.
type Syscall struct {
	Type     SyscallType
	Status   SyscallStatus
	Sender   int32
	Receiver int32
	Content  [SyscallMsgLen]byte
}

// NewSend returns a descriptor sending msg to pid.
// msg is truncated to SyscallMsgLen bytes.
func NewSend(pid int, msg []byte) Syscall {
	s := Syscall{Type: SysSend, Receiver: int32(pid)}
	copy(s.Content[:], msg)
	return s
}

// NewRecv returns a descriptor receiving from pid, or from any
// process if pid is GPIDAll.
func NewRecv(pid int) Syscall {
	return Syscall{Type: SysRecv, Sender: int32(pid)}
}

// NewSleep returns a descriptor sleeping for n scheduler ticks.
func NewSleep(n int) Syscall {
	s := Syscall{Type: SysSleep}
	binary.LittleEndian.PutUint32(s.Content[:4], uint32(n))
	return s
}

// Ticks returns the tick count of a SLEEP call.
func (s *Syscall) Ticks() int {
	return int(int32(binary.LittleEndian.Uint32(s.Content[:4])))
}

// Message returns the payload with trailing zero bytes removed.
func (s *Syscall) Message() []byte {
	return bytes.TrimRight(s.Content[:], "\x00")
}

func (s *Syscall) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(SyscallSize)
	if err := binary.Write(&buf, binary.LittleEndian, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Syscall) UnmarshalBinary(data []byte) error {
	if len(data) != SyscallSize {
		return fmt.Errorf("syscall descriptor: have %d bytes, want %d", len(data), SyscallSize)
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, s)
}
