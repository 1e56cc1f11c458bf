// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package earth

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/tools/txtar"
)

// A Scenario is a machine configuration and the processes to boot on it.
//
// Scenarios are stored as txtar archives. The archive comment holds
// "key value" configuration lines (see Config.Set). The file "procs"
// lists the processes in boot order, one "pid kind program" per line,
// where kind is "kernel" or "user". Every other file except "want"
// is a program. The optional "want" file holds the expected console
// output.
type Scenario struct {
	Config   Config
	Procs    []Proc
	Programs map[string]*Program
	Want     []byte
	HasWant  bool
}

// A Proc is a process to boot.
type Proc struct {
	Pid    int
	Kernel bool
	Prog   string
}

func LoadScenario(file string) (*Scenario, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", file, err)
	}
	return s, nil
}

func ParseScenario(data []byte) (*Scenario, error) {
	ar := txtar.Parse(data)
	s := &Scenario{Programs: make(map[string]*Program)}
	if err := parseHeader(&s.Config, ar.Comment); err != nil {
		return nil, err
	}

	var procs []byte
	haveProcs := false
	for _, f := range ar.Files {
		switch f.Name {
		case "procs":
			procs, haveProcs = f.Data, true
		case "want":
			s.Want, s.HasWant = f.Data, true
		default:
			if _, ok := s.Programs[f.Name]; ok {
				return nil, fmt.Errorf("duplicate program %s", f.Name)
			}
			p, err := ParseProgram(f.Name, f.Data)
			if err != nil {
				return nil, err
			}
			s.Programs[f.Name] = p
		}
	}
	if !haveProcs {
		return nil, fmt.Errorf("no procs file")
	}
	if err := s.parseProcs(procs); err != nil {
		return nil, err
	}
	return s, nil
}

func parseHeader(c *Config, data []byte) error {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for lineno := 1; sc.Scan(); lineno++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		if err := c.Set(key, strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("header:%d: %v", lineno, err)
		}
	}
	return sc.Err()
}

func (s *Scenario) parseProcs(data []byte) error {
	seen := make(map[int]bool)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for lineno := 1; sc.Scan(); lineno++ {
		f := strings.Fields(sc.Text())
		if len(f) == 0 || strings.HasPrefix(f[0], "#") {
			continue
		}
		if len(f) != 3 {
			return fmt.Errorf("procs:%d: want pid kind program", lineno)
		}
		pid, err := strconv.Atoi(f[0])
		if err != nil || pid <= 0 {
			return fmt.Errorf("procs:%d: bad pid %q", lineno, f[0])
		}
		if seen[pid] {
			return fmt.Errorf("procs:%d: duplicate pid %d", lineno, pid)
		}
		seen[pid] = true
		var kernel bool
		switch f[1] {
		case "kernel":
			kernel = true
		case "user":
		default:
			return fmt.Errorf("procs:%d: bad kind %q", lineno, f[1])
		}
		if s.Programs[f[2]] == nil {
			return fmt.Errorf("procs:%d: no program %s", lineno, f[2])
		}
		s.Procs = append(s.Procs, Proc{Pid: pid, Kernel: kernel, Prog: f[2]})
	}
	if len(s.Procs) == 0 {
		return fmt.Errorf("procs: no processes")
	}
	return sc.Err()
}
