// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package earth

import (
	"fmt"
	"strconv"

	"rsc.io/egos/rv32"
)

// Config describes the simulated machine.
// Zero fields take their defaults.
type Config struct {
	Platform  string // "qemu" or "arty"
	NCores    int    // harts running the kernel
	Quantum   int    // instructions between timer interrupts
	MaxSteps  int    // stop after this many instructions; 0 for no limit
	UserStart int    // first user pid; 0 for the kernel default
	Trace     bool   // log every kernel entry
}

func (c Config) withDefaults() Config {
	if c.Platform == "" {
		c.Platform = rv32.QEMU.Name()
	}
	if c.NCores <= 0 {
		c.NCores = 1
	}
	if c.Quantum <= 0 {
		c.Quantum = 3
	}
	return c
}

// Set sets the configuration field named key from its text form,
// as written in a scenario header or on the command line.
func (c *Config) Set(key, value string) error {
	switch key {
	case "platform":
		if _, err := rv32.Lookup(value); err != nil {
			return err
		}
		c.Platform = value
		return nil
	case "trace":
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("trace: %v", err)
		}
		c.Trace = b
		return nil
	}

	var p *int
	switch key {
	case "ncores":
		p = &c.NCores
	case "quantum":
		p = &c.Quantum
	case "maxsteps":
		p = &c.MaxSteps
	case "userstart":
		p = &c.UserStart
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("%s: bad value %q", key, value)
	}
	*p = n
	return nil
}

func parseBool(s string) (bool, error) {
	switch s {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(s)
}
