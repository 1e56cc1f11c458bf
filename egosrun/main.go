// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Egosrun boots a scenario on the simulated egos machine.
//
// Usage:
//
//	egosrun [flags] scenario.txtar
//
// The scenario is a txtar archive as described in package earth.
// The -platform, -ncores, -quantum, -maxsteps, -userstart and -trace
// flags override the settings in the scenario header.
//
// With -step, the terminal is put in raw mode and every timer interrupt
// waits for a keypress. ^T prints the process table and ^\ exits.
//
// With -check, the console output is compared against the scenario's
// want file, and egosrun exits with status 1 if they differ.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime/pprof"
	"text/tabwriter"

	"golang.org/x/term"
	"rsc.io/egos/earth"
	"rsc.io/egos/grass"
)

var (
	platform   = flag.String("platform", "qemu", "boot on `board` qemu or arty")
	ncores     = flag.Int("ncores", 1, "run the kernel on `n` harts")
	quantum    = flag.Int("quantum", 3, "instructions between timer interrupts")
	maxsteps   = flag.Int("maxsteps", 0, "stop after `n` instructions (0 for no limit)")
	userstart  = flag.Int("userstart", grass.GPIDUserStart, "first user `pid`")
	trace      = flag.Bool("trace", false, "trace every kernel entry and instruction")
	step       = flag.Bool("step", false, "wait for a keypress at every timer interrupt")
	check      = flag.Bool("check", false, "compare console output with the scenario's want file")
	cpuprofile = flag.String("cpuprofile", "", "write cpuprofile to `file`")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: egosrun [flags] scenario.txtar\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.SetPrefix("egosrun: ")
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
	}

	s, err := earth.LoadScenario(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	cfg := override(s.Config)
	if *check && !s.HasWant {
		log.Fatalf("%s: -check: no want file", flag.Arg(0))
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	var (
		stdout io.Writer = os.Stdout
		stderr io.Writer = os.Stderr
		output bytes.Buffer
	)
	if *step {
		stdout, stderr = crlf{os.Stdout}, crlf{os.Stderr}
	}
	if *check {
		stdout = io.MultiWriter(stdout, &output)
	}

	color := term.IsTerminal(int(os.Stderr.Fd()))
	logger := grass.NewLogger(stderr, color, cfg.Trace)
	m, err := earth.New(cfg, stdout, logger)
	if err != nil {
		log.Fatal(err)
	}
	if err := m.Load(s); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if *step {
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			log.Fatal(err)
		}
		restore = func() { term.Restore(int(os.Stdin.Fd()), oldState) }
		defer restore()

		clock := make(chan struct{})
		m.Clock = clock
		go func() {
			buf := make([]byte, 100)
			for {
				n, err := os.Stdin.Read(buf)
				for _, c := range buf[:n] {
					switch c {
					case 0x1c, 0x03: // ^\, ^C
						exit(0)
					case 0x14: // ^T
						printProcs(stderr, m.Kernel(), max(cfg.NCores, 1))
					default:
						select {
						case clock <- struct{}{}:
						case <-ctx.Done():
							return
						}
					}
				}
				if err != nil {
					cancel()
					return
				}
			}
		}()
	}

	err = m.Run(ctx)
	var halt *grass.Halt
	switch {
	case err == nil:
	case errors.Is(err, earth.ErrStepLimit):
		log.Print(err)
	case errors.As(err, &halt):
		log.Printf("system halted: %v", halt)
		exit(1)
	default:
		log.Print(err)
		exit(1)
	}

	if *check && !bytes.Equal(output.Bytes(), s.Want) {
		log.Printf("output differs from want:\n%s", s.Want)
		exit(1)
	}
}

// override returns cfg with the settings given on the command line.
func override(cfg earth.Config) earth.Config {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "platform":
			cfg.Platform = *platform
		case "ncores":
			cfg.NCores = *ncores
		case "quantum":
			cfg.Quantum = *quantum
		case "maxsteps":
			cfg.MaxSteps = *maxsteps
		case "userstart":
			cfg.UserStart = *userstart
		case "trace":
			cfg.Trace = *trace
		}
	})
	return cfg
}

// restore puts the terminal back in cooked mode.
var restore = func() {}

// exit runs what main defers, which os.Exit would skip.
func exit(code int) {
	pprof.StopCPUProfile()
	restore()
	os.Exit(code)
}

// printProcs prints the process table and the pid running on each core.
func printProcs(w io.Writer, k *grass.Kernel, ncores int) {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "SLOT\tPID\tSTATUS\tSLEEP\tHART\n")
	for _, p := range k.Procs() {
		hart := "-"
		if p.Hart >= 0 {
			hart = fmt.Sprint(p.Hart)
		}
		fmt.Fprintf(tw, "%d\t%d\t%v\t%d\t%s\n", p.Slot, p.Pid, p.Status, p.Sleep, hart)
	}
	tw.Flush()
	fmt.Fprintf(w, "cores: %v\n", k.CoresInfo(ncores))
}

// crlf translates newlines for a terminal in raw mode.
type crlf struct {
	w io.Writer
}

func (c crlf) Write(b []byte) (int, error) {
	_, err := c.w.Write(bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n")))
	if err != nil {
		return 0, err
	}
	return len(b), nil
}
