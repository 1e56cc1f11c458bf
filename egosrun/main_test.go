// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"flag"
	"testing"

	"rsc.io/egos/earth"
)

func TestOverride(t *testing.T) {
	base := earth.Config{Platform: "arty", NCores: 2, Quantum: 5, Trace: true}
	if cfg := override(base); cfg != base {
		t.Fatalf("override with no flags = %+v, want %+v", cfg, base)
	}

	for _, kv := range [][2]string{{"ncores", "3"}, {"maxsteps", "500"}, {"trace", "false"}} {
		if err := flag.Set(kv[0], kv[1]); err != nil {
			t.Fatal(err)
		}
	}
	want := earth.Config{Platform: "arty", NCores: 3, Quantum: 5, MaxSteps: 500}
	if cfg := override(base); cfg != want {
		t.Errorf("override = %+v, want %+v", cfg, want)
	}
}

func TestCRLF(t *testing.T) {
	var buf bytes.Buffer
	n, err := crlf{&buf}.Write([]byte("a\nb\n"))
	if n != 4 || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if buf.String() != "a\r\nb\r\n" {
		t.Errorf("wrote %q", buf.String())
	}
}
