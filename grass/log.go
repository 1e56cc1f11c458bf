// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grass

import (
	"io"

	"github.com/hashicorp/go-hclog"
)

// NewLogger returns the logger used for kernel reports.
// With trace set, every kernel entry and context switch is logged.
func NewLogger(w io.Writer, color, trace bool) hclog.Logger {
	opts := &hclog.LoggerOptions{
		Name:        "grass",
		Level:       hclog.Info,
		Output:      w,
		DisableTime: true,
		Color:       hclog.ColorOff,
	}
	if trace {
		opts.Level = hclog.Trace
	}
	if color {
		opts.Color = hclog.ForceColor
	}
	return hclog.New(opts)
}

// fatal reports err and halts the kernel.
// The kernel lock may or may not be held.
func (t *trap) fatal(err error) {
	h := &Halt{Hart: t.hart, Err: err}
	t.k.log.Error("FATAL", "hart", t.hart, "err", err)
	panic(h)
}
