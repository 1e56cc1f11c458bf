// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package earth

// A Timer is the machine timer of every hart. Time is counted in
// instructions the hart has executed; each hart has its own clock
// and its own deadline.
//
// Only the hart itself touches its clock, so there is no locking.
type Timer struct {
	quantum int64
	now     []int64
	next    []int64
}

// NewTimer returns timers for harts 0..nhart-1, all due at once.
func NewTimer(nhart, quantum int) *Timer {
	return &Timer{
		quantum: int64(quantum),
		now:     make([]int64, nhart),
		next:    make([]int64, nhart),
	}
}

// Now returns the clock of hart.
func (t *Timer) Now(hart int) int64 { return t.now[hart] }

// Tick advances the clock of hart by one instruction.
func (t *Timer) Tick(hart int) { t.now[hart]++ }

// Due reports whether hart has a timer interrupt pending.
func (t *Timer) Due(hart int) bool { return t.now[hart] >= t.next[hart] }

// Reset sets the next interrupt of hart one quantum from now.
func (t *Timer) Reset(hart int) { t.next[hart] = t.now[hart] + t.quantum }

// Skip advances an idle hart to its next interrupt and returns
// the time skipped.
func (t *Timer) Skip(hart int) int64 {
	d := t.next[hart] - t.now[hart]
	if d < 0 {
		d = 0
	}
	t.now[hart] += d
	return d
}
