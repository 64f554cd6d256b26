// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigsum/checksum"
)

// Pattern is a distribution pattern: the way in which a run's
// buffers are assigned to compute groups.
type Pattern int

const (
	// Scatter assigns buffer i to group i. A scatter run requires
	// exactly one buffer per group.
	Scatter Pattern = iota
	// Broadcast loads an identical copy of a single buffer into every
	// group.
	Broadcast
)

// String returns the pattern's name.
func (p Pattern) String() string {
	switch p {
	case Scatter:
		return "scatter"
	case Broadcast:
		return "broadcast"
	default:
		return fmt.Sprintf("Pattern(%d)", int(p))
	}
}

// RunState is the state of a single validation run. A run advances
// through the states in order; a run that fails stays in the last
// state it reached.
type RunState int

const (
	RunIdle RunState = iota
	RunBuffersGenerated
	RunDistributed
	RunLaunched
	RunResultsCollected
	RunCompared
	RunDone
)

var runStates = [...]string{
	RunIdle:             "idle",
	RunBuffersGenerated: "buffers-generated",
	RunDistributed:      "distributed",
	RunLaunched:         "launched",
	RunResultsCollected: "results-collected",
	RunCompared:         "compared",
	RunDone:             "done",
}

func (s RunState) String() string {
	if s < 0 || int(s) >= len(runStates) {
		return fmt.Sprintf("RunState(%d)", int(s))
	}
	return runStates[s]
}

// A Mismatch records a compute group whose reduced checksum
// disagreed with the reference checksum of the buffer it was given.
type Mismatch struct {
	// Group is the ID of the offending group.
	Group int
	// Machine and Slot locate the group.
	Machine, Slot int
	// Expected is the reference checksum.
	Expected checksum.State
	// Actual is the checksum reduced from the group's partial results.
	Actual checksum.State
}

func (m Mismatch) String() string {
	return fmt.Sprintf("mismatch for group %d (machine %d, slot %d): expected=%#08x got=%#08x",
		m.Group, m.Machine, m.Slot, uint32(m.Expected), uint32(m.Actual))
}

// A Report is the outcome of a validation run.
type Report struct {
	// ID uniquely identifies the run.
	ID string
	// Pattern is the distribution pattern of the run.
	Pattern Pattern
	// N is the number of elements in the run's buffers. For scatter
	// runs with buffers of unequal lengths, N is the length of the
	// first buffer.
	N int
	// Lanes is the number of lanes per group.
	Lanes int
	// State is the last state reached by the run.
	State RunState
	// Checksums holds the reduced checksum of each group, indexed by
	// group ID. It is populated once results are collected.
	Checksums []checksum.State
	// Mismatches lists the groups whose checksums disagreed with
	// their reference, in group order.
	Mismatches []Mismatch
	// Duration is the wall time of the run.
	Duration time.Duration
}

// OK tells whether the run completed without mismatches.
func (r *Report) OK() bool {
	return r.State == RunDone && len(r.Mismatches) == 0
}

// Err returns an errors.Integrity error if the run recorded any
// mismatches.
func (r *Report) Err() error {
	if len(r.Mismatches) == 0 {
		return nil
	}
	return errors.E(errors.Integrity,
		fmt.Sprintf("run %s: %d of %d groups mismatched", r.ID, len(r.Mismatches), len(r.Checksums)))
}

// String returns the run's one-line verdict.
func (r *Report) String() string {
	verdict := "[OK]"
	switch {
	case len(r.Mismatches) > 0:
		verdict = fmt.Sprintf("[MISMATCHES: %d]", len(r.Mismatches))
	case r.State != RunDone:
		verdict = fmt.Sprintf("[ABORTED: %s]", r.State)
	}
	return fmt.Sprintf("run n=%d pattern=%s groups=%d lanes=%d %s",
		r.N, r.Pattern, len(r.Checksums), r.Lanes, verdict)
}
