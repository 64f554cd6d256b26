// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bigsum"
	"github.com/grailbio/bigsum/checksum"
)

// run performs one validation run. The returned report is never nil.
func (s *Session) run(ctx context.Context, pattern Pattern, buffers []bigsum.Buffer) (report *Report, err error) {
	report = &Report{
		ID:      uuid.New().String(),
		Pattern: pattern,
		Lanes:   s.lanes,
		State:   RunIdle,
	}
	start := time.Now()
	var task *status.Task
	if s.status != nil {
		task = s.status.Group("bigsum runs").Startf("run %s", report.ID[:8])
	}
	defer func() {
		report.Duration = time.Since(start)
		var errString string
		if err != nil {
			errString = err.Error()
		}
		s.eventer.Event("bigsum:runDone",
			"runID", report.ID,
			"pattern", pattern.String(),
			"n", report.N,
			"state", report.State.String(),
			"mismatches", len(report.Mismatches),
			"duration", report.Duration.Seconds(),
			"error", errString)
		if task != nil {
			if err != nil {
				task.Printf("%s: error: %v", report.State, err)
			} else {
				task.Print(report)
			}
			task.Done()
		}
	}()
	if err = checkBuffers(pattern, buffers, len(s.all), s.capacity); err != nil {
		return
	}
	report.N = buffers[0].Len()
	report.State = RunBuffersGenerated
	s.eventer.Event("bigsum:runStart",
		"runID", report.ID,
		"pattern", pattern.String(),
		"n", report.N)

	if err = s.allocate(ctx); err != nil {
		return
	}
	end := s.tracer.Span(report.ID, "distribute", "pattern", pattern.String(), "n", report.N)
	err = s.distribute(ctx, pattern, buffers)
	end()
	if err != nil {
		return
	}
	report.State = RunDistributed

	if err = ctx.Err(); err != nil {
		return
	}
	end = s.tracer.Span(report.ID, "launch", "lanes", s.lanes)
	err = transportError("launch", s.executor.Launch(ctx, s.all))
	end()
	if err != nil {
		return
	}
	report.State = RunLaunched

	end = s.tracer.Span(report.ID, "collect")
	results := make([]*bigsum.ResultSet, len(s.all))
	err = traverse.Limit(s.p).Each(len(s.all), func(i int) error {
		rs, err := s.executor.Collect(ctx, s.all[i])
		if err != nil {
			return transportError(fmt.Sprintf("collect group %d", i), err)
		}
		if err := rs.Validate(); err != nil {
			return errors.E(fmt.Sprintf("collect group %d", i), err)
		}
		results[i] = rs
		return nil
	})
	end()
	if err != nil {
		return
	}
	report.State = RunResultsCollected

	end = s.tracer.Span(report.ID, "compare")
	defer end()

	report.Checksums = make([]checksum.State, len(results))
	for i, rs := range results {
		report.Checksums[i] = rs.Reduce()
	}
	refs := make([]checksum.State, len(buffers))
	for i := range buffers {
		refs[i] = bigsum.Reference(buffers[i])
	}
	for i, g := range s.all {
		expected := refs[0]
		if pattern == Scatter {
			expected = refs[i]
		}
		if actual := report.Checksums[i]; actual != expected {
			m := Mismatch{
				Group:    g.ID,
				Machine:  g.Machine,
				Slot:     g.Slot,
				Expected: expected,
				Actual:   actual,
			}
			log.Error.Printf("bigsum: run %s: %s", report.ID, m)
			report.Mismatches = append(report.Mismatches, m)
		}
	}
	report.State = RunCompared
	if len(report.Mismatches) == 0 {
		log.Printf("bigsum: run %s: %d groups agree", report.ID, len(report.Checksums))
	}
	report.State = RunDone
	log.Printf("bigsum: %s", report)
	return
}

// distribute loads buffers into the session's groups. A broadcast
// buffer is handed to the executor once, for all groups; scattered
// buffers are loaded one group at a time, with up to s.p loads in
// flight.
func (s *Session) distribute(ctx context.Context, pattern Pattern, buffers []bigsum.Buffer) error {
	if pattern == Broadcast {
		log.Debug.Printf("bigsum: broadcasting %d elements to %d groups", buffers[0].Len(), len(s.all))
		return transportError("load", s.executor.Load(ctx, s.all, buffers[0]))
	}
	log.Debug.Printf("bigsum: scattering %d buffers", len(buffers))
	return traverse.Limit(s.p).Each(len(s.all), func(i int) error {
		err := s.executor.Load(ctx, s.all[i:i+1], buffers[i])
		return transportError(fmt.Sprintf("load group %d", i), err)
	})
}

// checkBuffers checks that buffers can be distributed to ngroups
// groups with regions of the given capacity according to pattern.
func checkBuffers(pattern Pattern, buffers []bigsum.Buffer, ngroups, capacity int) error {
	switch pattern {
	case Broadcast:
		if len(buffers) != 1 {
			return errors.E(errors.Invalid, fmt.Sprintf("exec.Run: broadcast requires 1 buffer, got %d", len(buffers)))
		}
	case Scatter:
		if len(buffers) != ngroups {
			return errors.E(errors.Invalid, fmt.Sprintf("exec.Run: scatter requires %d buffers, got %d", ngroups, len(buffers)))
		}
	default:
		return errors.E(errors.Invalid, fmt.Sprintf("exec.Run: invalid pattern %s", pattern))
	}
	for i, buf := range buffers {
		if words := buf.Len() + bigsum.HeaderWords; words > capacity {
			return errors.E(errors.Invalid,
				fmt.Sprintf("exec.Run: buffer %d: %d words exceed region capacity %d", i, words, capacity))
		}
	}
	return nil
}
