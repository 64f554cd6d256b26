// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sumtest provides utilities for testing validation sessions
// and executors. The utilities here are intended for unit tests only.
package sumtest

import (
	"context"
	"math/rand"
	"testing"

	"github.com/grailbio/bigsum"
	"github.com/grailbio/bigsum/exec"
)

// Buffers returns k buffers of n pseudo-random elements, each of the
// given capacity, generated deterministically from seed. Buffers
// panics if n elements do not fit.
func Buffers(seed int64, k, n, capacity int) []bigsum.Buffer {
	r := rand.New(rand.NewSource(seed))
	bufs := make([]bigsum.Buffer, k)
	for i := range bufs {
		var err error
		bufs[i], err = bigsum.Generate(r, n, capacity)
		if err != nil {
			panic(err)
		}
	}
	return bufs
}

// Start starts a small session with the local executor: 4 groups of
// 3 lanes, with regions of 64K words. The provided options are
// applied after the defaults. The caller must shut down the session.
func Start(t *testing.T, opts ...exec.Option) *exec.Session {
	t.Helper()
	defaults := []exec.Option{
		exec.Local,
		exec.Groups(4),
		exec.Lanes(3),
		exec.Capacity(1 << 16),
		exec.Seed(1),
		exec.Parallelism(2),
	}
	return exec.Start(append(defaults, opts...)...)
}

// Run performs a run on sess, failing t if the run returns an error.
func Run(t *testing.T, sess *exec.Session, pattern exec.Pattern, bufs []bigsum.Buffer) *exec.Report {
	t.Helper()
	report, err := sess.Run(context.Background(), pattern, bufs)
	if err != nil {
		t.Fatalf("%s run: %v", pattern, err)
	}
	return report
}

// Corrupt is an executor that flips bit Bit of the partial result of
// lane Lane in group Group whenever that group's result set is
// collected. All other operations are delegated to the underlying
// executor.
type Corrupt struct {
	exec.Executor
	Group, Lane int
	Bit         uint
}

// Collect collects the group's result set from the underlying
// executor, corrupting it if it belongs to c.Group.
func (c *Corrupt) Collect(ctx context.Context, g *exec.Group) (*bigsum.ResultSet, error) {
	rs, err := c.Executor.Collect(ctx, g)
	if err != nil || g.ID != c.Group {
		return rs, err
	}
	rs.Slots[c.Lane].Checksum ^= 1 << c.Bit
	return rs, nil
}
