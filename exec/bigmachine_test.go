// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"math/rand"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigmachine/testsystem"
	"github.com/grailbio/bigsum"
	"github.com/grailbio/bigsum/checksum"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func bigmachineTestExecutor(perMachine int) (exec *bigmachineExecutor, stop func()) {
	x := newBigmachineExecutor(testsystem.New())
	ctx, cancel := context.WithCancel(context.Background())
	shutdown := x.Start(&Session{
		Context:    ctx,
		p:          2,
		perMachine: perMachine,
		lanes:      3,
		block:      8,
		capacity:   1 << 12,
	})
	return x, func() {
		cancel()
		shutdown()
	}
}

func testGroups(n, perMachine int) []*Group {
	groups := make([]*Group, n)
	for i := range groups {
		groups[i] = newGroup(i, perMachine)
	}
	return groups
}

func TestBigmachineExecutor(t *testing.T) {
	x, stop := bigmachineTestExecutor(2)
	defer stop()
	ctx := context.Background()
	groups := testGroups(5, 2)

	assert.NoError(t, x.Alloc(ctx, groups))
	if got, want := len(x.machines), 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for _, g := range groups {
		expect.EQ(t, g.State(), GroupAllocated)
	}
	// Allocation is performed once per machine.
	assert.NoError(t, x.Alloc(ctx, groups))

	buf, err := bigsum.Generate(rand.New(rand.NewSource(1)), 1000, 1001)
	assert.NoError(t, err)
	assert.NoError(t, x.Load(ctx, groups, buf))
	for _, g := range groups {
		expect.EQ(t, g.State(), GroupLoaded)
		expect.EQ(t, g.Len(), 1000)
	}
	assert.NoError(t, x.Launch(ctx, groups))
	want := bigsum.Reference(buf)
	for _, g := range groups {
		expect.EQ(t, g.State(), GroupOk)
		rs, err := x.Collect(ctx, g)
		assert.NoError(t, err)
		expect.EQ(t, rs.Active, 3)
		expect.EQ(t, rs.Reduce(), want)
	}
	stats := x.stats()
	expect.EQ(t, stats["loads"], int64(5))
	expect.EQ(t, stats["launches"], int64(5))
	expect.EQ(t, stats["lanes"], int64(15))

	assert.NoError(t, x.Free(ctx, groups))
	for _, g := range groups {
		expect.EQ(t, g.State(), GroupFreed)
	}
}

func TestBigmachineExecutorPrecondition(t *testing.T) {
	x, stop := bigmachineTestExecutor(4)
	defer stop()
	ctx := context.Background()
	groups := testGroups(2, 4)
	assert.NoError(t, x.Alloc(ctx, groups))
	_, err := x.Collect(ctx, groups[0])
	expect.True(t, errors.Is(errors.Precondition, err))
	err = x.Launch(ctx, groups)
	expect.True(t, errors.Is(errors.Precondition, err))
	expect.EQ(t, groups[0].State(), GroupErr)
}

func TestBigmachineSession(t *testing.T) {
	sess := Start(
		Bigmachine(testsystem.New()),
		Groups(5),
		GroupsPerMachine(2),
		Lanes(4),
		Block(16),
		Capacity(1<<12),
		Parallelism(2),
		Seed(1),
	)
	defer sess.Shutdown()
	ctx := context.Background()
	bufs, err := sess.Generate(3000)
	assert.NoError(t, err)
	for _, pattern := range []Pattern{Scatter, Broadcast} {
		in := bufs
		if pattern == Broadcast {
			in = bufs[:1]
		}
		report, err := sess.Run(ctx, pattern, in)
		assert.NoError(t, err)
		if !report.OK() {
			t.Errorf("%s: %s", pattern, report)
		}
		for i, got := range report.Checksums {
			want := bigsum.Reference(in[0])
			if pattern == Scatter {
				want = bigsum.Reference(in[i])
			}
			if got != want {
				t.Errorf("%s: group %d: got %x, want %x", pattern, i, got, want)
			}
		}
	}
	expect.EQ(t, sess.Groups()[4].Machine, 2)
	expect.EQ(t, sess.Groups()[4].Slot, 0)
}

func TestWorker(t *testing.T) {
	b := bigmachine.Start(testsystem.New())
	defer b.Shutdown()
	ctx := context.Background()
	w := new(worker)
	assert.NoError(t, w.Init(b))
	assert.NoError(t, w.Alloc(ctx, allocRequest{Groups: []int{0, 1}, Capacity: 8}, nil))

	load := func(groups []int, words []uint32, digest uint64) (uint64, error) {
		var reply uint64
		err := w.Load(ctx, loadRequest{Groups: groups, Words: words, Digest: digest}, &reply)
		return reply, err
	}
	words := []uint32{3, 10, 20, 30}
	stored, err := load([]int{0, 1}, words, bigsum.Digest(words))
	assert.NoError(t, err)
	expect.EQ(t, stored, bigsum.Digest(words))

	assert.NoError(t, w.Launch(ctx, launchRequest{Groups: []int{0, 1}, Lanes: 3, Block: 1}, nil))
	for _, id := range []int{0, 1} {
		var rs bigsum.ResultSet
		assert.NoError(t, w.Collect(ctx, id, &rs))
		expect.EQ(t, rs.Active, 3)
		expect.EQ(t, rs.Reduce(), checksum.State(0xa40af676))
	}

	_, err = load([]int{0}, words, bigsum.Digest(words)+1)
	expect.True(t, errors.Is(errors.Integrity, err))

	long := make([]uint32, 9)
	long[0] = 8
	_, err = load([]int{0}, long, bigsum.Digest(long))
	expect.True(t, errors.Is(errors.Invalid, err))

	short := []uint32{5, 1, 2}
	_, err = load([]int{0}, short, bigsum.Digest(short))
	expect.True(t, errors.Is(errors.Invalid, err))

	_, err = load([]int{7}, words, bigsum.Digest(words))
	expect.True(t, errors.Is(errors.NotExist, err))

	assert.NoError(t, w.Free(ctx, []int{0, 1}, nil))
	var rs bigsum.ResultSet
	expect.True(t, errors.Is(errors.NotExist, w.Collect(ctx, 0, &rs)))
}
