// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGroupPlacement(t *testing.T) {
	for _, c := range []struct {
		id, perMachine, machine, slot int
	}{
		{0, 64, 0, 0},
		{63, 64, 0, 63},
		{64, 64, 1, 0},
		{130, 64, 2, 2},
		{5, 2, 2, 1},
	} {
		g := newGroup(c.id, c.perMachine)
		if got, want := g.Machine, c.machine; got != want {
			t.Errorf("group %d: got machine %v, want %v", c.id, got, want)
		}
		if got, want := g.Slot, c.slot; got != want {
			t.Errorf("group %d: got slot %v, want %v", c.id, got, want)
		}
	}
}

func TestGroupState(t *testing.T) {
	g := newGroup(3, 2)
	if got, want := g.String(), "group 3 (machine 1, slot 1) INIT"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	g.Set(GroupAllocated)
	g.Loaded(10)
	if got, want := g.State(), GroupLoaded; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := g.Len(), 10; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	err := errors.New("lost machine")
	g.Error(err)
	if got, want := g.Err(), err; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := g.String(), "group 3 (machine 1, slot 1) ERROR: lost machine"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	g.Loaded(5)
	if err := g.Err(); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestGroupWaitState(t *testing.T) {
	g := newGroup(0, 1)
	go func() {
		for _, state := range []GroupState{GroupAllocated, GroupLoaded, GroupRunning, GroupOk} {
			time.Sleep(time.Millisecond)
			g.Set(state)
		}
	}()
	state, err := g.WaitState(context.Background(), GroupOk)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := state, GroupOk; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	state, err = g.WaitState(ctx, GroupFreed)
	if got, want := err, context.DeadlineExceeded; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := state, GroupOk; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
