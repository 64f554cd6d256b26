// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/status"
	"github.com/grailbio/bigsum/ctxsync"
)

// GroupState represents the runtime state of a compute group.
// GroupState values are defined so that their magnitudes correspond
// with the progression of a single run.
type GroupState int

const (
	// GroupInit is the state of a group that has not yet been
	// allocated by an executor.
	GroupInit GroupState = iota
	// GroupAllocated indicates that the executor has reserved the
	// group's region, but no buffer has been loaded into it.
	GroupAllocated
	// GroupLoaded indicates that a buffer has been loaded into the
	// group's region, and the group may be launched.
	GroupLoaded
	// GroupRunning is the state of a group whose lanes are running.
	GroupRunning
	// GroupOk indicates that the group's lanes have finished and its
	// result set may be collected. A group in state GroupOk may be
	// loaded again.
	GroupOk
	// GroupErr indicates that the group failed to load or run.
	GroupErr
	// GroupFreed indicates that the group's resources have been
	// released. Freed groups cannot be reused.
	GroupFreed
)

var groupStates = [...]string{
	GroupInit:      "INIT",
	GroupAllocated: "ALLOCATED",
	GroupLoaded:    "LOADED",
	GroupRunning:   "RUNNING",
	GroupOk:        "OK",
	GroupErr:       "ERROR",
	GroupFreed:     "FREED",
}

// String returns the group's state as an upper-case string.
func (s GroupState) String() string {
	if s < 0 || int(s) >= len(groupStates) {
		return fmt.Sprintf("GroupState(%d)", int(s))
	}
	return groupStates[s]
}

// A Group is a compute group: a set of identical lanes that share one
// region into which a buffer is loaded for each run. Groups are
// allocated once per session and may be loaded and launched
// repeatedly.
type Group struct {
	// ID is the group's index in the session.
	ID int
	// Machine is the index of the machine that hosts the group.
	Machine int
	// Slot is the group's index on its machine.
	Slot int

	// Status is used to report the group's status. It may be nil.
	Status *status.Task

	mu    sync.Mutex
	cond  *ctxsync.Cond
	state GroupState
	err   error
	n     int
}

func newGroup(id, perMachine int) *Group {
	g := &Group{
		ID:      id,
		Machine: id / perMachine,
		Slot:    id % perMachine,
	}
	g.cond = ctxsync.NewCond(&g.mu)
	return g
}

// String returns a short, human-readable description of the group
// and its state.
func (g *Group) String() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var b bytes.Buffer
	fmt.Fprintf(&b, "group %d (machine %d, slot %d) %s", g.ID, g.Machine, g.Slot, g.state)
	if g.err != nil {
		fmt.Fprintf(&b, ": %v", g.err)
	}
	return b.String()
}

// Set sets the group's state and notifies any waiters.
func (g *Group) Set(state GroupState) {
	g.mu.Lock()
	g.state = state
	if state != GroupErr {
		g.err = nil
	}
	g.cond.Broadcast()
	g.mu.Unlock()
	g.printf("%s", state)
}

// Loaded records that a buffer of n elements was loaded into the
// group.
func (g *Group) Loaded(n int) {
	g.mu.Lock()
	g.n = n
	g.mu.Unlock()
	g.Set(GroupLoaded)
}

// Len returns the number of elements in the buffer most recently
// loaded into the group.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Error sets the group's state to GroupErr with the provided error.
func (g *Group) Error(err error) {
	g.mu.Lock()
	g.state = GroupErr
	g.err = err
	g.cond.Broadcast()
	g.mu.Unlock()
	g.printf("error: %v", err)
}

// Err returns the group's error, if it is in state GroupErr.
func (g *Group) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == GroupErr {
		return g.err
	}
	return nil
}

// State returns the group's current state.
func (g *Group) State() GroupState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// WaitState returns when the group's state is at least the provided
// state, or else when the context is done.
func (g *Group) WaitState(ctx context.Context, state GroupState) (GroupState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	err := g.cond.Until(ctx, func() bool { return g.state >= state })
	return g.state, err
}

func (g *Group) printf(format string, args ...interface{}) {
	if g.Status != nil {
		g.Status.Printf(format, args...)
	}
}
