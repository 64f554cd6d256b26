// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package ctxsync provides a condition variable whose waits may be
// abandoned when a context is done.
package ctxsync

import (
	"context"
	"sync"
)

// A Cond is a condition variable associated with a Locker. Unlike
// sync.Cond, a waiter may give up when its context completes.
type Cond struct {
	l sync.Locker
	// ready is closed on the next broadcast. It is created lazily by
	// the first waiter.
	ready chan struct{}
}

// NewCond returns a new Cond guarded by l.
func NewCond(l sync.Locker) *Cond {
	return &Cond{l: l}
}

// Broadcast wakes all waiters. The cond's lock must be held.
func (c *Cond) Broadcast() {
	if c.ready == nil {
		return
	}
	close(c.ready)
	c.ready = nil
}

// Wait releases the cond's lock and blocks until the next Broadcast
// or until ctx is done, and then reacquires the lock. The lock must be
// held when calling Wait. Wait returns the context's error if the
// context completed first.
func (c *Cond) Wait(ctx context.Context) error {
	if c.ready == nil {
		c.ready = make(chan struct{})
	}
	ready := c.ready
	c.l.Unlock()
	defer c.l.Lock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Until waits on c until done returns true or ctx completes. Done is
// called with the cond's lock held, which must be held when calling
// Until.
func (c *Cond) Until(ctx context.Context, done func() bool) error {
	for !done() {
		if err := c.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
