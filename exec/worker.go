// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"encoding/gob"
	"fmt"
	"runtime"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigsum"
	"github.com/grailbio/bigsum/stats"
)

func init() {
	gob.Register(&worker{})
}

// allocRequest asks a worker to reserve regions for a set of groups.
type allocRequest struct {
	// Groups are the IDs of the groups to allocate.
	Groups []int
	// Capacity is the capacity of each region, in words.
	Capacity int
}

// loadRequest carries a buffer, in wire layout, to be copied into
// the regions of a set of groups.
type loadRequest struct {
	Groups []int
	Words  []uint32
	// Digest is the sender's digest of Words.
	Digest uint64
}

// launchRequest asks a worker to run the lanes of a set of groups.
type launchRequest struct {
	Groups       []int
	Lanes, Block int
}

// A worker is the bigmachine service that hosts compute groups. Each
// group owns a region, allocated once, into which buffers are loaded
// and over which the group's lanes run.
type worker struct {
	// Exported just satisfies gob's persnickety nature: we need at least
	// one exported field.
	Exported struct{}

	mu       sync.Mutex
	regions  map[int]*region
	capacity int
	limiter  *limiter.Limiter
	stats    *stats.Map
}

func (w *worker) Init(b *bigmachine.B) error {
	w.regions = make(map[int]*region)
	w.stats = stats.NewMap()
	w.limiter = limiter.New()
	procs := b.System().Maxprocs()
	if procs == 0 {
		procs = runtime.GOMAXPROCS(0)
	}
	w.limiter.Release(procs)
	return nil
}

func (w *worker) region(id int) (*region, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.regions[id]
	if !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("group %d is not allocated", id))
	}
	return r, nil
}

// Alloc reserves a region for each requested group. Allocating a
// group that already has a region is a no-op.
func (w *worker) Alloc(ctx context.Context, req allocRequest, _ *struct{}) error {
	if req.Capacity <= bigsum.HeaderWords {
		return errors.E(errors.Invalid, fmt.Sprintf("alloc: invalid capacity %d", req.Capacity))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.capacity = req.Capacity
	for _, id := range req.Groups {
		if _, ok := w.regions[id]; !ok {
			w.regions[id] = new(region)
		}
	}
	w.stats.Int("groups").Set(int64(len(w.regions)))
	return nil
}

// Load verifies the transferred words against the request's digest
// and copies them into the region of every requested group. Load
// replies with the digest of the words as stored.
func (w *worker) Load(ctx context.Context, req loadRequest, reply *uint64) error {
	if got := bigsum.Digest(req.Words); got != req.Digest {
		return errors.E(errors.Integrity,
			fmt.Sprintf("load: digest mismatch: got %016x, want %016x", got, req.Digest))
	}
	if _, err := bigsum.DecodeBuffer(req.Words); err != nil {
		return err
	}
	w.mu.Lock()
	capacity := w.capacity
	w.mu.Unlock()
	var stored uint64
	for i, id := range req.Groups {
		r, err := w.region(id)
		if err != nil {
			return err
		}
		if err := r.load(req.Words, capacity); err != nil {
			return err
		}
		if i == 0 {
			stored = bigsum.Digest(r.words)
		}
		w.stats.Int("loads").Add(1)
		w.stats.Int("words").Add(int64(len(req.Words)))
	}
	*reply = stored
	return nil
}

// Launch runs the lanes of every requested group and returns when all
// of them have finished. Up to Maxprocs groups run at once.
func (w *worker) Launch(ctx context.Context, req launchRequest, _ *struct{}) error {
	return traverse.Each(len(req.Groups), func(i int) error {
		id := req.Groups[i]
		r, err := w.region(id)
		if err != nil {
			return err
		}
		if err := w.limiter.Acquire(ctx, 1); err != nil {
			return err
		}
		defer w.limiter.Release(1)
		if err := bigsum.Compute(&r.results, r.words, req.Lanes, req.Block); err != nil {
			log.Error.Printf("worker: group %d: %v", id, err)
			return errors.E(fmt.Sprintf("group %d", id), err)
		}
		w.stats.Int("launches").Add(1)
		w.stats.Int("lanes").Add(int64(r.results.Active))
		return nil
	})
}

// Collect returns the result set of a group.
func (w *worker) Collect(ctx context.Context, id int, rs *bigsum.ResultSet) error {
	r, err := w.region(id)
	if err != nil {
		return err
	}
	*rs = r.results
	return nil
}

// Free releases the regions of the requested groups.
func (w *worker) Free(ctx context.Context, ids []int, _ *struct{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range ids {
		delete(w.regions, id)
	}
	w.stats.Int("groups").Set(int64(len(w.regions)))
	return nil
}

// Stats returns the worker's counters.
func (w *worker) Stats(ctx context.Context, _ struct{}, values *stats.Values) error {
	if *values == nil {
		*values = make(stats.Values)
	}
	w.stats.AddAll(*values)
	return nil
}
