// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/base/status"
	"github.com/grailbio/base/sync/once"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigsum"
	"github.com/grailbio/bigsum/stats"
	"golang.org/x/sync/errgroup"
)

// retryPolicy is the policy used to retry machine start-up.
var retryPolicy = retry.Backoff(time.Second, 5*time.Second, 1.5)

// maxStartAttempts is the number of times the executor attempts to
// start its machines before giving up.
const maxStartAttempts = 3

// bigmachineExecutor is an executor that hosts groups on bigmachine
// machines. Each machine runs a worker service which hosts
// GroupsPerMachine consecutive groups.
type bigmachineExecutor struct {
	system bigmachine.System
	params []bigmachine.Param

	sess   *Session
	b      *bigmachine.B
	status *status.Group

	allocs once.Map

	mu       sync.Mutex
	machines []*sumMachine
}

func newBigmachineExecutor(system bigmachine.System, params ...bigmachine.Param) *bigmachineExecutor {
	return &bigmachineExecutor{system: system, params: params}
}

func (b *bigmachineExecutor) Name() string {
	return "bigmachine:" + b.system.Name()
}

// Start starts the underlying bigmachine. Machines are started when
// groups are allocated.
func (b *bigmachineExecutor) Start(sess *Session) (shutdown func()) {
	b.sess = sess
	b.b = bigmachine.Start(b.system)
	if status := sess.Status(); status != nil {
		b.status = status.Group("bigmachine")
	}
	return b.b.Shutdown
}

// start starts n machines indexed from first, retrying with backoff
// if they fail to start.
func (b *bigmachineExecutor) start(ctx context.Context, first, n int) ([]*sumMachine, error) {
	for attempt := 0; ; attempt++ {
		machines, err := startMachines(ctx, b.b, b.status, first, n, b.params...)
		if err == nil {
			return machines, nil
		}
		log.Error.Printf("exec.Bigmachine: attempt %d: failed to start %d machines: %v", attempt+1, n, err)
		if attempt+1 >= maxStartAttempts {
			return nil, err
		}
		if err := retry.Wait(ctx, retryPolicy, attempt); err != nil {
			return nil, err
		}
	}
}

// machine returns the machine that hosts group g.
func (b *bigmachineExecutor) machine(g *Group) (*sumMachine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g.Machine >= len(b.machines) {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("group %d: machine %d is not started", g.ID, g.Machine))
	}
	return b.machines[g.Machine], nil
}

// byMachine partitions groups by the machine that hosts them. The
// returned machine indices are sorted.
func byMachine(groups []*Group) ([]int, map[int][]*Group) {
	var (
		indices []int
		m       = make(map[int][]*Group)
	)
	for _, g := range groups {
		if _, ok := m[g.Machine]; !ok {
			indices = append(indices, g.Machine)
		}
		m[g.Machine] = append(m[g.Machine], g)
	}
	sort.Ints(indices)
	return indices, m
}

func groupIDs(groups []*Group) []int {
	ids := make([]int, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}
	return ids
}

func (b *bigmachineExecutor) Alloc(ctx context.Context, groups []*Group) error {
	indices, hosted := byMachine(groups)
	if len(indices) == 0 {
		return nil
	}
	n := indices[len(indices)-1] + 1
	b.mu.Lock()
	started := len(b.machines)
	b.mu.Unlock()
	if started < n {
		log.Printf("exec.Bigmachine: starting %d machines for %d groups", n-started, len(groups))
		machines, err := b.start(ctx, started, n-started)
		if err != nil {
			return err
		}
		b.mu.Lock()
		b.machines = append(b.machines, machines...)
		b.mu.Unlock()
	}
	return traverse.Each(len(indices), func(i int) error {
		index := indices[i]
		return b.allocs.Do(index, func() error {
			m, err := b.machine(hosted[index][0])
			if err != nil {
				return err
			}
			req := allocRequest{Groups: groupIDs(hosted[index]), Capacity: b.sess.capacity}
			if err := m.RetryCall(ctx, "Worker.Alloc", req, nil); err != nil {
				return errors.E(fmt.Sprintf("%s: alloc", m), err)
			}
			for _, g := range hosted[index] {
				g.Set(GroupAllocated)
			}
			log.Debug.Printf("%s: allocated %d groups of %s", m, len(req.Groups), data.Size(4*req.Capacity))
			return nil
		})
	})
}

// Load transfers buf once to each machine hosting one of the groups;
// the machine's worker copies it into the regions of its groups.
// Transfers to different machines proceed concurrently.
func (b *bigmachineExecutor) Load(ctx context.Context, groups []*Group, buf bigsum.Buffer) error {
	indices, hosted := byMachine(groups)
	words, digest := buf.Words(), buf.Digest()
	return traverse.Limit(b.sess.p).Each(len(indices), func(i int) error {
		groups := hosted[indices[i]]
		m, err := b.machine(groups[0])
		if err != nil {
			return err
		}
		req := loadRequest{Groups: groupIDs(groups), Words: words, Digest: digest}
		var stored uint64
		err = m.RetryCall(ctx, "Worker.Load", req, &stored)
		if err == nil && stored != digest {
			err = errors.E(errors.Integrity,
				fmt.Sprintf("stored digest %016x does not match %016x", stored, digest))
		}
		if err != nil {
			err = errors.E(fmt.Sprintf("%s: load", m), err)
			for _, g := range groups {
				g.Error(err)
			}
			return err
		}
		for _, g := range groups {
			g.Loaded(buf.Len())
		}
		return nil
	})
}

// Launch launches the groups on each machine concurrently, and
// returns when every machine has reported completion. Launches are not
// retried.
func (b *bigmachineExecutor) Launch(ctx context.Context, groups []*Group) error {
	indices, hosted := byMachine(groups)
	var eg errgroup.Group
	for _, index := range indices {
		groups := hosted[index]
		eg.Go(func() error {
			m, err := b.machine(groups[0])
			if err != nil {
				return err
			}
			for _, g := range groups {
				if state := g.State(); state != GroupLoaded {
					err := errors.E(errors.Precondition, fmt.Sprintf("launch: group %d is %s", g.ID, state))
					g.Error(err)
					return err
				}
				g.Set(GroupRunning)
			}
			req := launchRequest{Groups: groupIDs(groups), Lanes: b.sess.lanes, Block: b.sess.block}
			if err := m.Call(ctx, "Worker.Launch", req, nil); err != nil {
				err = errors.E(fmt.Sprintf("%s: launch", m), err)
				for _, g := range groups {
					g.Error(err)
				}
				return err
			}
			for _, g := range groups {
				g.Set(GroupOk)
			}
			if _, err := m.UpdateStats(ctx); err != nil {
				log.Error.Printf("%s: stats: %v", m, err)
			}
			return nil
		})
	}
	err := eg.Wait()
	if b.status != nil {
		b.status.Print(b.stats())
	}
	return err
}

func (b *bigmachineExecutor) Collect(ctx context.Context, g *Group) (*bigsum.ResultSet, error) {
	if state := g.State(); state != GroupOk {
		return nil, errors.E(errors.Precondition, fmt.Sprintf("collect: group %d is %s", g.ID, state))
	}
	m, err := b.machine(g)
	if err != nil {
		return nil, err
	}
	rs := new(bigsum.ResultSet)
	if err := m.RetryCall(ctx, "Worker.Collect", g.ID, rs); err != nil {
		return nil, errors.E(fmt.Sprintf("%s: collect group %d", m, g.ID), err)
	}
	return rs, nil
}

func (b *bigmachineExecutor) Free(ctx context.Context, groups []*Group) error {
	indices, hosted := byMachine(groups)
	return traverse.Each(len(indices), func(i int) error {
		groups := hosted[indices[i]]
		m, err := b.machine(groups[0])
		if err != nil {
			return err
		}
		if err := m.RetryCall(ctx, "Worker.Free", groupIDs(groups), nil); err != nil {
			return errors.E(fmt.Sprintf("%s: free", m), err)
		}
		for _, g := range groups {
			g.Set(GroupFreed)
		}
		return nil
	})
}

// stats returns the aggregate of the most recently fetched worker
// counters.
func (b *bigmachineExecutor) stats() stats.Values {
	total := make(stats.Values)
	b.mu.Lock()
	for _, m := range b.machines {
		total.Merge(m.Stats())
	}
	b.mu.Unlock()
	return total
}

func (b *bigmachineExecutor) HandleDebug(handler *http.ServeMux) {
	b.b.HandleDebug(handler)
	handler.HandleFunc("/debug/bigsum/stats", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, b.stats())
	})
}
