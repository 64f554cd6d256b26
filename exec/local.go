// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bigsum"
	"github.com/grailbio/bigsum/stats"
)

// localExecutor is an executor that hosts groups in-process. Each
// group's region is a private copy of the buffer loaded into it, and
// each group's lanes run in separate goroutines.
type localExecutor struct {
	mu      sync.Mutex
	regions map[*Group]*region
	limiter *limiter.Limiter
	stats   *stats.Map
	sess    *Session
}

// A region is a group's memory: the words of the loaded buffer and
// the result set published by the group's lanes.
type region struct {
	words   []uint32
	results bigsum.ResultSet
}

// load copies words into the region, growing it up to capacity words.
func (r *region) load(words []uint32, capacity int) error {
	if len(words) > capacity {
		return errors.E(errors.Invalid,
			fmt.Sprintf("load: %d words exceed region capacity %d", len(words), capacity))
	}
	if cap(r.words) < len(words) {
		r.words = make([]uint32, len(words))
	}
	r.words = r.words[:len(words)]
	copy(r.words, words)
	return nil
}

func newLocalExecutor() *localExecutor {
	return &localExecutor{
		regions: make(map[*Group]*region),
		limiter: limiter.New(),
		stats:   stats.NewMap(),
	}
}

func (*localExecutor) Name() string {
	return "local"
}

func (l *localExecutor) Start(sess *Session) (shutdown func()) {
	l.sess = sess
	l.limiter.Release(sess.p)
	return func() {}
}

func (l *localExecutor) Alloc(ctx context.Context, groups []*Group) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, g := range groups {
		if _, ok := l.regions[g]; ok {
			return errors.E(errors.Precondition, fmt.Sprintf("alloc: group %d already allocated", g.ID))
		}
		l.regions[g] = new(region)
		g.Set(GroupAllocated)
	}
	return nil
}

func (l *localExecutor) region(g *Group) (*region, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.regions[g]
	if !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("group %d is not allocated", g.ID))
	}
	return r, nil
}

func (l *localExecutor) Load(ctx context.Context, groups []*Group, buf bigsum.Buffer) error {
	words := buf.Words()
	for _, g := range groups {
		r, err := l.region(g)
		if err != nil {
			return err
		}
		if err := r.load(words, l.sess.capacity); err != nil {
			g.Error(err)
			return err
		}
		g.Loaded(buf.Len())
		l.stats.Int("loads").Add(1)
		l.stats.Int("words").Add(int64(len(words)))
	}
	return nil
}

func (l *localExecutor) Launch(ctx context.Context, groups []*Group) error {
	return traverse.Each(len(groups), func(i int) error {
		g := groups[i]
		r, err := l.region(g)
		if err != nil {
			return err
		}
		if state := g.State(); state != GroupLoaded {
			err := errors.E(errors.Precondition, fmt.Sprintf("launch: group %d is %s", g.ID, state))
			g.Error(err)
			return err
		}
		if err := l.limiter.Acquire(ctx, 1); err != nil {
			return err
		}
		defer l.limiter.Release(1)
		g.Set(GroupRunning)
		if err := bigsum.Compute(&r.results, r.words, l.sess.lanes, l.sess.block); err != nil {
			log.Error.Printf("exec.Local: group %d: %v", g.ID, err)
			g.Error(err)
			return err
		}
		l.stats.Int("launches").Add(1)
		l.stats.Int("lanes").Add(int64(r.results.Active))
		g.Set(GroupOk)
		return nil
	})
}

func (l *localExecutor) Collect(ctx context.Context, g *Group) (*bigsum.ResultSet, error) {
	r, err := l.region(g)
	if err != nil {
		return nil, err
	}
	if state := g.State(); state != GroupOk {
		return nil, errors.E(errors.Precondition, fmt.Sprintf("collect: group %d is %s", g.ID, state))
	}
	rs := r.results
	return &rs, nil
}

func (l *localExecutor) Free(ctx context.Context, groups []*Group) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, g := range groups {
		delete(l.regions, g)
		g.Set(GroupFreed)
	}
	return nil
}

func (l *localExecutor) HandleDebug(handler *http.ServeMux) {
	handler.HandleFunc("/debug/bigsum/stats", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, l.stats.Snapshot())
	})
}

// NewLocalExecutor returns a new local executor. It is used with
// Using to wrap the local executor.
func NewLocalExecutor() Executor {
	return newLocalExecutor()
}
