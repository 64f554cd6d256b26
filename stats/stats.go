// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stats maintains named counters for executors and their
// workers. Counters are kept in a Map; snapshots of maps are Values,
// which may be merged to aggregate counts across machines.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Values is a snapshot of a set of counters.
type Values map[string]int64

// Merge adds the counts in w to v.
func (v Values) Merge(w Values) {
	for k, n := range w {
		v[k] += n
	}
}

// Copy returns a copy of v.
func (v Values) Copy() Values {
	w := make(Values, len(v))
	w.Merge(v)
	return w
}

// String renders the snapshot as space-separated key:value pairs,
// ordered by key.
func (v Values) String() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		keys[i] = fmt.Sprintf("%s:%d", k, v[k])
	}
	return strings.Join(keys, " ")
}

// A Map is a set of named counters.
type Map struct {
	mu       sync.Mutex
	counters map[string]*Int
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{counters: make(map[string]*Int)}
}

// Int returns the named counter, creating it if needed.
func (m *Map) Int(name string) *Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[name]
	if !ok {
		c = new(Int)
		m.counters[name] = c
	}
	return c
}

// AddAll adds the current value of every counter in m to vals.
func (m *Map) AddAll(vals Values) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.counters {
		vals[name] += c.Get()
	}
}

// Snapshot returns the current values of m's counters.
func (m *Map) Snapshot() Values {
	vals := make(Values)
	m.AddAll(vals)
	return vals
}

// An Int is an atomic integer counter. The zero Int is ready to use;
// operations on a nil Int are no-ops.
type Int struct {
	n int64
}

// Add adds delta to the counter.
func (c *Int) Add(delta int64) {
	if c != nil {
		atomic.AddInt64(&c.n, delta)
	}
}

// Set sets the counter to n.
func (c *Int) Set(n int64) {
	if c != nil {
		atomic.StoreInt64(&c.n, n)
	}
}

// Get returns the counter's value.
func (c *Int) Get() int64 {
	if c == nil {
		return 0
	}
	return atomic.LoadInt64(&c.n)
}
