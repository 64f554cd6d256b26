// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigsum

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigsum/checksum"
	"golang.org/x/sync/errgroup"
)

// DefaultBlock is the default number of words staged by a lane at a
// time (256 bytes).
const DefaultBlock = 64

// A Lane computes the partial checksum of the indices assigned to it
// by a rake. A lane reads only its own blocks of the group's region
// and stages each block in a private cache before folding it.
type Lane struct {
	// ID is the lane's index in its group.
	ID int

	rake    Rake
	payload []uint32
	cache   []uint32
}

// NewLane returns lane id of the provided rake over the payload words
// of a loaded region. The lane allocates a cache of rake.Block words.
func NewLane(id int, rake Rake, payload []uint32) *Lane {
	return &Lane{
		ID:      id,
		rake:    rake,
		payload: payload,
		cache:   make([]uint32, rake.Block),
	}
}

// stage copies block b of the payload into the lane's cache and
// returns the staged words. Staging a block that was not assigned by
// the rake's bounds is a configuration error and panics.
func (l *Lane) stage(b Range) []uint32 {
	if b.Start < 0 || b.End > l.rake.N || b.End > len(l.payload) || b.Len() > len(l.cache) {
		panic(fmt.Sprintf("lane %d: block %s outside of region (n=%d, len=%d, cache=%d)",
			l.ID, b, l.rake.N, len(l.payload), len(l.cache)))
	}
	n := copy(l.cache, l.payload[b.Start:b.End])
	return l.cache[:n]
}

// Run folds every index assigned to the lane, using each element's
// global index, and returns the lane's partial result.
func (l *Lane) Run() PartialResult {
	sum := checksum.Init()
	l.rake.Each(l.ID, func(b Range) {
		for k, v := range l.stage(b) {
			sum = checksum.Update(sum, uint32(b.Start+k), v)
		}
	})
	return PartialResult{Lane: l.ID, Checksum: sum}
}

// Compute runs lanes lanes over region, which must be in buffer wire
// layout, and publishes their partial results into rs. Each lane runs
// in its own goroutine and writes only its own slot; rs.Active is set
// once all lanes have finished. Slots beyond the active count are
// left untouched.
//
// Compute returns an errors.Invalid error if the configuration is
// invalid. A lane that reads outside of its region fails the
// computation with a fatal error.
func Compute(rs *ResultSet, region []uint32, lanes, block int) error {
	if lanes < 1 || lanes > MaxLanes {
		return errors.E(errors.Invalid, fmt.Sprintf("bigsum.Compute: lane count %d out of range [1, %d]", lanes, MaxLanes))
	}
	buf, err := DecodeBuffer(region)
	if err != nil {
		return err
	}
	rake := Rake{N: buf.Len(), Lanes: lanes, Block: block}
	if err := rake.Validate(); err != nil {
		return err
	}
	payload := region[HeaderWords:]
	var g errgroup.Group
	for i := 0; i < lanes; i++ {
		lane := NewLane(i, rake, payload)
		g.Go(func() (err error) {
			defer func() {
				if e := recover(); e != nil {
					err = errors.E(errors.Fatal, errors.Invalid, fmt.Sprint(e))
				}
			}()
			rs.Slots[lane.ID] = lane.Run()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	rs.Active = lanes
	return nil
}
