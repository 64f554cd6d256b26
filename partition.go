// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigsum

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// A Range is the half-open index interval [Start, End).
type Range struct {
	Start, End int
}

// Len returns the number of indices in the range.
func (r Range) Len() int { return r.End - r.Start }

func (r Range) String() string { return fmt.Sprintf("[%d, %d)", r.Start, r.End) }

// A Rake assigns the indices [0, N) to Lanes lanes in blocks of Block
// consecutive indices, dealt round-robin: lane i is assigned the
// blocks beginning at i*Block, i*Block + Lanes*Block, and so on. The
// final block of a lane is truncated at N.
//
// For any valid rake, every index in [0, N) is assigned to exactly
// one lane.
type Rake struct {
	// N is the number of indices to assign.
	N int
	// Lanes is the number of lanes among which indices are dealt.
	Lanes int
	// Block is the number of consecutive indices in each block.
	Block int
}

// Validate returns an errors.Invalid error if the rake's parameters
// cannot produce a partition.
func (r Rake) Validate() error {
	switch {
	case r.N < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("rake: negative element count %d", r.N))
	case r.Lanes < 1:
		return errors.E(errors.Invalid, fmt.Sprintf("rake: invalid lane count %d", r.Lanes))
	case r.Block < 1:
		return errors.E(errors.Invalid, fmt.Sprintf("rake: invalid block size %d", r.Block))
	}
	return nil
}

// Stride returns the distance between the starts of two consecutive
// blocks of the same lane.
func (r Rake) Stride() int { return r.Lanes * r.Block }

// Each calls fn for each block assigned to lane, in ascending order.
func (r Rake) Each(lane int, fn func(Range)) {
	if lane < 0 || lane >= r.Lanes {
		panic(fmt.Sprintf("rake: lane %d out of range [0, %d)", lane, r.Lanes))
	}
	stride := r.Stride()
	for start := lane * r.Block; start < r.N; start += stride {
		end := start + r.Block
		if end > r.N {
			end = r.N
		}
		fn(Range{start, end})
	}
}

// Blocks returns the blocks assigned to lane.
func (r Rake) Blocks(lane int) []Range {
	var blocks []Range
	r.Each(lane, func(b Range) { blocks = append(blocks, b) })
	return blocks
}

// Size returns the number of indices assigned to lane.
func (r Rake) Size(lane int) int {
	var n int
	r.Each(lane, func(b Range) { n += b.Len() })
	return n
}
