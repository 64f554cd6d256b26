// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package checksum implements a position-sensitive checksum over
// sequences of 32-bit words whose terms may be accumulated in any
// order and by any number of independent workers.
//
// The checksum of a sequence is the wrapping sum of one term per
// element, where each term mixes the element's value with its index.
// Thus:
//
//	var even, odd checksum.State
//	for i, v := range values {
//		if i%2 == 0 {
//			even = checksum.Update(even, uint32(i), v)
//		} else {
//			odd = checksum.Update(odd, uint32(i), v)
//		}
//	}
//	checksum.Combine(even, odd) == checksum.Fold(values, 0)
//
// as long as each index is added exactly once. The checksum is not
// cryptographically hardened; it is meant to catch transport and
// partitioning errors, not adversaries.
package checksum

import "math/bits"

// State is a checksum accumulator. The zero State is the checksum of
// the empty sequence.
type State uint32

// Init returns the identity state for Combine.
func Init() State { return 0 }

// Update adds the element at the given index with the given value to
// the checksum state s. The added term depends only on (index, value),
// so the order in which indices are added does not affect the
// result.
func Update(s State, index, value uint32) State {
	return s + State(term(index, value))
}

// Combine merges two partial checksums computed over disjoint sets of
// indices.
func Combine(s1, s2 State) State {
	return s1 + s2
}

// Fold returns the checksum of values, where values[k] is taken to be
// the element at index offset+k.
func Fold(values []uint32, offset uint32) State {
	s := Init()
	for k, v := range values {
		s = Update(s, offset+uint32(k), v)
	}
	return s
}

// term returns the contribution of a single element to a checksum.
// The mixing sequence below determines every checksum value ever
// produced; changing it invalidates recorded checksums.
func term(index, value uint32) uint32 {
	tmp := value ^ index
	index = xorshift32(index)
	value = scramble32(value)
	for index > 0 {
		tmp ^= value >> (index % 3)
		index /= 3
		tmp ^= value << (index % 7)
		index /= 7
	}
	return tmp
}

// xorshift32 is the output permutation of Marsaglia's xorshift32
// generator. It is a bijection on uint32 that fixes only 0.
func xorshift32(x uint32) uint32 {
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	return x
}

// scramble32 is the murmur3 32-bit key scrambler.
func scramble32(k uint32) uint32 {
	k *= 0xcc9e2d51
	k = bits.RotateLeft32(k, 15)
	k *= 0x1b873593
	return k
}
