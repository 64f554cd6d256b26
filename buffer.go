// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigsum

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigsum/checksum"
	"github.com/spaolacci/murmur3"
)

// HeaderWords is the number of words that precede a buffer's
// payload. Word 0 holds the number of payload elements.
const HeaderWords = 1

// A Buffer is a capacity-bounded sequence of 32-bit words in the
// layout shared by the session and compute groups: word 0 stores n,
// the number of valid payload elements; words 1..n store the payload.
// The payload element at checksum index i is stored at word i+1.
//
// A buffer's length is fixed at creation. Buffers may share their
// underlying words with copies; they must not be modified after they
// are handed to an executor.
type Buffer struct {
	words []uint32
}

// NewBuffer returns a buffer of the given capacity (in words,
// including the header) holding a copy of payload. NewBuffer returns
// an errors.Invalid error if the payload does not fit.
func NewBuffer(payload []uint32, capacity int) (Buffer, error) {
	if err := checkCapacity(len(payload), capacity); err != nil {
		return Buffer{}, err
	}
	words := make([]uint32, capacity)
	words[0] = uint32(len(payload))
	copy(words[HeaderWords:], payload)
	return Buffer{words}, nil
}

// Generate returns a buffer of the given capacity holding n
// pseudo-random payload words drawn from r.
func Generate(r *rand.Rand, n, capacity int) (Buffer, error) {
	if err := checkCapacity(n, capacity); err != nil {
		return Buffer{}, err
	}
	words := make([]uint32, capacity)
	for i := HeaderWords; i < n+HeaderWords; i++ {
		words[i] = r.Uint32()
	}
	words[0] = uint32(n)
	return Buffer{words}, nil
}

// DecodeBuffer interprets words as a buffer in wire layout. The buffer
// retains words; its capacity is len(words). DecodeBuffer returns an
// errors.Invalid error if the header claims more elements than the
// words can hold.
func DecodeBuffer(words []uint32) (Buffer, error) {
	if len(words) < HeaderWords {
		return Buffer{}, errors.E(errors.Invalid, "bigsum.DecodeBuffer: missing header")
	}
	n := int(words[0])
	if err := checkCapacity(n, len(words)); err != nil {
		return Buffer{}, err
	}
	return Buffer{words}, nil
}

func checkCapacity(n, capacity int) error {
	if n < 0 || n+HeaderWords > capacity {
		return errors.E(errors.Invalid,
			fmt.Sprintf("bigsum: %d elements do not fit in a buffer of %d words", n, capacity))
	}
	return nil
}

// Len returns the number of payload elements in the buffer.
func (b Buffer) Len() int {
	if len(b.words) == 0 {
		return 0
	}
	return int(b.words[0])
}

// Cap returns the capacity of the buffer in words, including its
// header.
func (b Buffer) Cap() int { return len(b.words) }

// Payload returns the buffer's valid payload elements.
func (b Buffer) Payload() []uint32 {
	if len(b.words) == 0 {
		return nil
	}
	return b.words[HeaderWords : HeaderWords+b.Len()]
}

// Words returns the words that must be transferred to a compute
// group: the header followed by the valid payload.
func (b Buffer) Words() []uint32 {
	if len(b.words) == 0 {
		return []uint32{0}
	}
	return b.words[:HeaderWords+b.Len()]
}

// Digest returns a digest of the buffer's wire words. Receivers
// compare digests to detect corrupted transfers.
func (b Buffer) Digest() uint64 {
	return Digest(b.Words())
}

// Digest computes the transfer digest of a sequence of wire words.
func Digest(words []uint32) uint64 {
	h := murmur3.New64()
	var p [4]byte
	for _, w := range words {
		binary.LittleEndian.PutUint32(p[:], w)
		h.Write(p[:])
	}
	return h.Sum64()
}

// String returns a short description of the buffer.
func (b Buffer) String() string {
	return fmt.Sprintf("buffer(n=%d, cap=%d)", b.Len(), b.Cap())
}

// Reference computes the checksum of the buffer's payload in a single
// sequential pass. It is the value that the partial results of every
// correctly loaded compute group must combine to.
func Reference(b Buffer) checksum.State {
	return checksum.Fold(b.Payload(), 0)
}
