// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigsum

import (
	"math/rand"
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigsum/checksum"
)

func TestScenario(t *testing.T) {
	buf, err := NewBuffer([]uint32{10, 20, 30}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := buf.Words(), []uint32{3, 10, 20, 30}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	var one, three ResultSet
	if err := Compute(&one, buf.Words(), 1, DefaultBlock); err != nil {
		t.Fatal(err)
	}
	if err := Compute(&three, buf.Words(), 3, 1); err != nil {
		t.Fatal(err)
	}
	for i, p := range three.Partials() {
		if got, want := p.Checksum, checksum.Update(checksum.Init(), uint32(i), buf.Payload()[i]); got != want {
			t.Errorf("lane %d: got %v, want %v", i, got, want)
		}
	}
	if got, want := one.Reduce(), three.Reduce(); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := one.Reduce(), checksum.State(0xa40af676); got != want {
		t.Errorf("got %#x, want %#x", got, want)
	}
}

func TestLaneCountInvariance(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, n := range []int{0, 1, 2, 63, 64, 65, 1000, 4097} {
		buf, err := Generate(r, n, n+HeaderWords)
		if err != nil {
			t.Fatal(err)
		}
		want := Reference(buf)
		for lanes := 1; lanes <= MaxLanes; lanes++ {
			for _, block := range []int{1, 7, DefaultBlock} {
				var rs ResultSet
				if err := Compute(&rs, buf.Words(), lanes, block); err != nil {
					t.Fatal(err)
				}
				if got, want := rs.Active, lanes; got != want {
					t.Fatalf("got %v, want %v", got, want)
				}
				if got := rs.Reduce(); got != want {
					t.Fatalf("n=%d lanes=%d block=%d: got %v, want %v", n, lanes, block, got, want)
				}
			}
		}
	}
}

func TestComputeFuzz(t *testing.T) {
	var (
		fz      = fuzz.NewWithSeed(12345).NilChance(0).NumElements(0, 2000)
		payload []uint32
		r       = rand.New(rand.NewSource(2))
	)
	for iter := 0; iter < 50; iter++ {
		fz.Fuzz(&payload)
		// Load into a region larger than the payload; the tail must be ignored.
		buf, err := NewBuffer(payload, len(payload)+HeaderWords+r.Intn(16))
		if err != nil {
			t.Fatal(err)
		}
		region := append([]uint32(nil), buf.Words()...)
		for i := 0; i < 16; i++ {
			region = append(region, r.Uint32())
		}
		var rs ResultSet
		if err := Compute(&rs, region, 1+r.Intn(MaxLanes), 1+r.Intn(128)); err != nil {
			t.Fatal(err)
		}
		if got, want := rs.Reduce(), Reference(buf); got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestComputeStaleSlots(t *testing.T) {
	buf, err := NewBuffer([]uint32{1, 2, 3, 4}, 5)
	if err != nil {
		t.Fatal(err)
	}
	var rs ResultSet
	for i := range rs.Slots {
		rs.Slots[i].Checksum = 0xdeadbeef
	}
	if err := Compute(&rs, buf.Words(), 2, 1); err != nil {
		t.Fatal(err)
	}
	if got, want := rs.Reduce(), Reference(buf); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := rs.Slots[2].Checksum, checksum.State(0xdeadbeef); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestComputeInvalid(t *testing.T) {
	var rs ResultSet
	for _, c := range []struct {
		region       []uint32
		lanes, block int
	}{
		{[]uint32{0}, 0, 1},
		{[]uint32{0}, MaxLanes + 1, 1},
		{[]uint32{0}, 1, 0},
		{[]uint32{4, 1, 2}, 1, 1},
		{nil, 1, 1},
	} {
		if err := Compute(&rs, c.region, c.lanes, c.block); !errors.Is(errors.Invalid, err) {
			t.Errorf("%v: expected invalid error, got %v", c, err)
		}
	}
}

func TestLaneStageOutOfRegion(t *testing.T) {
	lane := NewLane(0, Rake{N: 8, Lanes: 1, Block: 4}, make([]uint32, 6))
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	lane.Run()
}
