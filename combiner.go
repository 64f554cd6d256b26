// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigsum

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigsum/checksum"
)

// MaxLanes is the maximum number of lanes in a compute group, and
// thus the number of slots in a ResultSet.
const MaxLanes = 24

// A PartialResult is the checksum computed by a single lane over the
// indices assigned to it.
type PartialResult struct {
	// Lane is the lane that produced the result.
	Lane int
	// Checksum is the lane's partial checksum.
	Checksum checksum.State
}

// A ResultSet holds the partial results of one compute group for one
// run. Slot i is written only by lane i. Only the first Active slots
// are meaningful; later slots may hold stale values from earlier
// runs.
type ResultSet struct {
	// Active is the number of lanes that ran.
	Active int
	// Slots holds one partial result per lane.
	Slots [MaxLanes]PartialResult
}

// Validate returns an error if the result set's active count is out
// of range.
func (rs *ResultSet) Validate() error {
	if rs.Active < 0 || rs.Active > MaxLanes {
		return errors.E(errors.Integrity, fmt.Sprintf("result set: active lane count %d out of range [0, %d]", rs.Active, MaxLanes))
	}
	return nil
}

// Partials returns the active partial results.
func (rs *ResultSet) Partials() []PartialResult {
	return rs.Slots[:rs.Active]
}

// Reduce combines the active partial results into the group's
// checksum. Reduce panics if the result set is invalid.
func (rs *ResultSet) Reduce() checksum.State {
	if err := rs.Validate(); err != nil {
		panic(err)
	}
	sum := checksum.Init()
	for _, p := range rs.Partials() {
		sum = checksum.Combine(sum, p.Checksum)
	}
	return sum
}
