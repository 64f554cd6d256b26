// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"
	"runtime"
	"time"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigsum"
)

func init() {
	config.Register("bigsum", func(inst *config.Constructor) {
		sess := newSession()
		inst.IntVar(&sess.p, "parallelism", runtime.GOMAXPROCS(0), "number of concurrent transfers, and of locally running groups")
		var system bigmachine.System
		inst.InstanceVar(&system, "system", "", "the bigmachine system that hosts compute groups; groups run in-process if empty")
		inst.IntVar(&sess.groups, "groups", DefaultGroups, "number of compute groups")
		inst.IntVar(&sess.perMachine, "groups-per-machine", DefaultGroupsPerMachine, "number of groups hosted by each machine")
		inst.IntVar(&sess.lanes, "lanes", DefaultLanes, "number of lanes per group")
		inst.IntVar(&sess.block, "block", bigsum.DefaultBlock, "number of words staged by a lane at a time")
		inst.IntVar(&sess.capacity, "capacity", DefaultCapacity, "region capacity of each group, in words")
		var seed int
		inst.IntVar(&seed, "seed", 0, "seed for buffer generation; chosen from the clock if 0")
		inst.Doc = "bigsum configures checksum validation sessions"
		inst.New = func() (interface{}, error) {
			if err := checkConfig(sess); err != nil {
				return nil, err
			}
			sess.seed = int64(seed)
			if sess.seed == 0 {
				sess.seed = time.Now().UnixNano()
			}
			if system != nil {
				sess.executor = newBigmachineExecutor(system)
			} else {
				sess.executor = newLocalExecutor()
			}
			sess.start()
			return sess, nil
		}
	})
}

// checkConfig returns an errors.Invalid error if the session's
// configured values are out of range.
func checkConfig(sess *Session) error {
	switch {
	case sess.p <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("bigsum: parallelism %d <= 0", sess.p))
	case sess.groups <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("bigsum: groups %d <= 0", sess.groups))
	case sess.perMachine <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("bigsum: groups-per-machine %d <= 0", sess.perMachine))
	case sess.lanes < 1 || sess.lanes > bigsum.MaxLanes:
		return errors.E(errors.Invalid, fmt.Sprintf("bigsum: lanes %d out of range [1, %d]", sess.lanes, bigsum.MaxLanes))
	case sess.block <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("bigsum: block %d <= 0", sess.block))
	case sess.capacity <= bigsum.HeaderWords:
		return errors.E(errors.Invalid, fmt.Sprintf("bigsum: capacity %d too small", sess.capacity))
	}
	return nil
}
