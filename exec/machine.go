// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigsum/stats"
)

// sumMachine is a bigmachine machine that runs a worker service and
// hosts a contiguous range of the session's groups.
type sumMachine struct {
	*bigmachine.Machine

	// Index is the machine's index; it hosts the groups whose
	// Group.Machine equals Index.
	Index int

	// Status is the machine's status task.
	Status *status.Task

	mu    sync.Mutex
	stats stats.Values
}

func (m *sumMachine) String() string {
	return fmt.Sprintf("machine %d (%s)", m.Index, m.Addr)
}

// UpdateStats fetches the worker's counters and records them on the
// machine's status.
func (m *sumMachine) UpdateStats(ctx context.Context) (stats.Values, error) {
	vals := make(stats.Values)
	if err := m.RetryCall(ctx, "Worker.Stats", struct{}{}, &vals); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.stats = vals
	m.mu.Unlock()
	if m.Status != nil {
		m.Status.Print(vals)
	}
	return vals, nil
}

// Stats returns the most recently fetched worker counters.
func (m *sumMachine) Stats() stats.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats.Copy()
}

// startMachines starts n machines on b, indexed from first, each
// running a worker service, and waits for all of them to be running. If any machine
// fails to start, the machines that did start are canceled and an
// error is returned.
func startMachines(ctx context.Context, b *bigmachine.B, group *status.Group, first, n int, params ...bigmachine.Param) ([]*sumMachine, error) {
	params = append([]bigmachine.Param{bigmachine.Services{"Worker": &worker{}}}, params...)
	machines, err := b.Start(ctx, n, params...)
	if err != nil {
		return nil, err
	}
	var (
		wg       sync.WaitGroup
		started  = make([]*sumMachine, len(machines))
		errs     = make([]error, len(machines))
		statuses = make([]*status.Task, len(machines))
	)
	for i := range machines {
		i := i
		m := machines[i]
		if group != nil {
			statuses[i] = group.Startf("machine %d", first+i)
			statuses[i].Print("waiting for machine to boot")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-m.Wait(bigmachine.Running):
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}
			if err := m.Err(); err != nil {
				log.Printf("machine %s failed to start: %v", m.Addr, err)
				errs[i] = err
				return
			}
			started[i] = &sumMachine{Machine: m, Index: first + i, Status: statuses[i]}
			log.Printf("%s is ready", started[i])
			if statuses[i] != nil {
				statuses[i].Title(m.Addr)
				statuses[i].Print("running")
			}
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err == nil {
			continue
		}
		for j, m := range machines {
			m.Cancel()
			if statuses[j] != nil {
				statuses[j].Done()
			}
		}
		return nil, errors.E(errors.Unavailable, fmt.Sprintf("machine %d failed to start", first+i), err)
	}
	return started, nil
}
