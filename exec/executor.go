// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"net/http"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigsum"
)

// Executor hosts a session's compute groups. Executors are
// responsible for reserving group regions, transferring buffers into
// them, running each group's lanes, and returning the groups' result
// sets. An executor sets group states as groups progress through a
// run.
type Executor interface {
	// Name returns a human-friendly name for this executor.
	Name() string

	// Start starts the executor. It is called before any other
	// method. The executor may use the session to obtain its
	// configuration. Start returns a shutdown function that is called
	// when the session is torn down.
	Start(*Session) (shutdown func())

	// Alloc reserves a region of Session.Capacity words for each of
	// the provided groups.
	Alloc(ctx context.Context, groups []*Group) error

	// Load transfers an identical copy of buf into the region of each
	// of the provided groups. Executors should batch transfers so that
	// groups hosted on the same machine share a single transfer.
	Load(ctx context.Context, groups []*Group, buf bigsum.Buffer) error

	// Launch runs the lanes of each of the provided groups over their
	// loaded regions. Launch returns only after every group has
	// finished.
	Launch(ctx context.Context, groups []*Group) error

	// Collect returns the result set of a group that has finished
	// running.
	Collect(ctx context.Context, group *Group) (*bigsum.ResultSet, error)

	// Free releases the regions of the provided groups.
	Free(ctx context.Context, groups []*Group) error

	// HandleDebug adds executor-specific debug handlers to the provided
	// http.ServeMux. This is used to serve diagnostic information
	// relating to the executor.
	HandleDebug(handler *http.ServeMux)
}

// IsConfigError tells whether err is a configuration error: an
// invalid session configuration, or a buffer that does not fit the
// session's groups.
func IsConfigError(err error) bool {
	return err != nil && errors.Is(errors.Invalid, err)
}

// IsTransportError tells whether err was produced while moving
// buffers or results between the session and its groups.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	for _, kind := range []errors.Kind{errors.Net, errors.Integrity, errors.Unavailable, errors.Timeout} {
		if errors.Is(kind, err) {
			return true
		}
	}
	return false
}

// transportError attributes err to the executor operation op. Errors
// that do not already carry a kind are marked errors.Net.
func transportError(op string, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*errors.Error); ok && e.Kind != errors.Other {
		return errors.E(op, err)
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return errors.E(op, err)
	}
	return errors.E(errors.Net, op, err)
}
