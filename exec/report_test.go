// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigsum/checksum"
)

func TestReportString(t *testing.T) {
	r := &Report{Pattern: Broadcast, N: 24, Lanes: 16, State: RunDone, Checksums: make([]checksum.State, 64)}
	if got, want := r.String(), "run n=24 pattern=broadcast groups=64 lanes=16 [OK]"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !r.OK() || r.Err() != nil {
		t.Error("expected OK report")
	}
	r.State = RunLaunched
	if got, want := r.String(), "run n=24 pattern=broadcast groups=64 lanes=16 [ABORTED: launched]"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	r.State = RunDone
	r.Mismatches = []Mismatch{{Group: 65, Machine: 1, Slot: 1, Expected: 0xa40af676, Actual: 0xa40af677}}
	if got, want := r.Mismatches[0].String(), "mismatch for group 65 (machine 1, slot 1): expected=0xa40af676 got=0xa40af677"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if r.OK() {
		t.Error("expected failed report")
	}
	if !errors.Is(errors.Integrity, r.Err()) {
		t.Errorf("got %v, want integrity error", r.Err())
	}
}

func TestStateStrings(t *testing.T) {
	for _, c := range []struct {
		v    fmt.Stringer
		want string
	}{
		{Scatter, "scatter"},
		{Pattern(9), "Pattern(9)"},
		{RunResultsCollected, "results-collected"},
		{RunState(-1), "RunState(-1)"},
		{GroupRunning, "RUNNING"},
		{GroupState(42), "GroupState(42)"},
	} {
		if got := c.v.String(); got != c.want {
			t.Errorf("got %q, want %q", got, c.want)
		}
	}
}

func TestErrorClasses(t *testing.T) {
	for _, c := range []struct {
		err               error
		config, transport bool
	}{
		{nil, false, false},
		{errors.E(errors.Invalid, "bad lanes"), true, false},
		{transportError("load", fmt.Errorf("reset")), false, true},
		{transportError("load", errors.E(errors.Integrity, "digest")), false, true},
		{transportError("load", errors.E(errors.Invalid, "too long")), true, false},
		{transportError("alloc", errors.E(errors.Unavailable, "no machines")), false, true},
		{transportError("load", context.Canceled), false, false},
	} {
		if got, want := IsConfigError(c.err), c.config; got != want {
			t.Errorf("%v: config: got %v, want %v", c.err, got, want)
		}
		if got, want := IsTransportError(c.err), c.transport; got != want {
			t.Errorf("%v: transport: got %v, want %v", c.err, got, want)
		}
	}
	if transportError("x", nil) != nil {
		t.Error("expected nil error")
	}
}
