// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sumconfig

import (
	"context"
	"strings"
	"testing"

	"github.com/grailbio/base/config"
	"github.com/grailbio/bigsum/exec"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestProfile(t *testing.T) {
	profile := config.New()
	err := profile.Parse(strings.NewReader(`
param bigsum (
	groups = 3
	groups-per-machine = 2
	lanes = 5
	block = 16
	capacity = 4096
	seed = 7
	parallelism = 2
)
`))
	assert.NoError(t, err)
	var sess *exec.Session
	assert.NoError(t, profile.Instance("bigsum", &sess))
	defer sess.Shutdown()
	expect.EQ(t, len(sess.Groups()), 3)
	expect.EQ(t, sess.GroupsPerMachine(), 2)
	expect.EQ(t, sess.Lanes(), 5)
	expect.EQ(t, sess.Block(), 16)
	expect.EQ(t, sess.Capacity(), 4096)
	expect.EQ(t, sess.Seed(), int64(7))
	expect.EQ(t, sess.Parallelism(), 2)
	expect.EQ(t, sess.Executor().Name(), "local")

	reports, err := sess.Validate(context.Background(), 8, 100)
	assert.NoError(t, err)
	for _, report := range reports {
		expect.True(t, report.OK())
	}
}

func TestProfileInvalid(t *testing.T) {
	profile := config.New()
	assert.NoError(t, profile.Parse(strings.NewReader(`
param bigsum (
	lanes = 25
)
`)))
	var sess *exec.Session
	if err := profile.Instance("bigsum", &sess); err == nil {
		t.Fatal("expected error")
	}
}
