// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sumconfig creates validation sessions from a shared
// configuration. Sumconfig uses the configuration mechanism in package
// github.com/grailbio/base/config, and reads a default profile from
// $HOME/.bigsum/config. Configurations may be provisioned using the
// bigsum command.
package sumconfig

import (
	"flag"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"

	// Used to provide ec2system.System bigmachines.
	_ "github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/bigsum/exec"
)

// Path determines the location of the bigsum profile read by Parse.
var Path = os.ExpandEnv("$HOME/.bigsum/config")

// RegisterFlags registers the profile flags with the default flag
// set. It reads the profile at Path, if it exists.
func RegisterFlags() {
	config.RegisterFlags("", Path)
}

// Session processes the profile flags and returns the session
// configured by the "bigsum" instance. Session panics (through
// must.Func) if the session cannot be created. RegisterFlags must be
// called, and the flags parsed, before calling Session.
func Session() *exec.Session {
	must.Nil(config.ProcessFlags())
	var sess *exec.Session
	config.Must("bigsum", &sess)
	return sess
}

// Parse registers configuration flags, calls flag.Parse, and returns
// the session configured by the profile and any flags provided.
func Parse() *exec.Session {
	RegisterFlags()
	flag.Parse()
	return Session()
}
