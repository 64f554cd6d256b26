// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command bigsum validates the integrity of buffers distributed to
// compute groups, and manages bigsum configuration.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigsum/sumconfig"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Bigsum distributes checksummed buffers to compute groups and
verifies that every group computes the same checksum as a sequential
reference.

Usage:

	bigsum [flags] <command> [arguments]

The commands are:

	validate    run a size sweep of scatter and broadcast runs
	setup-ec2   configure EC2 for use with bigsum

The configuration profile is read from %s. The flags are:
`, sumconfig.Path)
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.AddFlags()
	log.SetFlags(0)
	log.SetPrefix("bigsum: ")
	must.Func = log.Fatal
	sumconfig.RegisterFlags()
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	default:
		fmt.Fprintln(os.Stderr, "unknown command", cmd)
		flag.Usage()
	case "validate":
		os.Exit(validateCmd(args))
	case "setup-ec2":
		setupEc2Cmd(args)
	}
}
