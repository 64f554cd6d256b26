// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bigsum/exec"
	"github.com/grailbio/bigsum/sumconfig"
)

func validateUsage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: bigsum validate [-min n] [-max n]

Command validate performs a size sweep: starting with buffers of min
elements, and tripling the size while it is less than max, it
generates one buffer per compute group and performs a scatter run
followed by a broadcast run. The sweep stops at the first run that
reports a checksum mismatch. Validate prints every mismatch before its
verdict, and exits with status 1 if any mismatch was found.

The flags are:
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func validateCmd(args []string) int {
	var (
		flags = flag.NewFlagSet("bigsum validate", flag.ExitOnError)
		minN  = flags.Int("min", 8, "number of elements in the first run")
		maxN  = flags.Int("max", (1<<20)/4, "exclusive upper bound on the number of elements")
	)
	flags.Usage = func() { validateUsage(flags) }
	flags.Parse(args)
	if flags.NArg() != 0 {
		flags.Usage()
	}
	sess := sumconfig.Session()
	reports, err := sess.Validate(sess, *minN, *maxN)
	mismatches := sess.Mismatches()
	sess.Shutdown()
	return verdict(os.Stdout, reports, mismatches, err)
}

// verdict prints the reports, then every mismatch, then a summary, and
// returns the command's exit status.
func verdict(w io.Writer, reports []*exec.Report, mismatches []exec.Mismatch, err error) int {
	for _, report := range reports {
		fmt.Fprintln(w, report)
	}
	for _, m := range mismatches {
		fmt.Fprintln(w, m)
	}
	switch {
	case err != nil:
		log.Error.Printf("validation failed after %d runs: %v", len(reports), err)
		return 2
	case len(mismatches) > 0:
		fmt.Fprintf(w, "FAILED: %d mismatches in %d runs\n", len(mismatches), len(reports))
		return 1
	default:
		fmt.Fprintf(w, "OK: %d runs\n", len(reports))
		return 0
	}
}
