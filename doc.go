// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package bigsum verifies the integrity of data distributed to many
	independent compute groups. Each group is made up of lanes; each
	lane checksums only the indices assigned to it, and the lanes'
	partial checksums are combined into a value that must equal the
	checksum of a single sequential pass over the data.

	This package provides the data layout (Buffer), the index
	assignment (Rake), and the per-group computation (Lane, Compute,
	ResultSet). The checksum itself is implemented by package
	github.com/grailbio/bigsum/checksum. Distribution of buffers to
	groups, on local goroutines or on a bigmachine cluster, and the
	validation protocol are implemented by package
	github.com/grailbio/bigsum/exec.

	A buffer's partial results always combine to its reference
	checksum, independently of the number of lanes and the block size:

		buf, _ := bigsum.NewBuffer([]uint32{10, 20, 30}, 4)
		var rs bigsum.ResultSet
		_ = bigsum.Compute(&rs, buf.Words(), 3, 1)
		rs.Reduce() == bigsum.Reference(buf)
*/
package bigsum
