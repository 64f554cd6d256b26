// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/data"
	"github.com/grailbio/base/diagnostic/dump"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigsum"
)

const (
	// DefaultGroups is the default number of compute groups in a
	// session.
	DefaultGroups = 64
	// DefaultGroupsPerMachine is the default number of groups hosted
	// by each machine.
	DefaultGroupsPerMachine = 64
	// DefaultLanes is the default number of lanes per group.
	DefaultLanes = 16
	// DefaultCapacity is the default region capacity of a group, in
	// words (60 MiB).
	DefaultCapacity = (60 << 20) / 4
)

// Session is a validation session. A session owns a fixed set of
// compute groups, hosted by an executor, which it allocates once and
// then runs repeatedly: each run distributes buffers to the groups,
// launches their lanes, and compares each group's reduced checksum
// with the reference checksum of the buffer it was given.
//
//	sess := exec.Start(exec.Local, exec.Groups(8))
//	defer sess.Shutdown()
//	bufs, err := sess.Generate(1 << 16)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report, err := sess.Run(ctx, exec.Scatter, bufs)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := report.Err(); err != nil {
//		log.Fatal(err)
//	}
type Session struct {
	context.Context
	index      int32
	shutdown   func()
	p          int
	groups     int
	perMachine int
	lanes      int
	block      int
	capacity   int
	seed       int64
	executor   Executor
	status     *status.Status
	eventer    eventlog.Eventer
	tracePath  string
	tracer     *tracer

	// runMu serializes runs, which share the session's groups.
	runMu sync.Mutex

	mu         sync.Mutex
	rand       *rand.Rand
	all        []*Group
	allocated  bool
	allocErr   error
	runs       int
	mismatches []Mismatch
}

func newSession() *Session {
	return &Session{
		Context: backgroundcontext.Get(),
		index:   atomic.AddInt32(&nextSessionIndex, 1) - 1,
		eventer: eventlog.Nop{},
	}
}

// nextSessionIndex is the index of the next session that will be
// started by Start. Sessions in the same process are distinguished by
// their index in status dumps.
var nextSessionIndex int32

// An Option represents a session configuration parameter value.
type Option func(s *Session)

// Local configures a session with the local in-binary executor.
var Local Option = func(s *Session) {
	s.executor = newLocalExecutor()
}

// Bigmachine configures a session using the bigmachine executor
// configured with the provided system. If any params are provided,
// they are applied to each machine allocated by the session.
func Bigmachine(system bigmachine.System, params ...bigmachine.Param) Option {
	return func(s *Session) {
		s.executor = newBigmachineExecutor(system, params...)
	}
}

// Using configures a session with the provided executor.
func Using(executor Executor) Option {
	return func(s *Session) {
		s.executor = executor
	}
}

// Parallelism configures the session with the provided target
// parallelism: the number of concurrent transfers and collections,
// and the number of groups that the local executor runs at once.
func Parallelism(p int) Option {
	if p <= 0 {
		panic("exec.Parallelism: p <= 0")
	}
	return func(s *Session) {
		s.p = p
	}
}

// Groups configures the number of compute groups in the session.
func Groups(n int) Option {
	if n <= 0 {
		panic("exec.Groups: n <= 0")
	}
	return func(s *Session) {
		s.groups = n
	}
}

// GroupsPerMachine configures the number of groups hosted by each
// machine.
func GroupsPerMachine(n int) Option {
	if n <= 0 {
		panic("exec.GroupsPerMachine: n <= 0")
	}
	return func(s *Session) {
		s.perMachine = n
	}
}

// Lanes configures the number of lanes in each group.
func Lanes(n int) Option {
	if n <= 0 || n > bigsum.MaxLanes {
		panic(fmt.Sprintf("exec.Lanes: n=%d out of range [1, %d]", n, bigsum.MaxLanes))
	}
	return func(s *Session) {
		s.lanes = n
	}
}

// Block configures the number of words each lane stages at a time.
func Block(n int) Option {
	if n <= 0 {
		panic("exec.Block: n <= 0")
	}
	return func(s *Session) {
		s.block = n
	}
}

// Capacity configures the region capacity of each group, in words,
// including the buffer header.
func Capacity(words int) Option {
	if words <= bigsum.HeaderWords {
		panic("exec.Capacity: capacity too small")
	}
	return func(s *Session) {
		s.capacity = words
	}
}

// Seed configures the seed from which the session generates buffers.
func Seed(seed int64) Option {
	return func(s *Session) {
		s.seed = seed
	}
}

// Status configures the session with a status object to which
// run statuses are reported.
func Status(status *status.Status) Option {
	return func(s *Session) {
		s.status = status

		name := fmt.Sprintf("bigsum-%02d-status", s.index)
		dump.Register(name, func(ctx context.Context, w io.Writer) error {
			return status.Marshal(w)
		})
	}
}

// Eventer configures the session with an Eventer that will be used to
// log session and run events.
func Eventer(e eventlog.Eventer) Option {
	return func(s *Session) {
		s.eventer = e
	}
}

// TracePath configures the path to which a trace of the session's
// runs is written on shutdown.
func TracePath(path string) Option {
	return func(s *Session) {
		s.tracePath = path
	}
}

// Start creates and starts a new session, configuring it according to
// the provided options. If no executor is configured, the session uses
// the bigmachine executor with the local system.
func Start(options ...Option) *Session {
	s := newSession()
	for _, opt := range options {
		opt(s)
	}
	if s.p == 0 {
		s.p = runtime.GOMAXPROCS(0)
	}
	if s.groups == 0 {
		s.groups = DefaultGroups
	}
	if s.perMachine == 0 {
		s.perMachine = DefaultGroupsPerMachine
	}
	if s.lanes == 0 {
		s.lanes = DefaultLanes
	}
	if s.block == 0 {
		s.block = bigsum.DefaultBlock
	}
	if s.capacity == 0 {
		s.capacity = DefaultCapacity
	}
	if s.seed == 0 {
		s.seed = time.Now().UnixNano()
	}
	if s.executor == nil {
		s.executor = newBigmachineExecutor(bigmachine.Local)
	}
	s.start()
	return s
}

func (s *Session) start() {
	s.rand = rand.New(rand.NewSource(s.seed))
	s.tracer = newTracer()
	name := fmt.Sprintf("bigsum-%02d-trace", s.index)
	dump.Register(name, func(ctx context.Context, w io.Writer) error {
		return s.tracer.Marshal(w)
	})
	s.all = make([]*Group, s.groups)
	var group *status.Group
	if s.status != nil {
		group = s.status.Groupf("bigsum groups (%s)", s.executor.Name())
	}
	for i := range s.all {
		s.all[i] = newGroup(i, s.perMachine)
		if group != nil {
			s.all[i].Status = group.Startf("group %d", i)
		}
	}
	s.shutdown = s.executor.Start(s)
	s.eventer.Event("bigsum:sessionStart",
		"command", command(),
		"executorType", s.executor.Name(),
		"parallelism", s.p,
		"groups", s.groups,
		"groupsPerMachine", s.perMachine,
		"lanes", s.lanes,
		"block", s.block,
		"capacity", s.capacity,
		"seed", s.seed)
	log.Printf("bigsum: session %d: %d groups (%d per machine), %d lanes, block %d, capacity %s, seed %d",
		s.index, s.groups, s.perMachine, s.lanes, s.block, data.Size(4*s.capacity), s.seed)
}

// allocate reserves the regions of all of the session's groups. It is
// performed once, by the first run; an allocation failure is returned
// by every subsequent run.
func (s *Session) allocate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allocated {
		return s.allocErr
	}
	s.allocated = true
	if err := s.executor.Alloc(ctx, s.all); err != nil {
		s.allocErr = transportError("alloc", err)
	}
	return s.allocErr
}

// Generate returns one buffer of n pseudo-random elements for each of
// the session's groups, drawn from the session's seeded source.
// Generate returns an errors.Invalid error if n elements do not fit in
// a group's region.
func (s *Session) Generate(n int) ([]bigsum.Buffer, error) {
	if n < 0 || n+bigsum.HeaderWords > s.capacity {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("exec.Generate: %d elements do not fit in region of %d words", n, s.capacity))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bufs := make([]bigsum.Buffer, s.groups)
	for i := range bufs {
		var err error
		bufs[i], err = bigsum.Generate(s.rand, n, n+bigsum.HeaderWords)
		if err != nil {
			return nil, err
		}
	}
	return bufs, nil
}

// Run performs a single validation run: buffers are distributed to
// the session's groups according to pattern, every group is launched,
// and each group's result set is reduced and compared with the
// reference checksum of the buffer it was given.
//
// A Broadcast run requires exactly one buffer; a Scatter run requires
// one buffer per group. Run returns an error if the run could not be
// completed; the returned report then records the state that was
// reached. Checksum mismatches are not errors: they are recorded in
// the report, whose Err method summarizes them. Runs are serialized.
func (s *Session) Run(ctx context.Context, pattern Pattern, buffers []bigsum.Buffer) (*Report, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	report, err := s.run(ctx, pattern, buffers)
	s.mu.Lock()
	s.runs++
	s.mismatches = append(s.mismatches, report.Mismatches...)
	s.mu.Unlock()
	return report, err
}

// Validate performs a size sweep: starting with n = minN, and tripling
// n while it is less than maxN, it generates one buffer per group and
// performs a Scatter run followed by a Broadcast run. Validate stops
// at the first run that reports a mismatch or fails. It returns the
// reports of all performed runs.
func (s *Session) Validate(ctx context.Context, minN, maxN int) ([]*Report, error) {
	if minN < 1 || maxN < minN {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("exec.Validate: invalid size range [%d, %d)", minN, maxN))
	}
	var reports []*Report
	for n := minN; n < maxN; n *= 3 {
		bufs, err := s.Generate(n)
		if err != nil {
			return reports, err
		}
		for _, pattern := range []Pattern{Scatter, Broadcast} {
			in := bufs
			if pattern == Broadcast {
				in = bufs[:1]
			}
			report, err := s.Run(ctx, pattern, in)
			if report != nil {
				reports = append(reports, report)
			}
			if err != nil {
				return reports, err
			}
			if !report.OK() {
				return reports, nil
			}
		}
	}
	return reports, nil
}

// Mismatches returns every mismatch recorded by the session's runs,
// in the order in which they were recorded.
func (s *Session) Mismatches() []Mismatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Mismatch(nil), s.mismatches...)
}

// Runs returns the number of runs performed by the session.
func (s *Session) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Groups returns the session's compute groups, indexed by ID.
func (s *Session) Groups() []*Group {
	return s.all
}

// Parallelism returns the desired amount of transfer parallelism.
func (s *Session) Parallelism() int {
	return s.p
}

// GroupsPerMachine returns the number of groups hosted by each
// machine.
func (s *Session) GroupsPerMachine() int {
	return s.perMachine
}

// Lanes returns the number of lanes per group.
func (s *Session) Lanes() int {
	return s.lanes
}

// Block returns the number of words staged by a lane at a time.
func (s *Session) Block() int {
	return s.block
}

// Capacity returns the region capacity of each group, in words.
func (s *Session) Capacity() int {
	return s.capacity
}

// Seed returns the seed from which the session generates buffers.
func (s *Session) Seed() int64 {
	return s.seed
}

// Executor returns the session's executor.
func (s *Session) Executor() Executor {
	return s.executor
}

// Status returns the session's status aggregator.
func (s *Session) Status() *status.Status {
	return s.status
}

// Shutdown frees the session's groups and tears down the executor.
// It should be called when the session is discarded.
func (s *Session) Shutdown() {
	s.mu.Lock()
	allocated := s.allocated && s.allocErr == nil
	s.mu.Unlock()
	if allocated {
		if err := s.executor.Free(s.Context, s.all); err != nil {
			log.Error.Printf("bigsum: session %d: free: %v", s.index, err)
		}
	}
	if s.shutdown != nil {
		s.shutdown()
	}
	if s.tracePath != "" {
		writeTraceFile(s.tracer, s.tracePath)
	}
	s.eventer.Event("bigsum:sessionShutdown",
		"runs", s.Runs(),
		"mismatches", len(s.Mismatches()))
}

// HandleDebug registers the session's debug handlers, and those of
// its executor, with the provided mux.
func (s *Session) HandleDebug(handler *http.ServeMux) {
	s.executor.HandleDebug(handler)
	handler.HandleFunc("/debug/bigsum/trace", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("content-type", "application/json; charset=utf-8")
		if err := s.tracer.Marshal(w); err != nil {
			log.Error.Printf("exec.Session: /debug/bigsum/trace: marshal: %v", err)
		}
	})
	handler.HandleFunc("/debug/bigsum/groups", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("content-type", "text/plain; charset=utf-8")
		for _, g := range s.all {
			fmt.Fprintln(w, g)
		}
	})
}

// command returns the command line of the current process, quoted so
// that it can be pasted into sh.
func command() string {
	args := make([]string, len(os.Args))
	for i, arg := range os.Args {
		args[i] = "'" + strings.Replace(arg, "'", `'\''`, -1) + "'"
	}
	return strings.Join(args, " ")
}
