// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/grailbio/base/log"
)

// traceEvent is an event in the Chrome tracing format. The fields are
// mirrored exactly. For more details, see:
//	https://docs.google.com/document/d/1CvAClvFfyA5R-PhYUmn5OOQtYMH4h6I0nSsKchNAySU/preview
type traceEvent struct {
	Pid  int                    `json:"pid"`
	Tid  int                    `json:"tid"`
	Ts   int64                  `json:"ts"`
	Ph   string                 `json:"ph"`
	Dur  int64                  `json:"dur,omitempty"`
	Name string                 `json:"name"`
	Cat  string                 `json:"cat,omitempty"`
	Args map[string]interface{} `json:"args"`
}

// A tracer records the phases of a session's runs as complete ("X")
// events, which can be visualized with chrome://tracing. Each run is
// rendered as its own thread, in run order.
type tracer struct {
	mu     sync.Mutex
	start  time.Time
	runs   map[string]int
	events []traceEvent
}

func newTracer() *tracer {
	return &tracer{start: time.Now(), runs: make(map[string]int)}
}

// Span begins a span for the given phase of run id and returns a
// function that ends it. Args is a list of interleaved key-value pairs
// attached to the event.
func (t *tracer) Span(id, phase string, args ...interface{}) (end func()) {
	if t == nil {
		return func() {}
	}
	if len(args)%2 != 0 {
		panic("tracer.Span: invalid arguments")
	}
	begin := time.Now()
	return func() {
		event := traceEvent{
			Ts:   begin.Sub(t.start).Nanoseconds() / 1e3,
			Dur:  time.Since(begin).Nanoseconds() / 1e3,
			Ph:   "X",
			Name: phase,
			Cat:  "run",
			Args: map[string]interface{}{"run": id},
		}
		for i := 0; i < len(args); i += 2 {
			event.Args[fmt.Sprint(args[i])] = args[i+1]
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		tid, ok := t.runs[id]
		if !ok {
			tid = len(t.runs)
			t.runs[id] = tid
		}
		event.Tid = tid
		t.events = append(t.events, event)
	}
}

// Marshal writes the trace in Chrome's event tracing format.
func (t *tracer) Marshal(w io.Writer) error {
	t.mu.Lock()
	events := make([]traceEvent, len(t.events))
	copy(events, t.events)
	t.mu.Unlock()
	envelope := struct {
		TraceEvents []traceEvent `json:"traceEvents"`
	}{events}
	return json.NewEncoder(w).Encode(envelope)
}

func writeTraceFile(tracer *tracer, path string) {
	w, err := os.Create(path)
	if err != nil {
		log.Error.Printf("error creating trace file at %q: %v", path, err)
		return
	}
	if err := tracer.Marshal(w); err != nil {
		log.Error.Printf("error marshaling to trace file at %q: %v", path, err)
	}
	if err := w.Close(); err != nil {
		log.Error.Printf("error closing trace file at %q: %v", path, err)
	}
}
