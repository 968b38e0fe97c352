// Package prof profiles a running host loop.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./examples/sim-hal/midi-hub
//
// Without the tag [Start] returns a no-op [Session], so callers can keep
// their profiling flags in place at no cost.
//
// # Usage
//
//	s, err := prof.Start(prof.Options{
//	    CPU:  "cpu.prof",
//	    Heap: "heap.prof",
//	    HTTP: "localhost:6060",
//	})
//	if err != nil {
//	    return err
//	}
//	defer s.Stop()
//
// CPU samples stream to [Options.CPU] until Stop. Stop then writes a heap
// snapshot to [Options.Heap]. [Options.HTTP] serves the net/http/pprof
// handlers for the lifetime of the session.
//
// Only one session can profile the CPU at a time; a second Start asking for
// it fails with [ErrCPUProfileActive].
package prof
