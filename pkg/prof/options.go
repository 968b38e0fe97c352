package prof

import "errors"

// Profiling errors.
var (
	ErrCPUProfileActive = errors.New("cpu profile already active")
	ErrSessionStopped   = errors.New("profiling session already stopped")
)

// Options selects what a session records. Empty fields are skipped.
type Options struct {
	CPU  string // CPU profile output path
	Heap string // Heap snapshot written on Stop
	HTTP string // Listen address for the pprof HTTP handlers

	// BlockRate and MutexFraction enable the block and mutex profiles
	// when positive. See runtime.SetBlockProfileRate and
	// runtime.SetMutexProfileFraction.
	BlockRate     int
	MutexFraction int
}

// Enabled reports whether o asks for anything.
func (o Options) Enabled() bool {
	return o.CPU != "" || o.Heap != "" || o.HTTP != "" || o.BlockRate > 0 || o.MutexFraction > 0
}
