//go:build profile

package prof

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	runtimepprof "runtime/pprof"
	"sync"
	"time"

	"github.com/ardnew/softhcd/pkg"
)

const component = pkg.Component("prof")

var (
	cpuMu     sync.Mutex
	cpuActive bool
)

// Session is an active profiling run.
type Session struct {
	opts Options

	mu      sync.Mutex
	stopped bool
	cpuFile *os.File
	server  *http.Server
	addr    net.Addr
}

// Start begins a profiling session.
func Start(opts Options) (*Session, error) {
	s := &Session{opts: opts}

	if opts.CPU != "" {
		if err := s.startCPU(opts.CPU); err != nil {
			return nil, err
		}
	}
	if opts.HTTP != "" {
		if err := s.serve(opts.HTTP); err != nil {
			s.stopCPU()
			return nil, err
		}
	}
	if opts.BlockRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockRate)
	}
	if opts.MutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.MutexFraction)
	}
	return s, nil
}

func (s *Session) startCPU(path string) error {
	cpuMu.Lock()
	defer cpuMu.Unlock()
	if cpuActive {
		return ErrCPUProfileActive
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := runtimepprof.StartCPUProfile(f); err != nil {
		f.Close()
		return err
	}
	cpuActive = true
	s.cpuFile = f
	pkg.LogInfo(component, "cpu profile started", "path", path)
	return nil
}

func (s *Session) stopCPU() error {
	if s.cpuFile == nil {
		return nil
	}
	cpuMu.Lock()
	runtimepprof.StopCPUProfile()
	cpuActive = false
	cpuMu.Unlock()

	err := s.cpuFile.Close()
	s.cpuFile = nil
	return err
}

func (s *Session) serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.addr = ln.Addr()
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pkg.LogWarn(component, "pprof server stopped", "error", err)
		}
	}()
	pkg.LogInfo(component, "pprof server listening", "address", s.addr.String())
	return nil
}

// Addr returns the address of the pprof HTTP server, or nil.
func (s *Session) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop ends the session: it flushes the CPU profile, writes the heap
// snapshot and shuts the HTTP server down.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSessionStopped
	}
	s.stopped = true

	errs := []error{s.stopCPU()}
	if s.opts.Heap != "" {
		errs = append(errs, writeHeap(s.opts.Heap))
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		errs = append(errs, s.server.Shutdown(ctx))
		cancel()
	}
	if s.opts.BlockRate > 0 {
		runtime.SetBlockProfileRate(0)
	}
	if s.opts.MutexFraction > 0 {
		runtime.SetMutexProfileFraction(0)
	}
	return errors.Join(errs...)
}

func writeHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	runtime.GC()
	if err := runtimepprof.Lookup("heap").WriteTo(f, 0); err != nil {
		f.Close()
		return err
	}
	pkg.LogInfo(component, "heap profile written", "path", path)
	return f.Close()
}
