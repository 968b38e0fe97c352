//go:build !profile

package prof

import (
	"net"

	"github.com/ardnew/softhcd/pkg"
)

// Session is a no-op when built without the "profile" tag.
type Session struct{}

// Start logs that profiling is compiled out when opts asks for anything.
func Start(opts Options) (*Session, error) {
	if opts.Enabled() {
		pkg.LogWarn(pkg.Component("prof"), "profiling requested but not built in; rebuild with -tags profile")
	}
	return &Session{}, nil
}

// Addr always returns nil.
func (s *Session) Addr() net.Addr { return nil }

// Stop does nothing.
func (s *Session) Stop() error { return nil }
