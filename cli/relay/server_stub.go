//go:build !linux

package relay

import (
	"net/netip"

	E "github.com/bytelane/sluice/common/exceptions"
)

// Server needs the epoll loop and kernel channels, both Linux-only.
type Server struct{}

func NewServer(flags *Flags) (*Server, error) {
	return nil, E.New("relay server not supported on this platform")
}

func (s *Server) Start() error {
	return E.New("relay server not supported on this platform")
}

func (s *Server) Addr() netip.AddrPort {
	return netip.AddrPort{}
}

func (s *Server) Close() error {
	return nil
}
