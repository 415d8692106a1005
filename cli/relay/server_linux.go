//go:build linux

package relay

import (
	"context"
	"net/netip"
	"time"

	"github.com/bytelane/sluice/buf"
	E "github.com/bytelane/sluice/common/exceptions"
	"github.com/bytelane/sluice/common/log"
	"github.com/bytelane/sluice/poll"
	"github.com/bytelane/sluice/sock"
	"github.com/bytelane/sluice/stream"
	"github.com/bytelane/sluice/task"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Server accepts inbound connections and relays each one to the
// configured upstream. All sessions share a single event loop and a
// single transfer engine, so the per-connection cost is two descriptors
// and two buffers.
type Server struct {
	logger   *logrus.Entry
	loop     *poll.Loop
	runner   *task.Runner
	engine   *stream.Engine
	upstream netip.AddrPort
	listen   netip.AddrPort

	connectTimeout  time.Duration
	transferTimeout time.Duration

	listenFD  int
	listenReg *poll.Registration
	bound     netip.AddrPort

	ctx      context.Context
	cancel   context.CancelFunc
	sessions map[*session]struct{}
	lastScan time.Time
}

func NewServer(flags *Flags) (*Server, error) {
	err := flags.apply()
	if err != nil {
		return nil, err
	}
	upstream, err := netip.ParseAddrPort(flags.Upstream)
	if err != nil {
		return nil, E.Cause(err, "bad upstream address")
	}
	listen := netip.IPv6Unspecified()
	if flags.Listen != "" {
		listen, err = netip.ParseAddr(flags.Listen)
		if err != nil {
			return nil, E.Cause(err, "bad listen address")
		}
	}

	tune := stream.DefaultTuning()
	if flags.BufferSize > 0 {
		tune.BufSize = flags.BufferSize
	}
	if flags.MaxPipes > 0 {
		tune.MaxPipes = flags.MaxPipes
	}
	if flags.NoSplice {
		tune.Splice = false
	}

	s := &Server{
		logger:          log.NewLogger("relay"),
		runner:          task.NewRunner(),
		engine:          stream.NewEngine(tune, log.NewLogger("stream")),
		upstream:        upstream,
		listen:          netip.AddrPortFrom(listen, flags.ListenPort),
		connectTimeout:  time.Duration(flags.ConnectTimeout) * time.Second,
		transferTimeout: time.Duration(flags.Timeout) * time.Second,
		listenFD:        -1,
		sessions:        make(map[*session]struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

func (s *Server) Start() error {
	loop, err := poll.NewLoop()
	if err != nil {
		return err
	}
	s.loop = loop
	s.loop.TickEvery = time.Second
	s.loop.Tick = s.tick

	fd, err := listenSocket(s.listen)
	if err != nil {
		s.loop.Close()
		return err
	}
	s.listenFD = fd
	sa, err := unix.Getsockname(fd)
	if err == nil {
		s.bound = addrPortFromSockaddr(sa)
	}

	s.listenReg, err = s.loop.Register(fd, (*acceptor)(s))
	if err != nil {
		unix.Close(fd)
		s.loop.Close()
		return err
	}
	s.listenReg.WantRecv()

	go func() {
		err := s.loop.Run(s.ctx)
		if err != nil {
			s.logger.Error("event loop: ", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, useful when port 0 was asked.
func (s *Server) Addr() netip.AddrPort {
	return s.bound
}

func (s *Server) Close() error {
	s.cancel()
	if s.loop != nil {
		s.loop.Close()
	}
	// The loop goroutine is gone, session state is ours now.
	for ses := range s.sessions {
		ses.abort()
	}
	s.sessions = make(map[*session]struct{})
	if s.listenFD >= 0 {
		unix.Close(s.listenFD)
		s.listenFD = -1
	}
	s.engine.Pipes.Close()
	return nil
}

// tick runs after every poller round: deferred session work first, then
// a deadline sweep at most once per second.
func (s *Server) tick() {
	s.runner.Drain()
	now := time.Now()
	if now.Sub(s.lastScan) < time.Second {
		return
	}
	s.lastScan = now
	for ses := range s.sessions {
		ses.checkDeadlines(now)
	}
	s.runner.Drain()
}

// acceptor adapts the server to the readiness interface for the listen
// descriptor.
type acceptor Server

func (a *acceptor) HandleReady(ready sock.Ready) {
	(*Server)(a).accept()
}

func (s *Server) accept() {
	for {
		fd, sa, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if !sock.IsWouldBlock(err) {
				s.logger.Warn("accept: ", err)
			}
			return
		}
		err = s.newSession(fd, addrPortFromSockaddr(sa))
		if err != nil {
			s.logger.Warn("session setup: ", err)
		}
	}
}

func (s *Server) newSession(clientFD int, source netip.AddrPort) error {
	unix.SetsockoptInt(clientFD, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	upstreamFD, err := dialSocket(s.upstream)
	if err != nil {
		unix.Close(clientFD)
		return err
	}

	ses := &session{server: s, source: source}
	ses.task = s.runner.NewTask(ses.process)
	ses.client.session = ses
	ses.upstream.session = ses

	clientEP, err := s.attach(&ses.client, clientFD)
	if err != nil {
		unix.Close(clientFD)
		unix.Close(upstreamFD)
		return err
	}
	upstreamEP, err := s.attach(&ses.upstream, upstreamFD)
	if err != nil {
		clientEP.Close()
		unix.Close(upstreamFD)
		return err
	}

	ses.client.si, ses.upstream.si = s.engine.NewPair(clientEP, upstreamEP)
	for _, h := range []*half{&ses.client, &ses.upstream} {
		h.si.Owner = ses.task
		h.si.In.ScheduleForward(buf.ForwardInfinite)
		h.si.In.ReadTimeout = s.transferTimeout
		h.si.In.WriteTimeout = s.transferTimeout
	}

	// The upstream connect is in flight; hold the interface in the
	// connecting state until the socket reports writable.
	ses.upstream.si.State = stream.StateConnecting
	upstreamEP.Flags |= sock.FlagWaitConnect
	ses.upstream.si.Exp = time.Now().Add(s.connectTimeout)
	upstreamEP.WantSend()

	s.sessions[ses] = struct{}{}
	s.engine.Update(ses.client.si)
	s.logger.Debug("inbound ", source, " ==> ", s.upstream)
	return nil
}

func (s *Server) attach(h *half, fd int) (*sock.Endpoint, error) {
	conn, err := sock.NewFDConn(fd)
	if err != nil {
		return nil, err
	}
	reg, err := s.loop.Register(fd, h)
	if err != nil {
		return nil, err
	}
	h.conn = conn
	return &sock.Endpoint{Conn: conn, Notify: reg}, nil
}

func listenSocket(addr netip.AddrPort) (int, error) {
	fd, err := unix.Socket(socketFamily(addr.Addr()), unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, E.Cause(err, "listen socket")
	}
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	err = unix.Bind(fd, sockaddrFromAddrPort(addr))
	if err != nil {
		unix.Close(fd)
		return -1, E.Cause(err, "bind ", addr)
	}
	err = unix.Listen(fd, 128)
	if err != nil {
		unix.Close(fd)
		return -1, E.Cause(err, "listen")
	}
	return fd, nil
}

func dialSocket(addr netip.AddrPort) (int, error) {
	fd, err := unix.Socket(socketFamily(addr.Addr()), unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, E.Cause(err, "upstream socket")
	}
	unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	err = unix.Connect(fd, sockaddrFromAddrPort(addr))
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, E.Cause(err, "connect ", addr)
	}
	return fd, nil
}

func socketFamily(addr netip.Addr) int {
	if addr.Is4() || addr.Is4In6() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

func sockaddrFromAddrPort(addr netip.AddrPort) unix.Sockaddr {
	if addr.Addr().Is4() || addr.Addr().Is4In6() {
		return &unix.SockaddrInet4{Port: int(addr.Port()), Addr: addr.Addr().As4()}
	}
	return &unix.SockaddrInet6{Port: int(addr.Port()), Addr: addr.Addr().As16()}
}

func addrPortFromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	}
	return netip.AddrPort{}
}
