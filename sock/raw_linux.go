package sock

import (
	"golang.org/x/sys/unix"

	"github.com/bytelane/sluice/pipe"
)

// FDConn is a non-blocking socket wrapped around a raw descriptor. All
// calls translate directly into syscalls without any buffering of their
// own.
type FDConn struct {
	fd int
}

// NewFDConn takes ownership of fd and switches it to non-blocking mode.
func NewFDConn(fd int) (*FDConn, error) {
	err := unix.SetNonblock(fd, true)
	if err != nil {
		return nil, err
	}
	return &FDConn{fd: fd}, nil
}

func (c *FDConn) FD() int {
	return c.fd
}

func (c *FDConn) Recv(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *FDConn) Send(p []byte, more bool) (int, error) {
	flags := unix.MSG_DONTWAIT | unix.MSG_NOSIGNAL
	if more {
		flags |= unix.MSG_MORE
	}
	n, err := unix.SendmsgN(c.fd, p, nil, nil, flags)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *FDConn) SpliceIn(p *pipe.Pipe, max int) (int, error) {
	n, err := unix.Splice(c.fd, nil, p.WriteFD(), nil, max, unix.SPLICE_F_MOVE|unix.SPLICE_F_NONBLOCK)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (c *FDConn) SpliceOut(p *pipe.Pipe, max int) (int, error) {
	n, err := unix.Splice(p.ReadFD(), nil, c.fd, nil, max, unix.SPLICE_F_MOVE|unix.SPLICE_F_NONBLOCK)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ConnectError reads the pending error of a non-blocking connect after
// the socket reported writable. A nil return means the connection is
// established.
func (c *FDConn) ConnectError() error {
	code, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if code != 0 {
		return unix.Errno(code)
	}
	return nil
}

func (c *FDConn) ShutdownWrite() error {
	return unix.Shutdown(c.fd, unix.SHUT_WR)
}

// SetNoLinger arms an abortive close: the next Close sends a reset
// instead of lingering on unsent data.
func (c *FDConn) SetNoLinger() error {
	return unix.SetsockoptLinger(c.fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0})
}

func (c *FDConn) Close() error {
	return unix.Close(c.fd)
}
