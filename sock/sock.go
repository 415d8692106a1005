// Package sock models the non-blocking socket endpoint the data plane
// drives: the raw I/O operations, the readiness bits the poller reports
// and the interest knobs the engine turns.
package sock

import "github.com/bytelane/sluice/pipe"

// Conn is the raw, non-blocking I/O surface of one connected socket.
// Every call returns immediately; a would-block condition surfaces as
// an error recognized by IsWouldBlock.
type Conn interface {
	// Recv reads once into p. Returns 0 with a nil error on a clean end
	// of stream.
	Recv(p []byte) (int, error)

	// Send writes once from p. more hints the kernel that further data
	// follows immediately, so it may hold back a partial segment.
	Send(p []byte, more bool) (int, error)

	// SpliceIn moves up to max bytes from the socket into the channel
	// without copying through user space. Returns 0 with a nil error on
	// end of stream, when the kernel is able to report it.
	SpliceIn(p *pipe.Pipe, max int) (int, error)

	// SpliceOut moves up to max bytes from the channel into the socket.
	SpliceOut(p *pipe.Pipe, max int) (int, error)

	// ShutdownWrite half-closes the sending direction.
	ShutdownWrite() error

	// SetNoLinger arms an immediate-discard close: buffered data is
	// dropped and the peer sees a reset instead of a graceful end.
	SetNoLinger() error

	Close() error
}
