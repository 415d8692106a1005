package stream

import (
	"time"

	"github.com/bytelane/sluice/buf"
	"github.com/bytelane/sluice/sock"
	"github.com/bytelane/sluice/task"
)

// State tracks where a stream interface is in its connection lifecycle.
type State uint8

const (
	StateInit State = iota
	StateConnecting
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Flags carries the per-interface conditions the engine and the paired
// side coordinate through.
type Flags uint16

const (
	// Errored marks a fatal I/O failure on this side.
	Errored Flags = 1 << iota
	// WaitRoom means receiving stalled until the peer frees buffer
	// space.
	WaitRoom
	// WaitData means sending stalled until the peer feeds the output
	// buffer.
	WaitData
	// CanSplice advertises kernel channel support on this side.
	CanSplice
	// NoHalf propagates a read shutdown to the write side immediately
	// instead of leaving the connection half-open.
	NoHalf
	// NoLinger makes the eventual close abortive, discarding unsent
	// data.
	NoLinger
	// IndepStreams disables the read-deadline refresh on write
	// activity.
	IndepStreams
	// DontWake suppresses owner wake-ups, used while the owner itself
	// is the caller.
	DontWake
)

func (f Flags) Has(mask Flags) bool {
	return f&mask != 0
}

func (f *Flags) Set(mask Flags) {
	*f |= mask
}

func (f *Flags) Clear(mask Flags) {
	*f &^= mask
}

// Interface is one side of a relayed stream: a socket endpoint plus the
// two buffers it reads into and writes from. A pair shares its buffers
// crosswise, so everything one side receives the other sends.
type Interface struct {
	State State
	Flags Flags
	EP    *sock.Endpoint

	// In collects bytes read from this socket; Out drains toward it.
	In  *buf.Buffer
	Out *buf.Buffer

	Peer *Interface

	// Exp is the connect expiry. Transfer deadlines live on the
	// buffers.
	Exp time.Time

	Owner task.Waker

	// Release runs once when the interface fully closes.
	Release func(*Interface)
}

// Pair wires two interfaces into a relay. forward carries left's input
// to right's output, backward the reverse.
func Pair(left, right *Interface, forward, backward *buf.Buffer) {
	left.In = forward
	right.Out = forward
	right.In = backward
	left.Out = backward
	left.Peer = right
	right.Peer = left
}
