package stream_test

import (
	"bytes"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bytelane/sluice/buf"
	"github.com/bytelane/sluice/common/log"
	"github.com/bytelane/sluice/pipe"
	"github.com/bytelane/sluice/sock"
	"github.com/bytelane/sluice/stream"
	"github.com/bytelane/sluice/task"
)

// fakeConn scripts the syscall surface of one socket: queued receive
// chunks, a capped send sink and overridable splice behavior.
type fakeConn struct {
	chunks    [][]byte
	eof       bool
	recvCalls int

	sent      bytes.Buffer
	sentMore  []bool
	sendLimit int
	sendErr   error
	sendCalls int

	spliceInFn  func(p *pipe.Pipe, max int) (int, error)
	spliceOutFn func(p *pipe.Pipe, max int) (int, error)

	shutdowns int
	noLinger  bool
	closed    bool
}

func (c *fakeConn) Recv(p []byte) (int, error) {
	c.recvCalls++
	if len(c.chunks) == 0 {
		if c.eof {
			return 0, nil
		}
		return 0, unix.EAGAIN
	}
	chunk := c.chunks[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		c.chunks[0] = chunk[n:]
	} else {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func (c *fakeConn) Send(p []byte, more bool) (int, error) {
	c.sendCalls++
	if c.sendErr != nil {
		return 0, c.sendErr
	}
	n := len(p)
	if c.sendLimit > 0 && n > c.sendLimit {
		n = c.sendLimit
	}
	c.sent.Write(p[:n])
	c.sentMore = append(c.sentMore, more)
	return n, nil
}

func (c *fakeConn) SpliceIn(p *pipe.Pipe, max int) (int, error) {
	if c.spliceInFn != nil {
		return c.spliceInFn(p, max)
	}
	return 0, unix.ENOSYS
}

func (c *fakeConn) SpliceOut(p *pipe.Pipe, max int) (int, error) {
	if c.spliceOutFn != nil {
		return c.spliceOutFn(p, max)
	}
	return 0, unix.ENOSYS
}

func (c *fakeConn) ShutdownWrite() error {
	c.shutdowns++
	return nil
}

func (c *fakeConn) SetNoLinger() error {
	c.noLinger = true
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

// fakeNotifier counts interest changes.
type fakeNotifier struct {
	wantRecv, stopRecv, pollRecv int
	wantSend, stopSend, pollSend int
	detached                     bool
}

func (n *fakeNotifier) WantRecv() { n.wantRecv++ }
func (n *fakeNotifier) StopRecv() { n.stopRecv++ }
func (n *fakeNotifier) PollRecv() { n.pollRecv++ }
func (n *fakeNotifier) WantSend() { n.wantSend++ }
func (n *fakeNotifier) StopSend() { n.stopSend++ }
func (n *fakeNotifier) PollSend() { n.pollSend++ }
func (n *fakeNotifier) Detach()   { n.detached = true }

type fakeWaker struct {
	wakes   int
	reasons task.Reason
}

func (w *fakeWaker) Wake(reason task.Reason) {
	w.wakes++
	w.reasons |= reason
}

// side bundles one half of a test relay.
type side struct {
	conn   *fakeConn
	notify *fakeNotifier
	waker  *fakeWaker
	si     *stream.Interface
}

var testClock = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// newRelay builds an engine and a fake interface pair driven by it. The
// engine clock is pinned to testClock.
func newRelay(tune stream.Tuning) (*stream.Engine, *side, *side) {
	engine := stream.NewEngine(tune, log.NewLogger("test"))
	engine.Now = func() time.Time { return testClock }

	left := &side{conn: &fakeConn{}, notify: &fakeNotifier{}, waker: &fakeWaker{}}
	right := &side{conn: &fakeConn{}, notify: &fakeNotifier{}, waker: &fakeWaker{}}
	left.si, right.si = engine.NewPair(
		&sock.Endpoint{Conn: left.conn, Notify: left.notify, Ready: sock.ReadyIn},
		&sock.Endpoint{Conn: right.conn, Notify: right.notify, Ready: sock.ReadyIn},
	)
	left.si.Owner = left.waker
	right.si.Owner = right.waker
	return engine, left, right
}

// copyTuning disables the splice path so tests drive the copy loop.
func copyTuning() stream.Tuning {
	tune := stream.DefaultTuning()
	tune.Splice = false
	return tune
}

// preload appends bytes to the pending input of b.
func preload(b *buf.Buffer, data []byte) {
	b.Write(data)
}

// preloadOut appends bytes and schedules them all as pending output.
func preloadOut(b *buf.Buffer, data []byte) {
	b.Write(data)
	b.ScheduleForward(int64(len(data)))
}
