// Package stream implements the data plane of a TCP relay: buffered
// and kernel-spliced transfer between two non-blocking sockets, driven
// by readiness events on a single goroutine.
package stream

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bytelane/sluice/buf"
	"github.com/bytelane/sluice/pipe"
	"github.com/bytelane/sluice/sock"
	"github.com/bytelane/sluice/task"
)

const (
	// spliceFullHint approximates a filled kernel channel: pipes hold
	// sixteen segments and 1448-byte segments are common with
	// timestamps on. Past this, another splice round wastes a syscall.
	spliceFullHint = 16 * 1448

	// maxSpliceAtOnce bounds one splice call when the forwarding quota
	// is unbounded.
	maxSpliceAtOnce = 1 << 30

	// minSpliceForward is the smallest remaining quota worth setting a
	// kernel channel up for.
	minSpliceForward = 4096

	// minRetForReadLoop is about one MSS; reading less than this
	// usually means the socket buffer was drained.
	minRetForReadLoop = 1460

	maxReadPollLoops  = 4
	maxWritePollLoops = 3

	// recvEnough is a read size past which another receive round is
	// unlikely to return more.
	recvEnough = 7 * 1448
)

// Tuning bundles the engine knobs.
type Tuning struct {
	// BufSize is the byte buffer capacity per direction.
	BufSize int

	// RecvEnough stops the read loop once a single receive returned at
	// least this much.
	RecvEnough int

	// ReadLoops and WriteLoops bound syscalls per handler invocation so
	// one busy connection cannot starve the rest.
	ReadLoops  int
	WriteLoops int

	// MaxPipes caps concurrently held kernel channels. PipeSize, when
	// non-zero, resizes each channel at creation.
	MaxPipes int
	PipeSize int

	// Splice enables the kernel channel fast path.
	Splice bool

	// CloseDetect selects how an empty-channel would-block on splice is
	// disambiguated from end-of-stream.
	CloseDetect pipe.CloseDetect
}

func DefaultTuning() Tuning {
	return Tuning{
		BufSize:     buf.DefaultSize,
		RecvEnough:  recvEnough,
		ReadLoops:   maxReadPollLoops,
		WriteLoops:  maxWritePollLoops,
		MaxPipes:    256,
		Splice:      true,
		CloseDetect: pipe.CloseDetectAuto,
	}
}

// Engine runs the transfer operations over stream interfaces. It owns
// no per-connection state; everything lives on the interfaces and
// their buffers, so one engine serves any number of pairs on a single
// goroutine.
type Engine struct {
	Pipes  *pipe.Pool
	Tune   Tuning
	Logger *logrus.Entry

	// Now supplies the clock for deadline arithmetic.
	Now func() time.Time
}

func NewEngine(tune Tuning, logger *logrus.Entry) *Engine {
	return &Engine{
		Pipes:  pipe.NewPool(tune.MaxPipes, tune.PipeSize, tune.CloseDetect),
		Tune:   tune,
		Logger: logger,
		Now:    time.Now,
	}
}

// NewPair builds two established interfaces around the given endpoints,
// wired crosswise with fresh buffers, splicing enabled per the tuning.
// Both buffers auto-close: a shutdown observed on one side is forwarded
// to the other once the remaining data has drained.
func (e *Engine) NewPair(left, right *sock.Endpoint) (*Interface, *Interface) {
	forward := buf.New(e.Tune.BufSize)
	backward := buf.New(e.Tune.BufSize)
	forward.Flags.Set(buf.AutoClose)
	backward.Flags.Set(buf.AutoClose)
	a := &Interface{State: StateEstablished, EP: left}
	b := &Interface{State: StateEstablished, EP: right}
	Pair(a, b, forward, backward)
	if e.Tune.Splice {
		a.Flags.Set(CanSplice)
		b.Flags.Set(CanSplice)
	}
	if a.Flags.Has(CanSplice) && b.Flags.Has(CanSplice) {
		forward.Flags.Set(buf.KernelSplicing)
		backward.Flags.Set(buf.KernelSplicing)
	}
	return a, b
}

// ReleasePipes returns any kernel channel still attached to either
// buffer to the pool. Called during teardown; the pool closes channels
// that still hold data.
func (e *Engine) ReleasePipes(si *Interface) {
	for _, b := range []*buf.Buffer{si.In, si.Out} {
		if b != nil && b.Pipe != nil {
			e.Pipes.Put(b.Pipe)
			b.Pipe = nil
		}
	}
}

// fault latches a fatal error: the connection is marked broken, both
// interest directions stop, and the owner observes it through the
// errored flag.
func (e *Engine) fault(si *Interface) {
	si.EP.Flags |= sock.FlagError
	si.EP.StopBoth()
	si.Flags.Set(Errored)
	if e.Logger != nil {
		e.Logger.Debug("connection fault in state ", si.State)
	}
}

func (e *Engine) wake(si *Interface) {
	if !si.Flags.Has(DontWake) && si.Owner != nil {
		si.Owner.Wake(task.WokenIO)
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// deadline computes now+timeout, or the zero time when no timeout is
// configured.
func (e *Engine) deadline(timeout time.Duration) time.Time {
	if timeout == 0 {
		return time.Time{}
	}
	return e.now().Add(timeout)
}
