// Package pipe manages the pooled kernel channels backing zero-copy
// forwarding: unidirectional pipes a socket is spliced into on one end
// and out of on the other.
package pipe

import (
	"sync"
	"sync/atomic"

	E "github.com/bytelane/sluice/common/exceptions"

	"github.com/eapache/queue"
)

// ErrCeiling is returned by Pool.Get when the pool already handed out
// its maximum number of pipes. Not a failure: callers fall back to
// buffered copying.
var ErrCeiling = E.New("pipe pool ceiling reached")

// Pipe is one kernel channel: a descriptor pair plus the count of bytes
// currently sitting in the kernel buffer between them.
type Pipe struct {
	r, w int
	data int
}

// ReadFD is the consumer end, spliced out to a socket.
func (p *Pipe) ReadFD() int { return p.r }

// WriteFD is the producer end, spliced into from a socket.
func (p *Pipe) WriteFD() int { return p.w }

func (p *Pipe) Data() int   { return p.data }
func (p *Pipe) Empty() bool { return p.data == 0 }

// Add accounts for n bytes moved into the channel.
func (p *Pipe) Add(n int) { p.data += n }

// Sub accounts for n bytes moved out of the channel.
func (p *Pipe) Sub(n int) { p.data -= n }

// CloseDetect is the policy for the splice ambiguity on old kernels,
// where a would-block and a closed connection are indistinguishable on
// an empty channel.
type CloseDetect int

const (
	// CloseDetectAuto probes at runtime: the first zero-length splice
	// proves the kernel reports close, and the fact is latched for the
	// pool's lifetime. Until then ambiguous would-blocks fall back to
	// the copy path, which can tell the two apart.
	CloseDetectAuto CloseDetect = iota
	// CloseDetectTrusted assumes the kernel reports close, so an empty
	// would-block really is a would-block.
	CloseDetectTrusted
	// CloseDetectUntrusted never trusts an empty would-block and always
	// falls back to the copy path.
	CloseDetectUntrusted
)

// Pool owns every kernel channel of one engine: the creation ceiling,
// the free list drained pipes return to, and the close-detection latch.
type Pool struct {
	mu   sync.Mutex
	free *queue.Queue
	max  int
	size int
	used int

	detect  CloseDetect
	latched atomic.Bool
}

// NewPool builds a pool handing out at most max pipes, each with the
// given kernel buffer size hint (0 keeps the kernel default).
func NewPool(max, size int, detect CloseDetect) *Pool {
	return &Pool{
		free:   queue.New(),
		max:    max,
		size:   size,
		detect: detect,
	}
}

// Get hands out a drained pipe, reusing a pooled one when possible.
// Returns ErrCeiling once max pipes are in use.
func (p *Pool) Get() (*Pipe, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.used >= p.max {
		return nil, ErrCeiling
	}
	if p.free.Length() > 0 {
		p.used++
		return p.free.Remove().(*Pipe), nil
	}
	pp, err := newPipe(p.size)
	if err != nil {
		return nil, err
	}
	p.used++
	return pp, nil
}

// Put returns a pipe to the free list. The pipe must be drained; one
// still holding data cannot be reused and is destroyed instead.
func (p *Pool) Put(pp *Pipe) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.used--
	if pp.data != 0 {
		pp.close()
		return
	}
	p.free.Add(pp)
}

// InUse is the number of pipes currently handed out.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// Cached is the number of drained pipes waiting on the free list.
func (p *Pool) Cached() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.Length()
}

// DetectsClose reports whether a would-block on an empty channel can be
// trusted to really mean would-block.
func (p *Pool) DetectsClose() bool {
	switch p.detect {
	case CloseDetectTrusted:
		return true
	case CloseDetectUntrusted:
		return false
	default:
		return p.latched.Load()
	}
}

// MarkCloseDetected latches the runtime discovery that this kernel
// reports close through splice.
func (p *Pool) MarkCloseDetected() {
	p.latched.Store(true)
}

// Close destroys every pooled pipe. Pipes still handed out are the
// owner's to release first.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.free.Length() > 0 {
		p.free.Remove().(*Pipe).close()
	}
}
