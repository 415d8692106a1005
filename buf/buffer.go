package buf

import (
	"math"
	"time"

	"github.com/bytelane/sluice/pipe"
)

// DefaultSize is the buffer capacity used when nothing else is configured.
const DefaultSize = 16384

// ForwardInfinite is the ToForward sentinel for unbounded forwarding.
const ForwardInfinite = int64(math.MaxInt64)

// Buffer is the unit of data exchange between a socket endpoint and the
// rest of the proxy: a Ring holding the bytes, a forwarding quota, the
// condition flags reconciliation feeds on, transfer deadlines and the
// optional kernel channel used by the zero-copy path.
type Buffer struct {
	Ring
	Flags Flags

	// ToForward is the number of bytes pre-approved to move from input
	// to output without inspection, or ForwardInfinite. It never goes
	// negative and, unless infinite, only decreases as bytes move.
	ToForward int64

	// Total counts every byte that ever entered this buffer or its
	// kernel channel.
	Total int64

	// XferSmall and XferLarge count consecutive small/large transfers
	// for the streamer heuristic.
	XferSmall int
	XferLarge int

	// ReadDeadline and WriteDeadline are the advisory expiration dates
	// reconciliation arms from the timeouts below. Zero means none.
	ReadDeadline  time.Time
	WriteDeadline time.Time

	// ReadTimeout and WriteTimeout are the configured durations used to
	// arm the deadlines. Zero means never expire.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pipe is the kernel channel attached while zero-copy forwarding is
	// in progress. Never attached empty.
	Pipe *pipe.Pipe
}

// New returns an empty buffer of the given capacity. A fresh buffer has
// nothing to send, so OutEmpty starts set.
func New(capacity int) *Buffer {
	return &Buffer{
		Ring:  NewRing(capacity),
		Flags: OutEmpty,
	}
}

// Advance moves n bytes from pending input to pending output, the step
// that makes freshly read bytes sendable without another copy.
func (b *Buffer) Advance(n int) {
	b.Forward(n)
	if b.Out() > 0 {
		b.Flags.Clear(OutEmpty)
	}
}

// ScheduleForward adds n bytes to the forwarding quota, immediately
// moving whatever already sits in the input region, and returns the
// number of bytes moved now. Passing ForwardInfinite switches the
// buffer to unbounded forwarding.
func (b *Buffer) ScheduleForward(n int64) int {
	if n == 0 {
		return 0
	}
	moved := int64(b.In())
	if n != ForwardInfinite && moved > n {
		moved = n
	}
	if moved > 0 {
		b.Advance(int(moved))
	}
	if b.ToForward != ForwardInfinite {
		if n == ForwardInfinite {
			b.ToForward = ForwardInfinite
		} else {
			b.ToForward += n - moved
		}
	}
	return int(moved)
}
