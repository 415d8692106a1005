package stream

import (
	"time"

	"github.com/bytelane/sluice/buf"
	"github.com/bytelane/sluice/sock"
)

// spliceIn moves socket bytes straight into a kernel channel attached
// to b, bypassing the byte buffer.
//
// It returns -1 when splicing is not possible, or not possible anymore,
// and the caller must switch to the copy path (for instance once the
// forwarding quota is exhausted); 0 otherwise, including on errors and
// close, which are reported through flags. An emptied channel is always
// handed back to the pool before returning.
func (e *Engine) spliceIn(si *Interface, b *buf.Buffer) int {
	ep := si.EP

	if b.ToForward == 0 {
		return -1
	}
	if !b.Flags.Has(buf.KernelSplicing) {
		return -1
	}

	if !b.IsEmpty() {
		// Data already sits in the buffer and we don't want it in two
		// locations at a time. Ask the consumer to hurry.
		si.Flags.Set(WaitRoom)
		ep.StopRecv()
		b.ReadDeadline = time.Time{}
		e.ChkSnd(si.Peer)
		return 0
	}

	if b.Pipe == nil {
		channel, err := e.Pipes.Get()
		if err != nil {
			b.Flags.Clear(buf.KernelSplicing)
			return -1
		}
		b.Pipe = channel
	}

	retval := 0
	for {
		var max int
		if b.ToForward == buf.ForwardInfinite {
			max = maxSpliceAtOnce
		} else {
			max = int(b.ToForward)
		}

		if max == 0 {
			// The buffer and the channel already hold everything there
			// is to forward; time to flush them on the other side.
			retval = -1
			break
		}

		n, err := ep.Conn.SpliceIn(b.Pipe, max)
		if err != nil {
			if sock.IsWouldBlock(err) {
				if !b.Pipe.Empty() {
					// Either the socket buffer is drained or the
					// channel is full; in both cases the write side
					// must drain before we continue.
					si.Flags.Set(WaitRoom)
					break
				}
				// On an empty channel, would-block is ambiguous with
				// end-of-stream on kernels where splice cannot report
				// a close. If this host has proven it can, this is a
				// plain would-block; otherwise let the copy path sort
				// it out.
				if e.Pipes.DetectsClose() {
					ep.PollRecv()
				} else {
					retval = -1
				}
				break
			}
			if sock.IsUnsupported(err) {
				// Splice cannot work on this pairing, disable it.
				b.Flags.Clear(buf.KernelSplicing)
				si.Flags.Clear(CanSplice)
				e.Pipes.Put(b.Pipe)
				b.Pipe = nil
				return -1
			}
			si.Flags.Set(Errored)
			break
		}
		if n == 0 {
			// Connection closed. Only recent kernels report it through
			// splice; remember that this one does.
			e.Pipes.MarkCloseDetected()
			b.Flags.Set(buf.ReadNull)
			break
		}

		if b.ToForward != buf.ForwardInfinite {
			b.ToForward -= int64(n)
		}
		b.Total += int64(n)
		b.Pipe.Add(n)
		b.Flags.Set(buf.ReadPartial)
		b.Flags.Clear(buf.OutEmpty)

		if b.Pipe.Data() >= spliceFullHint || n >= e.Tune.RecvEnough {
			// We've read enough of it for this time.
			break
		}
	}

	if b.Pipe.Empty() {
		e.Pipes.Put(b.Pipe)
		b.Pipe = nil
	}

	return retval
}
