package stream

import (
	"time"

	"github.com/bytelane/sluice/buf"
	"github.com/bytelane/sluice/sock"
)

// Write is the send handler, invoked when si's socket reports
// send-ready. Errors and an already shut write side short-circuit the
// same way they do on the read side.
func (e *Engine) Write(si *Interface) {
	ep := si.EP
	b := si.Out

	if ep.Flags&sock.FlagError != 0 {
		e.fault(si)
		return
	}

	// Maybe called just after an asynchronous write shutdown.
	if b.Flags.Has(buf.ShutWrite) {
		return
	}

	if e.writeLoop(si, b) < 0 {
		e.fault(si)
	}
}

// writeLoop drains the kernel channel, then the byte buffer, toward the
// socket. It returns -1 on an unrecoverable error, otherwise zero.
func (e *Engine) writeLoop(si *Interface, b *buf.Buffer) int {
	ep := si.EP
	writePoll := e.Tune.WriteLoops

	for b.Pipe != nil {
		n, err := ep.Conn.SpliceOut(b.Pipe, b.Pipe.Data())
		if err != nil {
			if sock.IsWouldBlock(err) {
				ep.PollSend()
				return 0
			}
			return -1
		}
		if n == 0 {
			// Nothing moved, poll for write first.
			ep.PollSend()
			return 0
		}

		b.Flags.Set(buf.WritePartial)
		b.Pipe.Sub(n)

		if b.Pipe.Empty() {
			e.Pipes.Put(b.Pipe)
			b.Pipe = nil
			break
		}

		writePoll--
		if writePoll <= 0 {
			return 0
		}

		// The only reason the channel was not emptied is a full socket
		// buffer.
		ep.PollSend()
		return 0
	}

	// The channel is drained; data may remain in the byte buffer.
	if b.Out() == 0 {
		b.Flags.Set(buf.OutEmpty)
		return 0
	}

	for {
		span := b.ReadSpan()
		max := len(span)

		// Tell the kernel more data follows this call when: a finite
		// forwarding quota still remains or the feeder marked more data
		// coming, unless told never to wait; or this is the last send
		// before a pending write shutdown and everything fits in one
		// call; or the span cannot cover the pending output. The
		// send-immediately override beats them all.
		more := (!b.Flags.Has(buf.NeverWait) &&
			((b.ToForward != 0 && b.ToForward != buf.ForwardInfinite) ||
				b.Flags.Has(buf.ExpectMore))) ||
			(b.Flags&(buf.ShutWrite|buf.ShutWritePending|buf.Hijacked) == buf.ShutWritePending &&
				max == b.Out()) ||
			max != b.Out()
		if b.Flags.Has(buf.SendDontWait) {
			more = false
		}

		n, err := ep.Conn.Send(span, more)
		if err != nil {
			if sock.IsWouldBlock(err) {
				// Nothing written, poll for write first.
				ep.PollSend()
				return 0
			}
			return -1
		}
		if n == 0 {
			ep.PollSend()
			return 0
		}

		if ep.Flags&sock.FlagWaitConnect != 0 {
			ep.Flags &^= sock.FlagWaitConnect
			si.Exp = time.Time{}
		}

		b.Flags.Set(buf.WritePartial)
		b.Consume(n)

		if b.Len() == 0 {
			// Optimize data alignment in the buffer.
			b.Realign()
		}
		if b.Space() > 0 {
			b.Flags.Clear(buf.Full)
		}

		if b.Out() == 0 {
			// Both send hints are one-shot, drop them with the last
			// pending byte.
			b.Flags.Clear(buf.ExpectMore | buf.SendDontWait)
			if b.Pipe == nil {
				b.Flags.Set(buf.OutEmpty)
			}
			break
		}

		// If the system buffer is full, don't insist.
		if n < max {
			break
		}

		writePoll--
		if writePoll <= 0 {
			break
		}
	}
	return 0
}
