package stream

import (
	"time"

	"github.com/bytelane/sluice/buf"
	"github.com/bytelane/sluice/sock"
)

// Read is the receive handler, invoked when si's socket reports
// receive-ready or a hang-up. It moves socket bytes into the input
// buffer, or through a kernel channel when splicing applies, advancing
// the forwarding quota as it goes.
func (e *Engine) Read(si *Interface) {
	ep := si.EP
	b := si.In

	// Stop immediately on a latched error. A fresh poll error alone is
	// not enough: the poller may report a write error while data still
	// sits in the receive buffer.
	if ep.Flags&sock.FlagError != 0 {
		e.fault(si)
		return
	}

	// A hang-up without receive readiness means the end of data.
	if ep.Ready&(sock.ReadyIn|sock.ReadyHup) == sock.ReadyHup {
		e.readZero(si)
		return
	}

	// Maybe called just after an asynchronous read shutdown.
	if b.Flags.Has(buf.ShutRead) {
		return
	}

	// A hang-up may arrive together with the last bytes still queued in
	// the socket, so it must not short-circuit the transfer here: the
	// splice loop observes the close itself, and the close-detect policy
	// covers kernels whose splice cannot report it.
	if b.ToForward >= minSpliceForward && b.Flags.Has(buf.KernelSplicing) {
		if e.spliceIn(si, b) >= 0 {
			if si.Flags.Has(Errored) {
				e.fault(si)
				return
			}
			if b.Flags.Has(buf.ReadNull) {
				e.readZero(si)
				return
			}
			return
		}
		// Splice not possible, or not possible anymore; go on with a
		// standard copy.
	}

	curRead := 0
	readPoll := e.Tune.ReadLoops
	for {
		if b.Space() == 0 {
			b.Flags.Set(buf.Full)
			si.Flags.Set(WaitRoom)
			break
		}

		// Realign an empty buffer so the receive below gets the
		// largest contiguous block.
		if b.IsEmpty() {
			b.Realign()
		}
		span := b.WriteSpan()

		n, err := ep.Conn.Recv(span)
		if err != nil {
			if sock.IsWouldBlock(err) {
				// Inform the poller that nothing is left only when we
				// read less than we were still expecting; otherwise
				// work was done and readiness will return by itself.
				if curRead < minRetForReadLoop {
					ep.PollRecv()
				}
				break
			}
			e.fault(si)
			return
		}
		if n == 0 {
			e.readZero(si)
			return
		}

		b.Commit(n)
		curRead += n

		// Make the newly read bytes sendable right away, as far as the
		// forwarding quota allows, unless the write side is already
		// shutting down.
		if b.ToForward != 0 && !b.Flags.Has(buf.ShutWrite|buf.ShutWritePending) {
			fwd := int64(n)
			if b.ToForward != buf.ForwardInfinite {
				if fwd > b.ToForward {
					fwd = b.ToForward
				}
				b.ToForward -= fwd
			}
			b.Advance(int(fwd))
		}

		if ep.Flags&sock.FlagWaitConnect != 0 {
			ep.Flags &^= sock.FlagWaitConnect
			si.Exp = time.Time{}
		}

		b.Flags.Set(buf.ReadPartial)
		b.Total += int64(n)

		if b.Space() == 0 {
			// The buffer is full, no point in another round.
			classifyStreamer(b, curRead)
			b.Flags.Set(buf.Full)
			si.Flags.Set(WaitRoom)
			break
		}

		if n < len(span) {
			// A short read usually means the system gave all it had.
			if b.Flags.Has(buf.Streamer|buf.StreamerFast) && curRead <= b.Cap()/2 {
				b.XferLarge = 0
				b.XferSmall++
				if b.XferSmall >= 3 {
					// Under half a buffer per pass, three passes in a
					// row: definitely not a streamer.
					b.Flags.Clear(buf.Streamer | buf.StreamerFast)
				}
			}

			// On level-triggered pollers the hang-up generally arrives
			// once the system buffer is empty, so this may never match.
			if ep.Ready.Has(sock.ReadyHup) {
				e.readZero(si)
				return
			}

			// A streamer that read little has exhausted the system
			// buffers; not worth retrying.
			if b.Flags.Has(buf.Streamer) {
				break
			}

			// A large block smaller than requested makes further data
			// unlikely.
			if n >= e.Tune.RecvEnough {
				break
			}
		}

		readPoll--
		if b.Flags.Has(buf.ReadDontWait) || readPoll <= 0 {
			break
		}
	}
}

// classifyStreamer updates the transfer-pattern counters when the
// buffer fills up in one handler call. Three consecutive whole-buffer
// fills make a fast streamer; an established streamer that fills at
// most half the buffer twice in a row loses the fast mark.
func classifyStreamer(b *buf.Buffer, curRead int) {
	switch {
	case !b.Flags.Has(buf.StreamerFast) && curRead == b.Len():
		b.XferSmall = 0
		b.XferLarge++
		if b.XferLarge >= 3 {
			b.Flags.Set(buf.Streamer | buf.StreamerFast)
		}
	case b.Flags.Has(buf.Streamer|buf.StreamerFast) && curRead <= b.Cap()/2:
		b.XferLarge = 0
		b.XferSmall++
		if b.XferSmall >= 2 {
			b.Flags.Clear(buf.StreamerFast)
		}
	default:
		b.XferSmall = 0
		b.XferLarge = 0
	}
}
