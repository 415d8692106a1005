package stream

import (
	"time"

	"github.com/bytelane/sluice/buf"
	"github.com/bytelane/sluice/sock"
)

// readZero is the common exit for an observed end-of-stream: it records
// the null read, queues a write shutdown behind the remaining data when
// the buffer auto-closes, and propagates.
func (e *Engine) readZero(si *Interface) {
	b := si.In
	si.EP.Ready &^= sock.ReadyHup
	b.Flags.Set(buf.ReadNull)
	if b.Flags.Has(buf.AutoClose) {
		b.Flags.Set(buf.ShutWritePending)
	}
	e.ShutRead(si)
}

// ShutRead propagates a read shutdown on si: the input buffer is marked
// read-shut and, unless half-close is allowed, the close is forwarded
// to the write side.
func (e *Engine) ShutRead(si *Interface) {
	b := si.In

	b.Flags.Clear(buf.ShutReadPending)
	if b.Flags.Has(buf.ShutRead) {
		return
	}
	b.Flags.Set(buf.ShutRead)
	b.ReadDeadline = time.Time{}
	si.Flags.Clear(WaitRoom)

	if si.State != StateEstablished && si.State != StateConnecting {
		return
	}

	if si.Out.Flags.Has(buf.ShutWrite) {
		e.closeInterface(si)
		return
	}

	if si.Flags.Has(NoHalf) {
		// No half-open connections wanted here, forward the close to
		// the write side immediately.
		e.ShutWrite(si)
		return
	}

	// Otherwise that's just a normal read shutdown.
	si.EP.StopRecv()
}

// ShutWrite closes the output side of si. With unsent data still in the
// socket and the read side open, the shutdown stays graceful: the
// socket is half-closed and keeps receiving. Once both directions are
// shut the interface fully closes.
func (e *Engine) ShutWrite(si *Interface) {
	ob := si.Out

	ob.Flags.Clear(buf.ShutWritePending)
	if ob.Flags.Has(buf.ShutWrite) {
		return
	}
	ob.Flags.Set(buf.ShutWrite)
	ob.WriteDeadline = time.Time{}
	si.Flags.Clear(WaitData)

	if si.State == StateEstablished {
		switch {
		case si.Flags.Has(Errored):
			// The socket is already broken, quick close.
		case si.Flags.Has(NoLinger):
			si.Flags.Clear(NoLinger)
			si.EP.Conn.SetNoLinger()
		default:
			// Shut before closing, otherwise short final messages may
			// never leave the system while unread input remains in the
			// socket buffer.
			si.EP.StopSend()
			si.EP.Conn.ShutdownWrite()
			if !si.In.Flags.Has(buf.ShutRead | buf.DontRead) {
				return
			}
		}
	}

	si.Flags.Clear(NoLinger)
	si.In.Flags.Clear(buf.ShutReadPending)
	si.In.Flags.Set(buf.ShutRead)
	si.In.ReadDeadline = time.Time{}
	if si.State == StateEstablished || si.State == StateConnecting {
		e.closeInterface(si)
	}
}

// closeInterface finishes si: the endpoint leaves the poller and
// closes, deadlines drop, and the release hook runs once.
func (e *Engine) closeInterface(si *Interface) {
	if si.State == StateClosed {
		return
	}
	si.EP.Close()
	si.State = StateClosed
	si.Exp = time.Time{}
	if si.Release != nil {
		si.Release(si)
	}
}
