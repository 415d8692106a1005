package stream

import (
	"time"

	"github.com/bytelane/sluice/buf"
	"github.com/bytelane/sluice/sock"
)

// Update reconciles polling interest and deadlines with the buffer
// flags once they have settled, before the activity flags are cleared
// by the caller. Calling it more often than needed does no harm.
func (e *Engine) Update(si *Interface) {
	ib := si.In
	ob := si.Out

	if !ib.Flags.Has(buf.ShutRead) {
		if ib.Flags.Has(buf.Full | buf.Hijacked | buf.DontRead) {
			// Stop reading, once.
			if !si.Flags.Has(WaitRoom) {
				if ib.Flags&(buf.Full|buf.Hijacked|buf.DontRead) == buf.Full {
					si.Flags.Set(WaitRoom)
				}
				si.EP.StopRecv()
				ib.ReadDeadline = time.Time{}
			}
		} else {
			// (Re)start reading. The deadline is only armed when none
			// is set: recomputing it on every pass could keep it from
			// ever expiring. Completed transfers refresh it elsewhere.
			si.Flags.Clear(WaitRoom)
			si.EP.WantRecv()
			if !ib.Flags.Has(buf.ReadNoExpire) && ib.ReadDeadline.IsZero() {
				ib.ReadDeadline = e.deadline(ib.ReadTimeout)
			}
		}
	}

	if !ob.Flags.Has(buf.ShutWrite) {
		if ob.Flags.Has(buf.OutEmpty) {
			// Stop writing, once.
			if !si.Flags.Has(WaitData) {
				if !ob.Flags.Has(buf.Full | buf.Hijacked | buf.ShutWritePending) {
					si.Flags.Set(WaitData)
				}
				si.EP.StopSend()
				ob.WriteDeadline = time.Time{}
			}
		} else {
			// (Re)start writing, same arm-once rule as the read side.
			si.Flags.Clear(WaitData)
			si.EP.WantSend()
			if ob.WriteDeadline.IsZero() {
				ob.WriteDeadline = e.deadline(ob.WriteTimeout)
				if !ib.ReadDeadline.IsZero() && !si.Flags.Has(IndepStreams) {
					// We don't know whether the protocol expects to
					// read while writing; refresh the read deadline so
					// it cannot fire during a long send, unless the
					// streams were declared independent.
					ib.ReadDeadline = e.deadline(ib.ReadTimeout)
				}
			}
		}
	}
}

// ChkRcv is the cross-side notification asking si to re-evaluate its
// receive interest, typically after its peer freed buffer room. It
// deliberately leaves deadlines alone so they can still be checked at
// the next wake-up.
func (e *Engine) ChkRcv(si *Interface) {
	ib := si.In

	if si.State != StateEstablished || ib.Flags.Has(buf.ShutRead) {
		return
	}

	if ib.Flags.Has(buf.Full | buf.Hijacked | buf.DontRead) {
		// Stop reading.
		if ib.Flags&(buf.Full|buf.Hijacked|buf.DontRead) == buf.Full {
			si.Flags.Set(WaitRoom)
		}
		si.EP.StopRecv()
	} else {
		// (Re)start reading.
		si.Flags.Clear(WaitRoom)
		si.EP.WantRecv()
	}
}

// ChkSnd is the cross-side notification telling si that its output
// buffer was handed new data: it attempts an opportunistic write right
// away instead of waiting for the poller.
func (e *Engine) ChkSnd(si *Interface) {
	ep := si.EP
	ob := si.Out

	if si.State != StateEstablished || ob.Flags.Has(buf.ShutWrite) {
		return
	}

	// Called with nothing to send.
	if ob.Flags.Has(buf.OutEmpty) {
		return
	}

	// Spliced data wants to be forwarded as soon as possible. Short of
	// that, skip when this side is not starved for data or when a
	// send-ready event is on its way anyway.
	if ob.Pipe == nil &&
		(!si.Flags.Has(WaitData) || ep.Ready.Has(sock.ReadyOut)) {
		return
	}

	if e.writeLoop(si, ob) < 0 {
		// Write error; latch it so the descriptor is not used anymore,
		// and notify the owner.
		ep.Flags |= sock.FlagError
		ep.Ready &^= sock.ReadySticky
		ep.StopBoth()
		si.Flags.Set(Errored)
		e.wake(si)
		return
	}

	if ob.Flags.Has(buf.OutEmpty) {
		// All drained. If the feeder queued a shutdown behind the data
		// and the buffer auto-closes, that was the last chunk.
		if ob.Flags&(buf.ShutWrite|buf.Hijacked|buf.AutoClose|buf.ShutWritePending) ==
			buf.AutoClose|buf.ShutWritePending &&
			si.State == StateEstablished {
			e.ShutWrite(si)
			e.wake(si)
			return
		}

		if !ob.Flags.Has(buf.ShutWrite | buf.ShutWritePending | buf.Full | buf.Hijacked) {
			si.Flags.Set(WaitData)
		}
		ob.WriteDeadline = time.Time{}
	} else {
		// Data remains, so poll before trying again.
		ep.WantSend()
		si.Flags.Clear(WaitData)
		if ob.WriteDeadline.IsZero() {
			ob.WriteDeadline = e.deadline(ob.WriteTimeout)
		}
	}

	if ob.Flags.Has(buf.WriteActivity) {
		// Update the deadline when something was written but output
		// remains pending.
		if ob.Flags&(buf.OutEmpty|buf.ShutWrite|buf.WritePartial) == buf.WritePartial {
			ob.WriteDeadline = e.deadline(ob.WriteTimeout)
		}

		if !si.In.ReadDeadline.IsZero() && !si.Flags.Has(IndepStreams) {
			// Keep the read deadline from firing while this side is
			// actively sending, unless streams are independent.
			si.In.ReadDeadline = e.deadline(si.In.ReadTimeout)
		}
	}

	// Special conditions are the owner's business: errors, completed
	// shutdowns, and output fully drained with nothing left to forward.
	if ob.Flags.Has(buf.WriteNull|buf.WriteError|buf.ShutWrite) ||
		(ob.Flags.Has(buf.OutEmpty) && ob.ToForward == 0) ||
		si.State != StateEstablished {
		e.wake(si)
	}
}
