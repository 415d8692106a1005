//go:build linux

package relay

import (
	"net/netip"
	"time"

	"github.com/bytelane/sluice/buf"
	"github.com/bytelane/sluice/sock"
	"github.com/bytelane/sluice/stream"
	"github.com/bytelane/sluice/task"
)

// session relays one accepted connection to the upstream. Everything
// runs on the loop goroutine: readiness handlers record what the poller
// saw and wake the task, process reconciles afterwards.
type session struct {
	server   *Server
	task     *task.Task
	source   netip.AddrPort
	client   half
	upstream half
	finished bool
}

// half is one direction endpoint of a session.
type half struct {
	session *session
	conn    *sock.FDConn
	si      *stream.Interface
}

func (h *half) HandleReady(ready sock.Ready) {
	h.si.EP.Ready = h.si.EP.Ready.Merge(ready)
	h.session.task.Wake(task.WokenIO)
}

func (ses *session) process(task.Reason) {
	if ses.finished {
		return
	}
	e := ses.server.engine

	// The engine must not wake this task while the task itself drives it.
	ses.client.si.Flags.Set(stream.DontWake)
	ses.upstream.si.Flags.Set(stream.DontWake)

	ses.handle(&ses.client)
	ses.handle(&ses.upstream)

	forward := ses.client.si.In
	backward := ses.upstream.si.In

	// Propagate closures between the two sides until everything
	// settles: one pass can enable the conditions of the next, like a
	// drained output completing a pending shutdown, or an opportunistic
	// send hitting an error that the next pass must resolve.
	for {
		last := ses.snapshot()

		// A broken connection takes down both of its directions at
		// once; the buffer flags then carry the closure to the peer.
		ses.resolveError(&ses.client)
		ses.resolveError(&ses.upstream)

		ses.resync(forward, &ses.client, &ses.upstream)
		ses.resync(backward, &ses.upstream, &ses.client)

		// Freshly received bytes are offered to the consumer right away
		// and freed room restarts a stalled producer, both without
		// waiting for the next poller round.
		if forward.Flags.Has(buf.ReadPartial) {
			e.ChkSnd(ses.upstream.si)
		}
		if backward.Flags.Has(buf.ReadPartial) {
			e.ChkSnd(ses.client.si)
		}
		if forward.Flags.Has(buf.WritePartial) {
			e.ChkRcv(ses.client.si)
		}
		if backward.Flags.Has(buf.WritePartial) {
			e.ChkRcv(ses.upstream.si)
		}

		if ses.snapshot() == last {
			break
		}
	}

	if ses.client.si.State == stream.StateEstablished {
		e.Update(ses.client.si)
	}
	if ses.upstream.si.State == stream.StateEstablished {
		e.Update(ses.upstream.si)
	}

	forward.Flags.Clear(buf.ReadNull | buf.ReadPartial | buf.WriteNull | buf.WritePartial)
	backward.Flags.Clear(buf.ReadNull | buf.ReadPartial | buf.WriteNull | buf.WritePartial)
	ses.client.si.EP.Ready &^= sock.ReadyIn | sock.ReadyOut
	ses.upstream.si.EP.Ready &^= sock.ReadyIn | sock.ReadyOut
	ses.client.si.Flags.Clear(stream.DontWake)
	ses.upstream.si.Flags.Clear(stream.DontWake)

	if ses.client.si.State == stream.StateClosed && ses.upstream.si.State == stream.StateClosed {
		ses.finish()
	}
}

// snapshot condenses the state the propagation loop must watch for
// changes.
type snapshot struct {
	forwardFlags  buf.Flags
	backwardFlags buf.Flags
	clientFlags   stream.Flags
	upstreamFlags stream.Flags
	clientState   stream.State
	upstreamState stream.State
}

func (ses *session) snapshot() snapshot {
	return snapshot{
		forwardFlags:  ses.client.si.In.Flags,
		backwardFlags: ses.upstream.si.In.Flags,
		clientFlags:   ses.client.si.Flags,
		upstreamFlags: ses.upstream.si.Flags,
		clientState:   ses.client.si.State,
		upstreamState: ses.upstream.si.State,
	}
}

// handle runs the transfer handlers a readiness report asks for on one
// connection.
func (ses *session) handle(h *half) {
	si := h.si
	if si.State == stream.StateClosed {
		return
	}
	e := ses.server.engine

	if si.State == stream.StateConnecting {
		if !si.EP.Ready.Has(sock.ReadyOut | sock.ReadyErr | sock.ReadyHup) {
			return
		}
		err := h.conn.ConnectError()
		if err != nil {
			ses.server.logger.Debug("connect ", ses.server.upstream, ": ", err)
			si.EP.Flags |= sock.FlagError
			si.EP.Ready &^= sock.ReadySticky
			si.EP.StopBoth()
			si.Flags.Set(stream.Errored)
			return
		}
		si.State = stream.StateEstablished
		si.EP.Flags &^= sock.FlagWaitConnect
		si.Exp = time.Time{}
		ses.server.logger.Trace("connected to ", ses.server.upstream)
	}

	if si.EP.Ready.Has(sock.ReadyIn | sock.ReadyHup | sock.ReadyErr) {
		e.Read(si)
	}
	if si.EP.Ready.Has(sock.ReadyOut | sock.ReadyErr) {
		e.Write(si)
	}
}

func (ses *session) resolveError(h *half) {
	si := h.si
	if !si.Flags.Has(stream.Errored) || si.State == stream.StateClosed {
		return
	}
	e := ses.server.engine
	e.ShutRead(si)
	e.ShutWrite(si)
}

// resync turns the flags accumulated on one buffer into shutdowns on the
// interfaces around it. producer reads into b, consumer drains it.
func (ses *session) resync(b *buf.Buffer, producer, consumer *half) {
	e := ses.server.engine

	// A closed input on an auto-close buffer schedules the write
	// shutdown that will follow the last byte out.
	if b.Flags&(buf.ShutWrite|buf.ShutWritePending|buf.Hijacked|buf.AutoClose|buf.ShutRead) ==
		buf.AutoClose|buf.ShutRead {
		b.Flags.Set(buf.ShutWritePending)
	}
	if b.Flags&(buf.ShutWrite|buf.OutEmpty|buf.ShutWritePending) ==
		buf.OutEmpty|buf.ShutWritePending {
		e.ShutWrite(consumer.si)
	}

	// Once the consumer can no longer send, producing is pointless.
	if b.Flags&(buf.ShutWrite|buf.ShutRead|buf.ShutReadPending) == buf.ShutWrite {
		b.Flags.Set(buf.ShutReadPending)
	}
	if b.Flags&(buf.ShutRead|buf.ShutReadPending) == buf.ShutReadPending {
		e.ShutRead(producer.si)
	}
}

// checkDeadlines enforces the connect expiry and the transfer deadlines.
// Timed-out writes close abortively so the peer learns right away.
func (ses *session) checkDeadlines(now time.Time) {
	e := ses.server.engine
	woken := false

	for _, h := range []*half{&ses.client, &ses.upstream} {
		si := h.si
		if si.State == stream.StateClosed {
			continue
		}
		if si.State == stream.StateConnecting {
			if !si.Exp.IsZero() && now.After(si.Exp) {
				ses.server.logger.Debug("connect timeout to ", ses.server.upstream)
				si.Exp = time.Time{}
				si.EP.Flags |= sock.FlagError
				si.Flags.Set(stream.Errored)
				woken = true
			}
			continue
		}
		if in := si.In; !in.Flags.Has(buf.ShutRead) &&
			!in.ReadDeadline.IsZero() && now.After(in.ReadDeadline) {
			e.ShutRead(si)
			woken = true
		}
		if out := si.Out; !out.Flags.Has(buf.ShutWrite) &&
			!out.WriteDeadline.IsZero() && now.After(out.WriteDeadline) {
			si.Flags.Set(stream.NoLinger)
			e.ShutWrite(si)
			woken = true
		}
	}

	if woken {
		ses.task.Wake(task.WokenTimer)
	}
}

// finish drops the session after both interfaces closed.
func (ses *session) finish() {
	if ses.finished {
		return
	}
	ses.finished = true
	e := ses.server.engine
	e.ReleasePipes(ses.client.si)
	delete(ses.server.sessions, ses)
	ses.server.logger.Debug("done ", ses.source,
		" rx=", ses.client.si.In.Total, " tx=", ses.upstream.si.In.Total)
}

// abort tears a session down outside the loop, when the server itself
// closes.
func (ses *session) abort() {
	if ses.finished {
		return
	}
	ses.finished = true
	for _, h := range []*half{&ses.client, &ses.upstream} {
		if h.si.State != stream.StateClosed {
			h.si.EP.Close()
			h.si.State = stream.StateClosed
		}
	}
	ses.server.engine.ReleasePipes(ses.client.si)
}
