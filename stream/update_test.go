package stream_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"

	"github.com/bytelane/sluice/buf"
	"github.com/bytelane/sluice/sock"
	"github.com/bytelane/sluice/stream"
	"github.com/bytelane/sluice/task"
)

func TestUpdateStartsReadingAndArmsDeadline(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())
	ib := left.si.In
	ib.ReadTimeout = 30 * time.Second

	engine.Update(left.si)

	assert.Equal(t, 1, left.notify.wantRecv)
	assert.False(t, left.si.Flags.Has(stream.WaitRoom))
	assert.Equal(t, testClock.Add(30*time.Second), ib.ReadDeadline)

	// A second pass must not push the deadline back.
	armed := testClock.Add(time.Minute)
	ib.ReadDeadline = armed
	engine.Update(left.si)
	assert.Equal(t, armed, ib.ReadDeadline)
}

func TestUpdateStopsReadingOnceWhenFull(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())
	ib := left.si.In
	ib.Flags.Set(buf.Full)
	ib.ReadTimeout = 30 * time.Second
	ib.ReadDeadline = testClock.Add(time.Minute)

	engine.Update(left.si)

	assert.True(t, left.si.Flags.Has(stream.WaitRoom))
	assert.Equal(t, 1, left.notify.stopRecv)
	assert.True(t, ib.ReadDeadline.IsZero())

	engine.Update(left.si)
	assert.Equal(t, 1, left.notify.stopRecv)
}

func TestUpdateDontReadStopsWithoutWaitRoom(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())
	ib := left.si.In
	ib.Flags.Set(buf.DontRead)

	engine.Update(left.si)

	assert.False(t, left.si.Flags.Has(stream.WaitRoom))
	assert.Equal(t, 1, left.notify.stopRecv)
}

func TestUpdateStopsWritingOnceWhenDrained(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())
	ob := left.si.Out
	ob.WriteDeadline = testClock.Add(time.Minute)

	engine.Update(left.si)

	assert.True(t, left.si.Flags.Has(stream.WaitData))
	assert.Equal(t, 1, left.notify.stopSend)
	assert.True(t, ob.WriteDeadline.IsZero())

	engine.Update(left.si)
	assert.Equal(t, 1, left.notify.stopSend)
}

func TestUpdatePendingShutdownBlocksWaitData(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())
	left.si.Out.Flags.Set(buf.ShutWritePending)

	engine.Update(left.si)

	assert.False(t, left.si.Flags.Has(stream.WaitData))
	assert.Equal(t, 1, left.notify.stopSend)
}

func TestUpdateStartsWritingAndArmsDeadlines(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct {
		name  string
		indep bool
		rex   time.Time
	}{
		{"refreshes peer read deadline", false, testClock.Add(30 * time.Second)},
		{"independent streams keep read deadline", true, testClock.Add(time.Minute)},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			engine, left, _ := newRelay(copyTuning())
			ib, ob := left.si.In, left.si.Out
			ib.ReadTimeout = 30 * time.Second
			ib.ReadDeadline = testClock.Add(time.Minute)
			ob.WriteTimeout = 20 * time.Second
			if tt.indep {
				left.si.Flags.Set(stream.IndepStreams)
			}
			preloadOut(ob, []byte("restart the sender"))

			engine.Update(left.si)

			assert.Equal(t, 1, left.notify.wantSend)
			assert.False(t, left.si.Flags.Has(stream.WaitData))
			assert.Equal(t, testClock.Add(20*time.Second), ob.WriteDeadline)
			assert.Equal(t, tt.rex, ib.ReadDeadline)
		})
	}
}

func TestUpdateShutSidesUntouched(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())
	left.si.In.Flags.Set(buf.ShutRead)
	left.si.Out.Flags.Set(buf.ShutWrite)

	engine.Update(left.si)

	assert.Equal(t, 0, left.notify.wantRecv)
	assert.Equal(t, 0, left.notify.stopRecv)
	assert.Equal(t, 0, left.notify.wantSend)
	assert.Equal(t, 0, left.notify.stopSend)
}

func TestChkRcv(t *testing.T) {
	t.Parallel()
	t.Run("ignores non-established", func(t *testing.T) {
		t.Parallel()
		engine, left, _ := newRelay(copyTuning())
		left.si.State = stream.StateConnecting
		engine.ChkRcv(left.si)
		assert.Equal(t, 0, left.notify.wantRecv)
		assert.Equal(t, 0, left.notify.stopRecv)
	})
	t.Run("ignores shut read side", func(t *testing.T) {
		t.Parallel()
		engine, left, _ := newRelay(copyTuning())
		left.si.In.Flags.Set(buf.ShutRead)
		engine.ChkRcv(left.si)
		assert.Equal(t, 0, left.notify.wantRecv)
		assert.Equal(t, 0, left.notify.stopRecv)
	})
	t.Run("stops when full without touching deadline", func(t *testing.T) {
		t.Parallel()
		engine, left, _ := newRelay(copyTuning())
		armed := testClock.Add(time.Minute)
		left.si.In.Flags.Set(buf.Full)
		left.si.In.ReadDeadline = armed
		engine.ChkRcv(left.si)
		assert.True(t, left.si.Flags.Has(stream.WaitRoom))
		assert.Equal(t, 1, left.notify.stopRecv)
		assert.Equal(t, armed, left.si.In.ReadDeadline)
	})
	t.Run("resumes once room is back", func(t *testing.T) {
		t.Parallel()
		engine, left, _ := newRelay(copyTuning())
		left.si.Flags.Set(stream.WaitRoom)
		engine.ChkRcv(left.si)
		assert.False(t, left.si.Flags.Has(stream.WaitRoom))
		assert.Equal(t, 1, left.notify.wantRecv)
	})
}

func TestChkSndSkips(t *testing.T) {
	t.Parallel()
	t.Run("non-established", func(t *testing.T) {
		t.Parallel()
		engine, left, _ := newRelay(copyTuning())
		preloadOut(left.si.Out, []byte("data"))
		left.si.Flags.Set(stream.WaitData)
		left.si.State = stream.StateConnecting
		engine.ChkSnd(left.si)
		assert.Equal(t, 0, left.conn.sendCalls)
	})
	t.Run("nothing pending", func(t *testing.T) {
		t.Parallel()
		engine, left, _ := newRelay(copyTuning())
		left.si.Flags.Set(stream.WaitData)
		engine.ChkSnd(left.si)
		assert.Equal(t, 0, left.conn.sendCalls)
	})
	t.Run("not starved for data", func(t *testing.T) {
		t.Parallel()
		engine, left, _ := newRelay(copyTuning())
		preloadOut(left.si.Out, []byte("data"))
		engine.ChkSnd(left.si)
		assert.Equal(t, 0, left.conn.sendCalls)
	})
	t.Run("send-ready event already pending", func(t *testing.T) {
		t.Parallel()
		engine, left, _ := newRelay(copyTuning())
		preloadOut(left.si.Out, []byte("data"))
		left.si.Flags.Set(stream.WaitData)
		left.si.EP.Ready |= sock.ReadyOut
		engine.ChkSnd(left.si)
		assert.Equal(t, 0, left.conn.sendCalls)
	})
}

func TestChkSndFlushesWhenStarved(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())
	data := []byte("fresh data for a starved sender")
	preloadOut(left.si.Out, data)
	left.si.Flags.Set(stream.WaitData)

	engine.ChkSnd(left.si)

	assert.Equal(t, string(data), left.conn.sent.String())
	assert.True(t, left.si.Out.Flags.Has(buf.OutEmpty))
	assert.True(t, left.si.Flags.Has(stream.WaitData))
	assert.Equal(t, 1, left.waker.wakes)
	assert.True(t, left.waker.reasons.Has(task.WokenIO))
}

func TestChkSndAutoShutsAfterFinalChunk(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())
	preloadOut(left.si.Out, []byte("last chunk"))
	left.si.Out.Flags.Set(buf.ShutWritePending)
	left.si.Flags.Set(stream.WaitData)

	engine.ChkSnd(left.si)

	assert.Equal(t, "last chunk", left.conn.sent.String())
	assert.Equal(t, 1, left.conn.shutdowns)
	assert.True(t, left.si.Out.Flags.Has(buf.ShutWrite))
	assert.Equal(t, stream.StateEstablished, left.si.State)
	assert.False(t, left.conn.closed)
	assert.False(t, left.si.Flags.Has(stream.WaitData))
	assert.Equal(t, 1, left.waker.wakes)
}

func TestChkSndWriteErrorWakesOwner(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())
	preloadOut(left.si.Out, []byte("doomed"))
	left.si.Flags.Set(stream.WaitData)
	left.si.EP.Ready |= sock.ReadyErr
	left.conn.sendErr = unix.EPIPE

	engine.ChkSnd(left.si)

	assert.True(t, left.si.Flags.Has(stream.Errored))
	assert.NotZero(t, left.si.EP.Flags&sock.FlagError)
	assert.Equal(t, sock.ReadyIn, left.si.EP.Ready)
	assert.Equal(t, 1, left.notify.stopRecv)
	assert.Equal(t, 1, left.notify.stopSend)
	assert.Equal(t, 1, left.waker.wakes)
}

func TestChkSndPartialSendRearms(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())
	preloadOut(left.si.Out, make([]byte, 1000))
	left.si.Out.WriteTimeout = 20 * time.Second
	left.si.Flags.Set(stream.WaitData)
	left.conn.sendLimit = 400

	engine.ChkSnd(left.si)

	assert.Equal(t, 400, left.conn.sent.Len())
	assert.Equal(t, 1, left.notify.wantSend)
	assert.False(t, left.si.Flags.Has(stream.WaitData))
	assert.Equal(t, testClock.Add(20*time.Second), left.si.Out.WriteDeadline)
	assert.Equal(t, 0, left.waker.wakes)
}
