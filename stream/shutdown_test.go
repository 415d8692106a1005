package stream_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bytelane/sluice/buf"
	"github.com/bytelane/sluice/stream"
)

func TestShutReadIdempotent(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())
	left.si.In.ReadDeadline = testClock.Add(time.Minute)
	left.si.Flags.Set(stream.WaitRoom)

	engine.ShutRead(left.si)

	flags := left.si.In.Flags
	assert.True(t, flags.Has(buf.ShutRead))
	assert.True(t, left.si.In.ReadDeadline.IsZero())
	assert.False(t, left.si.Flags.Has(stream.WaitRoom))
	assert.Equal(t, 1, left.notify.stopRecv)
	assert.Equal(t, stream.StateEstablished, left.si.State)

	// Second invocation on an already shut side changes nothing.
	engine.ShutRead(left.si)
	assert.Equal(t, flags, left.si.In.Flags)
	assert.Equal(t, 1, left.notify.stopRecv)
	assert.False(t, left.conn.closed)
}

func TestShutWriteGraceful(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())

	engine.ShutWrite(left.si)

	assert.True(t, left.si.Out.Flags.Has(buf.ShutWrite))
	assert.False(t, left.si.Flags.Has(stream.WaitData))
	assert.Equal(t, 1, left.notify.stopSend)
	assert.Equal(t, 1, left.conn.shutdowns)
	assert.False(t, left.conn.closed)
	assert.Equal(t, stream.StateEstablished, left.si.State)
	assert.False(t, left.si.In.Flags.Has(buf.ShutRead))
}

func TestShutWriteIdempotent(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())

	engine.ShutWrite(left.si)
	engine.ShutWrite(left.si)

	assert.Equal(t, 1, left.conn.shutdowns)
	assert.Equal(t, 1, left.notify.stopSend)
}

func TestShutWriteClosesWhenReadAlreadyShut(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())
	released := 0
	left.si.Release = func(*stream.Interface) { released++ }
	left.si.In.Flags.Set(buf.ShutRead)
	left.si.Exp = testClock.Add(time.Second)

	engine.ShutWrite(left.si)

	assert.Equal(t, 1, left.conn.shutdowns)
	assert.True(t, left.conn.closed)
	assert.True(t, left.notify.detached)
	assert.Equal(t, stream.StateClosed, left.si.State)
	assert.True(t, left.si.Exp.IsZero())
	assert.Equal(t, 1, released)
}

func TestShutWriteNoLinger(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())
	left.si.Flags.Set(stream.NoLinger)

	engine.ShutWrite(left.si)

	assert.True(t, left.conn.noLinger)
	assert.Equal(t, 0, left.conn.shutdowns)
	assert.True(t, left.conn.closed)
	assert.Equal(t, stream.StateClosed, left.si.State)
	assert.True(t, left.si.In.Flags.Has(buf.ShutRead))
	assert.False(t, left.si.Flags.Has(stream.NoLinger))
}

func TestShutWriteErroredClosesQuickly(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())
	left.si.Flags.Set(stream.Errored)

	engine.ShutWrite(left.si)

	assert.Equal(t, 0, left.conn.shutdowns)
	assert.False(t, left.conn.noLinger)
	assert.True(t, left.conn.closed)
	assert.Equal(t, stream.StateClosed, left.si.State)
}

func TestShutWriteOutsideEstablished(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())
	left.si.State = stream.StateInit

	engine.ShutWrite(left.si)

	assert.True(t, left.si.Out.Flags.Has(buf.ShutWrite))
	assert.True(t, left.si.In.Flags.Has(buf.ShutRead))
	assert.Equal(t, 0, left.conn.shutdowns)
	assert.False(t, left.conn.closed)
	assert.Equal(t, stream.StateInit, left.si.State)
}

func TestEOFWithWriteSideAlreadyShut(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())
	left.si.Out.Flags.Set(buf.ShutWrite)
	left.conn.eof = true

	engine.Read(left.si)

	assert.True(t, left.si.In.Flags.Has(buf.ShutRead))
	assert.True(t, left.conn.closed)
	assert.True(t, left.notify.detached)
	assert.Equal(t, stream.StateClosed, left.si.State)
}

func TestEOFNoHalfOpen(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct {
		name     string
		flags    stream.Flags
		noLinger bool
	}{
		{"plain", stream.NoHalf, false},
		{"with no-linger", stream.NoHalf | stream.NoLinger, true},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			engine, left, _ := newRelay(copyTuning())
			left.si.Flags.Set(tt.flags)
			left.conn.eof = true

			engine.Read(left.si)

			assert.Equal(t, tt.noLinger, left.conn.noLinger)
			assert.True(t, left.conn.closed)
			assert.Equal(t, stream.StateClosed, left.si.State)
		})
	}
}

func TestReleaseRunsOnce(t *testing.T) {
	t.Parallel()
	engine, left, _ := newRelay(copyTuning())
	released := 0
	left.si.Release = func(*stream.Interface) { released++ }
	left.si.In.Flags.Set(buf.ShutRead)

	engine.ShutWrite(left.si)
	engine.ShutWrite(left.si)

	assert.Equal(t, 1, released)
}
