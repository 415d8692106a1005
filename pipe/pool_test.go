package pipe_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bytelane/sluice/pipe"
)

func TestPoolCeiling(t *testing.T) {
	t.Parallel()
	pool := pipe.NewPool(0, 0, pipe.CloseDetectAuto)

	_, err := pool.Get()
	require.ErrorIs(t, err, pipe.ErrCeiling)
	require.Equal(t, 0, pool.InUse())
}

func TestPoolCloseDetectPolicies(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct {
		name         string
		detect       pipe.CloseDetect
		before, then bool
	}{
		{"auto latches", pipe.CloseDetectAuto, false, true},
		{"trusted always", pipe.CloseDetectTrusted, true, true},
		{"untrusted never", pipe.CloseDetectUntrusted, false, false},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pool := pipe.NewPool(4, 0, tt.detect)
			require.Equal(t, tt.before, pool.DetectsClose())
			pool.MarkCloseDetected()
			require.Equal(t, tt.then, pool.DetectsClose())
		})
	}
}

func TestPipeAccounting(t *testing.T) {
	t.Parallel()
	p := &pipe.Pipe{}
	require.True(t, p.Empty())
	p.Add(500)
	p.Add(200)
	require.Equal(t, 700, p.Data())
	p.Sub(700)
	require.True(t, p.Empty())
}
