package sock_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bytelane/sluice/sock"
)

func connPair(t *testing.T) (*sock.FDConn, *sock.FDConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	left, err := sock.NewFDConn(fds[0])
	require.NoError(t, err)
	right, err := sock.NewFDConn(fds[1])
	require.NoError(t, err)
	t.Cleanup(func() {
		left.Close()
		right.Close()
	})
	return left, right
}

func TestFDConnSendRecv(t *testing.T) {
	t.Parallel()
	left, right := connPair(t)

	n, err := left.Send([]byte("ping"), false)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	buffer := make([]byte, 16)
	n, err = right.Recv(buffer)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buffer[:n]))
}

func TestFDConnRecvWouldBlock(t *testing.T) {
	t.Parallel()
	_, right := connPair(t)

	buffer := make([]byte, 16)
	_, err := right.Recv(buffer)
	require.Error(t, err)
	require.True(t, sock.IsWouldBlock(err))
}

func TestFDConnShutdownWrite(t *testing.T) {
	t.Parallel()
	left, right := connPair(t)

	require.NoError(t, left.ShutdownWrite())

	buffer := make([]byte, 16)
	n, err := right.Recv(buffer)
	require.NoError(t, err)
	require.Equal(t, 0, n, "a half-closed peer reads as end of stream")

	_, err = left.Send([]byte("late"), false)
	require.Error(t, err)
	require.False(t, sock.IsWouldBlock(err))
}

func TestErrnoTaxonomy(t *testing.T) {
	t.Parallel()
	require.True(t, sock.IsWouldBlock(unix.EAGAIN))
	require.True(t, sock.IsWouldBlock(unix.EWOULDBLOCK))
	require.False(t, sock.IsWouldBlock(unix.EPIPE))
	require.True(t, sock.IsUnsupported(unix.ENOSYS))
	require.True(t, sock.IsUnsupported(unix.EINVAL))
	require.False(t, sock.IsUnsupported(unix.EAGAIN))
}
