package sock

import (
	"errors"

	"golang.org/x/sys/unix"
)

// IsWouldBlock reports whether err is the non-blocking "try again later"
// condition.
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// IsUnsupported reports whether err means the kernel cannot perform the
// requested operation on this descriptor pair at all, as opposed to not
// right now.
func IsUnsupported(err error) bool {
	return errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EINVAL)
}
