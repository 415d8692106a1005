package pipe

import (
	"golang.org/x/sys/unix"

	E "github.com/bytelane/sluice/common/exceptions"
)

func newPipe(size int) (*Pipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, E.Cause(err, "create pipe")
	}
	if size > 0 {
		// best effort: the kernel may refuse sizes above its limit
		unix.FcntlInt(uintptr(fds[1]), unix.F_SETPIPE_SZ, size)
	}
	return &Pipe{r: fds[0], w: fds[1]}, nil
}

func (p *Pipe) close() {
	unix.Close(p.r)
	unix.Close(p.w)
}
