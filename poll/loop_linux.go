//go:build linux

package poll

import (
	"context"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/bytelane/sluice/sock"
)

// Loop is an epoll-backed event loop. Registrations, interest changes
// and handler dispatch all happen on the goroutine calling Run; other
// goroutines reach the loop through Post.
type Loop struct {
	epollFD int
	wakeFDs [2]int

	mutex  sync.Mutex
	regs   map[uint64]*Registration
	nextID uint64
	posted []func()
	closed bool
	wg     sync.WaitGroup

	// Tick, when set, runs after every dispatch round. TickEvery bounds
	// the poll wait so Tick keeps firing through idle periods.
	Tick      func()
	TickEvery time.Duration
}

func NewLoop() (*Loop, error) {
	epollFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	var wakeFDs [2]int
	err = unix.Pipe2(wakeFDs[:], unix.O_NONBLOCK|unix.O_CLOEXEC)
	if err != nil {
		unix.Close(epollFD)
		return nil, err
	}

	wakeEvent := &unix.EpollEvent{Events: unix.EPOLLIN}
	*(*uint64)(unsafe.Pointer(&wakeEvent.Fd)) = 0
	err = unix.EpollCtl(epollFD, unix.EPOLL_CTL_ADD, wakeFDs[0], wakeEvent)
	if err != nil {
		unix.Close(wakeFDs[0])
		unix.Close(wakeFDs[1])
		unix.Close(epollFD)
		return nil, err
	}

	return &Loop{
		epollFD: epollFD,
		wakeFDs: wakeFDs,
		regs:    make(map[uint64]*Registration),
	}, nil
}

// Register adds fd to the loop with no interest armed. The returned
// registration carries the interest knobs for that descriptor.
func (l *Loop) Register(fd int, handler Handler) (*Registration, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.closed {
		return nil, unix.EINVAL
	}

	l.nextID++
	reg := &Registration{
		loop:     l,
		fd:       fd,
		id:       l.nextID,
		handler:  handler,
		attached: true,
	}

	event := &unix.EpollEvent{}
	*(*uint64)(unsafe.Pointer(&event.Fd)) = reg.id
	err := unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_ADD, fd, event)
	if err != nil {
		return nil, err
	}

	l.regs[reg.id] = reg
	return reg, nil
}

// Post schedules fn to run on the loop goroutine. It is the only safe
// entry point from other goroutines.
func (l *Loop) Post(fn func()) {
	l.mutex.Lock()
	l.posted = append(l.posted, fn)
	l.mutex.Unlock()
	l.wake()
}

func (l *Loop) wake() {
	unix.Write(l.wakeFDs[1], []byte{0})
}

// Run dispatches events until ctx is canceled or the loop is closed.
// It returns nil on an ordinary shutdown.
func (l *Loop) Run(ctx context.Context) error {
	l.wg.Add(1)
	defer l.wg.Done()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.wake()
		case <-stop:
		}
	}()

	timeout := -1
	if l.TickEvery > 0 {
		timeout = int(l.TickEvery / time.Millisecond)
		if timeout == 0 {
			timeout = 1
		}
	}

	events := make([]unix.EpollEvent, 64)
	var drain [64]byte
	for {
		if ctx.Err() != nil {
			return nil
		}
		l.mutex.Lock()
		closed := l.closed
		l.mutex.Unlock()
		if closed {
			return nil
		}

		n, err := unix.EpollWait(l.epollFD, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		for i := 0; i < n; i++ {
			event := events[i]
			id := *(*uint64)(unsafe.Pointer(&event.Fd))

			if id == 0 {
				unix.Read(l.wakeFDs[0], drain[:])
				l.runPosted()
				continue
			}

			l.mutex.Lock()
			reg := l.regs[id]
			l.mutex.Unlock()
			if reg == nil {
				continue
			}
			reg.handler.HandleReady(readyBits(event.Events))
		}

		if l.Tick != nil {
			l.Tick()
		}
	}
}

func (l *Loop) runPosted() {
	l.mutex.Lock()
	posted := l.posted
	l.posted = nil
	l.mutex.Unlock()
	for _, fn := range posted {
		fn()
	}
}

// Close wakes Run, waits for it to return and releases the loop
// descriptors.
func (l *Loop) Close() error {
	l.mutex.Lock()
	if l.closed {
		l.mutex.Unlock()
		return nil
	}
	l.closed = true
	l.mutex.Unlock()

	l.wake()
	l.wg.Wait()

	unix.Close(l.epollFD)
	unix.Close(l.wakeFDs[0])
	unix.Close(l.wakeFDs[1])
	return nil
}

func readyBits(events uint32) sock.Ready {
	var ready sock.Ready
	if events&unix.EPOLLIN != 0 {
		ready |= sock.ReadyIn
	}
	if events&unix.EPOLLOUT != 0 {
		ready |= sock.ReadyOut
	}
	if events&unix.EPOLLERR != 0 {
		ready |= sock.ReadyErr
	}
	if events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		ready |= sock.ReadyHup
	}
	return ready
}

// Registration is one descriptor's slot in the loop. Interest changes
// must happen on the loop goroutine.
type Registration struct {
	loop     *Loop
	fd       int
	id       uint64
	handler  Handler
	wantIn   bool
	wantOut  bool
	attached bool
}

func (r *Registration) WantRecv() {
	if !r.wantIn {
		r.wantIn = true
		r.update()
	}
}

func (r *Registration) StopRecv() {
	if r.wantIn {
		r.wantIn = false
		r.update()
	}
}

// PollRecv re-arms read readiness after a speculative read came up
// empty. With level-triggered polling that is the same as WantRecv.
func (r *Registration) PollRecv() {
	r.WantRecv()
}

func (r *Registration) WantSend() {
	if !r.wantOut {
		r.wantOut = true
		r.update()
	}
}

func (r *Registration) StopSend() {
	if r.wantOut {
		r.wantOut = false
		r.update()
	}
}

func (r *Registration) PollSend() {
	r.WantSend()
}

// Detach withdraws the descriptor from the loop without closing it.
func (r *Registration) Detach() {
	if !r.attached {
		return
	}
	r.attached = false

	l := r.loop
	l.mutex.Lock()
	delete(l.regs, r.id)
	l.mutex.Unlock()
	unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_DEL, r.fd, nil)
}

func (r *Registration) update() {
	if !r.attached {
		return
	}
	var events uint32
	if r.wantIn {
		// Read-side hangup only matters while reads are wanted;
		// reporting it forever would spin the loop.
		events = unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if r.wantOut {
		events |= unix.EPOLLOUT
	}
	event := &unix.EpollEvent{Events: events}
	*(*uint64)(unsafe.Pointer(&event.Fd)) = r.id
	unix.EpollCtl(r.loop.epollFD, unix.EPOLL_CTL_MOD, r.fd, event)
}
