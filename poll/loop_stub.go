//go:build !linux

package poll

import (
	"context"
	"time"

	E "github.com/bytelane/sluice/common/exceptions"
)

type Loop struct {
	Tick      func()
	TickEvery time.Duration
}

func NewLoop() (*Loop, error) {
	return nil, E.New("event loop not supported on this platform")
}

func (l *Loop) Register(fd int, handler Handler) (*Registration, error) {
	return nil, E.New("event loop not supported on this platform")
}

func (l *Loop) Post(fn func()) {}

func (l *Loop) Run(ctx context.Context) error {
	return E.New("event loop not supported on this platform")
}

func (l *Loop) Close() error {
	return nil
}

type Registration struct{}

func (r *Registration) WantRecv() {}
func (r *Registration) StopRecv() {}
func (r *Registration) PollRecv() {}
func (r *Registration) WantSend() {}
func (r *Registration) StopSend() {}
func (r *Registration) PollSend() {}
func (r *Registration) Detach()   {}
