//go:build !linux

package pipe

import E "github.com/bytelane/sluice/common/exceptions"

func newPipe(int) (*Pipe, error) {
	return nil, E.New("kernel pipes are not supported on this platform")
}

func (p *Pipe) close() {}
