// Package poll runs the event loop: a level-triggered readiness poller
// that reports socket events to handlers on a single goroutine.
package poll

import "github.com/bytelane/sluice/sock"

// Handler receives the readiness bits reported for one descriptor.
// Handlers run on the loop goroutine.
type Handler interface {
	HandleReady(ready sock.Ready)
}
