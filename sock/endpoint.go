package sock

// Ready carries the readiness bits last reported for a descriptor.
// In and Out are refreshed on every poller tick; Err and Hup stick
// until whoever consumes them clears them.
type Ready uint8

const (
	ReadyIn Ready = 1 << iota
	ReadyOut
	ReadyErr
	ReadyHup
)

// ReadySticky is the set of bits that survive across ticks.
const ReadySticky = ReadyErr | ReadyHup

// Has reports whether any bit of mask is set.
func (r Ready) Has(mask Ready) bool {
	return r&mask != 0
}

// Merge folds freshly reported bits over the previous ones, keeping the
// sticky bits alive.
func (r Ready) Merge(reported Ready) Ready {
	return r&ReadySticky | reported
}

// Flags is the small connection-level state the data plane reads and
// sets on an endpoint.
type Flags uint8

const (
	// FlagError marks the connection broken; no further I/O is
	// attempted on it.
	FlagError Flags = 1 << iota
	// FlagWaitConnect means the transport-level connect has not been
	// confirmed yet; the first successful transfer clears it.
	FlagWaitConnect
)

// Notifier is the poller-side interest surface of one descriptor.
// Want enables readiness notifications for a direction, Stop disables
// them, and Poll re-arms them after a failed speculative attempt (for
// level-triggered pollers it is the same as Want). Detach withdraws the
// descriptor from the poller entirely.
type Notifier interface {
	WantRecv()
	StopRecv()
	PollRecv()
	WantSend()
	StopSend()
	PollSend()
	Detach()
}

// Endpoint bundles what the engine needs to know about one socket: the
// I/O surface, the interest knobs, the last readiness report and the
// connection flags.
type Endpoint struct {
	Conn   Conn
	Notify Notifier
	Ready  Ready
	Flags  Flags
}

func (ep *Endpoint) WantRecv() { ep.Notify.WantRecv() }
func (ep *Endpoint) StopRecv() { ep.Notify.StopRecv() }
func (ep *Endpoint) PollRecv() { ep.Notify.PollRecv() }
func (ep *Endpoint) WantSend() { ep.Notify.WantSend() }
func (ep *Endpoint) StopSend() { ep.Notify.StopSend() }
func (ep *Endpoint) PollSend() { ep.Notify.PollSend() }

func (ep *Endpoint) StopBoth() {
	ep.Notify.StopRecv()
	ep.Notify.StopSend()
}

// Close withdraws the endpoint from the poller and closes the
// underlying descriptor.
func (ep *Endpoint) Close() error {
	if ep.Notify != nil {
		ep.Notify.Detach()
	}
	if ep.Conn != nil {
		return ep.Conn.Close()
	}
	return nil
}
