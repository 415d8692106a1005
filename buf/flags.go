package buf

// Flags describe the transient and sticky conditions of a Buffer. The
// producer and consumer handlers set them as they move bytes; the
// reconciliation step turns them into socket interest and deadlines.
type Flags uint32

const (
	// ShutRead means the producer side is closed: no byte will ever be
	// added again. ShutReadPending is the request to get there.
	ShutRead Flags = 1 << iota
	ShutReadPending
	// ReadNull records that a zero-length read (end of stream) was seen.
	ReadNull
	// ReadPartial records that at least some bytes were received since
	// the owner last cleared activity flags.
	ReadPartial
	// ReadDontWait limits the read handler to a single receive attempt.
	ReadDontWait
	// ReadNoExpire prevents reconciliation from arming a read deadline.
	ReadNoExpire
	// DontRead suspends receiving without closing anything.
	DontRead
	// Full means pending input plus pending output reached capacity.
	Full

	// ShutWrite means the consumer side is closed: pending output will
	// never be sent. ShutWritePending requests a write shutdown once
	// everything buffered has left.
	ShutWrite
	ShutWritePending
	// WriteNull is set by connection setup when the first write proves
	// the endpoint connected; never set by the data plane itself.
	WriteNull
	// WritePartial records that at least some bytes were sent since the
	// owner last cleared activity flags.
	WritePartial
	// WriteError records a fatal send failure.
	WriteError
	// OutEmpty means there is nothing to send: no pending output and no
	// attached kernel channel.
	OutEmpty

	// AutoClose requests that a read shutdown schedules a write shutdown
	// on the same buffer once it drains.
	AutoClose
	// NeverWait disables send coalescing: pending bytes are pushed with
	// no more-data hint.
	NeverWait
	// ExpectMore hints that the producer will append more data shortly,
	// so sends should be coalesced. One-shot, cleared when output drains.
	ExpectMore
	// SendDontWait forces the next sends out without coalescing. One-shot.
	SendDontWait

	// Streamer and StreamerFast classify the traffic as bulk transfer,
	// per the consecutive full-read heuristic.
	Streamer
	StreamerFast

	// KernelSplicing allows the zero-copy forwarding path on this buffer.
	KernelSplicing
	// Hijacked means an external producer took over the buffer; the data
	// plane stops touching it until released.
	Hijacked
)

// ReadActivity and WriteActivity group the per-cycle activity bits an
// owner clears after reconciliation.
const (
	ReadActivity  = ReadNull | ReadPartial
	WriteActivity = WriteNull | WritePartial | WriteError
)

// Has reports whether any flag of mask is set.
func (f Flags) Has(mask Flags) bool {
	return f&mask != 0
}

func (f *Flags) Set(mask Flags) {
	*f |= mask
}

func (f *Flags) Clear(mask Flags) {
	*f &^= mask
}
