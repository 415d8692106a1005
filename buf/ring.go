package buf

// Ring is a fixed-capacity wrap-around byte region split around a read
// cursor: pending output (bytes scheduled for sending) sits right behind
// the cursor, pending input (bytes received but not yet scheduled) right
// ahead of it. Appends go after the input, sends consume from the start
// of the output, and forwarding slides the cursor so input becomes
// output without moving a single byte.
type Ring struct {
	data []byte
	pos  int // read cursor: index of the first pending-input byte
	in   int // pending input length
	out  int // pending output length
}

func NewRing(capacity int) Ring {
	return Ring{data: make([]byte, capacity)}
}

func (r *Ring) Cap() int { return len(r.data) }

func (r *Ring) In() int  { return r.in }
func (r *Ring) Out() int { return r.out }

// Len is the total number of occupied bytes.
func (r *Ring) Len() int { return r.in + r.out }

// Space is the number of bytes that can still be appended.
func (r *Ring) Space() int { return len(r.data) - r.in - r.out }

func (r *Ring) IsEmpty() bool { return r.in+r.out == 0 }
func (r *Ring) IsFull() bool  { return r.in+r.out == len(r.data) }

// head is the index of the first pending-output byte.
func (r *Ring) head() int {
	h := r.pos - r.out
	if h < 0 {
		h += len(r.data)
	}
	return h
}

// WriteSpan returns the contiguous free slice where the next append
// lands. Shorter than Space when the free region wraps past the
// physical end; empty when the ring is full.
func (r *Ring) WriteSpan() []byte {
	w := r.pos + r.in
	if w >= len(r.data) {
		w -= len(r.data)
	}
	n := r.Space()
	if n > len(r.data)-w {
		n = len(r.data) - w
	}
	return r.data[w : w+n]
}

// Commit accounts for n bytes just written into WriteSpan.
func (r *Ring) Commit(n int) {
	r.in += n
}

// ReadSpan returns the contiguous slice of pending output starting at
// the oldest byte. Shorter than Out when the output region wraps.
func (r *Ring) ReadSpan() []byte {
	h := r.head()
	n := r.out
	if n > len(r.data)-h {
		n = len(r.data) - h
	}
	return r.data[h : h+n]
}

// Consume drops n bytes of pending output, after they have been sent.
func (r *Ring) Consume(n int) {
	r.out -= n
}

// Forward turns the first n bytes of pending input into pending output
// by sliding the read cursor.
func (r *Ring) Forward(n int) {
	r.pos += n
	if r.pos >= len(r.data) {
		r.pos -= len(r.data)
	}
	r.in -= n
	r.out += n
}

// Realign re-homes the cursor to the physical start so follow-up I/O
// gets one maximal contiguous span. Only possible while empty.
func (r *Ring) Realign() {
	if r.in+r.out == 0 {
		r.pos = 0
	}
}

// Write appends as much of p as fits into the input region, wrapping if
// needed, and returns the number of bytes stored.
func (r *Ring) Write(p []byte) int {
	var total int
	for len(p) > 0 {
		span := r.WriteSpan()
		if len(span) == 0 {
			break
		}
		n := copy(span, p)
		r.Commit(n)
		p = p[n:]
		total += n
	}
	return total
}

// Read consumes pending output into p, wrapping if needed, and returns
// the number of bytes copied.
func (r *Ring) Read(p []byte) int {
	var total int
	for len(p) > 0 {
		span := r.ReadSpan()
		if len(span) == 0 {
			break
		}
		n := copy(p, span)
		r.Consume(n)
		p = p[n:]
		total += n
	}
	return total
}
