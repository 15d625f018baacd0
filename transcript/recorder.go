package transcript

import (
	"fmt"
	"sync"

	"webnotary/shared"
)

// Direction tags one side of the application-data stream.
type Direction int

const (
	Sent Direction = iota
	Received
)

func (d Direction) String() string {
	if d == Sent {
		return "sent"
	}
	return "received"
}

// Segment is one contiguous run of bytes in one direction. Index increases
// monotonically per direction.
type Segment struct {
	Direction Direction
	Index     int
	Bytes     []byte
}

// CapacityError reports an append that would exceed a negotiated data cap.
// Caps are hard limits: the recorder rejects the append rather than
// truncating, since a truncated transcript would silently invalidate the
// commitment.
type CapacityError struct {
	Direction Direction
	Limit     int
	Recorded  int
	Attempted int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s data cap exceeded: %d bytes recorded, %d more attempted, limit %d",
		e.Direction, e.Recorded, e.Attempted, e.Limit)
}

// Recorder captures the plaintext bytes exchanged over the TLS connection.
// It performs no I/O itself; the session state machine hands it every byte
// it sends or receives. Appends are rejected once the configured cap would
// be exceeded, and forbidden entirely after Seal.
type Recorder struct {
	mu sync.Mutex

	maxSent int
	maxRecv int

	sent     []Segment
	received []Segment

	sentBytes int
	recvBytes int

	sealed bool
}

// NewRecorder creates a recorder enforcing the given per-direction caps.
func NewRecorder(maxSent, maxRecv int) *Recorder {
	return &Recorder{maxSent: maxSent, maxRecv: maxRecv}
}

// Record appends a segment in the given direction. Exceeding the direction
// cap returns a *CapacityError. Recording after Seal is a protocol-state
// bug, not user input, and panics.
func (r *Recorder) Record(dir Direction, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		panic("transcript: Record called after Seal")
	}
	if len(data) == 0 {
		return nil
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	switch dir {
	case Sent:
		if r.sentBytes+len(buf) > r.maxSent {
			return &CapacityError{Direction: Sent, Limit: r.maxSent, Recorded: r.sentBytes, Attempted: len(buf)}
		}
		r.sent = append(r.sent, Segment{Direction: Sent, Index: len(r.sent), Bytes: buf})
		r.sentBytes += len(buf)
	case Received:
		if r.recvBytes+len(buf) > r.maxRecv {
			return &CapacityError{Direction: Received, Limit: r.maxRecv, Recorded: r.recvBytes, Attempted: len(buf)}
		}
		r.received = append(r.received, Segment{Direction: Received, Index: len(r.received), Bytes: buf})
		r.recvBytes += len(buf)
	default:
		return fmt.Errorf("unknown direction %d", dir)
	}
	return nil
}

// TotalBytes returns the number of bytes recorded in one direction.
func (r *Recorder) TotalBytes(dir Direction) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dir == Sent {
		return r.sentBytes
	}
	return r.recvBytes
}

// Seal closes the recorder and returns the immutable snapshot. Sealing is a
// one-way gate; subsequent Record calls panic.
func (r *Recorder) Seal() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sealed = true
	return &Snapshot{sent: r.sent, received: r.received}
}

// Zeroize wipes all recorded buffers. Used on failure paths so partial
// transcripts never outlive their session.
func (r *Recorder) Zeroize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sent {
		shared.Zeroize(s.Bytes)
	}
	for _, s := range r.received {
		shared.Zeroize(s.Bytes)
	}
	r.sent = nil
	r.received = nil
	r.sentBytes = 0
	r.recvBytes = 0
	r.sealed = true
}

// Snapshot is the read-only view of a sealed transcript.
type Snapshot struct {
	sent     []Segment
	received []Segment
}

// Segments returns the ordered segments for one direction.
func (s *Snapshot) Segments(dir Direction) []Segment {
	if dir == Sent {
		return s.sent
	}
	return s.received
}

// Contiguous concatenates one direction's segments into a single stream.
func (s *Snapshot) Contiguous(dir Direction) []byte {
	segs := s.Segments(dir)
	total := 0
	for _, seg := range segs {
		total += len(seg.Bytes)
	}
	out := make([]byte, 0, total)
	for _, seg := range segs {
		out = append(out, seg.Bytes...)
	}
	return out
}

// TotalBytes returns the byte count for one direction.
func (s *Snapshot) TotalBytes(dir Direction) int {
	n := 0
	for _, seg := range s.Segments(dir) {
		n += len(seg.Bytes)
	}
	return n
}
