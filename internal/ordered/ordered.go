// Package ordered implements the datagram-sequencing collaborator a
// transport connection owns on both directions: an inbound filter that
// rejects stale and duplicate datagrams, and an outbound framer that stamps
// a monotonically increasing sequence number onto each reply, only
// advancing once the caller has actually committed to sending it.
package ordered

import (
	"encoding/binary"

	"stepserver/internal/stepserr"
)

// HeaderOctets is the fixed-width sequence-number prefix every framed
// datagram carries ahead of its payload.
const HeaderOctets = 4

// InStream tracks the highest sequence number accepted on one transport
// slot's inbound direction.
type InStream struct {
	seen    bool
	highest uint32
}

// NewInStream returns a filter with no history; the first datagram it sees
// is always accepted regardless of its sequence number.
func NewInStream() *InStream {
	return &InStream{}
}

// Receive strips the sequence header and reports whether the payload should
// be handed to the command decoder. A false result with a nil error means
// the datagram was stale or a duplicate and must be silently dropped, per
// the ordered-in contract the dispatcher relies on.
func (s *InStream) Receive(datagram []byte) (payload []byte, accept bool, err error) {
	if len(datagram) < HeaderOctets {
		return nil, false, stepserr.New(stepserr.KindProtocol, stepserr.CodeUnknownCommand,
			"datagram shorter than ordered-in header (%d octets)", len(datagram))
	}
	seq := binary.BigEndian.Uint32(datagram[:HeaderOctets])
	if s.seen && seq <= s.highest {
		return nil, false, nil
	}
	s.seen = true
	s.highest = seq
	return datagram[HeaderOctets:], true, nil
}

// OutStream frames outbound replies with a tentative sequence number that
// only advances once the caller commits, so a dropped reply never burns a
// sequence slot the peer would then perceive as a gap.
type OutStream struct {
	next uint32
}

// NewOutStream returns a framer whose first prepared datagram carries
// sequence number zero.
func NewOutStream() *OutStream {
	return &OutStream{}
}

// Prepare stamps payload with the current (uncommitted) sequence number and
// returns the framed datagram. Calling Prepare again without an intervening
// Commit reuses the same sequence number, since nothing was actually sent.
func (s *OutStream) Prepare(payload []byte) []byte {
	framed := make([]byte, HeaderOctets+len(payload))
	binary.BigEndian.PutUint32(framed[:HeaderOctets], s.next)
	copy(framed[HeaderOctets:], payload)
	return framed
}

// Commit advances the sequence counter, confirming the most recently
// prepared datagram was handed to the transport.
func (s *OutStream) Commit() {
	s.next++
}

// Next reports the sequence number the next Prepare call will stamp.
func (s *OutStream) Next() uint32 {
	return s.next
}
