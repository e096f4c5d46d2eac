// Package stepsender implements the step-range sender (C7): packing
// authoritative step ranges into an outbound datagram bounded by the
// 1200-octet UDP budget, accounting for the ordered-out and command-codec
// framing overhead.
package stepsender

import (
	"stepserver/internal/ordered"
	"stepserver/internal/stepring"
	"stepserver/internal/wire"
)

// UDPMaxSize is the outbound datagram budget every reply must fit inside.
const UDPMaxSize = 1200

// replyFixedOverhead is the command byte plus range-count byte
// EncodeStepRangesReply always emits, ahead of the per-range encoding.
const replyFixedOverhead = 2

// Result reports what Pack produced for one client.
type Result struct {
	// FellOffRing is true when the client's requested stepId is older than
	// the ring's oldest stored step: no steps are sent, and a higher layer
	// must transition the connection to a snapshot-download cycle.
	FellOffRing bool
	// Datagram is the framed, ordered-out-committed reply ready to send.
	// Nil when there is nothing worth sending (see NoRangesToSend).
	Datagram []byte
	// NextAuthoritativeStepIdToSend is the cursor value the caller should
	// store back on the connection.
	NextAuthoritativeStepIdToSend stepring.StepId
	// NoRangesToSend is true when the packer produced zero ranges (client
	// is fully caught up); no datagram is produced. No per-connection
	// counter of such results is kept.
	NoRangesToSend bool
}

// Pack produces up to the ring's available range starting at
// max(clientWaitingForStepId, nextAuthoritativeStepIdToSend), packing one
// combined step per range entry until either the ring is exhausted or the
// outbound datagram would exceed UDPMaxSize. It commits out on the ordered
// stream only when it actually has something to send.
func Pack(ring *stepring.Ring, out *ordered.OutStream, clientWaitingForStepID, nextAuthoritativeStepIdToSend stepring.StepId) Result {
	if clientWaitingForStepID < ring.ExpectedReadID() {
		return Result{FellOffRing: true, NextAuthoritativeStepIdToSend: nextAuthoritativeStepIdToSend}
	}

	start := clientWaitingForStepID
	if nextAuthoritativeStepIdToSend > start {
		start = nextAuthoritativeStepIdToSend
	}

	budget := UDPMaxSize - ordered.HeaderOctets - replyFixedOverhead
	var ranges []wire.StepRange
	used := 0
	cursor := start
	for cursor < ring.ExpectedWriteID() {
		bytes, ok := ring.At(cursor)
		if !ok {
			break
		}
		r := wire.StepRange{StartStepID: uint32(cursor), CombinedStepBytes: [][]byte{bytes}}
		size := r.EncodedSize()
		if used+size > budget {
			break
		}
		ranges = append(ranges, r)
		used += size
		cursor++
	}

	if len(ranges) == 0 {
		return Result{NoRangesToSend: true, NextAuthoritativeStepIdToSend: cursor}
	}

	body := wire.EncodeStepRangesReply(wire.StepRangesReply{Ranges: ranges})
	framed := out.Prepare(body)
	out.Commit()
	return Result{Datagram: framed, NextAuthoritativeStepIdToSend: cursor}
}
