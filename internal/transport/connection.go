// Package transport owns per-transport-slot framing state (the spec's
// TransportConnection) and a concrete websocket-backed MultiTransport the
// server drives it with. The slot pool allocates one entry per configured
// connection limit up front, and lifecycle transitions mirror the
// boundary error codes a joining/leaving client can trigger.
package transport

import (
	"stepserver/internal/ordered"
	"stepserver/internal/stepring"
	"stepserver/internal/stepserr"
)

// Phase is the connection's position in the initial-sync handshake.
type Phase int

const (
	// PhaseIdle is the state right after a slot is claimed: no snapshot has
	// been agreed on yet.
	PhaseIdle Phase = iota
	// PhaseInitialStateDetermined means the client has a snapshot anchor and
	// is now receiving authoritative step ranges from it.
	PhaseInitialStateDetermined
	// PhaseWaitingForReconnect means the slot's peer went quiet; the slot is
	// held open for forced-step accounting until it disconnects outright.
	PhaseWaitingForReconnect
)

// NoBlobChannel marks that a connection has no in-flight blob-stream
// transfer.
const NoBlobChannel = -1

// BufferLengthStats tracks the observed min/max/last depth of a connection's
// step backlog relative to the authoritative write head.
type BufferLengthStats struct {
	Min  int
	Max  int
	Last int

	observed bool
}

// Observe records a new depth sample.
func (s *BufferLengthStats) Observe(depth int) {
	if !s.observed {
		s.Min, s.Max = depth, depth
		s.observed = true
	}
	if depth < s.Min {
		s.Min = depth
	}
	if depth > s.Max {
		s.Max = depth
	}
	s.Last = depth
}

// Connection is one transport slot's framing state: ordered-in/out
// collaborators, blob-stream-out bookkeeping, handshake phase, and the
// cursor into the authoritative stream this slot has already been sent.
type Connection struct {
	SlotIndex int
	InUse     bool
	everUsed  bool

	OrderedIn  *ordered.InStream
	OrderedOut *ordered.OutStream

	BlobStreamOutChannelID int
	BlobStreamOutRequestID int

	Phase                         Phase
	NextAuthoritativeStepIdToSend stepring.StepId
	StepsBehindStats              BufferLengthStats
}

func (c *Connection) init(slotIndex int) {
	c.SlotIndex = slotIndex
	c.InUse = true
	c.everUsed = true
	c.OrderedIn = ordered.NewInStream()
	c.OrderedOut = ordered.NewOutStream()
	c.BlobStreamOutChannelID = NoBlobChannel
	c.BlobStreamOutRequestID = 0
	c.Phase = PhaseIdle
	c.NextAuthoritativeStepIdToSend = 0
	c.StepsBehindStats = BufferLengthStats{}
}

func (c *Connection) reset() {
	c.InUse = false
	c.OrderedIn = nil
	c.OrderedOut = nil
	c.BlobStreamOutChannelID = NoBlobChannel
	c.BlobStreamOutRequestID = 0
	c.Phase = PhaseIdle
	c.NextAuthoritativeStepIdToSend = 0
	c.StepsBehindStats = BufferLengthStats{}
}

// Pool is the fixed-size array of TransportConnection slots, sized to the
// configured hard connection limit (at most 64).
type Pool struct {
	slots []*Connection
}

// NewPool allocates maxConnections empty slots.
func NewPool(maxConnections int) *Pool {
	slots := make([]*Connection, maxConnections)
	for i := range slots {
		slots[i] = &Connection{SlotIndex: i}
	}
	return &Pool{slots: slots}
}

// Connect claims slotIndex for a newly arrived peer, failing if the index is
// out of range or already claimed.
func (p *Pool) Connect(slotIndex int) (*Connection, error) {
	if slotIndex < 0 || slotIndex >= len(p.slots) {
		return nil, stepserr.New(stepserr.KindCapacity, stepserr.CodeInvalidSlotIndex,
			"slot index %d out of range [0,%d)", slotIndex, len(p.slots))
	}
	c := p.slots[slotIndex]
	if c.InUse {
		return nil, stepserr.New(stepserr.KindState, stepserr.CodeAlreadyConnected,
			"slot %d already connected", slotIndex)
	}
	c.init(slotIndex)
	return c, nil
}

// Disconnect releases slotIndex. CodeUnknownConnection reports a slot that
// was never connected; CodeAlreadyFreed reports a slot already released.
func (p *Pool) Disconnect(slotIndex int) error {
	if slotIndex < 0 || slotIndex >= len(p.slots) {
		return stepserr.New(stepserr.KindState, stepserr.CodeUnknownConnection,
			"unknown slot index %d", slotIndex)
	}
	c := p.slots[slotIndex]
	if !c.everUsed {
		return stepserr.New(stepserr.KindState, stepserr.CodeUnknownConnection,
			"slot %d was never connected", slotIndex)
	}
	if !c.InUse {
		return stepserr.New(stepserr.KindState, stepserr.CodeAlreadyFreed,
			"slot %d already disconnected", slotIndex)
	}
	c.reset()
	return nil
}

// Get returns the slot's current state without mutating it, or false if the
// index is out of range.
func (p *Pool) Get(slotIndex int) (*Connection, bool) {
	if slotIndex < 0 || slotIndex >= len(p.slots) {
		return nil, false
	}
	return p.slots[slotIndex], true
}

// ForEachActive calls fn for every currently connected slot, in slot order.
func (p *Pool) ForEachActive(fn func(*Connection)) {
	for _, c := range p.slots {
		if c.InUse {
			fn(c)
		}
	}
}

// Capacity reports the configured maximum slot count.
func (p *Pool) Capacity() int {
	return len(p.slots)
}
