// Package participant implements the per-client logical session (the spec's
// ParticipantConnection): a connection's incoming step ring, the
// participants it locally owns, its force-step counter, and buffer-length
// stats, drawn from a fixed pool sized to the configured connection limit.
package participant

import (
	"sync"

	"stepserver/internal/stepring"
)

// FreedMarker is the reserved sentinel id for a pool slot that is not
// currently in use; real connection ids are confined to [1, 255].
const FreedMarker = 0x100

// BufferLengthStats tracks the observed min/max/last depth of a connection's
// incoming step ring. Neither the HTTP stats nor the admin plane reports it.
type BufferLengthStats struct {
	Min  int
	Max  int
	Last int

	observed bool
}

// Observe records a new buffer-depth sample.
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

// Connection is one client's logical session: its incoming step ring, the
// participant ids it owns locally, and the bookkeeping the composer needs
// to apply the force-step policy.
type Connection struct {
	ID                     uint16
	InUse                  bool
	Ring                   *stepring.Ring
	ParticipantRefs        []uint8
	TransportConnectionID  int
	ForcedStepInRowCounter int
	Unresponsive           bool
	BufferStats            BufferLengthStats

	maxLocalPlayers int
}

// HasParticipant linearly scans the connection's local refs, as the spec
// calls for (at most MaxLocalPlayers entries, so a scan is cheap and the
// natural contract).
func (c *Connection) HasParticipant(participantID uint8) bool {
	for _, ref := range c.ParticipantRefs {
		if ref == participantID {
			return true
		}
	}
	return false
}

// AddParticipant records a newly joined local participant, failing if the
// connection has already reached maxLocalPlayers.
func (c *Connection) AddParticipant(participantID uint8) bool {
	if len(c.ParticipantRefs) >= c.maxLocalPlayers {
		return false
	}
	c.ParticipantRefs = append(c.ParticipantRefs, participantID)
	return true
}

func (c *Connection) init(transportConnectionID int, latestAuthoritativeStepID stepring.StepId, windowSize, maxLocalPlayers int) {
	c.InUse = true
	c.TransportConnectionID = transportConnectionID
	c.ParticipantRefs = c.ParticipantRefs[:0]
	c.ForcedStepInRowCounter = 0
	c.Unresponsive = false
	c.BufferStats = BufferLengthStats{}
	c.maxLocalPlayers = maxLocalPlayers
	c.Ring = stepring.New(windowSize)
	// The first predicted step a client sends must match the then-current
	// authoritative write head, so the incoming ring starts there too.
	c.Ring.Reinit(latestAuthoritativeStepID)
}

func (c *Connection) reset() {
	c.InUse = false
	c.TransportConnectionID = -1
	c.ParticipantRefs = nil
	c.ForcedStepInRowCounter = 0
	c.Unresponsive = false
	c.BufferStats = BufferLengthStats{}
	c.Ring = nil
}

// Pool is the fixed-size array of Connection slots backing every joined
// client, sized to the configured max connection count.
type Pool struct {
	mu         sync.Mutex
	slots      []*Connection
	windowSize int
}

// NewPool allocates size slots, each with incoming rings of windowSize
// capacity once acquired.
func NewPool(size, windowSize int) *Pool {
	slots := make([]*Connection, size)
	for i := range slots {
		slots[i] = &Connection{ID: FreedMarker, TransportConnectionID: -1}
	}
	return &Pool{slots: slots, windowSize: windowSize}
}

// Acquire finds a free slot, initializes it for transportConnectionID, and
// returns it. It returns nil if every slot is in use.
func (p *Pool) Acquire(transportConnectionID int, latestAuthoritativeStepID stepring.StepId, maxLocalPlayers int) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, slot := range p.slots {
		if slot.InUse {
			continue
		}
		slot.ID = uint16(i + 1)
		slot.init(transportConnectionID, latestAuthoritativeStepID, p.windowSize, maxLocalPlayers)
		return slot
	}
	return nil
}

// Release returns a connection to the free pool.
func (p *Pool) Release(c *Connection) {
	if c == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c.reset()
	c.ID = FreedMarker
}

// ForEachActive calls fn for every currently in-use connection, ordered by
// slot, so callers (the composer) can iterate deterministically.
func (p *Pool) ForEachActive(fn func(*Connection)) {
	p.mu.Lock()
	active := make([]*Connection, 0, len(p.slots))
	for _, slot := range p.slots {
		if slot.InUse {
			active = append(active, slot)
		}
	}
	p.mu.Unlock()
	for _, c := range active {
		fn(c)
	}
}

// ByID finds the active connection with the given pool-assigned logical id.
func (p *Pool) ByID(id uint16) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, slot := range p.slots {
		if slot.InUse && slot.ID == id {
			return slot
		}
	}
	return nil
}

// ByTransportConnectionID finds the active connection owned by the given
// transport slot, or nil if none.
func (p *Pool) ByTransportConnectionID(transportConnectionID int) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, slot := range p.slots {
		if slot.InUse && slot.TransportConnectionID == transportConnectionID {
			return slot
		}
	}
	return nil
}
