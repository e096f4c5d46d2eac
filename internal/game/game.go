// Package game holds the authoritative snapshot, the authoritative step
// ring, and the joined-participant table: the single owner of all
// long-lived game state, so that Game <-> Participant <-> Connection never
// forms an ownership cycle (connections only hold id-indexed, non-owning
// references into this table).
package game

import (
	"sort"
	"sync"

	"stepserver/internal/stepring"
	"stepserver/internal/stepserr"
)

// ReasonableCatchupSteps is the threshold beyond which a joiner should be
// re-snapshotted rather than replay the full authoritative step history.
const ReasonableCatchupSteps = 80

// Snapshot is the canonical zero-point for any new joiner: opaque bytes plus
// the StepId they are valid at.
type Snapshot struct {
	Bytes  []byte
	StepID stepring.StepId
}

// Participant is owned by the Game for its entire lifetime; connections
// reference it only by id.
type Participant struct {
	ID                 uint8
	LocalIndex         int
	OwningConnectionID uint16
}

// Game aggregates the authoritative step ring, the latest snapshot, and the
// participant table for one running game instance.
type Game struct {
	mu sync.RWMutex

	AuthoritativeSteps *stepring.Ring
	Latest             Snapshot
	Participants       map[uint8]*Participant

	MaxSingleStepOctetCount int
	MaxSnapshotOctetCount   int
	DebugFrozen             bool
}

// New constructs a Game whose authoritative ring has the given window
// capacity, starting at StepId 0 with no snapshot and no participants.
func New(windowSize, maxSingleStepOctetCount, maxSnapshotOctetCount int) *Game {
	return &Game{
		AuthoritativeSteps:      stepring.New(windowSize),
		Participants:            make(map[uint8]*Participant),
		MaxSingleStepOctetCount: maxSingleStepOctetCount,
		MaxSnapshotOctetCount:   maxSnapshotOctetCount,
	}
}

// SetGameState replaces the stored snapshot. This is the authoritative
// zero-point any new joiner bootstraps from.
func (g *Game) SetGameState(bytes []byte, stepID stepring.StepId) error {
	if len(bytes) > g.MaxSnapshotOctetCount {
		return stepserr.New(stepserr.KindCapacity, stepserr.CodeSnapshotTooLarge,
			"snapshot %d octets exceeds cap %d", len(bytes), g.MaxSnapshotOctetCount)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Latest = Snapshot{Bytes: bytes, StepID: stepID}
	return nil
}

// MustProvideGameState reports whether the authoritative write head has
// advanced far enough past the last snapshot that a joiner should receive a
// fresh one instead of replaying the whole step history.
func (g *Game) MustProvideGameState() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	delta := int64(g.AuthoritativeSteps.ExpectedWriteID()) - int64(g.Latest.StepID)
	return delta > ReasonableCatchupSteps
}

// ReInitWithGame resets the game to a state equivalent to a fresh init
// with the given snapshot preloaded: the authoritative ring's write cursor
// starts at stepID and no participants remain.
func (g *Game) ReInitWithGame(bytes []byte, stepID stepring.StepId) error {
	if len(bytes) > g.MaxSnapshotOctetCount {
		return stepserr.New(stepserr.KindCapacity, stepserr.CodeSnapshotTooLarge,
			"snapshot %d octets exceeds cap %d", len(bytes), g.MaxSnapshotOctetCount)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Latest = Snapshot{Bytes: bytes, StepID: stepID}
	g.AuthoritativeSteps.Reinit(stepID)
	g.Participants = make(map[uint8]*Participant)
	return nil
}

// AddParticipant registers a newly joined participant under the Game's
// ownership.
func (g *Game) AddParticipant(id uint8, localIndex int, owningConnectionID uint16) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Participants[id] = &Participant{ID: id, LocalIndex: localIndex, OwningConnectionID: owningConnectionID}
}

// RemoveParticipant drops a participant from the Game's table, e.g. on its
// owning connection's disconnect.
func (g *Game) RemoveParticipant(id uint8) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.Participants, id)
}

// ActiveParticipantIDsSorted returns every currently joined participant id
// in ascending order, the deterministic contribution order the composer
// uses when building a CombinedStep.
func (g *Game) ActiveParticipantIDsSorted() []uint8 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]uint8, 0, len(g.Participants))
	for id := range g.Participants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ParticipantByID returns the participant record for id, if joined.
func (g *Game) ParticipantByID(id uint8) (*Participant, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.Participants[id]
	return p, ok
}
