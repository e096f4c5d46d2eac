// Package composer implements the heart of the server: backpressure trim,
// ingest of a connection's predicted steps, and the compose-while-available
// loop that advances the authoritative stream one tick at a time for as
// long as every still-responsive participant connection has its input
// ready, forcing only connections already flagged unresponsive.
package composer

import (
	"stepserver/internal/game"
	"stepserver/internal/participant"
	"stepserver/internal/stepring"
	"stepserver/internal/wire"
)

// UnresponsiveForcedStepThreshold is the number of consecutive compose
// attempts a connection may miss (no step ready for the tick) before being
// flagged unresponsive, force-stepped from then on, and left for a higher
// layer to disconnect. The source left this threshold unspecified; 30
// consecutive misses is a generous grace window before giving up on a
// silent peer.
const UnresponsiveForcedStepThreshold = 30

// Composer advances one Game's authoritative stream from its joined
// participants' per-connection rings.
type Composer struct {
	Game *game.Game
	Pool *participant.Pool
}

// New constructs a Composer bound to g and pool.
func New(g *game.Game, pool *participant.Pool) *Composer {
	return &Composer{Game: g, Pool: pool}
}

// TrimBackpressure discards the oldest authoritative steps once the ring
// holds more than WINDOW_SIZE/3, so connections that have fallen further
// behind than that are re-snapshotted rather than replayed.
func (c *Composer) TrimBackpressure() {
	ring := c.Game.AuthoritativeSteps
	threshold := ring.Capacity() / 3
	if count := ring.StepsCount(); count > threshold {
		_ = ring.Discard(count - threshold)
	}
}

// Ingest appends a connection's predicted step entries into its incoming
// ring. Entries behind the ring's write cursor are silently dropped as
// duplicates; entries ahead of it surface the ring's own StepGap error.
// It returns the client's requested waiting stepId for the step-range
// sender to consume.
func (c *Composer) Ingest(conn *participant.Connection, step *wire.GameStep) (stepring.StepId, error) {
	for _, entry := range step.Entries {
		stepID := stepring.StepId(entry.StepID)
		if stepID < conn.Ring.ExpectedWriteID() {
			continue
		}
		combined := wire.EncodeCombinedStep(entry.Runs)
		if err := conn.Ring.Append(stepID, combined); err != nil {
			return 0, err
		}
	}
	conn.BufferStats.Observe(conn.Ring.StepsCount())
	return stepring.StepId(step.ClientWaitingForStepID), nil
}

// contribution pairs a participant id with its owning connection, resolved
// once per tick attempt so a connection that locally owns several
// participants is only peeked/consumed a single time.
type contribution struct {
	id   uint8
	conn *participant.Connection
}

// ComposeTick attempts to produce exactly one authoritative CombinedStep
// for the current write head. It reports progressed=true only once every
// still-responsive connection has a real step ready for this tick: a
// connection already flagged Unresponsive is force-stepped instead of
// blocking the tick, so one dead peer cannot stall the whole game, but a
// connection that hasn't crossed that threshold yet causes ComposeTick to
// wait (progressed=false, no step appended, nothing discarded from any
// ring) rather than force or advance — the classical lockstep pause —
// while the miss still counts toward that connection's own
// unresponsiveness threshold.
func (c *Composer) ComposeTick() (bool, error) {
	if c.Game.DebugFrozen {
		return false, nil
	}
	ring := c.Game.AuthoritativeSteps
	if ring.StepsCount() >= ring.Capacity() {
		return false, nil
	}
	tick := ring.ExpectedWriteID()
	ids := c.Game.ActiveParticipantIDsSorted()
	if len(ids) == 0 {
		return false, nil
	}

	contributions := make([]contribution, 0, len(ids))
	var distinctConns []*participant.Connection
	seen := make(map[*participant.Connection]bool)
	for _, id := range ids {
		p, ok := c.Game.ParticipantByID(id)
		if !ok {
			continue
		}
		conn := c.Pool.ByID(p.OwningConnectionID)
		contributions = append(contributions, contribution{id: id, conn: conn})
		if conn != nil && !seen[conn] {
			seen[conn] = true
			distinctConns = append(distinctConns, conn)
		}
	}

	// The classical lockstep wait: a connection not yet flagged
	// unresponsive must have this tick's step ready, or composition stops
	// here rather than forcing or discarding anything. Only a connection
	// that just crossed the threshold is force-stepped this same tick.
	for _, conn := range distinctConns {
		if conn.Unresponsive || hasStepAt(conn, tick) {
			continue
		}
		conn.ForcedStepInRowCounter++
		if conn.ForcedStepInRowCounter > UnresponsiveForcedStepThreshold {
			conn.Unresponsive = true
			continue
		}
		return false, nil
	}

	// Each owning connection's ring is peeked and consumed at most once per
	// tick, even when it locally owns several participants.
	consumed := make(map[*participant.Connection][]wire.ParticipantStepRun)
	runs := make([]wire.ParticipantStepRun, 0, len(ids))
	for _, contrib := range contributions {
		connRuns, alreadyConsumed := consumed[contrib.conn]
		if !alreadyConsumed {
			connRuns = consumeConnectionStep(contrib.conn, tick)
			consumed[contrib.conn] = connRuns
			if connRuns != nil && contrib.conn != nil {
				contrib.conn.ForcedStepInRowCounter = 0
			}
		}

		var stepBytes []byte
		for _, r := range connRuns {
			if r.ParticipantID == contrib.id {
				stepBytes = r.StepBytes
				break
			}
		}
		runs = append(runs, wire.ParticipantStepRun{ParticipantID: contrib.id, StepBytes: stepBytes})
	}

	if err := ring.Append(tick, wire.EncodeCombinedStep(runs)); err != nil {
		return false, err
	}
	return true, nil
}

// ComposeAvailable drives ComposeTick in a loop, producing as many
// authoritative ticks as the currently buffered inputs allow — the
// compose-while-available loop — stopping the instant a tick can't be
// composed (ring full, no participants, or a still-responsive connection
// waiting on input) or on the first composition error.
func (c *Composer) ComposeAvailable() error {
	for {
		progressed, err := c.ComposeTick()
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

// hasStepAt reports whether conn's incoming ring already holds a step at
// exactly tick, without consuming it.
func hasStepAt(conn *participant.Connection, tick stepring.StepId) bool {
	if conn == nil || conn.Ring.StepsCount() == 0 {
		return false
	}
	stepID, _, ok := conn.Ring.ReadFirst()
	return ok && stepID == tick
}

// consumeConnectionStep peeks conn's incoming ring for a step already
// stored at exactly tick, discarding it if found. A nil result (never an
// error) means the connection has nothing yet for this tick, which the
// caller treats as grounds for the force-step policy.
func consumeConnectionStep(conn *participant.Connection, tick stepring.StepId) []wire.ParticipantStepRun {
	if !hasStepAt(conn, tick) {
		return nil
	}
	_, combined, _ := conn.Ring.ReadFirst()
	runs, err := wire.DecodeCombinedStep(combined)
	if err != nil {
		return nil
	}
	_ = conn.Ring.Discard(1)
	return runs
}
