package composer

import (
	"testing"

	"stepserver/internal/game"
	"stepserver/internal/participant"
	"stepserver/internal/wire"
)

func setup(t *testing.T, windowSize int) (*Composer, *game.Game, *participant.Pool) {
	t.Helper()
	g := game.New(windowSize, 24, 1024)
	pool := participant.NewPool(4, windowSize)
	return New(g, pool), g, pool
}

func TestComposeTickCombinesBothParticipantsInOrder(t *testing.T) {
	c, g, pool := setup(t, 32)

	connA := pool.Acquire(0, 0, 1)
	connB := pool.Acquire(1, 0, 1)
	g.AddParticipant(5, 0, connA.ID)
	g.AddParticipant(2, 0, connB.ID)

	stepA := &wire.GameStep{Entries: []wire.StepEntry{
		{StepID: 0, Runs: []wire.ParticipantStepRun{{ParticipantID: 5, StepBytes: []byte{0xAA}}}},
	}}
	stepB := &wire.GameStep{Entries: []wire.StepEntry{
		{StepID: 0, Runs: []wire.ParticipantStepRun{{ParticipantID: 2, StepBytes: []byte{0xBB}}}},
	}}
	if _, err := c.Ingest(connA, stepA); err != nil {
		t.Fatalf("Ingest A: %v", err)
	}
	if _, err := c.Ingest(connB, stepB); err != nil {
		t.Fatalf("Ingest B: %v", err)
	}

	progressed, err := c.ComposeTick()
	if err != nil {
		t.Fatalf("ComposeTick: %v", err)
	}
	if !progressed {
		t.Fatalf("expected progress once both participants have a step ready")
	}
	if g.AuthoritativeSteps.StepsCount() != 1 {
		t.Fatalf("expected 1 authoritative step, got %d", g.AuthoritativeSteps.StepsCount())
	}
	_, combined, _ := g.AuthoritativeSteps.ReadFirst()
	runs, err := wire.DecodeCombinedStep(combined)
	if err != nil {
		t.Fatalf("DecodeCombinedStep: %v", err)
	}
	if len(runs) != 2 || runs[0].ParticipantID != 2 || runs[1].ParticipantID != 5 {
		t.Fatalf("expected ascending participant order [2,5], got %+v", runs)
	}
}

func TestComposeTickWaitsForStillResponsiveConnection(t *testing.T) {
	c, g, pool := setup(t, 32)

	connA := pool.Acquire(0, 0, 1)
	connB := pool.Acquire(1, 0, 1)
	g.AddParticipant(1, 0, connA.ID)
	g.AddParticipant(2, 0, connB.ID)

	stepA := &wire.GameStep{Entries: []wire.StepEntry{
		{StepID: 0, Runs: []wire.ParticipantStepRun{{ParticipantID: 1, StepBytes: []byte{0xAA}}}},
	}}
	if _, err := c.Ingest(connA, stepA); err != nil {
		t.Fatalf("Ingest A: %v", err)
	}

	progressed, err := c.ComposeTick()
	if err != nil {
		t.Fatalf("ComposeTick: %v", err)
	}
	if progressed {
		t.Fatalf("expected no progress while connection B is still responsive but has no step")
	}
	if g.AuthoritativeSteps.StepsCount() != 0 {
		t.Fatalf("expected authoritative ring untouched, got %d steps", g.AuthoritativeSteps.StepsCount())
	}
	if connA.Ring.StepsCount() != 1 {
		t.Fatalf("expected A's unconsumed step to remain buffered, got %d", connA.Ring.StepsCount())
	}
	if connB.ForcedStepInRowCounter != 1 {
		t.Fatalf("expected B's miss to count toward its unresponsiveness threshold, got %d", connB.ForcedStepInRowCounter)
	}
}

func TestComposeTickForcesUnresponsiveAfterThreshold(t *testing.T) {
	c, g, pool := setup(t, 256)

	connA := pool.Acquire(0, 0, 1)
	connB := pool.Acquire(1, 0, 1)
	g.AddParticipant(1, 0, connA.ID)
	g.AddParticipant(2, 0, connB.ID)

	stepA := &wire.GameStep{Entries: []wire.StepEntry{
		{StepID: 0, Runs: []wire.ParticipantStepRun{{ParticipantID: 1, StepBytes: []byte{0xAA}}}},
	}}
	if _, err := c.Ingest(connA, stepA); err != nil {
		t.Fatalf("Ingest A: %v", err)
	}

	for tick := 0; tick < UnresponsiveForcedStepThreshold; tick++ {
		progressed, err := c.ComposeTick()
		if err != nil {
			t.Fatalf("ComposeTick tick %d: %v", tick, err)
		}
		if progressed {
			t.Fatalf("expected no progress at tick %d: B is still within grace, not yet unresponsive", tick)
		}
	}
	if connB.Unresponsive {
		t.Fatalf("expected connection B still within grace at exactly %d missed ticks", UnresponsiveForcedStepThreshold)
	}
	if connB.ForcedStepInRowCounter != UnresponsiveForcedStepThreshold {
		t.Fatalf("expected forced counter %d, got %d", UnresponsiveForcedStepThreshold, connB.ForcedStepInRowCounter)
	}
	if g.AuthoritativeSteps.StepsCount() != 0 {
		t.Fatalf("expected no authoritative progress while waiting on a still-responsive connection, got %d", g.AuthoritativeSteps.StepsCount())
	}

	progressed, err := c.ComposeTick()
	if err != nil {
		t.Fatalf("ComposeTick final: %v", err)
	}
	if !progressed {
		t.Fatalf("expected the tick blocked on B to finally compose once B is marked unresponsive")
	}
	if !connB.Unresponsive {
		t.Fatalf("expected connection B marked unresponsive after %d+1 missed ticks", UnresponsiveForcedStepThreshold)
	}
	if g.AuthoritativeSteps.StepsCount() != 1 {
		t.Fatalf("expected exactly 1 authoritative step once B was force-stepped, got %d", g.AuthoritativeSteps.StepsCount())
	}
}

func TestComposeAvailableDrainsAllBufferedTicksInOneCall(t *testing.T) {
	c, g, pool := setup(t, 32)
	connA := pool.Acquire(0, 0, 1)
	g.AddParticipant(1, 0, connA.ID)

	for tick := 0; tick < 5; tick++ {
		step := &wire.GameStep{Entries: []wire.StepEntry{
			{StepID: uint32(tick), Runs: []wire.ParticipantStepRun{{ParticipantID: 1, StepBytes: []byte{byte(tick)}}}},
		}}
		if _, err := c.Ingest(connA, step); err != nil {
			t.Fatalf("Ingest tick %d: %v", tick, err)
		}
	}

	if err := c.ComposeAvailable(); err != nil {
		t.Fatalf("ComposeAvailable: %v", err)
	}
	if g.AuthoritativeSteps.StepsCount() != 5 {
		t.Fatalf("expected all 5 buffered ticks composed in a single drain, got %d", g.AuthoritativeSteps.StepsCount())
	}
}

func TestTrimBackpressureDiscardsOldestPastThirdOfWindow(t *testing.T) {
	c, g, _ := setup(t, 30)
	for i := 0; i < 20; i++ {
		if err := g.AuthoritativeSteps.Append(g.AuthoritativeSteps.ExpectedWriteID(), []byte{byte(i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	c.TrimBackpressure()
	if got, want := g.AuthoritativeSteps.StepsCount(), 10; got != want {
		t.Fatalf("expected trim to WINDOW/3=%d, got %d", want, got)
	}
}
