package game

import "testing"

func TestMustProvideGameStateThreshold(t *testing.T) {
	g := New(256, 24, 1024)
	if err := g.SetGameState([]byte{0xAA}, 0); err != nil {
		t.Fatalf("SetGameState: %v", err)
	}
	for i := 0; i < 80; i++ {
		if err := g.AuthoritativeSteps.Append(g.AuthoritativeSteps.ExpectedWriteID(), []byte{0}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if g.MustProvideGameState() {
		t.Fatalf("expected false at exactly 80 steps since snapshot")
	}
	if err := g.AuthoritativeSteps.Append(g.AuthoritativeSteps.ExpectedWriteID(), []byte{0}); err != nil {
		t.Fatalf("append 81st: %v", err)
	}
	if !g.MustProvideGameState() {
		t.Fatalf("expected true at 81 steps since snapshot")
	}
}

func TestSetGameStateRejectsOversizeSnapshot(t *testing.T) {
	g := New(16, 24, 4)
	if err := g.SetGameState([]byte{1, 2, 3, 4, 5}, 0); err == nil {
		t.Fatalf("expected snapshot-too-large error")
	}
}

func TestReInitWithGameClearsParticipants(t *testing.T) {
	g := New(16, 24, 1024)
	g.AddParticipant(1, 0, 7)
	if err := g.ReInitWithGame([]byte{0xAA}, 0x10); err != nil {
		t.Fatalf("ReInitWithGame: %v", err)
	}
	if len(g.ActiveParticipantIDsSorted()) != 0 {
		t.Fatalf("expected no participants after reinit")
	}
	if g.AuthoritativeSteps.ExpectedWriteID() != 0x10 {
		t.Fatalf("expected write id 0x10, got %d", g.AuthoritativeSteps.ExpectedWriteID())
	}
}

func TestActiveParticipantIDsSortedOrdering(t *testing.T) {
	g := New(16, 24, 1024)
	g.AddParticipant(5, 0, 1)
	g.AddParticipant(1, 0, 2)
	g.AddParticipant(3, 0, 3)
	ids := g.ActiveParticipantIDsSorted()
	want := []uint8{1, 3, 5}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("expected sorted ids %v, got %v", want, ids)
		}
	}
}
