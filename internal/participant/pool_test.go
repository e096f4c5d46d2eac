package participant

import "testing"

func TestAcquireInitializesRingAtLatestStepID(t *testing.T) {
	pool := NewPool(2, 16)
	conn := pool.Acquire(0, 0x10, 2)
	if conn == nil {
		t.Fatal("expected a free slot")
	}
	if conn.Ring.ExpectedWriteID() != 0x10 {
		t.Fatalf("expected ring write id 0x10, got %d", conn.Ring.ExpectedWriteID())
	}
	if conn.ID == FreedMarker {
		t.Fatalf("expected acquired connection to have a real id")
	}
}

func TestAcquireReturnsNilWhenExhausted(t *testing.T) {
	pool := NewPool(1, 16)
	if pool.Acquire(0, 0, 2) == nil {
		t.Fatal("expected first acquire to succeed")
	}
	if pool.Acquire(1, 0, 2) != nil {
		t.Fatal("expected second acquire to fail when pool exhausted")
	}
}

func TestReleaseFreesSlotForReuse(t *testing.T) {
	pool := NewPool(1, 16)
	conn := pool.Acquire(0, 0, 2)
	pool.Release(conn)
	if pool.Acquire(1, 0, 2) == nil {
		t.Fatal("expected slot to be reusable after release")
	}
}

func TestAddParticipantRespectsLocalCap(t *testing.T) {
	pool := NewPool(1, 16)
	conn := pool.Acquire(0, 0, 1)
	if !conn.AddParticipant(1) {
		t.Fatal("expected first participant to be added")
	}
	if conn.AddParticipant(2) {
		t.Fatal("expected second participant to be rejected at cap 1")
	}
	if !conn.HasParticipant(1) || conn.HasParticipant(2) {
		t.Fatal("unexpected HasParticipant result")
	}
}

func TestByTransportConnectionIDFindsOwner(t *testing.T) {
	pool := NewPool(2, 16)
	pool.Acquire(5, 0, 2)
	if pool.ByTransportConnectionID(5) == nil {
		t.Fatal("expected to find connection owned by transport slot 5")
	}
	if pool.ByTransportConnectionID(9) != nil {
		t.Fatal("expected no connection for unused transport slot")
	}
}
