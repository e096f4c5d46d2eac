package registry

import "testing"

func TestAllocateAssignsSmallestFreeID(t *testing.T) {
	r := New(3)
	first, err := r.Allocate()
	if err != nil || first != 1 {
		t.Fatalf("expected first id 1, got %d err=%v", first, err)
	}
	second, err := r.Allocate()
	if err != nil || second != 2 {
		t.Fatalf("expected second id 2, got %d err=%v", second, err)
	}
	r.Release(first)
	third, err := r.Allocate()
	if err != nil || third != 1 {
		t.Fatalf("expected freed id 1 to be reused, got %d err=%v", third, err)
	}
}

func TestAllocateFailsAtCapacity(t *testing.T) {
	r := New(1)
	if _, err := r.Allocate(); err != nil {
		t.Fatalf("unexpected error on first allocate: %v", err)
	}
	if _, err := r.Allocate(); err == nil {
		t.Fatalf("expected NoParticipantSlots error at capacity")
	}
}

func TestReleaseOfUnassignedIsNoop(t *testing.T) {
	r := New(4)
	r.Release(7)
	if r.Count() != 0 {
		t.Fatalf("expected count 0, got %d", r.Count())
	}
}

func TestInUseReflectsAllocation(t *testing.T) {
	r := New(4)
	id, _ := r.Allocate()
	if !r.InUse(id) {
		t.Fatalf("expected id %d to be in use", id)
	}
	r.Release(id)
	if r.InUse(id) {
		t.Fatalf("expected id %d to be free after release", id)
	}
}
