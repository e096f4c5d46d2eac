package transport

import (
	"testing"
	"time"
)

func TestBandwidthShaperEnforcesRate(t *testing.T) {
	current := time.Unix(0, 0)
	clock := func() time.Time { return current }
	shaper := NewBandwidthShaper(100, clock)

	if !shaper.Allow(1, 60) {
		t.Fatal("expected initial burst to be allowed")
	}
	if shaper.Allow(1, 50) {
		t.Fatal("expected payload to be throttled while tokens depleted")
	}

	current = current.Add(500 * time.Millisecond)
	if !shaper.Allow(1, 50) {
		t.Fatal("expected payload to pass after partial refill")
	}
}

func TestBandwidthShaperPerSlotIndependence(t *testing.T) {
	current := time.Unix(0, 0)
	clock := func() time.Time { return current }
	shaper := NewBandwidthShaper(100, clock)

	if !shaper.Allow(1, 100) {
		t.Fatal("expected slot 1 to burst its full bucket")
	}
	if !shaper.Allow(2, 100) {
		t.Fatal("expected slot 2 to have an independent bucket")
	}
	if shaper.Allow(1, 1) {
		t.Fatal("expected slot 1 to be exhausted")
	}
}

func TestBandwidthShaperForget(t *testing.T) {
	shaper := NewBandwidthShaper(100, nil)
	shaper.Allow(1, 100)
	shaper.Forget(1)
	if !shaper.Allow(1, 100) {
		t.Fatal("expected a fresh bucket after Forget")
	}
}
