package transport

import (
	"sync"
	"time"
)

// DefaultBlobBandwidthBytesPerSecond caps a single connection's
// blob-stream-out throughput during snapshot catch-up, so one slow joiner
// cannot starve the fixed per-tick drain budget other connections share.
const DefaultBlobBandwidthBytesPerSecond = 96000.0 / 8.0

type bandwidthBucket struct {
	tokens float64
	last   time.Time
}

// BandwidthShaper is a per-slot token bucket gating blob-stream-out chunk
// throughput, adapted from the teacher's client-bandwidth token bucket to
// key on transport slot index instead of client id.
type BandwidthShaper struct {
	mu       sync.Mutex
	buckets  map[int]*bandwidthBucket
	capacity float64
	refill   float64
	now      func() time.Time
}

// NewBandwidthShaper constructs a shaper enforcing targetBytesPerSecond per
// slot, refilled continuously from the supplied clock (time.Now if nil).
func NewBandwidthShaper(targetBytesPerSecond float64, clock func() time.Time) *BandwidthShaper {
	if targetBytesPerSecond <= 0 {
		targetBytesPerSecond = DefaultBlobBandwidthBytesPerSecond
	}
	if clock == nil {
		clock = time.Now
	}
	return &BandwidthShaper{
		buckets:  make(map[int]*bandwidthBucket),
		capacity: targetBytesPerSecond,
		refill:   targetBytesPerSecond,
		now:      clock,
	}
}

// Allow charges payloadBytes against slotIndex's bucket, seeding a full
// bucket on first use so a fresh connection can burst its first chunk
// immediately.
func (b *BandwidthShaper) Allow(slotIndex int, payloadBytes int) bool {
	if b == nil || payloadBytes <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	bucket := b.buckets[slotIndex]
	if bucket == nil {
		bucket = &bandwidthBucket{tokens: b.capacity, last: now}
		b.buckets[slotIndex] = bucket
	}
	if elapsed := now.Sub(bucket.last).Seconds(); elapsed > 0 {
		bucket.tokens += elapsed * b.refill
		if bucket.tokens > b.capacity {
			bucket.tokens = b.capacity
		}
		bucket.last = now
	}

	request := float64(payloadBytes)
	if request > bucket.tokens {
		return false
	}
	bucket.tokens -= request
	return true
}

// Forget releases slotIndex's bucket, e.g. on disconnect.
func (b *BandwidthShaper) Forget(slotIndex int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	delete(b.buckets, slotIndex)
	b.mu.Unlock()
}
