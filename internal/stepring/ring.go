// Package stepring implements the fixed-capacity FIFO described for the
// authoritative and per-connection incoming step buffers: a window of
// consecutively StepId-indexed opaque byte payloads.
package stepring

import "stepserver/internal/stepserr"

// StepId is a 32-bit monotonically increasing tick index. Arithmetic on it
// is modular but within one game all comparisons used here are absolute.
type StepId uint32

// Ring is a FIFO of steps indexed by StepId. It never silently drops: both
// over-capacity appends and out-of-order appends are explicit errors, and
// the caller is responsible for keeping ids contiguous.
type Ring struct {
	capacity       int
	slots          [][]byte
	expectedReadID StepId
	expectedWriteID StepId
	count          int
}

// New constructs a Ring of the given capacity (the collaborator constant
// NBS_WINDOW_SIZE) starting empty at StepId 0.
func New(capacity int) *Ring {
	return &Ring{
		capacity: capacity,
		slots:    make([][]byte, capacity),
	}
}

// Reinit clears the ring and resets its write/read cursor to startStepID,
// as required after a fresh init or reInitWithGame.
func (r *Ring) Reinit(startStepID StepId) {
	for i := range r.slots {
		r.slots[i] = nil
	}
	r.expectedReadID = startStepID
	r.expectedWriteID = startStepID
	r.count = 0
}

// ExpectedReadID returns the oldest stored step id.
func (r *Ring) ExpectedReadID() StepId { return r.expectedReadID }

// ExpectedWriteID returns the next id that Append will accept.
func (r *Ring) ExpectedWriteID() StepId { return r.expectedWriteID }

// StepsCount returns expectedWriteId - expectedReadId.
func (r *Ring) StepsCount() int { return r.count }

// Capacity returns the ring's fixed window size.
func (r *Ring) Capacity() int { return r.capacity }

// Append adds payload at stepID. It fails if stepID does not match
// expectedWriteId (out-of-order/duplicate) or if the ring is full.
func (r *Ring) Append(stepID StepId, payload []byte) error {
	if stepID != r.expectedWriteID {
		return stepserr.New(stepserr.KindProtocol, stepserr.CodeStepGap,
			"append stepId %d does not match expected write id %d", stepID, r.expectedWriteID)
	}
	if r.count >= r.capacity {
		return stepserr.New(stepserr.KindCapacity, stepserr.CodeRingFull,
			"ring at capacity %d", r.capacity)
	}
	index := int(r.expectedWriteID) % r.capacity
	r.slots[index] = payload
	r.expectedWriteID++
	r.count++
	return nil
}

// ReadFirst returns the oldest stored step without removing it.
func (r *Ring) ReadFirst() (StepId, []byte, bool) {
	if r.count == 0 {
		return 0, nil, false
	}
	index := int(r.expectedReadID) % r.capacity
	return r.expectedReadID, r.slots[index], true
}

// At returns the step stored at the given id, if it falls within the
// currently-held range [expectedReadId, expectedWriteId).
func (r *Ring) At(stepID StepId) ([]byte, bool) {
	if r.count == 0 {
		return nil, false
	}
	if stepID < r.expectedReadID || stepID >= r.expectedWriteID {
		return nil, false
	}
	index := int(stepID) % r.capacity
	return r.slots[index], true
}

// Discard advances expectedReadId by n, freeing the oldest n entries. It
// fails if n exceeds the number of stored steps.
func (r *Ring) Discard(n int) error {
	if n < 0 || n > r.count {
		return stepserr.New(stepserr.KindProtocol, stepserr.CodeStepGap,
			"discard %d exceeds stored count %d", n, r.count)
	}
	for i := 0; i < n; i++ {
		index := int(r.expectedReadID) % r.capacity
		r.slots[index] = nil
		r.expectedReadID++
	}
	r.count -= n
	return nil
}
