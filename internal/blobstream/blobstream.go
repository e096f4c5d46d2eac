// Package blobstream implements the assumed-external BlobStreamOut/In
// collaborator: chunked transfer of a compressed byte array (the game-state
// snapshot) over a sequence of ≤1200-octet datagrams, addressed by a
// freeing channel-id allocator so concurrent transfers never collide.
package blobstream

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"github.com/golang/snappy"

	"stepserver/internal/stepserr"
)

// HeaderOctets is the fixed-width chunk header: channel id, chunk index,
// total chunk count.
const HeaderOctets = 5

// MaxChunkOctets bounds a single chunk's encoded size to the outbound
// datagram budget.
const MaxChunkOctets = 1200

// MaxChunksPerTransfer caps a transfer so its acknowledgement bitmap fits a
// single uint64.
const MaxChunksPerTransfer = 64

// Chunk is one piece of a blob-stream transfer.
type Chunk struct {
	ChannelID uint8
	Index     uint16
	Total     uint16
	Payload   []byte
}

// Encode frames a chunk for transport.
func Encode(c Chunk) []byte {
	buf := make([]byte, HeaderOctets+len(c.Payload))
	buf[0] = c.ChannelID
	binary.BigEndian.PutUint16(buf[1:3], c.Index)
	binary.BigEndian.PutUint16(buf[3:5], c.Total)
	copy(buf[HeaderOctets:], c.Payload)
	return buf
}

// Decode parses a framed chunk.
func Decode(datagram []byte) (Chunk, error) {
	if len(datagram) < HeaderOctets {
		return Chunk{}, stepserr.New(stepserr.KindProtocol, stepserr.CodeUnknownCommand,
			"blob chunk shorter than header (%d octets)", len(datagram))
	}
	return Chunk{
		ChannelID: datagram[0],
		Index:     binary.BigEndian.Uint16(datagram[1:3]),
		Total:     binary.BigEndian.Uint16(datagram[3:5]),
		Payload:   datagram[HeaderOctets:],
	}, nil
}

// Allocator hands out channel ids for in-flight transfers, reusing freed
// ids before growing, bounded to MaxChunksPerTransfer-compatible channels.
type Allocator struct {
	mu    sync.Mutex
	used  [256]bool
	count int
	max   int
}

// NewAllocator returns an allocator bounded to maxChannels concurrent
// transfers.
func NewAllocator(maxChannels int) *Allocator {
	if maxChannels > 256 {
		maxChannels = 256
	}
	return &Allocator{max: maxChannels}
}

// Acquire returns the smallest free channel id.
func (a *Allocator) Acquire() (uint8, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.count >= a.max {
		return 0, stepserr.New(stepserr.KindCapacity, stepserr.CodeNoParticipantSlots, "no free blob-stream channels")
	}
	for id := 0; id < a.max; id++ {
		if !a.used[id] {
			a.used[id] = true
			a.count++
			return uint8(id), nil
		}
	}
	return 0, stepserr.New(stepserr.KindCapacity, stepserr.CodeNoParticipantSlots, "no free blob-stream channels")
}

// Release returns id to the free pool.
func (a *Allocator) Release(id uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.used[id] {
		a.used[id] = false
		a.count--
	}
}

// OutTransfer is a compressed snapshot split into chunks ready to send, and
// resend on demand per the client's acknowledgement bitmap.
type OutTransfer struct {
	ChannelID uint8
	Chunks    [][]byte
}

// NewOutTransfer compresses snapshot with streamed snappy framing and
// splits the result into MaxChunkOctets-bounded chunks.
func NewOutTransfer(channelID uint8, snapshot []byte) (*OutTransfer, error) {
	var compressed bytes.Buffer
	w := snappy.NewBufferedWriter(&compressed)
	if _, err := w.Write(snapshot); err != nil {
		return nil, stepserr.New(stepserr.KindExternal, stepserr.CodeUnknownCommand, "snappy write: %v", err)
	}
	if err := w.Close(); err != nil {
		return nil, stepserr.New(stepserr.KindExternal, stepserr.CodeUnknownCommand, "snappy close: %v", err)
	}

	payloadCap := MaxChunkOctets - HeaderOctets
	data := compressed.Bytes()
	total := (len(data) + payloadCap - 1) / payloadCap
	if total == 0 {
		total = 1
	}
	if total > MaxChunksPerTransfer {
		return nil, stepserr.New(stepserr.KindCapacity, stepserr.CodeSnapshotTooLarge,
			"snapshot compresses to %d chunks, exceeds %d", total, MaxChunksPerTransfer)
	}

	chunks := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * payloadCap
		end := start + payloadCap
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, Encode(Chunk{
			ChannelID: channelID,
			Index:     uint16(i),
			Total:     uint16(total),
			Payload:   data[start:end],
		}))
	}
	return &OutTransfer{ChannelID: channelID, Chunks: chunks}, nil
}

// PendingChunks returns the framed chunks not yet marked acknowledged in
// ackBitmap (bit i set means chunk i was received).
func (t *OutTransfer) PendingChunks(ackBitmap uint64) [][]byte {
	pending := make([][]byte, 0, len(t.Chunks))
	for i, chunk := range t.Chunks {
		if i < 64 && ackBitmap&(1<<uint(i)) != 0 {
			continue
		}
		pending = append(pending, chunk)
	}
	return pending
}

// Done reports whether every chunk has been acknowledged.
func (t *OutTransfer) Done(ackBitmap uint64) bool {
	for i := range t.Chunks {
		if i >= 64 {
			return false
		}
		if ackBitmap&(1<<uint(i)) == 0 {
			return false
		}
	}
	return true
}

// InTransfer reassembles chunks arriving out of order on the receiving end.
type InTransfer struct {
	total    uint16
	received map[uint16][]byte
}

// NewInTransfer starts a fresh reassembly buffer.
func NewInTransfer() *InTransfer {
	return &InTransfer{received: make(map[uint16][]byte)}
}

// AddChunk records a chunk and reports whether every chunk has now arrived.
func (t *InTransfer) AddChunk(c Chunk) bool {
	t.total = c.Total
	t.received[c.Index] = c.Payload
	return len(t.received) >= int(t.total)
}

// Reassemble concatenates every chunk in order and decompresses the result.
// Callers must only call this once AddChunk has reported completion.
func (t *InTransfer) Reassemble() ([]byte, error) {
	var compressed bytes.Buffer
	for i := uint16(0); i < t.total; i++ {
		chunk, ok := t.received[i]
		if !ok {
			return nil, stepserr.New(stepserr.KindProtocol, stepserr.CodeLeftoverOctets, "missing chunk %d of %d", i, t.total)
		}
		compressed.Write(chunk)
	}
	r := snappy.NewReader(&compressed)
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, stepserr.New(stepserr.KindExternal, stepserr.CodeUnknownCommand, "snappy read: %v", err)
	}
	return out, nil
}
