package transport

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stepserver/internal/logging"
	"stepserver/internal/stepserr"
)

const (
	writeWait          = 10 * time.Second
	pongWaitMultiplier = 2
)

// MultiTransport is the collaborator the server drains every tick: a
// connection-indexed, unreliable send/receive surface. ReceiveFrom returns
// ok=false when nothing is queued; it never blocks.
type MultiTransport interface {
	ReceiveFrom() (slotIndex int, datagram []byte, ok bool, err error)
	SendTo(slotIndex int, datagram []byte) error
}

type inboundDatagram struct {
	slotIndex int
	datagram  []byte
}

// WSMultiTransport multiplexes a fixed number of websocket peers behind the
// MultiTransport interface, one goroutine pair per connection relaying
// binary frames to and from a shared inbound queue.
type WSMultiTransport struct {
	upgrader     websocket.Upgrader
	logger       *logging.Logger
	pingInterval time.Duration

	mu      sync.Mutex
	bySlot  map[int]*wsPeer
	nextGen uint64

	inbound chan inboundDatagram
}

type wsPeer struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// NewWSMultiTransport constructs a transport whose upgrader allows any
// origin by default; callers behind a reverse proxy should wrap
// CheckOrigin themselves.
func NewWSMultiTransport(logger *logging.Logger, pingInterval time.Duration, queueDepth int) *WSMultiTransport {
	return &WSMultiTransport{
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:       logger,
		pingInterval: pingInterval,
		bySlot:       make(map[int]*wsPeer),
		inbound:      make(chan inboundDatagram, queueDepth),
	}
}

// Accept upgrades an HTTP request to a websocket connection and binds it to
// slotIndex, starting its reader and writer goroutines.
func (t *WSMultiTransport) Accept(w http.ResponseWriter, r *http.Request, slotIndex int) error {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return stepserr.New(stepserr.KindExternal, stepserr.CodeUnknownConnection, "websocket upgrade failed: %v", err)
	}
	peer := &wsPeer{conn: conn, send: make(chan []byte, 64), done: make(chan struct{})}

	t.mu.Lock()
	t.bySlot[slotIndex] = peer
	t.mu.Unlock()

	go t.readPump(slotIndex, peer)
	go t.writePump(peer)
	return nil
}

func (t *WSMultiTransport) readPump(slotIndex int, peer *wsPeer) {
	waitDuration := time.Duration(pongWaitMultiplier) * t.pingInterval
	if waitDuration <= 0 {
		waitDuration = 30 * time.Second
	}
	_ = peer.conn.SetReadDeadline(time.Now().Add(waitDuration))
	peer.conn.SetPongHandler(func(string) error {
		return peer.conn.SetReadDeadline(time.Now().Add(waitDuration))
	})

	defer t.forget(slotIndex, peer)
	for {
		messageType, msg, err := peer.conn.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				t.logger.Warn("read timeout", logging.Int("slot", slotIndex))
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if err := peer.conn.SetReadDeadline(time.Now().Add(waitDuration)); err != nil {
			return
		}
		datagram := make([]byte, len(msg))
		copy(datagram, msg)
		select {
		case t.inbound <- inboundDatagram{slotIndex: slotIndex, datagram: datagram}:
		default:
			t.logger.Warn("dropping inbound datagram: queue full", logging.Int("slot", slotIndex))
		}
	}
}

func (t *WSMultiTransport) writePump(peer *wsPeer) {
	pingTicker := time.NewTicker(t.pingIntervalOrDefault())
	defer func() {
		pingTicker.Stop()
		_ = peer.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-peer.send:
			if !ok {
				_ = peer.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = peer.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := peer.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		case <-pingTicker.C:
			if err := peer.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-peer.done:
			return
		}
	}
}

func (t *WSMultiTransport) pingIntervalOrDefault() time.Duration {
	if t.pingInterval <= 0 {
		return 15 * time.Second
	}
	return t.pingInterval
}

func (t *WSMultiTransport) forget(slotIndex int, peer *wsPeer) {
	t.mu.Lock()
	if t.bySlot[slotIndex] == peer {
		delete(t.bySlot, slotIndex)
	}
	t.mu.Unlock()
	close(peer.done)
}

// ReceiveFrom implements MultiTransport with a non-blocking read from the
// shared inbound queue.
func (t *WSMultiTransport) ReceiveFrom() (int, []byte, bool, error) {
	select {
	case d := <-t.inbound:
		return d.slotIndex, d.datagram, true, nil
	default:
		return 0, nil, false, nil
	}
}

// SendTo implements MultiTransport, queuing datagram for slotIndex's writer
// goroutine. Returns an External error if the slot has no live peer.
func (t *WSMultiTransport) SendTo(slotIndex int, datagram []byte) error {
	t.mu.Lock()
	peer := t.bySlot[slotIndex]
	t.mu.Unlock()
	if peer == nil {
		return stepserr.New(stepserr.KindExternal, stepserr.CodeUnknownConnection, "no live peer for slot %d", slotIndex)
	}
	select {
	case peer.send <- datagram:
		return nil
	default:
		return stepserr.New(stepserr.KindExternal, stepserr.CodeUnknownConnection, "send queue full for slot %d", slotIndex)
	}
}

// Close disconnects every peer and releases resources.
func (t *WSMultiTransport) Close() {
	t.mu.Lock()
	peers := make([]*wsPeer, 0, len(t.bySlot))
	for _, p := range t.bySlot {
		peers = append(peers, p)
	}
	t.bySlot = make(map[int]*wsPeer)
	t.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.Close()
	}
}
