package server

import (
	"testing"
	"time"

	"stepserver/internal/config"
	"stepserver/internal/logging"
	"stepserver/internal/wire"
)

type fakeTransport struct {
	inbound [][2]any
	sent    map[int][][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(map[int][][]byte)}
}

func (f *fakeTransport) enqueue(slotIndex int, datagram []byte) {
	f.inbound = append(f.inbound, [2]any{slotIndex, datagram})
}

func (f *fakeTransport) ReceiveFrom() (int, []byte, bool, error) {
	if len(f.inbound) == 0 {
		return 0, nil, false, nil
	}
	next := f.inbound[0]
	f.inbound = f.inbound[1:]
	return next[0].(int), next[1].([]byte), true, nil
}

func (f *fakeTransport) SendTo(slotIndex int, datagram []byte) error {
	f.sent[slotIndex] = append(f.sent[slotIndex], datagram)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		MaxConnectionCount:                   4,
		MaxParticipantCount:                  16,
		MaxParticipantCountForEachConnection: 2,
		MaxSingleParticipantStepOctetCount:   24,
		MaxGameStateOctetCount:               1024,
	}
}

func joinDatagram(requestedLocalPlayers byte) []byte {
	header := []byte{0, 0, 0, 0}
	body := []byte{byte(wire.CmdJoinGameRequest), requestedLocalPlayers, 0x00}
	return append(header, body...)
}

func TestUpdateAutoConnectsAndDispatchesJoin(t *testing.T) {
	mt := newFakeTransport()
	srv := New(testConfig(), logging.NewTestLogger(), mt)

	mt.enqueue(0, joinDatagram(1))
	if err := srv.Update(time.Time{}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if len(mt.sent[0]) != 1 {
		t.Fatalf("expected 1 reply datagram to slot 0, got %d", len(mt.sent[0]))
	}
	tc, found := srv.Transports.Get(0)
	if !found || !tc.InUse {
		t.Fatal("expected slot 0 to be auto-connected")
	}
	if srv.Registry.Count() != 1 {
		t.Fatalf("expected 1 allocated participant, got %d", srv.Registry.Count())
	}
}

func TestConnectionDisconnectedReleasesParticipants(t *testing.T) {
	mt := newFakeTransport()
	srv := New(testConfig(), logging.NewTestLogger(), mt)

	if _, err := srv.ConnectionConnected(0); err != nil {
		t.Fatalf("ConnectionConnected: %v", err)
	}
	mt.enqueue(0, joinDatagram(2))
	if err := srv.Update(time.Time{}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if srv.Registry.Count() != 2 {
		t.Fatalf("expected 2 participants allocated, got %d", srv.Registry.Count())
	}

	if err := srv.ConnectionDisconnected(0); err != nil {
		t.Fatalf("ConnectionDisconnected: %v", err)
	}
	if srv.Registry.Count() != 0 {
		t.Fatalf("expected participants released on disconnect, got %d", srv.Registry.Count())
	}
}

func TestConnectionDisconnectedUnknownSlotReportsError(t *testing.T) {
	mt := newFakeTransport()
	srv := New(testConfig(), logging.NewTestLogger(), mt)
	if err := srv.ConnectionDisconnected(0); err == nil {
		t.Fatal("expected error disconnecting a slot that was never connected")
	}
}
