// Package dispatch implements the request dispatcher (C8): ordered-in
// filtering, command decode, routing to the join/download/step handlers,
// and the single-reply framing policy — except for DownloadGameStateStatus,
// which may fan out into several blob-stream chunk sends and bypasses that
// framing entirely.
package dispatch

import (
	"stepserver/internal/blobstream"
	"stepserver/internal/composer"
	"stepserver/internal/game"
	"stepserver/internal/logging"
	"stepserver/internal/participant"
	"stepserver/internal/registry"
	"stepserver/internal/stepsender"
	"stepserver/internal/stepserr"
	"stepserver/internal/transport"
	"stepserver/internal/wire"
)

// Dispatcher wires every collaborator the request-handling path touches for
// one running game.
type Dispatcher struct {
	Game         *game.Game
	Participants *participant.Pool
	Registry     *registry.Registry
	Composer     *composer.Composer
	BlobAlloc    *blobstream.Allocator
	OutTransfers map[uint8]*blobstream.OutTransfer
	ChannelSlot  map[uint8]int

	// BlobShaper bounds blob-stream-out chunk throughput per connection
	// during snapshot catch-up, so one slow joiner cannot starve the
	// fixed per-tick drain budget other connections share. Nil disables
	// shaping.
	BlobShaper *transport.BandwidthShaper

	MaxParticipantCountForEachConnection int

	Logger *logging.Logger
}

// New constructs a Dispatcher over the given collaborators.
func New(g *game.Game, participants *participant.Pool, reg *registry.Registry, comp *composer.Composer, blobAlloc *blobstream.Allocator, maxLocalPlayers int, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		Game:         g,
		Participants: participants,
		Registry:     reg,
		Composer:     comp,
		BlobAlloc:    blobAlloc,
		OutTransfers: make(map[uint8]*blobstream.OutTransfer),
		ChannelSlot:  make(map[uint8]int),
		BlobShaper:   transport.NewBandwidthShaper(transport.DefaultBlobBandwidthBytesPerSecond, nil),

		MaxParticipantCountForEachConnection: maxLocalPlayers,
		Logger:                               logger,
	}
}

// Handle processes one inbound datagram for tc, sending replies through
// send. It returns a non-nil error only for External failures the
// top-level drain should react to; every internal/protocol failure is
// logged and absorbed here, matching the propagation policy.
func (d *Dispatcher) Handle(tc *transport.Connection, datagram []byte, send func([]byte) error) error {
	payload, accept, err := tc.OrderedIn.Receive(datagram)
	if err != nil {
		d.Logger.Warn("ordered-in rejected datagram", logging.Int("slot", tc.SlotIndex), logging.Error(err))
		return nil
	}
	if !accept {
		return nil
	}

	cmd, body, err := wire.DecodeCommand(payload)
	if err != nil {
		d.Logger.Warn("malformed command", logging.Int("slot", tc.SlotIndex), logging.Error(err))
		return nil
	}

	switch cmd {
	case wire.CmdDownloadGameStateStatus:
		return d.handleDownloadStatus(body, send)
	case wire.CmdGameStep:
		return d.handleGameStep(tc, body, send)
	case wire.CmdJoinGameRequest:
		return d.handleFramed(tc, func() ([]byte, error) { return d.handleJoin(tc, body) }, send)
	case wire.CmdDownloadGameStateRequest:
		return d.handleFramed(tc, func() ([]byte, error) { return d.handleDownloadRequest(tc, body) }, send)
	default:
		d.Logger.Warn("unknown command", logging.Int("slot", tc.SlotIndex))
		return nil
	}
}

// handleFramed runs a handler that returns a raw (unframed) reply body,
// then applies the generic single-reply policy: log and drop on error,
// otherwise commit ordered-out and send when the body is non-trivial.
func (d *Dispatcher) handleFramed(tc *transport.Connection, handler func() ([]byte, error), send func([]byte) error) error {
	reply, err := handler()
	if err != nil {
		d.Logger.Warn("handler error", logging.Int("slot", tc.SlotIndex), logging.Error(err))
		return nil
	}
	if len(reply) <= 2 {
		return nil
	}
	framed := tc.OrderedOut.Prepare(reply)
	tc.OrderedOut.Commit()
	if err := send(framed); err != nil {
		if stepserr.IsExternal(err) {
			return err
		}
		d.Logger.Warn("send failed", logging.Int("slot", tc.SlotIndex), logging.Error(err))
	}
	return nil
}

func (d *Dispatcher) handleJoin(tc *transport.Connection, body []byte) ([]byte, error) {
	req, err := wire.DecodeJoinGameRequest(body)
	if err != nil {
		return nil, err
	}
	requested := int(req.RequestedLocalPlayers)
	if requested == 0 {
		requested = 1
	}
	if requested > d.MaxParticipantCountForEachConnection {
		return nil, stepserr.New(stepserr.KindState, stepserr.CodeTooManyLocal,
			"requested %d local players exceeds cap %d", requested, d.MaxParticipantCountForEachConnection)
	}

	conn := d.Participants.Acquire(tc.SlotIndex, d.Game.AuthoritativeSteps.ExpectedWriteID(), d.MaxParticipantCountForEachConnection)
	if conn == nil {
		return nil, stepserr.New(stepserr.KindState, stepserr.CodeJoinWhileFull, "no free participant-connection slots")
	}

	ids := make([]uint8, 0, requested)
	for i := 0; i < requested; i++ {
		id, err := d.Registry.Allocate()
		if err != nil {
			for _, allocated := range ids {
				d.Registry.Release(allocated)
				d.Game.RemoveParticipant(allocated)
			}
			d.Participants.Release(conn)
			return nil, err
		}
		conn.AddParticipant(id)
		d.Game.AddParticipant(id, i, conn.ID)
		ids = append(ids, id)
	}
	tc.Phase = transport.PhaseInitialStateDetermined
	return wire.EncodeJoinGameReply(wire.JoinGameReply{ParticipantIDs: ids}), nil
}

func (d *Dispatcher) handleDownloadRequest(tc *transport.Connection, body []byte) ([]byte, error) {
	req, err := wire.DecodeDownloadGameStateRequest(body)
	if err != nil {
		return nil, err
	}
	channelID, err := d.BlobAlloc.Acquire()
	if err != nil {
		return nil, err
	}
	snapshot := d.Game.Latest
	out, err := blobstream.NewOutTransfer(channelID, snapshot.Bytes)
	if err != nil {
		d.BlobAlloc.Release(channelID)
		return nil, err
	}
	d.OutTransfers[channelID] = out
	d.ChannelSlot[channelID] = tc.SlotIndex
	tc.BlobStreamOutChannelID = int(channelID)
	tc.BlobStreamOutRequestID = int(req.ClientRequestID)
	return wire.EncodeDownloadGameStateReply(wire.DownloadGameStateReply{
		ChannelID: channelID,
		StepID:    uint32(snapshot.StepID),
	}), nil
}

func (d *Dispatcher) handleDownloadStatus(body []byte, send func([]byte) error) error {
	status, err := wire.DecodeDownloadGameStateStatus(body)
	if err != nil {
		d.Logger.Warn("malformed download status", logging.Error(err))
		return nil
	}
	out, ok := d.OutTransfers[status.ChannelID]
	if !ok {
		return nil
	}
	if out.Done(status.ChunkAckBitmap) {
		delete(d.OutTransfers, status.ChannelID)
		delete(d.ChannelSlot, status.ChannelID)
		d.BlobAlloc.Release(status.ChannelID)
		return nil
	}
	slotIndex := d.ChannelSlot[status.ChannelID]
	for _, chunk := range out.PendingChunks(status.ChunkAckBitmap) {
		if !d.BlobShaper.Allow(slotIndex, len(chunk)) {
			break
		}
		if err := send(chunk); err != nil {
			if stepserr.IsExternal(err) {
				return err
			}
			d.Logger.Warn("blob chunk send failed", logging.Error(err))
			return nil
		}
	}
	return nil
}

func (d *Dispatcher) handleGameStep(tc *transport.Connection, body []byte, send func([]byte) error) error {
	req, err := wire.DecodeGameStep(body)
	if err != nil {
		d.Logger.Warn("malformed game step", logging.Int("slot", tc.SlotIndex), logging.Error(err))
		return nil
	}

	conn := d.Participants.ByTransportConnectionID(tc.SlotIndex)
	if conn == nil {
		d.Logger.Warn("game step for unjoined slot", logging.Int("slot", tc.SlotIndex))
		return nil
	}

	d.Composer.TrimBackpressure()
	clientWaiting, err := d.Composer.Ingest(conn, req)
	if err != nil {
		d.Logger.Warn("ingest error", logging.Int("slot", tc.SlotIndex), logging.Error(err))
		return nil
	}
	if err := d.Composer.ComposeAvailable(); err != nil {
		d.Logger.Warn("compose error", logging.Int("slot", tc.SlotIndex), logging.Error(err))
	}

	result := stepsender.Pack(d.Game.AuthoritativeSteps, tc.OrderedOut, clientWaiting, tc.NextAuthoritativeStepIdToSend)
	tc.NextAuthoritativeStepIdToSend = result.NextAuthoritativeStepIdToSend
	if result.FellOffRing || result.NoRangesToSend || result.Datagram == nil {
		return nil
	}
	if err := send(result.Datagram); err != nil {
		if stepserr.IsExternal(err) {
			return err
		}
		d.Logger.Warn("send failed", logging.Int("slot", tc.SlotIndex), logging.Error(err))
	}
	return nil
}
