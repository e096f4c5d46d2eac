// Package server assembles the top-level Server aggregate: every piece of
// mutable state (game, participants, connections) is reachable only through
// it, so there are no hidden globals. It owns the per-tick drain loop that
// pulls queued datagrams off the transport and routes them through the
// dispatcher.
package server

import (
	"time"

	"stepserver/internal/blobstream"
	"stepserver/internal/composer"
	"stepserver/internal/config"
	"stepserver/internal/dispatch"
	"stepserver/internal/game"
	"stepserver/internal/logging"
	"stepserver/internal/participant"
	"stepserver/internal/registry"
	"stepserver/internal/stepring"
	"stepserver/internal/stepserr"
	"stepserver/internal/transport"
)

// WindowSize is the step ring capacity collaborator constant: how many
// ticks the authoritative stream and every per-connection incoming ring
// can hold. A full ring rejects further appends; the composer trims the
// authoritative ring back to WindowSize/3 before each ingest.
const WindowSize = 256

// DrainBatch is the maximum number of inbound datagrams processed per
// Update call, bounding how much work a single tick can do regardless of
// how much is queued.
const DrainBatch = 32

// MaxBlobChannels bounds concurrent snapshot transfers across all
// connections, independent of the connection limit. Each download request
// holds its own channel until its transfer is fully acknowledged.
const MaxBlobChannels = 64

// Server is the single owner of one running game's state.
type Server struct {
	cfg    *config.Config
	logger *logging.Logger

	Game         *game.Game
	Participants *participant.Pool
	Registry     *registry.Registry
	BlobAlloc    *blobstream.Allocator
	Composer     *composer.Composer
	Dispatcher   *dispatch.Dispatcher
	Transports   *transport.Pool

	MultiTransport transport.MultiTransport
}

// New constructs a Server from cfg, wiring every collaborator package
// together over one Game instance.
func New(cfg *config.Config, logger *logging.Logger, mt transport.MultiTransport) *Server {
	s := &Server{cfg: cfg, logger: logger, MultiTransport: mt}
	s.init()
	return s
}

func (s *Server) init() {
	s.Game = game.New(WindowSize, s.cfg.MaxSingleParticipantStepOctetCount, s.cfg.MaxGameStateOctetCount)
	s.Participants = participant.NewPool(s.cfg.MaxConnectionCount, WindowSize)
	s.Registry = registry.New(s.cfg.MaxParticipantCount)
	s.BlobAlloc = blobstream.NewAllocator(MaxBlobChannels)
	s.Composer = composer.New(s.Game, s.Participants)
	s.Dispatcher = dispatch.New(s.Game, s.Participants, s.Registry, s.Composer, s.BlobAlloc, s.cfg.MaxParticipantCountForEachConnection, s.logger)
	s.Transports = transport.NewPool(s.cfg.MaxConnectionCount)
}

// SetGameState replaces the stored snapshot, the zero-point any new joiner
// bootstraps from.
func (s *Server) SetGameState(bytes []byte, stepID stepring.StepId) error {
	return s.Game.SetGameState(bytes, stepID)
}

// MustProvideGameState reports whether the host application should push a
// fresh snapshot rather than let joiners replay an excessively long history.
func (s *Server) MustProvideGameState() bool {
	return s.Game.MustProvideGameState()
}

// ReInitWithGame resets the server to a fresh-init-equivalent state seeded
// with the given snapshot, dropping every joined participant.
func (s *Server) ReInitWithGame(bytes []byte, stepID stepring.StepId) error {
	if err := s.Game.ReInitWithGame(bytes, stepID); err != nil {
		return err
	}
	s.init()
	return s.Game.ReInitWithGame(bytes, stepID)
}

// ConnectionConnected claims slotIndex for a newly arrived transport peer.
func (s *Server) ConnectionConnected(slotIndex int) (*transport.Connection, error) {
	return s.Transports.Connect(slotIndex)
}

// ConnectionDisconnected releases slotIndex, and with it every participant
// and participant-connection slot that peer owned. Disconnect is never an
// error to observers; the returned error only reports a misused transport
// index (unknown or already-freed).
func (s *Server) ConnectionDisconnected(slotIndex int) error {
	if conn := s.Participants.ByTransportConnectionID(slotIndex); conn != nil {
		for _, participantID := range append([]uint8(nil), conn.ParticipantRefs...) {
			s.Game.RemoveParticipant(participantID)
			s.Registry.Release(participantID)
		}
		s.Participants.Release(conn)
	}
	return s.Transports.Disconnect(slotIndex)
}

// Update drains up to DrainBatch queued inbound datagrams, dispatching each
// to its transport slot. Slots are created lazily on a previously-unused
// slot's first datagram. It returns only on an External transport failure;
// internal/protocol errors are absorbed by the dispatcher.
func (s *Server) Update(now time.Time) error {
	_ = now
	for i := 0; i < DrainBatch; i++ {
		slotIndex, datagram, ok, err := s.MultiTransport.ReceiveFrom()
		if err != nil {
			if stepserr.IsExternal(err) {
				return err
			}
			s.logger.Warn("receive error", logging.Error(err))
			continue
		}
		if !ok {
			break
		}

		tc, found := s.Transports.Get(slotIndex)
		if !found {
			continue
		}
		if !tc.InUse {
			var connErr error
			tc, connErr = s.Transports.Connect(slotIndex)
			if connErr != nil {
				s.logger.Warn("implicit connect failed", logging.Int("slot", slotIndex), logging.Error(connErr))
				continue
			}
		}

		send := func(payload []byte) error { return s.MultiTransport.SendTo(slotIndex, payload) }
		if err := s.Dispatcher.Handle(tc, datagram, send); err != nil {
			if stepserr.IsExternal(err) {
				return err
			}
		}
	}
	return nil
}

// Diagnostics is the aggregate operational snapshot served over both the
// HTTP /api/stats endpoint and the admin gRPC side-channel.
type Diagnostics struct {
	Connections         int
	Participants        int
	AuthoritativeStepID uint32
	UnresponsiveCount   int
}

// Stats reports the current diagnostic snapshot.
func (s *Server) Stats() Diagnostics {
	unresponsive := 0
	connections := 0
	s.Participants.ForEachActive(func(c *participant.Connection) {
		connections++
		if c.Unresponsive {
			unresponsive++
		}
	})
	return Diagnostics{
		Connections:         connections,
		Participants:        len(s.Game.ActiveParticipantIDsSorted()),
		AuthoritativeStepID: uint32(s.Game.AuthoritativeSteps.ExpectedWriteID()),
		UnresponsiveCount:   unresponsive,
	}
}

// Healthy reports whether the server is ready to serve traffic: it is from
// construction until Destroy, since init has no external dependencies that
// could fail after construction succeeds.
func (s *Server) Healthy() (bool, string) {
	if s.Game == nil {
		return false, "server destroyed"
	}
	return true, ""
}

// Reset tears down every joined participant and connection, reinitializing
// the server to the equivalent of a fresh construction with the same
// configuration.
func (s *Server) Reset() {
	s.init()
}

// Destroy releases the server's collaborators. After Destroy the Server
// must not be used again.
func (s *Server) Destroy() {
	s.Game = nil
	s.Participants = nil
	s.Registry = nil
	s.BlobAlloc = nil
	s.Composer = nil
	s.Dispatcher = nil
	s.Transports = nil
}
