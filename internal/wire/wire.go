// Package wire implements the command codec: the datagram body format that
// begins with one command byte after the ordered-in header. Field widths
// are encoded with protowire varints and length-delimited byte runs so the
// core never needs generated message types, only the opaque
// clientWaitingForStepId and per-range counts the dispatcher and composer
// actually read.
package wire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"stepserver/internal/stepserr"
)

// Command identifies the first byte of a datagram body.
type Command byte

const (
	CmdGameStep                 Command = 0x01
	CmdJoinGameRequest          Command = 0x02
	CmdDownloadGameStateRequest Command = 0x03
	CmdDownloadGameStateStatus  Command = 0x04

	CmdStepRangesReply        Command = 0x11
	CmdJoinGameReply          Command = 0x12
	CmdDownloadGameStateReply Command = 0x13
)

func leftover(what string) error {
	return stepserr.New(stepserr.KindProtocol, stepserr.CodeLeftoverOctets, "%s: leftover unread octets", what)
}

func malformed(what string) error {
	return stepserr.New(stepserr.KindProtocol, stepserr.CodeUnknownCommand, "%s: malformed body", what)
}

// DecodeCommand reads the leading command byte and returns the remaining
// body, or an error if the datagram is empty.
func DecodeCommand(datagram []byte) (Command, []byte, error) {
	if len(datagram) < 1 {
		return 0, nil, malformed("command")
	}
	return Command(datagram[0]), datagram[1:], nil
}

// ParticipantStepRun carries one participant's predicted step bytes for a
// single tick.
type ParticipantStepRun struct {
	ParticipantID uint8
	StepBytes     []byte
}

// StepEntry is one tick's worth of predicted steps for every participant a
// connection locally owns. Clients resend a short trailing window of
// entries so a single lost datagram doesn't stall the ring.
type StepEntry struct {
	StepID uint32
	Runs   []ParticipantStepRun
}

// GameStep is the client-to-server predicted-input datagram body: the
// oldest authoritative step the client still needs, plus a contiguous
// window of its own predicted entries.
type GameStep struct {
	ClientWaitingForStepID uint32
	Entries                []StepEntry
}

// DecodeGameStep parses a GameStep body: waiting stepId (varint), entry
// count (u8), then per entry a stepId (varint), a run count (u8), and that
// many (participantId u8, length-delimited step bytes) pairs.
func DecodeGameStep(body []byte) (*GameStep, error) {
	waiting, n := protowire.ConsumeVarint(body)
	if n < 0 {
		return nil, malformed("game step waiting id")
	}
	body = body[n:]
	if len(body) < 1 {
		return nil, malformed("game step entry count")
	}
	entryCount := int(body[0])
	body = body[1:]

	entries := make([]StepEntry, 0, entryCount)
	for e := 0; e < entryCount; e++ {
		stepID, n := protowire.ConsumeVarint(body)
		if n < 0 {
			return nil, malformed("game step entry id")
		}
		body = body[n:]
		if len(body) < 1 {
			return nil, malformed("game step run count")
		}
		runCount := int(body[0])
		body = body[1:]

		runs := make([]ParticipantStepRun, 0, runCount)
		for i := 0; i < runCount; i++ {
			if len(body) < 1 {
				return nil, malformed("game step participant id")
			}
			participantID := body[0]
			body = body[1:]
			stepBytes, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return nil, malformed("game step bytes")
			}
			body = body[n:]
			runs = append(runs, ParticipantStepRun{ParticipantID: participantID, StepBytes: stepBytes})
		}
		entries = append(entries, StepEntry{StepID: uint32(stepID), Runs: runs})
	}
	if len(body) != 0 {
		return nil, leftover("game step")
	}
	return &GameStep{ClientWaitingForStepID: uint32(waiting), Entries: entries}, nil
}

// JoinGameRequest is the client-to-server join body.
type JoinGameRequest struct {
	RequestedLocalPlayers uint8
	Metadata              []byte
}

// DecodeJoinGameRequest parses a join request body.
func DecodeJoinGameRequest(body []byte) (*JoinGameRequest, error) {
	if len(body) < 1 {
		return nil, malformed("join request")
	}
	requested := body[0]
	body = body[1:]
	metadata, n := protowire.ConsumeBytes(body)
	if n < 0 {
		return nil, malformed("join request metadata")
	}
	body = body[n:]
	if len(body) != 0 {
		return nil, leftover("join request")
	}
	return &JoinGameRequest{RequestedLocalPlayers: requested, Metadata: metadata}, nil
}

// DownloadGameStateRequest is the client-to-server snapshot request body.
type DownloadGameStateRequest struct {
	ClientRequestID uint8
}

// DecodeDownloadGameStateRequest parses a download request body.
func DecodeDownloadGameStateRequest(body []byte) (*DownloadGameStateRequest, error) {
	if len(body) != 1 {
		return nil, malformed("download request")
	}
	return &DownloadGameStateRequest{ClientRequestID: body[0]}, nil
}

// DownloadGameStateStatus is the client's chunk-acknowledgement body for an
// in-flight blob-stream transfer.
type DownloadGameStateStatus struct {
	ChannelID      uint8
	ChunkAckBitmap uint64
}

// DecodeDownloadGameStateStatus parses a download-status body.
func DecodeDownloadGameStateStatus(body []byte) (*DownloadGameStateStatus, error) {
	if len(body) < 1 {
		return nil, malformed("download status")
	}
	channelID := body[0]
	body = body[1:]
	bitmap, n := protowire.ConsumeVarint(body)
	if n < 0 {
		return nil, malformed("download status bitmap")
	}
	body = body[n:]
	if len(body) != 0 {
		return nil, leftover("download status")
	}
	return &DownloadGameStateStatus{ChannelID: channelID, ChunkAckBitmap: bitmap}, nil
}

// EncodeCombinedStep packs a tick's participant runs into the opaque byte
// form stored in a step ring, in the order given (the composer passes
// them in ascending participant id): run count (u8), then per run
// (participantId u8, length-delimited bytes).
// Connections use this for their own locally-owned participants; the
// authoritative ring uses it across every joined participant.
func EncodeCombinedStep(runs []ParticipantStepRun) []byte {
	buf := make([]byte, 0, 1+len(runs)*2)
	buf = append(buf, byte(len(runs)))
	for _, run := range runs {
		buf = append(buf, run.ParticipantID)
		buf = protowire.AppendBytes(buf, run.StepBytes)
	}
	return buf
}

// DecodeCombinedStep is the inverse of EncodeCombinedStep.
func DecodeCombinedStep(combined []byte) ([]ParticipantStepRun, error) {
	if len(combined) < 1 {
		return nil, malformed("combined step")
	}
	count := int(combined[0])
	body := combined[1:]
	runs := make([]ParticipantStepRun, 0, count)
	for i := 0; i < count; i++ {
		if len(body) < 1 {
			return nil, malformed("combined step participant id")
		}
		participantID := body[0]
		body = body[1:]
		stepBytes, n := protowire.ConsumeBytes(body)
		if n < 0 {
			return nil, malformed("combined step bytes")
		}
		body = body[n:]
		runs = append(runs, ParticipantStepRun{ParticipantID: participantID, StepBytes: stepBytes})
	}
	if len(body) != 0 {
		return nil, leftover("combined step")
	}
	return runs, nil
}

// StepRange is one contiguous run of combined steps, the unit the
// StepRanges reply packs until its octet budget is exhausted.
type StepRange struct {
	StartStepID       uint32
	CombinedStepBytes [][]byte
}

// StepRangesReply is the server-to-client authoritative-step-range reply.
type StepRangesReply struct {
	Ranges []StepRange
}

// EncodedSize reports the octets a single range would contribute to a
// StepRanges reply, letting the sender decide whether it still fits the
// outbound datagram budget before committing to pack it.
func (r StepRange) EncodedSize() int {
	size := protowire.SizeVarint(uint64(r.StartStepID)) + 1
	for _, b := range r.CombinedStepBytes {
		size += protowire.SizeBytes(len(b))
	}
	return size
}

// EncodeStepRangesReply frames the reply body: command byte, range count
// (u8), then per range (startStepId varint, step count u8, length-delimited
// combined-step bytes)*.
func EncodeStepRangesReply(reply StepRangesReply) []byte {
	buf := []byte{byte(CmdStepRangesReply), byte(len(reply.Ranges))}
	for _, r := range reply.Ranges {
		buf = protowire.AppendVarint(buf, uint64(r.StartStepID))
		buf = append(buf, byte(len(r.CombinedStepBytes)))
		for _, stepBytes := range r.CombinedStepBytes {
			buf = protowire.AppendBytes(buf, stepBytes)
		}
	}
	return buf
}

// JoinGameReply is the server-to-client reply to a successful join.
type JoinGameReply struct {
	ParticipantIDs []uint8
}

// EncodeJoinGameReply frames the join reply body.
func EncodeJoinGameReply(reply JoinGameReply) []byte {
	buf := make([]byte, 0, 2+len(reply.ParticipantIDs))
	buf = append(buf, byte(CmdJoinGameReply), byte(len(reply.ParticipantIDs)))
	buf = append(buf, reply.ParticipantIDs...)
	return buf
}

// DownloadGameStateReply tells the client which blob-stream channel its
// snapshot transfer will arrive on, anchored at stepID.
type DownloadGameStateReply struct {
	ChannelID uint8
	StepID    uint32
}

// EncodeDownloadGameStateReply frames the download-accepted reply body.
func EncodeDownloadGameStateReply(reply DownloadGameStateReply) []byte {
	buf := []byte{byte(CmdDownloadGameStateReply), reply.ChannelID}
	return protowire.AppendVarint(buf, uint64(reply.StepID))
}
