package wire

import "testing"

func TestDecodeGameStepRoundTripsWaitingIDAndEntries(t *testing.T) {
	body := []byte{0x2A, 0x02,
		0x64, 0x02, 0x01, 0x03, 0xAA, 0xBB, 0xCC, 0x02, 0x01, 0xDD,
		0x65, 0x01, 0x01, 0x01, 0xEE,
	}
	step, err := DecodeGameStep(body)
	if err != nil {
		t.Fatalf("DecodeGameStep: %v", err)
	}
	if step.ClientWaitingForStepID != 0x2A {
		t.Fatalf("expected waiting id 0x2A, got %d", step.ClientWaitingForStepID)
	}
	if len(step.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(step.Entries))
	}
	first := step.Entries[0]
	if first.StepID != 0x64 || len(first.Runs) != 2 {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	if first.Runs[0].ParticipantID != 1 || len(first.Runs[0].StepBytes) != 3 {
		t.Fatalf("unexpected first run: %+v", first.Runs[0])
	}
	if first.Runs[1].ParticipantID != 2 || first.Runs[1].StepBytes[0] != 0xDD {
		t.Fatalf("unexpected second run: %+v", first.Runs[1])
	}
	second := step.Entries[1]
	if second.StepID != 0x65 || len(second.Runs) != 1 || second.Runs[0].StepBytes[0] != 0xEE {
		t.Fatalf("unexpected second entry: %+v", second)
	}
}

func TestDecodeGameStepRejectsLeftoverOctets(t *testing.T) {
	body := []byte{0x01, 0x01, 0x00, 0x00, 0xFF}
	if _, err := DecodeGameStep(body); err == nil {
		t.Fatal("expected leftover-octet error")
	}
}

func TestDecodeJoinGameRequest(t *testing.T) {
	body := []byte{0x02, 0x03, 'a', 'b', 'c'}
	req, err := DecodeJoinGameRequest(body)
	if err != nil {
		t.Fatalf("DecodeJoinGameRequest: %v", err)
	}
	if req.RequestedLocalPlayers != 2 || string(req.Metadata) != "abc" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestDecodeDownloadGameStateStatus(t *testing.T) {
	body := []byte{0x07, 0x96, 0x01}
	status, err := DecodeDownloadGameStateStatus(body)
	if err != nil {
		t.Fatalf("DecodeDownloadGameStateStatus: %v", err)
	}
	if status.ChannelID != 7 || status.ChunkAckBitmap != 150 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestEncodeStepRangesReplyRoundTripsViaDecodeCommand(t *testing.T) {
	reply := StepRangesReply{Ranges: []StepRange{
		{StartStepID: 100, CombinedStepBytes: [][]byte{{1, 2}, {3, 4, 5}}},
	}}
	datagram := EncodeStepRangesReply(reply)
	cmd, body, err := DecodeCommand(datagram)
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if cmd != CmdStepRangesReply {
		t.Fatalf("expected CmdStepRangesReply, got %v", cmd)
	}
	if body[0] != 1 {
		t.Fatalf("expected 1 range, got %d", body[0])
	}
}

func TestCombinedStepRoundTrips(t *testing.T) {
	runs := []ParticipantStepRun{
		{ParticipantID: 1, StepBytes: []byte{0x01, 0x02}},
		{ParticipantID: 5, StepBytes: []byte{0x03}},
	}
	encoded := EncodeCombinedStep(runs)
	decoded, err := DecodeCombinedStep(encoded)
	if err != nil {
		t.Fatalf("DecodeCombinedStep: %v", err)
	}
	if len(decoded) != 2 || decoded[0].ParticipantID != 1 || decoded[1].ParticipantID != 5 {
		t.Fatalf("unexpected round trip: %+v", decoded)
	}
	if decoded[1].StepBytes[0] != 0x03 {
		t.Fatalf("unexpected step bytes: %+v", decoded[1])
	}
}

func TestStepRangeEncodedSizeMatchesEncodedOutput(t *testing.T) {
	r := StepRange{StartStepID: 5, CombinedStepBytes: [][]byte{{1, 2, 3}}}
	reply := StepRangesReply{Ranges: []StepRange{r}}
	full := EncodeStepRangesReply(reply)
	header := 2 // command byte + range count byte
	if len(full)-header != r.EncodedSize() {
		t.Fatalf("EncodedSize() = %d, want %d", r.EncodedSize(), len(full)-header)
	}
}
