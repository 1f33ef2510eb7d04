package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte{0x05, 0x01, 0x02, 0x03}

	msg, err := EncodeFrame(0x13, payload)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	if len(msg) != MessageLengthMin+len(payload) || msg[0] != uint8(len(msg)) {
		t.Fatalf("Unexpected length byte %d for %d byte block", msg[0], len(msg))
	}
	if msg[len(msg)-1] != MessageValueSync {
		t.Errorf("Expected trailing sync byte, got 0x%02X", msg[len(msg)-1])
	}

	// leading sync bytes are skipped, trailing data is left alone
	stream := append([]byte{MessageValueSync, MessageValueSync}, msg...)
	stream = append(stream, 0x09)

	parsed, used, err := ParseFrame(stream)
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	if used != len(msg)+2 {
		t.Errorf("Expected %d bytes consumed, got %d", len(msg)+2, used)
	}
	if parsed.Sequence != 0x13 || !bytes.Equal(parsed.Payload, payload) {
		t.Errorf("Parsed seq 0x%02X payload % X", parsed.Sequence, parsed.Payload)
	}
}

func TestFrameTooLong(t *testing.T) {
	if _, err := EncodeFrame(MessageDest, make([]byte, MessagePayloadMax+1)); err == nil {
		t.Error("Expected error for oversized payload")
	}
	if _, err := EncodeFrame(MessageDest, make([]byte, MessagePayloadMax)); err != nil {
		t.Errorf("Expected maximum payload to fit, got %v", err)
	}
}

func TestParseFrameIncomplete(t *testing.T) {
	msg, _ := EncodeFrame(MessageDest, []byte{1, 2, 3})

	for n := 0; n < len(msg); n++ {
		if _, _, err := ParseFrame(msg[:n]); !errors.Is(err, ErrNeedMore) {
			t.Errorf("Prefix of %d bytes: expected ErrNeedMore, got %v", n, err)
		}
	}
}

func TestParseFrameCorrupt(t *testing.T) {
	msg, _ := EncodeFrame(MessageDest, []byte{1, 2, 3})
	msg[3] ^= 0xFF

	if _, _, err := ParseFrame(msg); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("Expected ErrBadFrame for CRC mismatch, got %v", err)
	}
	if n := Resync([]byte{0x01, 0x02, MessageValueSync, 0x04}); n != 3 {
		t.Errorf("Expected resync past the sync byte (3), got %d", n)
	}
	if n := Resync([]byte{0x01, 0x02}); n != 2 {
		t.Errorf("Expected everything dropped without a sync byte, got %d", n)
	}
}

func TestNextSequence(t *testing.T) {
	if got := NextSequence(0x10); got != 0x11 {
		t.Errorf("Expected 0x11, got 0x%02X", got)
	}
	if got := NextSequence(0x1F); got != 0x10 {
		t.Errorf("Expected wrap to 0x10, got 0x%02X", got)
	}
}
