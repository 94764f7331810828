package audio

import (
	"testing"
	"time"
)

func TestEncodingInfoOffsets(t *testing.T) {
	info := DefaultEncodingInfo()

	if got := info.ByteOffset(500 * time.Millisecond); got != 16000 {
		t.Fatalf("expected 16000 bytes for half a second, got %d", got)
	}
	if got := info.Duration(32000); got != time.Second {
		t.Fatalf("expected one second for 32000 bytes, got %s", got)
	}

	mulaw := EncodingInfo{SampleRate: 8000, Format: EncodingMulaw}
	if got := mulaw.ByteOffset(time.Second); got != 8000 {
		t.Fatalf("expected 8000 bytes for mulaw, got %d", got)
	}
	if mulaw.SilenceValue() != 0xFF {
		t.Fatalf("unexpected mulaw silence value %#x", mulaw.SilenceValue())
	}
}

func TestEncodingInfoIsZero(t *testing.T) {
	if !(EncodingInfo{}).IsZero() {
		t.Fatalf("expected empty encoding info to be zero")
	}
	if DefaultEncodingInfo().IsZero() {
		t.Fatalf("expected default encoding info not to be zero")
	}
}
