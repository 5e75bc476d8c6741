package rendezvous

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestCodeRoundTrip(t *testing.T) {
	sealed := []byte("sealed-signal-bytes")
	der := []byte{0x30, 0x82, 0x01, 0x22}

	original := NewCode(sealed, "stun:stun.l.google.com:19302", 16<<20, der, true)

	encoded, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	gotSealed, err := decoded.SealedSignal()
	if err != nil {
		t.Fatalf("SealedSignal failed: %v", err)
	}
	if !bytes.Equal(gotSealed, sealed) {
		t.Error("sealed signal mismatch")
	}

	gotDER, err := decoded.PublicKeyDER()
	if err != nil {
		t.Fatalf("PublicKeyDER failed: %v", err)
	}
	if !bytes.Equal(gotDER, der) {
		t.Error("public key mismatch")
	}

	size, err := decoded.ChunkSizeBytes()
	if err != nil {
		t.Fatalf("ChunkSizeBytes failed: %v", err)
	}
	if size != 16<<20 {
		t.Errorf("chunk size %d, want %d", size, 16<<20)
	}

	if decoded.ICEServer != "stun:stun.l.google.com:19302" {
		t.Errorf("ICE server %q", decoded.ICEServer)
	}
	if !decoded.HighSpeedEnabled() {
		t.Error("high speed flag lost")
	}
}

func TestDecodeInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"empty", ""},
		{"not base64", "!!!not-base64!!!"},
		{"base64 but not json", base64.RawURLEncoding.EncodeToString([]byte("hello"))},
		{"oversized", strings.Repeat("A", 20000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.code); !errors.Is(err, ErrInvalidCode) {
				t.Errorf("Decode(%q...) = %v, want ErrInvalidCode", truncate(tt.code, 12), err)
			}
		})
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func TestDecodeAcceptsPaddedBase64(t *testing.T) {
	encoded, err := Encode(NewCode([]byte("blob"), "", 0, nil, false))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode own output: %v", err)
	}
	padded := base64.URLEncoding.EncodeToString(raw)

	if _, err := Decode(padded); err != nil {
		t.Errorf("Decode of padded form failed: %v", err)
	}
}

func TestChunkSizeBytesInvalid(t *testing.T) {
	for _, raw := range []string{"abc", "-5", "1.5"} {
		c := Code{ChunkSize: raw}
		if _, err := c.ChunkSizeBytes(); !errors.Is(err, ErrInvalidCode) {
			t.Errorf("ChunkSizeBytes(%q) = %v, want ErrInvalidCode", raw, err)
		}
	}

	c := Code{ChunkSize: ""}
	size, err := c.ChunkSizeBytes()
	if err != nil || size != 0 {
		t.Errorf("empty chunk size: got (%d, %v), want (0, nil)", size, err)
	}
}

func TestHighSpeedFlag(t *testing.T) {
	if (Code{HighSpeed: "0"}).HighSpeedEnabled() {
		t.Error("flag 0 reported enabled")
	}
	if !(Code{HighSpeed: "1"}).HighSpeedEnabled() {
		t.Error("flag 1 reported disabled")
	}
	if (Code{HighSpeed: "yes"}).HighSpeedEnabled() {
		t.Error("unknown flag value reported enabled")
	}
}
