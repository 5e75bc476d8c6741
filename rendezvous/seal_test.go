package rendezvous

import (
	"bytes"
	"errors"
	"testing"

	"github.com/opd-ai/peerdrop/crypto"
)

func sealTestKey(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.GenerateSymmetricKey()
	if err != nil {
		t.Fatalf("GenerateSymmetricKey failed: %v", err)
	}
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := sealTestKey(t)
	blob := []byte(`{"type":"offer","sdp":"v=0..."}`)

	sealed, err := Seal(key, blob)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Contains(sealed, blob) {
		t.Error("sealed blob contains the plaintext")
	}

	opened, err := Open(key, sealed)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, blob) {
		t.Error("opened blob does not match original")
	}
}

func TestOpenWithRotatedKey(t *testing.T) {
	sealed, err := Seal(sealTestKey(t), []byte("blob"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if _, err := Open(sealTestKey(t), sealed); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("got %v, want ErrOpenFailed", err)
	}
}

func TestOpenTamperedBlob(t *testing.T) {
	key := sealTestKey(t)
	sealed, err := Seal(key, []byte("blob"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	sealed[len(sealed)-1] ^= 0x01

	if _, err := Open(key, sealed); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("got %v, want ErrOpenFailed", err)
	}
}

func TestSealRejectsShortKey(t *testing.T) {
	if _, err := Seal([]byte("short"), []byte("blob")); !errors.Is(err, ErrSealFailed) {
		t.Errorf("got %v, want ErrSealFailed", err)
	}
	if _, err := Open([]byte("short"), []byte("blob")); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("got %v, want ErrOpenFailed", err)
	}
}
