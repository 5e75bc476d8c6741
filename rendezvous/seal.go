package rendezvous

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"
)

// Negotiation blobs exchanged through the rendezvous point are sealed with
// the rotating session key so a stale or third-party blob cannot bootstrap
// a channel. The session key is the PSK of an NNpsk0 handshake; the sealed
// blob is the first handshake message with the blob as encrypted payload.

// ErrSealFailed indicates a blob could not be sealed.
var ErrSealFailed = errors.New("sealing negotiation blob failed")

// ErrOpenFailed indicates a sealed blob could not be opened, usually
// because the session key has rotated since it was produced.
var ErrOpenFailed = errors.New("opening negotiation blob failed")

var sealSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherAESGCM, noise.HashSHA256)

var sealPrologue = []byte("peerdrop rendezvous v1")

func sealHandshake(sessionKey []byte, initiator bool) (*noise.HandshakeState, error) {
	if len(sessionKey) != 32 {
		return nil, fmt.Errorf("session key must be 32 bytes, got %d", len(sessionKey))
	}

	return noise.NewHandshakeState(noise.Config{
		CipherSuite:           sealSuite,
		Random:                rand.Reader,
		Pattern:               noise.HandshakeNN,
		Initiator:             initiator,
		Prologue:              sealPrologue,
		PresharedKey:          sessionKey,
		PresharedKeyPlacement: 0,
	})
}

// Seal encrypts a negotiation blob under the session key.
func Seal(sessionKey, blob []byte) ([]byte, error) {
	hs, err := sealHandshake(sessionKey, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealFailed, err)
	}

	sealed, _, _, err := hs.WriteMessage(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealFailed, err)
	}

	return sealed, nil
}

// Open decrypts a blob sealed with the same session key.
func Open(sessionKey, sealed []byte) ([]byte, error) {
	hs, err := sealHandshake(sessionKey, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	blob, _, _, err := hs.ReadMessage(nil, sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	return blob, nil
}
