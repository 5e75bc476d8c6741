package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Envelope layout: [12-byte IV][AES-256-GCM ciphertext].
//
// Plaintexts larger than the segment size are encrypted as fixed-size
// segments concatenated after the single header IV. Each segment is sealed
// under its own nonce, derived from the header IV and the segment index
// with HKDF-SHA256, so no nonce is ever reused under a key.

const (
	// KeySize is the AES-256 key size in bytes.
	KeySize = 32

	// NonceSize is the GCM nonce size carried at the head of an envelope.
	NonceSize = 12

	// gcmOverhead is the GCM authentication tag size appended per segment.
	gcmOverhead = 16

	// DefaultSegmentSize is the plaintext size above which envelopes are
	// encrypted in independent segments (64 MiB).
	DefaultSegmentSize = 64 << 20
)

var (
	// ErrKeyGeneration indicates key material could not be generated.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrKeyImport indicates key material could not be imported or exported.
	ErrKeyImport = errors.New("key import failed")

	// ErrInvalidKeySize indicates a symmetric key of the wrong length.
	ErrInvalidKeySize = errors.New("invalid symmetric key size")

	// ErrEnvelopeTooShort indicates a truncated envelope.
	ErrEnvelopeTooShort = errors.New("envelope too short")

	// ErrDecryptFailed indicates authentication failure or corrupted ciphertext.
	ErrDecryptFailed = errors.New("decryption failed")
)

// GenerateSymmetricKey creates a fresh 256-bit AES-GCM key.
func GenerateSymmetricKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return key, nil
}

// EnvelopeSize returns the exact envelope length for a plaintext of the
// given length at the given segment size. Receivers use it to check a
// ciphertext's size against the plaintext length it claims to carry before
// buffering it.
func EnvelopeSize(plainLen, segmentSize int) int {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}

	segments := (plainLen + segmentSize - 1) / segmentSize
	if segments == 0 {
		// An empty plaintext still seals one empty segment.
		segments = 1
	}
	return NonceSize + plainLen + segments*gcmOverhead
}

// segmentNonce derives the nonce for one segment from the envelope IV and
// the segment index.
func segmentNonce(iv []byte, index uint32) ([]byte, error) {
	salt := make([]byte, 4)
	binary.BigEndian.PutUint32(salt, index)

	nonce := make([]byte, NonceSize)
	r := hkdf.New(sha256.New, iv, salt, []byte("peerdrop segment nonce v1"))
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce derivation: %v", ErrDecryptFailed, err)
	}
	return nonce, nil
}

// Encrypt envelopes plaintext under the given key using the default
// segment size.
func (m *Manager) Encrypt(key, plaintext []byte) ([]byte, error) {
	return m.EncryptSegmented(key, plaintext, DefaultSegmentSize)
}

// EncryptSegmented envelopes plaintext with an explicit segment size.
// The segment size is part of the wire agreement: decryption must use the
// same value.
func (m *Manager) EncryptSegmented(key, plaintext []byte, segmentSize int) ([]byte, error) {
	aead, err := m.aeadFor(key)
	if err != nil {
		return nil, err
	}
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}

	iv := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+gcmOverhead)
	copy(out, iv)

	for index, pos := uint32(0), 0; ; index++ {
		end := pos + segmentSize
		if end > len(plaintext) {
			end = len(plaintext)
		}

		nonce, err := segmentNonce(iv, index)
		if err != nil {
			return nil, err
		}
		out = aead.Seal(out, nonce, plaintext[pos:end], nil)

		pos = end
		if pos >= len(plaintext) {
			break
		}
	}

	return out, nil
}

// Decrypt reads the leading IV and decrypts the remainder of an envelope
// produced with the default segment size.
func (m *Manager) Decrypt(key, envelope []byte) ([]byte, error) {
	return m.DecryptSegmented(key, envelope, DefaultSegmentSize)
}

// DecryptSegmented decrypts an envelope produced by EncryptSegmented with
// the same segment size.
func (m *Manager) DecryptSegmented(key, envelope []byte, segmentSize int) ([]byte, error) {
	aead, err := m.aeadFor(key)
	if err != nil {
		return nil, err
	}
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}

	if len(envelope) < NonceSize+gcmOverhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrEnvelopeTooShort, len(envelope))
	}

	iv := envelope[:NonceSize]
	rest := envelope[NonceSize:]
	segmentCipherLen := segmentSize + gcmOverhead

	out := make([]byte, 0, len(rest))
	for index := uint32(0); len(rest) > 0; index++ {
		end := segmentCipherLen
		if end > len(rest) {
			end = len(rest)
		}
		if end < gcmOverhead {
			return nil, fmt.Errorf("%w: trailing segment %d bytes", ErrEnvelopeTooShort, end)
		}

		nonce, err := segmentNonce(iv, index)
		if err != nil {
			return nil, err
		}

		out, err = aead.Open(out, nonce, rest[:end], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %d: %v", ErrDecryptFailed, index, err)
		}
		rest = rest[end:]
	}

	return out, nil
}

// newAEAD imports raw key bytes into an AES-256-GCM cipher handle.
func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyImport, err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyImport, err)
	}

	return aead, nil
}
