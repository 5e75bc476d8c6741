// Package limits provides centralized size limits for peer-to-peer file
// transfers. This ensures consistent validation across different components
// of the system.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MinChunkSize is the smallest chunk the sender will ever use (1 MiB).
	// Adaptive sizing never scales below this floor.
	MinChunkSize = 1 << 20

	// DefaultChunkSize is used for files up to TierSmall (4 MiB).
	DefaultChunkSize = 4 << 20

	// MaxChunkSize is the largest chunk the sender will ever use (128 MiB).
	// Adaptive sizing never scales above this cap.
	MaxChunkSize = 128 << 20

	// TierSmall is the file size above which 16 MiB chunks are used (100 MiB).
	TierSmall = 100 << 20

	// TierMedium is the file size above which 64 MiB chunks are used (1 GiB).
	TierMedium = 1 << 30

	// TierLarge is the file size above which 128 MiB chunks are used (10 GiB).
	TierLarge = 10 << 30

	// DefaultMaxFileSize is the default cap on a single transfer (16 GiB).
	// Receivers reject any transfer whose declared or cumulative size
	// exceeds the configured maximum.
	DefaultMaxFileSize = 16 << 30

	// MaxFrameHeaderLength is the largest leading buffer the dual-buffer
	// framing can carry. The length prefix is two bytes.
	MaxFrameHeaderLength = 65535

	// MaxCodeLength bounds the size of a rendezvous code before decoding.
	// This prevents memory exhaustion from untrusted input.
	MaxCodeLength = 16384
)

var (
	// ErrEmptyPayload indicates an empty payload was provided.
	ErrEmptyPayload = errors.New("empty payload")

	// ErrFileTooLarge indicates a transfer exceeds the configured maximum size.
	ErrFileTooLarge = errors.New("file too large")

	// ErrChunkTooLarge indicates a chunk exceeds the maximum allowed size.
	ErrChunkTooLarge = errors.New("chunk size exceeds maximum allowed")

	// ErrCodeTooLong indicates a rendezvous code exceeds MaxCodeLength.
	ErrCodeTooLong = errors.New("rendezvous code too long")
)

// ValidateFileSize validates a declared file size against the given maximum.
// A maximum of zero falls back to DefaultMaxFileSize.
// Returns an error with context including the actual and maximum sizes.
func ValidateFileSize(size, maxSize uint64) error {
	if maxSize == 0 {
		maxSize = DefaultMaxFileSize
	}
	if size > maxSize {
		return fmt.Errorf("%w: declared size %d exceeds limit %d", ErrFileTooLarge, size, maxSize)
	}
	return nil
}

// ValidateChunkSize validates a chunk size against the MinChunkSize and
// MaxChunkSize bounds.
func ValidateChunkSize(size int) error {
	if size < MinChunkSize || size > MaxChunkSize {
		return fmt.Errorf("%w: chunk size %d outside [%d, %d]", ErrChunkTooLarge, size, MinChunkSize, MaxChunkSize)
	}
	return nil
}

// ValidateCodeLength validates a rendezvous code length before decoding.
func ValidateCodeLength(code string) error {
	if len(code) == 0 {
		return ErrEmptyPayload
	}
	if len(code) > MaxCodeLength {
		return fmt.Errorf("%w: code length %d exceeds limit %d", ErrCodeTooLong, len(code), MaxCodeLength)
	}
	return nil
}
