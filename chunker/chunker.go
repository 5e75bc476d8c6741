package chunker

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerdrop/limits"
)

// OptimalChunkSize returns the chunk size for a file of the given size.
// The tiers are deterministic: files over 10 GiB use 128 MiB chunks, over
// 1 GiB use 64 MiB, over 100 MiB use 16 MiB, and everything else uses 4 MiB.
// The result is monotonically non-decreasing in fileSize.
func OptimalChunkSize(fileSize int64) int {
	switch {
	case fileSize > limits.TierLarge:
		return limits.MaxChunkSize
	case fileSize > limits.TierMedium:
		return 64 << 20
	case fileSize > limits.TierSmall:
		return 16 << 20
	default:
		return limits.DefaultChunkSize
	}
}

// Splitter produces successive byte-range views over a buffer.
// Each view is at most the configured chunk size and the views cover the
// buffer exactly once in order. The views alias the underlying buffer;
// callers must not modify them.
type Splitter struct {
	data      []byte
	chunkSize int
	pos       int
}

// Split creates a Splitter over data with the given chunk size.
// A non-positive chunk size falls back to limits.DefaultChunkSize.
func Split(data []byte, chunkSize int) *Splitter {
	if chunkSize <= 0 {
		logrus.WithFields(logrus.Fields{
			"function":   "Split",
			"chunk_size": chunkSize,
			"fallback":   limits.DefaultChunkSize,
		}).Warn("Non-positive chunk size, using default")
		chunkSize = limits.DefaultChunkSize
	}

	return &Splitter{
		data:      data,
		chunkSize: chunkSize,
	}
}

// Next returns the next chunk and true, or nil and false when the buffer
// is exhausted. An empty input buffer yields no chunks.
func (s *Splitter) Next() ([]byte, bool) {
	if s.pos >= len(s.data) {
		return nil, false
	}

	end := s.pos + s.chunkSize
	if end > len(s.data) {
		end = len(s.data)
	}

	chunk := s.data[s.pos:end]
	s.pos = end
	return chunk, true
}

// Reset restarts the splitter from the beginning of the buffer.
func (s *Splitter) Reset() {
	s.pos = 0
}

// Count returns the total number of chunks the splitter will produce.
func (s *Splitter) Count() int {
	if len(s.data) == 0 {
		return 0
	}
	return (len(s.data) + s.chunkSize - 1) / s.chunkSize
}

// ChunkSize returns the configured chunk size.
func (s *Splitter) ChunkSize() int {
	return s.chunkSize
}
