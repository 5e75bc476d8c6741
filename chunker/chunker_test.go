package chunker

import (
	"bytes"
	"testing"

	"github.com/opd-ai/peerdrop/limits"
)

func TestOptimalChunkSizeTiers(t *testing.T) {
	const (
		mib = 1 << 20
		gib = 1 << 30
	)

	tests := []struct {
		name     string
		fileSize int64
		want     int
	}{
		{"zero", 0, 4 * mib},
		{"small file", 10 * mib, 4 * mib},
		{"exactly 100 MiB", 100 * mib, 4 * mib},
		{"just over 100 MiB", 100*mib + 1, 16 * mib},
		{"exactly 1 GiB", 1 * gib, 16 * mib},
		{"just over 1 GiB", 1*gib + 1, 64 * mib},
		{"exactly 10 GiB", 10 * gib, 64 * mib},
		{"just over 10 GiB", 10*gib + 1, 128 * mib},
		{"huge file", 100 * gib, 128 * mib},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OptimalChunkSize(tt.fileSize); got != tt.want {
				t.Errorf("OptimalChunkSize(%d) = %d, want %d", tt.fileSize, got, tt.want)
			}
		})
	}
}

func TestOptimalChunkSizeMonotonic(t *testing.T) {
	sizes := []int64{
		0, 1, 1 << 20, 50 << 20, 100 << 20, (100 << 20) + 1,
		500 << 20, 1 << 30, (1 << 30) + 1, 5 << 30, 10 << 30,
		(10 << 30) + 1, 100 << 30,
	}

	prev := 0
	for _, s := range sizes {
		got := OptimalChunkSize(s)
		if got < prev {
			t.Errorf("OptimalChunkSize(%d) = %d, smaller than previous %d", s, got, prev)
		}
		if got < limits.MinChunkSize || got > limits.MaxChunkSize {
			t.Errorf("OptimalChunkSize(%d) = %d outside chunk bounds", s, got)
		}
		prev = got
	}
}

func TestSplitterCoversInput(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 251)
	}

	s := Split(data, 64)

	if s.Count() != 16 {
		t.Errorf("Count() = %d, want 16", s.Count())
	}

	var reassembled []byte
	chunks := 0
	for {
		chunk, ok := s.Next()
		if !ok {
			break
		}
		if len(chunk) > 64 {
			t.Errorf("chunk %d has length %d, want <= 64", chunks, len(chunk))
		}
		reassembled = append(reassembled, chunk...)
		chunks++
	}

	if chunks != 16 {
		t.Errorf("produced %d chunks, want 16", chunks)
	}
	if !bytes.Equal(reassembled, data) {
		t.Error("reassembled chunks do not match input")
	}
}

func TestSplitterZeroCopy(t *testing.T) {
	data := []byte("abcdef")
	s := Split(data, 3)

	chunk, ok := s.Next()
	if !ok {
		t.Fatal("expected a chunk")
	}

	// The chunk must alias the input, not copy it.
	data[0] = 'z'
	if chunk[0] != 'z' {
		t.Error("chunk is a copy, expected a view over the input")
	}
}

func TestSplitterReset(t *testing.T) {
	data := []byte("0123456789")
	s := Split(data, 4)

	first, _ := s.Next()
	s.Next()
	s.Reset()
	again, ok := s.Next()

	if !ok {
		t.Fatal("expected a chunk after Reset")
	}
	if !bytes.Equal(first, again) {
		t.Errorf("after Reset got %q, want %q", again, first)
	}
}

func TestSplitterEmptyInput(t *testing.T) {
	s := Split(nil, 16)

	if s.Count() != 0 {
		t.Errorf("Count() = %d, want 0", s.Count())
	}
	if _, ok := s.Next(); ok {
		t.Error("Next() on empty input returned a chunk")
	}
}

func TestSplitterExactMultiple(t *testing.T) {
	s := Split(make([]byte, 128), 32)

	if s.Count() != 4 {
		t.Errorf("Count() = %d, want 4", s.Count())
	}

	total := 0
	for {
		chunk, ok := s.Next()
		if !ok {
			break
		}
		if len(chunk) != 32 {
			t.Errorf("chunk length %d, want 32", len(chunk))
		}
		total += len(chunk)
	}
	if total != 128 {
		t.Errorf("total %d, want 128", total)
	}
}

func TestSplitterBadChunkSize(t *testing.T) {
	s := Split(make([]byte, 10), 0)

	if s.ChunkSize() != limits.DefaultChunkSize {
		t.Errorf("ChunkSize() = %d, want default %d", s.ChunkSize(), limits.DefaultChunkSize)
	}
}
