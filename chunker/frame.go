package chunker

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/peerdrop/limits"
)

// ErrFrameTooShort indicates a frame smaller than its declared contents.
var ErrFrameTooShort = errors.New("frame shorter than declared length")

// ErrHeaderTooLong indicates the leading buffer exceeds the two-byte length prefix.
var ErrHeaderTooLong = errors.New("leading buffer exceeds length prefix capacity")

// headerWireSize is the fixed encoded size of a FrameHeader:
// kind (1) + index (4) + offset (8) + length (4) + last flag (1).
const headerWireSize = 18

// FrameKind identifies the role of a frame within a transfer.
type FrameKind uint8

const (
	// FrameMeta carries the transfer metadata and wrapped key. Sent once,
	// before any data frame.
	FrameMeta FrameKind = iota
	// FrameData carries one encrypted chunk of file content.
	FrameData
	// FrameDone signals that the sender has flushed its last chunk.
	FrameDone
	// FrameProbe carries throwaway bytes for throughput probing. Receivers
	// ignore it.
	FrameProbe
)

// FrameHeader describes one frame of a transfer.
type FrameHeader struct {
	Kind   FrameKind
	Index  uint32 // sequence index of the chunk within the transfer
	Offset uint64 // plaintext byte offset of the chunk within the file
	Length uint32 // plaintext length of the chunk
	Last   bool   // set on the final data frame
}

// Pack frames two buffers as [2-byte little-endian length of A][A][B].
// It fails when A exceeds the capacity of the two-byte length prefix.
func Pack(a, b []byte) ([]byte, error) {
	if len(a) > limits.MaxFrameHeaderLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLong, len(a))
	}

	out := make([]byte, 2+len(a)+len(b))
	binary.LittleEndian.PutUint16(out[0:2], uint16(len(a)))
	copy(out[2:], a)
	copy(out[2+len(a):], b)
	return out, nil
}

// Unpack splits a buffer produced by Pack back into its two parts.
// It fails when the declared length of A exceeds the actual buffer.
func Unpack(combined []byte) ([]byte, []byte, error) {
	if len(combined) < 2 {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(combined))
	}

	aLen := int(binary.LittleEndian.Uint16(combined[0:2]))
	if 2+aLen > len(combined) {
		return nil, nil, fmt.Errorf("%w: declared %d, available %d", ErrFrameTooShort, aLen, len(combined)-2)
	}

	return combined[2 : 2+aLen], combined[2+aLen:], nil
}

// MarshalHeader encodes a frame header into its fixed wire form.
func MarshalHeader(h FrameHeader) []byte {
	buf := make([]byte, headerWireSize)
	buf[0] = byte(h.Kind)
	binary.BigEndian.PutUint32(buf[1:5], h.Index)
	binary.BigEndian.PutUint64(buf[5:13], h.Offset)
	binary.BigEndian.PutUint32(buf[13:17], h.Length)
	if h.Last {
		buf[17] = 1
	}
	return buf
}

// UnmarshalHeader decodes a frame header from its fixed wire form.
func UnmarshalHeader(data []byte) (FrameHeader, error) {
	if len(data) < headerWireSize {
		return FrameHeader{}, fmt.Errorf("%w: header %d bytes, need %d", ErrFrameTooShort, len(data), headerWireSize)
	}

	return FrameHeader{
		Kind:   FrameKind(data[0]),
		Index:  binary.BigEndian.Uint32(data[1:5]),
		Offset: binary.BigEndian.Uint64(data[5:13]),
		Length: binary.BigEndian.Uint32(data[13:17]),
		Last:   data[17] == 1,
	}, nil
}

// EncodeFrame packs a header and payload into a single wire frame.
func EncodeFrame(h FrameHeader, payload []byte) ([]byte, error) {
	return Pack(MarshalHeader(h), payload)
}

// DecodeFrame splits a wire frame into its header and payload.
func DecodeFrame(frame []byte) (FrameHeader, []byte, error) {
	headerBytes, payload, err := Unpack(frame)
	if err != nil {
		return FrameHeader{}, nil, err
	}

	header, err := UnmarshalHeader(headerBytes)
	if err != nil {
		return FrameHeader{}, nil, err
	}

	return header, payload, nil
}
