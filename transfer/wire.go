package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Meta is the transfer metadata sent in the first frame. It is immutable
// once the transfer starts.
type Meta struct {
	TransferID  string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`

	// Size is the declared byte count of the stream on the wire, after
	// optional compression. Completion detection counts against it.
	Size uint64 `json:"size"`

	// RawSize is the original file size when compression is applied.
	RawSize uint64 `json:"rawSize,omitempty"`

	ChunkSize   int  `json:"chunkSize"`
	Encrypted   bool `json:"encrypted"`
	Compression int  `json:"compression,omitempty"`

	// WrappedKey is the transfer key encrypted with the recipient's
	// public key. Present only when Encrypted is set.
	WrappedKey []byte `json:"wrappedKey,omitempty"`
}

// ErrBadMeta indicates transfer metadata that fails validation.
var ErrBadMeta = errors.New("invalid transfer metadata")

// EncodeMeta serializes metadata for the wire.
func EncodeMeta(m Meta) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// DecodeMeta parses metadata from the wire.
func DecodeMeta(data []byte) (Meta, error) {
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("%w: %v", ErrBadMeta, err)
	}
	if err := m.Validate(); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// Validate checks the fields every transfer requires.
func (m Meta) Validate() error {
	if m.TransferID == "" {
		return fmt.Errorf("%w: missing transfer id", ErrBadMeta)
	}
	if m.Name == "" {
		return fmt.Errorf("%w: missing file name", ErrBadMeta)
	}
	if m.Encrypted && len(m.WrappedKey) == 0 {
		return fmt.Errorf("%w: encrypted transfer without wrapped key", ErrBadMeta)
	}
	return nil
}
