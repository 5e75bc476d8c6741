package peerdrop

import (
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/peerdrop/limits"
)

// ErrBadOptions indicates an Options field outside its allowed range.
var ErrBadOptions = errors.New("invalid options")

// Options configures a PeerDrop instance. Use NewOptions for defaults and
// override fields before calling New; the struct is not read after New
// returns.
type Options struct {
	// ChunkSize forces the chunk size for outbound transfers. Zero picks
	// one automatically from the file size.
	ChunkSize int

	// EncryptionEnabled wraps every chunk in an AES-256-GCM envelope with
	// a per-transfer key delivered via RSA-OAEP.
	EncryptionEnabled bool

	// ICEServer is advertised in generated rendezvous codes.
	ICEServer string

	// Parallelism bounds concurrent chunk encryption on the send side.
	Parallelism int

	// Streaming delivers decrypted chunks to the receive callback
	// incrementally in index order instead of one assembled buffer,
	// keeping peak receive memory near one chunk. Ignored for compressed
	// transfers.
	Streaming bool

	// CompressionLevel applies gzip (1-9) before encryption. Zero disables.
	CompressionLevel int

	// RetryAttempts bounds send attempts per frame.
	RetryAttempts int

	// ProgressFunc, when set, receives whole-percent progress updates.
	ProgressFunc func(percent int)

	// PerChunkTimeout fails an inbound transfer when no frame arrives for
	// this long while chunks are outstanding.
	PerChunkTimeout time.Duration

	// HandshakeTimeout bounds channel negotiation.
	HandshakeTimeout time.Duration

	// MaxFileSize rejects transfers larger than this many bytes.
	MaxFileSize uint64

	// SessionKeyTTL is how long a rendezvous session key stays fresh
	// before code generation rotates it.
	SessionKeyTTL time.Duration

	// ThroughputProbe measures channel throughput before the first data
	// frame and scales the chunk size one step either way.
	ThroughputProbe bool

	// LowWaterMark is the channel buffered-byte level above which sending
	// suspends until the channel drains.
	LowWaterMark uint64
}

// NewOptions returns the default configuration.
func NewOptions() *Options {
	return &Options{
		EncryptionEnabled: true,
		ICEServer:         "stun:stun.l.google.com:19302",
		Parallelism:       6,
		RetryAttempts:     3,
		PerChunkTimeout:   30 * time.Second,
		HandshakeTimeout:  30 * time.Second,
		MaxFileSize:       limits.DefaultMaxFileSize,
		SessionKeyTTL:     10 * time.Minute,
		LowWaterMark:      1 << 20,
	}
}

// validate checks every field against its allowed range.
func (o *Options) validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil options", ErrBadOptions)
	}
	if o.ChunkSize != 0 {
		if err := limits.ValidateChunkSize(o.ChunkSize); err != nil {
			return fmt.Errorf("%w: %v", ErrBadOptions, err)
		}
	}
	if o.CompressionLevel < 0 || o.CompressionLevel > 9 {
		return fmt.Errorf("%w: compression level %d outside [0, 9]", ErrBadOptions, o.CompressionLevel)
	}
	if o.Parallelism < 1 {
		return fmt.Errorf("%w: parallelism %d", ErrBadOptions, o.Parallelism)
	}
	if o.RetryAttempts < 1 {
		return fmt.Errorf("%w: retry attempts %d", ErrBadOptions, o.RetryAttempts)
	}
	if o.MaxFileSize == 0 {
		return fmt.Errorf("%w: zero max file size", ErrBadOptions)
	}
	if o.PerChunkTimeout <= 0 || o.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: non-positive timeout", ErrBadOptions)
	}
	if o.SessionKeyTTL <= 0 {
		return fmt.Errorf("%w: non-positive session key TTL", ErrBadOptions)
	}
	return nil
}
