// Package channel defines the byte-message channel contract the transfer
// engines drive, plus two implementations: an adapter over a pion WebRTC
// data channel and an in-memory pipe for loopback use and tests.
//
// Establishing the underlying channel (NAT traversal, candidate gathering,
// session-description exchange) is the caller's concern; the engines only
// require an already-open channel with a backpressure signal. The channel
// may be ordered-reliable or unordered-unreliable; the receiver's
// offset-keyed accumulation restores order either way.
package channel

import "errors"

// ErrClosed indicates a send on a closed channel.
var ErrClosed = errors.New("channel closed")

// DataChannel is the bidirectional byte-message transport the engines use.
type DataChannel interface {
	// Send queues one message. Ownership of the buffer transfers to the
	// channel.
	Send(data []byte) error

	// BufferedAmount reports the bytes queued but not yet handed to the
	// transport.
	BufferedAmount() uint64

	// SetBufferedAmountLowThreshold configures the low-water mark below
	// which a drain signal is emitted.
	SetBufferedAmountLowThreshold(threshold uint64)

	// Drained signals that the buffered amount has fallen below the
	// low-water mark. Senders suspend on this instead of polling.
	Drained() <-chan struct{}

	// OnMessage registers the handler invoked for each inbound message.
	// Messages arriving before registration are delivered once a handler
	// is set.
	OnMessage(handler func(data []byte))

	// MaxMessageSize reports the largest single message the channel
	// accepts, or 0 when unbounded.
	MaxMessageSize() int

	// Close tears the channel down. Further sends fail with ErrClosed.
	Close() error
}
