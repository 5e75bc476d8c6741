package channel

import (
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// DefaultWebRTCMaxMessage is the largest single message sent over a WebRTC
// data channel. SCTP implementations commonly reject messages above 256 KiB,
// so the sender clamps its chunk size to this.
const DefaultWebRTCMaxMessage = 256 << 10

// WebRTC adapts an already-open *webrtc.DataChannel to the DataChannel
// contract. The peer connection and its negotiation belong to the caller.
type WebRTC struct {
	dc         *webrtc.DataChannel
	drained    chan struct{}
	maxMessage int
}

// NewWebRTC wraps an open data channel. maxMessage bounds single sends;
// zero uses DefaultWebRTCMaxMessage.
func NewWebRTC(dc *webrtc.DataChannel, maxMessage int) *WebRTC {
	if maxMessage <= 0 {
		maxMessage = DefaultWebRTCMaxMessage
	}

	w := &WebRTC{
		dc:         dc,
		drained:    make(chan struct{}, 1),
		maxMessage: maxMessage,
	}

	dc.OnBufferedAmountLow(func() {
		select {
		case w.drained <- struct{}{}:
		default:
		}
	})

	logrus.WithFields(logrus.Fields{
		"function":    "NewWebRTC",
		"label":       dc.Label(),
		"max_message": maxMessage,
	}).Info("Wrapped WebRTC data channel")

	return w
}

// Send queues one message on the data channel.
func (w *WebRTC) Send(data []byte) error {
	return w.dc.Send(data)
}

// BufferedAmount reports the bytes queued on the data channel.
func (w *WebRTC) BufferedAmount() uint64 {
	return w.dc.BufferedAmount()
}

// SetBufferedAmountLowThreshold configures the drain low-water mark.
func (w *WebRTC) SetBufferedAmountLowThreshold(threshold uint64) {
	w.dc.SetBufferedAmountLowThreshold(threshold)
}

// Drained signals buffered amount falling below the low-water mark.
func (w *WebRTC) Drained() <-chan struct{} {
	return w.drained
}

// OnMessage registers the inbound message handler.
func (w *WebRTC) OnMessage(handler func(data []byte)) {
	w.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		handler(msg.Data)
	})
}

// MaxMessageSize reports the configured single-message bound.
func (w *WebRTC) MaxMessageSize() int {
	return w.maxMessage
}

// Close tears down the data channel.
func (w *WebRTC) Close() error {
	return w.dc.Close()
}
