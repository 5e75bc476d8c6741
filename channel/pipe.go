package channel

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PipeConfig controls the behavior of an in-memory pipe endpoint.
type PipeConfig struct {
	// Unordered delivers queued messages in random order, simulating an
	// unordered-unreliable data channel configuration.
	Unordered bool

	// Latency delays each delivery, letting messages pile up so unordered
	// delivery actually reorders them.
	Latency time.Duration

	// MaxMessageSize bounds single sends; zero means unbounded.
	MaxMessageSize int

	// SendHook, when set, runs before each send with a 1-based attempt
	// counter. Returning an error fails the send without queuing. Used to
	// inject transport failures.
	SendHook func(sendCount int, data []byte) error
}

// PipeChannel is one endpoint of an in-memory channel pair. It implements
// DataChannel with real buffered-amount accounting and drain signaling.
type PipeChannel struct {
	cfg  PipeConfig
	peer *PipeChannel

	mu        sync.Mutex
	cond      *sync.Cond
	queue     [][]byte
	buffered  uint64
	threshold uint64
	handler   func([]byte)
	pending   [][]byte
	closed    bool
	sendCount int

	drained chan struct{}
}

// Pipe creates two connected in-memory endpoints. Each endpoint's config
// governs its own outbound direction.
func Pipe(cfgA, cfgB PipeConfig) (*PipeChannel, *PipeChannel) {
	a := newPipeChannel(cfgA)
	b := newPipeChannel(cfgB)
	a.peer = b
	b.peer = a

	go a.deliverLoop()
	go b.deliverLoop()

	return a, b
}

func newPipeChannel(cfg PipeConfig) *PipeChannel {
	p := &PipeChannel{
		cfg:     cfg,
		drained: make(chan struct{}, 1),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Send queues one message for delivery to the peer endpoint.
func (p *PipeChannel) Send(data []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.sendCount++
	count := p.sendCount
	p.mu.Unlock()

	if p.cfg.SendHook != nil {
		if err := p.cfg.SendHook(count, data); err != nil {
			return err
		}
	}
	if p.cfg.MaxMessageSize > 0 && len(data) > p.cfg.MaxMessageSize {
		return ErrClosed
	}

	// Ownership transfers on send; keep our own copy regardless of what
	// the caller does with the buffer afterwards.
	msg := make([]byte, len(data))
	copy(msg, data)

	p.mu.Lock()
	p.queue = append(p.queue, msg)
	p.buffered += uint64(len(msg))
	p.cond.Signal()
	p.mu.Unlock()

	return nil
}

// deliverLoop drains the outbound queue into the peer's handler.
func (p *PipeChannel) deliverLoop() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}

		idx := 0
		if p.cfg.Unordered && len(p.queue) > 1 {
			idx = rand.Intn(len(p.queue))
		}
		msg := p.queue[idx]
		p.queue = append(p.queue[:idx], p.queue[idx+1:]...)
		p.mu.Unlock()

		if p.cfg.Latency > 0 {
			time.Sleep(p.cfg.Latency)
		}

		p.peer.deliver(msg)

		p.mu.Lock()
		p.buffered -= uint64(len(msg))
		below := p.buffered <= p.threshold
		p.mu.Unlock()

		if below {
			select {
			case p.drained <- struct{}{}:
			default:
			}
		}
	}
}

// deliver hands an inbound message to the handler, buffering until one is
// registered.
func (p *PipeChannel) deliver(msg []byte) {
	p.mu.Lock()
	if p.handler == nil {
		p.pending = append(p.pending, msg)
		p.mu.Unlock()
		return
	}
	handler := p.handler
	p.mu.Unlock()

	handler(msg)
}

// BufferedAmount reports bytes queued but not yet delivered.
func (p *PipeChannel) BufferedAmount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffered
}

// SetBufferedAmountLowThreshold configures the drain low-water mark.
func (p *PipeChannel) SetBufferedAmountLowThreshold(threshold uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.threshold = threshold
}

// Drained signals buffered amount falling below the low-water mark.
func (p *PipeChannel) Drained() <-chan struct{} {
	return p.drained
}

// OnMessage registers the inbound handler and flushes messages that
// arrived before registration.
func (p *PipeChannel) OnMessage(handler func(data []byte)) {
	p.mu.Lock()
	p.handler = handler
	backlog := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, msg := range backlog {
		handler(msg)
	}
}

// MaxMessageSize reports the configured single-message bound.
func (p *PipeChannel) MaxMessageSize() int {
	return p.cfg.MaxMessageSize
}

// Close stops accepting sends. Messages already queued are still delivered.
func (p *PipeChannel) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Close",
	}).Debug("Pipe endpoint closed")

	return nil
}

// Closed reports whether the endpoint has been closed.
func (p *PipeChannel) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
