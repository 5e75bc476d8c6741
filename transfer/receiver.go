package transfer

import (
	"bytes"
	"compress/gzip"
	"crypto/rsa"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerdrop/channel"
	"github.com/opd-ai/peerdrop/chunker"
	"github.com/opd-ai/peerdrop/crypto"
	"github.com/opd-ai/peerdrop/limits"
)

// ReceiverConfig controls the inbound transfer engine.
type ReceiverConfig struct {
	// MaxFileSize rejects transfers whose declared or observed size exceeds
	// it. Zero applies limits.DefaultMaxFileSize.
	MaxFileSize uint64

	// ChunkTimeout fails the transfer when no frame arrives for this long
	// while chunks are outstanding. Zero applies 30 seconds.
	ChunkTimeout time.Duration

	// Streaming delivers decrypted chunks incrementally as the in-order
	// prefix grows, instead of one assembled buffer at the end. Delivered
	// chunks are released immediately, so peak memory stays near one chunk.
	// Ignored when the stream is compressed, since gzip needs the whole
	// stream to inflate.
	Streaming bool

	// Progress, when set, is invoked at most once per whole-percent
	// advance plus once on completion.
	Progress func(percent int)
}

func (c *ReceiverConfig) applyDefaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = limits.DefaultMaxFileSize
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = 30 * time.Second
	}
}

// inboundChunk is one stored data frame awaiting assembly. The claimed
// plaintext length is kept so buffered chunks can be re-checked once
// metadata reveals whether the transfer is encrypted.
type inboundChunk struct {
	payload []byte
	length  uint32
}

// delivery is one pending invocation of the deliver callback. Deliveries
// are queued under the lock and run after it is released, so a callback
// may safely call back into the receiver or close the channel.
type delivery struct {
	meta Meta
	data []byte
}

// Receiver accumulates inbound frames, detects completion by byte count,
// and hands the file to the deliver callback: in one assembled piece by
// default, or chunk by chunk in index order when streaming is enabled.
// Frames may arrive in any order. In assembled mode nothing is delivered
// until every declared byte is present and decrypts cleanly; in streaming
// mode chunks already part of the contiguous prefix are delivered as they
// decrypt, and a later failure aborts the remainder.
type Receiver struct {
	session *Session
	keys    *crypto.Manager
	priv    *rsa.PrivateKey
	cfg     ReceiverConfig
	deliver func(Meta, []byte)

	mu          sync.Mutex
	ch          channel.DataChannel
	meta        *Meta
	key         []byte
	chunks      map[uint32]inboundChunk
	received    uint64
	next        uint32
	streamed    uint64
	outbox      []delivery
	lastPercent int
	watchdog    *time.Timer
}

// NewReceiver creates the inbound engine. priv decrypts the wrapped
// transfer key on encrypted transfers; deliver receives the plaintext on
// success, once with the whole file or repeatedly per chunk when streaming.
func NewReceiver(session *Session, keys *crypto.Manager, priv *rsa.PrivateKey, cfg ReceiverConfig, deliver func(Meta, []byte)) *Receiver {
	cfg.applyDefaults()

	return &Receiver{
		session: session,
		keys:    keys,
		priv:    priv,
		cfg:     cfg,
		deliver: deliver,
		chunks:  make(map[uint32]inboundChunk),
	}
}

// Attach binds the receiver to an open channel and arms the inter-frame
// watchdog. Frames delivered before Attach returns are handled in order.
func (r *Receiver) Attach(ch channel.DataChannel) {
	r.mu.Lock()
	r.ch = ch
	r.watchdog = time.AfterFunc(r.cfg.ChunkTimeout, r.onTimeout)
	r.mu.Unlock()

	ch.OnMessage(r.HandleFrame)
}

// HandleFrame processes one inbound wire frame. It is exported so tests can
// drive the receiver with arbitrary frame permutations. Deliveries queued
// by the frame run after the receiver's lock is released.
func (r *Receiver) HandleFrame(data []byte) {
	r.mu.Lock()
	r.handleFrameLocked(data)
	out := r.outbox
	r.outbox = nil
	r.mu.Unlock()

	if r.deliver == nil {
		return
	}
	for _, d := range out {
		r.deliver(d.meta, d.data)
	}
}

func (r *Receiver) handleFrameLocked(data []byte) {
	if r.session.State().Terminal() {
		return
	}
	if r.watchdog != nil {
		r.watchdog.Reset(r.cfg.ChunkTimeout)
	}

	header, payload, err := chunker.DecodeFrame(data)
	if err != nil {
		r.abortLocked(NewValidation("receive frame", err))
		return
	}

	switch header.Kind {
	case chunker.FrameMeta:
		r.handleMetaLocked(payload)
	case chunker.FrameData:
		r.handleDataLocked(header, payload)
	case chunker.FrameDone:
		r.tryCompleteLocked()
	case chunker.FrameProbe:
		// Throughput probe, carries no file content.
	default:
		r.abortLocked(NewValidation("receive frame", fmt.Errorf("unknown frame kind %d", header.Kind)))
	}
}

// handleMetaLocked validates metadata, unwraps the transfer key, and
// re-checks any chunks buffered before the metadata arrived.
func (r *Receiver) handleMetaLocked(payload []byte) {
	if r.meta != nil {
		return
	}

	meta, err := DecodeMeta(payload)
	if err != nil {
		r.abortLocked(NewValidation("receive meta", err))
		return
	}
	if meta.Size > r.cfg.MaxFileSize {
		r.abortLocked(NewValidation("receive meta",
			fmt.Errorf("%w: declared %d bytes, limit %d", limits.ErrFileTooLarge, meta.Size, r.cfg.MaxFileSize)))
		return
	}

	if meta.Encrypted {
		key, err := r.keys.UnwrapKey(meta.WrappedKey, r.priv)
		if err != nil {
			r.abortLocked(NewCrypto("unwrap key", err))
			return
		}
		r.key = key
		r.session.SetKey(key)
	}

	r.meta = &meta
	r.session.SetTotal(meta.Size)
	r.session.SetChunkSize(meta.ChunkSize)
	if r.session.State() != StateProcessing {
		_ = r.session.Advance(StateProcessing)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "handleMetaLocked",
		"session":    r.session.ID,
		"transfer":   meta.TransferID,
		"name":       meta.Name,
		"size":       meta.Size,
		"chunk_size": meta.ChunkSize,
		"encrypted":  meta.Encrypted,
		"buffered":   len(r.chunks),
	}).Info("Transfer metadata received")

	if r.received > meta.Size {
		r.abortLocked(NewValidation("receive meta",
			fmt.Errorf("buffered %d bytes exceed declared size %d", r.received, meta.Size)))
		return
	}

	// Chunks buffered before the metadata were only checked against both
	// possible wire shapes; re-check them against the actual one.
	for index, chunk := range r.chunks {
		if len(chunk.payload) != r.wirePayloadSizeLocked(chunk.length) {
			r.abortLocked(NewValidation("receive meta",
				fmt.Errorf("buffered chunk %d: %d payload bytes for claimed length %d", index, len(chunk.payload), chunk.length)))
			return
		}
	}

	r.tryCompleteLocked()
}

// wirePayloadSizeLocked returns the exact payload size a data frame must
// carry for a chunk of the given plaintext length. Caller holds r.mu and
// r.meta is set.
func (r *Receiver) wirePayloadSizeLocked(plainLen uint32) int {
	if r.meta.Encrypted {
		return crypto.EnvelopeSize(int(plainLen), crypto.DefaultSegmentSize)
	}
	return int(plainLen)
}

// handleDataLocked validates and stores one chunk by sequence index.
// The payload size must match the claimed plaintext length exactly, so the
// received-byte counter tracks real memory. Duplicate indexes are ignored
// so retried frames never double-count.
func (r *Receiver) handleDataLocked(header chunker.FrameHeader, payload []byte) {
	if _, dup := r.chunks[header.Index]; dup {
		logrus.WithFields(logrus.Fields{
			"function": "handleDataLocked",
			"session":  r.session.ID,
			"index":    header.Index,
		}).Debug("Duplicate chunk ignored")
		return
	}

	if header.Length == 0 {
		r.abortLocked(NewValidation("receive chunk",
			fmt.Errorf("chunk %d claims zero length", header.Index)))
		return
	}
	if r.meta != nil {
		if len(payload) != r.wirePayloadSizeLocked(header.Length) {
			r.abortLocked(NewValidation("receive chunk",
				fmt.Errorf("chunk %d: %d payload bytes for claimed length %d", header.Index, len(payload), header.Length)))
			return
		}
	} else {
		// Encryption state is unknown until the metadata arrives; the
		// payload must fit one of the two wire shapes, and is re-checked
		// against the actual one when the metadata lands.
		plain := int(header.Length)
		sealed := crypto.EnvelopeSize(plain, crypto.DefaultSegmentSize)
		if len(payload) != plain && len(payload) != sealed {
			r.abortLocked(NewValidation("receive chunk",
				fmt.Errorf("chunk %d: %d payload bytes for claimed length %d", header.Index, len(payload), header.Length)))
			return
		}
	}

	next := r.received + uint64(header.Length)
	if next > r.cfg.MaxFileSize {
		r.abortLocked(NewValidation("receive chunk",
			fmt.Errorf("%w: %d bytes exceed limit %d", limits.ErrFileTooLarge, next, r.cfg.MaxFileSize)))
		return
	}
	if r.meta != nil && next > r.meta.Size {
		r.abortLocked(NewValidation("receive chunk",
			fmt.Errorf("%d bytes exceed declared size %d", next, r.meta.Size)))
		return
	}

	// The channel may reuse its buffer after the handler returns.
	chunk := make([]byte, len(payload))
	copy(chunk, payload)

	r.chunks[header.Index] = inboundChunk{payload: chunk, length: header.Length}
	r.received = next
	r.session.AddBytes(uint64(header.Length))
	r.emitProgressLocked(int(r.session.Progress()))

	r.tryCompleteLocked()
}

// streamingLocked reports whether chunks are handed out incrementally.
// Compressed streams always assemble first. Caller holds r.mu and r.meta
// is set.
func (r *Receiver) streamingLocked() bool {
	return r.cfg.Streaming && r.meta.Compression == 0
}

// tryCompleteLocked advances delivery. In streaming mode the contiguous
// prefix is flushed chunk by chunk on every call; in assembled mode nothing
// happens until every declared byte is present.
func (r *Receiver) tryCompleteLocked() {
	if r.meta == nil {
		return
	}

	if r.streamingLocked() {
		if !r.flushStreamLocked() {
			return
		}
		if r.streamed < r.meta.Size {
			return
		}
		r.finishLocked()
		return
	}

	if r.received < r.meta.Size {
		return
	}

	stream, err := r.assembleLocked()
	if err != nil {
		r.abortLocked(err)
		return
	}

	if r.meta.Compression > 0 {
		stream, err = decompress(stream)
		if err != nil {
			r.abortLocked(NewValidation("decompress", err))
			return
		}
		if r.meta.RawSize != 0 && uint64(len(stream)) != r.meta.RawSize {
			r.abortLocked(NewValidation("decompress",
				fmt.Errorf("decompressed %d bytes, declared %d", len(stream), r.meta.RawSize)))
			return
		}
	}

	r.outbox = append(r.outbox, delivery{meta: *r.meta, data: stream})
	r.finishLocked()
}

// flushStreamLocked decrypts and queues every chunk in the contiguous
// prefix, releasing stored payloads as it goes. Returns false when the
// transfer was aborted by a decrypt failure.
func (r *Receiver) flushStreamLocked() bool {
	for {
		chunk, ok := r.chunks[r.next]
		if !ok {
			return true
		}

		plain := chunk.payload
		if r.meta.Encrypted {
			var err error
			plain, err = r.keys.Decrypt(r.key, chunk.payload)
			if err != nil {
				r.abortLocked(NewCrypto("decrypt chunk", fmt.Errorf("chunk %d: %w", r.next, err)))
				return false
			}
		}

		r.outbox = append(r.outbox, delivery{meta: *r.meta, data: plain})
		delete(r.chunks, r.next)
		r.streamed += uint64(chunk.length)
		r.next++
	}
}

// finishLocked settles the session once every byte has been queued for
// delivery.
func (r *Receiver) finishLocked() {
	if r.watchdog != nil {
		r.watchdog.Stop()
	}

	if err := r.session.Advance(StateSucceeded); err != nil {
		r.session.Fail(NewValidation("receive", err))
		return
	}
	r.emitProgressLocked(100)

	logrus.WithFields(logrus.Fields{
		"function":  "finishLocked",
		"session":   r.session.ID,
		"transfer":  r.meta.TransferID,
		"size":      r.meta.Size,
		"streaming": r.streamingLocked(),
	}).Info("Inbound transfer complete")

	r.chunks = nil
}

// assembleLocked concatenates chunks in index order, decrypting each when
// the transfer is encrypted.
func (r *Receiver) assembleLocked() ([]byte, error) {
	indexes := make([]uint32, 0, len(r.chunks))
	for index := range r.chunks {
		indexes = append(indexes, index)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	out := make([]byte, 0, r.meta.Size)
	for want, index := range indexes {
		if uint32(want) != index {
			return nil, NewValidation("assemble",
				fmt.Errorf("missing chunk %d with all %d bytes received", want, r.received))
		}

		chunk := r.chunks[index].payload
		if r.meta.Encrypted {
			plain, err := r.keys.Decrypt(r.key, chunk)
			if err != nil {
				return nil, NewCrypto("decrypt chunk", fmt.Errorf("chunk %d: %w", index, err))
			}
			chunk = plain
		}
		out = append(out, chunk...)
	}

	if uint64(len(out)) != r.meta.Size {
		return nil, NewValidation("assemble",
			fmt.Errorf("assembled %d bytes, declared %d", len(out), r.meta.Size))
	}
	return out, nil
}

// onTimeout fires when no frame has arrived within the chunk timeout.
func (r *Receiver) onTimeout() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session.State().Terminal() {
		return
	}

	r.abortLocked(NewTimeout("receive chunk",
		fmt.Errorf("no frame for %s with %d of %d bytes received", r.cfg.ChunkTimeout, r.received, r.session.Total())))
}

// abortLocked terminates the transfer. Queued-but-unsent deliveries are
// dropped along with the buffered chunks.
func (r *Receiver) abortLocked(err error) {
	if r.watchdog != nil {
		r.watchdog.Stop()
	}
	r.chunks = nil
	r.outbox = nil

	r.session.Fail(err)
	if r.ch != nil {
		_ = r.ch.Close()
	}
}

// emitProgressLocked fires the progress callback at most once per whole
// percent. Caller holds r.mu.
func (r *Receiver) emitProgressLocked(percent int) {
	if r.cfg.Progress == nil || percent <= r.lastPercent {
		return
	}
	r.lastPercent = percent
	r.cfg.Progress(percent)
}

// decompress inflates a gzip stream produced by the sender.
func decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	return out, nil
}
