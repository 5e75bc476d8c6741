package transfer

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerdrop/channel"
	"github.com/opd-ai/peerdrop/chunker"
	"github.com/opd-ai/peerdrop/crypto"
	"github.com/opd-ai/peerdrop/limits"
)

// SenderConfig controls the outbound transfer engine.
type SenderConfig struct {
	// ChunkSize forces a chunk size. Zero picks one from the file size.
	ChunkSize int

	// Parallelism bounds concurrent chunk encryption within one batch.
	// Peak memory is Parallelism x chunk size regardless of file size.
	Parallelism int

	// RetryAttempts bounds send attempts per frame.
	RetryAttempts int

	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration

	// LowWaterMark is the channel buffered-byte level above which sending
	// suspends until the channel drains.
	LowWaterMark uint64

	// Encrypt enables the AES-GCM envelope per chunk.
	Encrypt bool

	// CompressionLevel applies gzip (1-9) to the stream before chunking.
	// Zero disables compression.
	CompressionLevel int

	// Probe enables the startup throughput probe that scales the chunk
	// size up or down before the first data frame.
	Probe bool

	// ProbeSize is the probe sample size in bytes.
	ProbeSize int

	// FastThreshold is the probe rate (bytes/second) above which the
	// chunk size doubles, capped at limits.MaxChunkSize.
	FastThreshold float64

	// SlowThreshold is the probe rate below which the chunk size halves,
	// floored at limits.MinChunkSize.
	SlowThreshold float64

	// Progress, when set, is invoked at most once per whole-percent
	// advance plus once on completion.
	Progress func(percent int)
}

func (c *SenderConfig) applyDefaults() {
	if c.Parallelism <= 0 {
		c.Parallelism = 6
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 200 * time.Millisecond
	}
	if c.LowWaterMark == 0 {
		c.LowWaterMark = 1 << 20
	}
	if c.ProbeSize <= 0 {
		c.ProbeSize = 256 << 10
	}
	if c.FastThreshold <= 0 {
		c.FastThreshold = 50 << 20
	}
	if c.SlowThreshold <= 0 {
		c.SlowThreshold = 2 << 20
	}
}

// Sender drives one outbound transfer over an open channel.
type Sender struct {
	session *Session
	ch      channel.DataChannel
	keys    *crypto.Manager
	cfg     SenderConfig

	key     []byte
	wrapped []byte

	mu          sync.Mutex
	attempts    int
	lastPercent int
}

// NewSender creates the outbound engine. key is the per-transfer symmetric
// key (owned by the session) and wrapped is that key encrypted for the
// recipient; both are nil when encryption is disabled.
func NewSender(session *Session, ch channel.DataChannel, keys *crypto.Manager, key, wrapped []byte, cfg SenderConfig) *Sender {
	cfg.applyDefaults()
	ch.SetBufferedAmountLowThreshold(cfg.LowWaterMark)

	return &Sender{
		session: session,
		ch:      ch,
		keys:    keys,
		cfg:     cfg,
		key:     key,
		wrapped: wrapped,
	}
}

// Attempts reports the total number of physical send attempts, including
// retried ones.
func (s *Sender) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// rawChunk is one plaintext range awaiting preparation.
type rawChunk struct {
	index  uint32
	offset uint64
	data   []byte
}

// preparedChunk is an encrypted (or passthrough) chunk ready to send.
type preparedChunk struct {
	header  chunker.FrameHeader
	payload []byte
}

// Run executes the transfer to completion, a terminal failure, or
// cancellation. It must be called once.
func (s *Sender) Run(ctx context.Context, meta Meta, data []byte) error {
	if err := s.session.Advance(StateProcessing); err != nil {
		return NewValidation("send", err)
	}

	stream, err := s.compress(data)
	if err != nil {
		s.session.Fail(err)
		return err
	}

	meta.Size = uint64(len(stream))
	if s.cfg.CompressionLevel > 0 {
		meta.RawSize = uint64(len(data))
		meta.Compression = s.cfg.CompressionLevel
	}
	meta.Encrypted = s.cfg.Encrypt
	meta.WrappedKey = s.wrapped
	s.session.SetTotal(meta.Size)

	chunkSize := s.chooseChunkSize(ctx, len(stream))
	meta.ChunkSize = chunkSize
	s.session.SetChunkSize(chunkSize)

	logrus.WithFields(logrus.Fields{
		"function":    "Run",
		"session":     s.session.ID,
		"stream_size": len(stream),
		"chunk_size":  chunkSize,
		"encrypted":   s.cfg.Encrypt,
	}).Info("Starting outbound transfer")

	if err := s.sendMeta(ctx, meta); err != nil {
		return s.finishWith(ctx, err)
	}

	if err := s.sendChunks(ctx, stream, chunkSize); err != nil {
		return s.finishWith(ctx, err)
	}

	done, err := chunker.EncodeFrame(chunker.FrameHeader{Kind: chunker.FrameDone, Last: true}, nil)
	if err != nil {
		return s.finishWith(ctx, NewValidation("send done", err))
	}
	if err := s.retrySend(ctx, done); err != nil {
		return s.finishWith(ctx, err)
	}

	if err := s.session.Advance(StateSucceeded); err != nil {
		return NewValidation("send", err)
	}
	s.emitProgress(100)

	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"session":  s.session.ID,
		"sent":     s.session.BytesTransferred(),
	}).Info("Outbound transfer complete")

	return nil
}

// finishWith maps an engine error to the session's terminal state and
// closes the channel so the peer learns of the termination immediately
// instead of waiting out its chunk timeout. Already-sent chunks stay with
// the peer; there is no rollback.
func (s *Sender) finishWith(ctx context.Context, err error) error {
	if IsKind(err, KindCancelled) || ctx.Err() != nil {
		_ = s.session.Advance(StateCancelled)
		_ = s.ch.Close()
		if !IsKind(err, KindCancelled) {
			err = NewCancelled("send", ctx.Err())
		}
		return err
	}

	s.session.Fail(err)
	_ = s.ch.Close()
	return err
}

// compress applies the configured gzip level to the stream.
func (s *Sender) compress(data []byte) ([]byte, error) {
	if s.cfg.CompressionLevel <= 0 {
		return data, nil
	}

	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, s.cfg.CompressionLevel)
	if err != nil {
		return nil, NewValidation("compress", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, NewValidation("compress", err)
	}
	if err := w.Close(); err != nil {
		return nil, NewValidation("compress", err)
	}

	return buf.Bytes(), nil
}

// chooseChunkSize resolves the forced or tiered chunk size, clamps it to
// the channel's message bound, and optionally runs the throughput probe.
func (s *Sender) chooseChunkSize(ctx context.Context, streamLen int) int {
	size := s.cfg.ChunkSize
	if size <= 0 {
		size = chunker.OptimalChunkSize(int64(streamLen))
	}

	if s.cfg.Probe {
		size = s.probeScale(ctx, size)
	}

	// Leave room for the frame header and cipher overhead within a single
	// channel message.
	if mms := s.ch.MaxMessageSize(); mms > 0 && size > mms-64 {
		size = mms - 64
	}
	if size < 1 {
		size = 1
	}
	return size
}

// probeScale sends a throwaway sample, measures the drain rate, and scales
// the chunk size one step either way.
func (s *Sender) probeScale(ctx context.Context, base int) int {
	frame, err := chunker.EncodeFrame(
		chunker.FrameHeader{Kind: chunker.FrameProbe, Length: uint32(s.cfg.ProbeSize)},
		make([]byte, s.cfg.ProbeSize),
	)
	if err != nil {
		return base
	}

	start := time.Now()
	if err := s.retrySend(ctx, frame); err != nil {
		return base
	}
	if err := s.waitForCapacity(ctx); err != nil {
		return base
	}

	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		return base
	}
	rate := float64(s.cfg.ProbeSize) / elapsed

	scaled := base
	switch {
	case rate >= s.cfg.FastThreshold:
		scaled = base * 2
		if scaled > limits.MaxChunkSize {
			scaled = limits.MaxChunkSize
		}
	case rate <= s.cfg.SlowThreshold:
		scaled = base / 2
		if scaled < limits.MinChunkSize {
			scaled = limits.MinChunkSize
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":   "probeScale",
		"session":    s.session.ID,
		"rate":       rate,
		"base_size":  base,
		"chunk_size": scaled,
	}).Debug("Throughput probe complete")

	return scaled
}

// sendMeta transmits the metadata frame that opens the transfer.
func (s *Sender) sendMeta(ctx context.Context, meta Meta) error {
	payload, err := EncodeMeta(meta)
	if err != nil {
		return NewValidation("send meta", err)
	}

	frame, err := chunker.EncodeFrame(chunker.FrameHeader{Kind: chunker.FrameMeta}, payload)
	if err != nil {
		return NewValidation("send meta", err)
	}

	return s.retrySend(ctx, frame)
}

// sendChunks walks the stream in batches: up to Parallelism chunks are
// prepared concurrently, then admitted to the channel in sequence order.
func (s *Sender) sendChunks(ctx context.Context, stream []byte, chunkSize int) error {
	splitter := chunker.Split(stream, chunkSize)
	lastIndex := uint32(splitter.Count())

	var (
		index  uint32
		offset uint64
	)
	for {
		if err := ctx.Err(); err != nil {
			return NewCancelled("send", err)
		}

		batch := make([]rawChunk, 0, s.cfg.Parallelism)
		for len(batch) < s.cfg.Parallelism {
			data, ok := splitter.Next()
			if !ok {
				break
			}
			batch = append(batch, rawChunk{index: index, offset: offset, data: data})
			index++
			offset += uint64(len(data))
		}
		if len(batch) == 0 {
			return nil
		}

		prepared, err := s.prepareBatch(batch, lastIndex)
		if err != nil {
			return err
		}

		for _, chunk := range prepared {
			if err := ctx.Err(); err != nil {
				return NewCancelled("send", err)
			}
			if err := s.waitForCapacity(ctx); err != nil {
				return NewCancelled("send", err)
			}

			frame, err := chunker.EncodeFrame(chunk.header, chunk.payload)
			if err != nil {
				return NewValidation("send chunk", err)
			}
			if err := s.retrySend(ctx, frame); err != nil {
				return err
			}

			s.session.AddBytes(uint64(chunk.header.Length))
			s.emitProgress(int(s.session.Progress()))
		}
	}
}

// prepareBatch encrypts a batch concurrently and reinserts results in
// original order so admission to the channel stays sequential.
func (s *Sender) prepareBatch(batch []rawChunk, lastIndex uint32) ([]preparedChunk, error) {
	prepared := make([]preparedChunk, len(batch))
	errs := make([]error, len(batch))

	var wg sync.WaitGroup
	for i, chunk := range batch {
		wg.Add(1)
		go func(slot int, c rawChunk) {
			defer wg.Done()

			payload := c.data
			if s.cfg.Encrypt {
				var err error
				payload, err = s.keys.Encrypt(s.key, c.data)
				if err != nil {
					errs[slot] = err
					return
				}
			}

			prepared[slot] = preparedChunk{
				header: chunker.FrameHeader{
					Kind:   chunker.FrameData,
					Index:  c.index,
					Offset: c.offset,
					Length: uint32(len(c.data)),
					Last:   c.index == lastIndex-1,
				},
				payload: payload,
			}
		}(i, chunk)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, NewCrypto("encrypt chunk", err)
		}
	}
	return prepared, nil
}

// waitForCapacity suspends until the channel's buffered amount is at or
// below the low-water mark. It never busy-polls.
func (s *Sender) waitForCapacity(ctx context.Context) error {
	for s.ch.BufferedAmount() > s.cfg.LowWaterMark {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ch.Drained():
		}
	}
	return nil
}

// retrySend sends one frame with exponential backoff up to the configured
// attempt limit.
func (s *Sender) retrySend(ctx context.Context, frame []byte) error {
	var lastErr error
	delay := s.cfg.RetryBaseDelay

	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return NewCancelled("send", err)
		}

		s.mu.Lock()
		s.attempts++
		s.mu.Unlock()

		lastErr = s.ch.Send(frame)
		if lastErr == nil {
			return nil
		}

		logrus.WithFields(logrus.Fields{
			"function": "retrySend",
			"session":  s.session.ID,
			"attempt":  attempt,
			"max":      s.cfg.RetryAttempts,
			"error":    lastErr.Error(),
		}).Warn("Channel send failed")

		if attempt == s.cfg.RetryAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return NewCancelled("send", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}

	return NewTransport("send", fmt.Errorf("%d attempts exhausted: %w", s.cfg.RetryAttempts, lastErr))
}

// emitProgress fires the progress callback at most once per whole percent.
func (s *Sender) emitProgress(percent int) {
	if s.cfg.Progress == nil {
		return
	}

	s.mu.Lock()
	fire := percent > s.lastPercent
	if fire {
		s.lastPercent = percent
	}
	s.mu.Unlock()

	if fire {
		s.cfg.Progress(percent)
	}
}
