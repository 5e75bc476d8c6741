package peerdrop

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerdrop/channel"
	"github.com/opd-ai/peerdrop/crypto"
	"github.com/opd-ai/peerdrop/limits"
	"github.com/opd-ai/peerdrop/rendezvous"
	"github.com/opd-ai/peerdrop/transfer"
)

// FileMetadata describes the file being offered. Size and identifiers are
// filled in by the engine.
type FileMetadata struct {
	Name        string
	ContentType string
}

// Negotiator turns an opened signaling blob into an established data
// channel. Channel establishment (SDP exchange, ICE) happens outside this
// library; the negotiator is the seam where the caller plugs it in.
type Negotiator func(ctx context.Context, signal []byte, iceServer string) (channel.DataChannel, error)

// PeerDrop coordinates encrypted chunked file transfers between two peers.
// One instance holds the local key pair, the symmetric key cache, and the
// rotating rendezvous session key, and tracks every session it started.
type PeerDrop struct {
	opts      *Options
	keys      *crypto.Manager
	pair      *crypto.KeyPair
	negotiate Negotiator

	storeOnce sync.Once
	store     *rendezvous.KeyStore

	mu       sync.Mutex
	sessions map[string]*sessionHandle
}

// sessionHandle ties a session to its cancellation lever and channel.
type sessionHandle struct {
	session *transfer.Session
	cancel  context.CancelFunc
	ch      channel.DataChannel
}

// New creates a PeerDrop instance with a fresh key pair and its own
// rendezvous key store.
func New(opts *Options, negotiate Negotiator) (*PeerDrop, error) {
	return NewWithKeyStore(opts, negotiate, nil)
}

// NewWithKeyStore creates a PeerDrop instance sharing an existing
// rendezvous key store. Peers that meet through the same rendezvous point
// must share one store so sealed negotiation blobs open on both sides.
func NewWithKeyStore(opts *Options, negotiate Negotiator, store *rendezvous.KeyStore) (*PeerDrop, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if negotiate == nil {
		return nil, fmt.Errorf("%w: nil negotiator", ErrBadOptions)
	}

	pair, err := crypto.GenerateKeyPair(crypto.DefaultRSABits)
	if err != nil {
		return nil, err
	}

	p := &PeerDrop{
		opts:      opts,
		keys:      crypto.NewManager(),
		pair:      pair,
		negotiate: negotiate,
		store:     store,
		sessions:  make(map[string]*sessionHandle),
	}

	logrus.WithFields(logrus.Fields{
		"function":   "New",
		"encryption": opts.EncryptionEnabled,
		"chunk_size": opts.ChunkSize,
	}).Info("Created PeerDrop instance")

	return p, nil
}

// keyStore returns the rendezvous key store, creating it on first use.
func (p *PeerDrop) keyStore() *rendezvous.KeyStore {
	p.storeOnce.Do(func() {
		if p.store == nil {
			p.store = rendezvous.NewKeyStore()
		}
	})
	return p.store
}

// GenerateCode builds the shareable rendezvous code carrying the given
// signaling blob, sealed under a fresh session key, plus the local public
// key and transfer preferences.
func (p *PeerDrop) GenerateCode(signal []byte) (string, error) {
	key, err := p.keyStore().EnsureFresh(p.opts.SessionKeyTTL)
	if err != nil {
		return "", transfer.NewCrypto("generate code", err)
	}

	sealed, err := rendezvous.Seal(key.Key, signal)
	if err != nil {
		return "", transfer.NewCrypto("generate code", err)
	}

	der, err := crypto.ExportPublicKey(p.pair.Public)
	if err != nil {
		return "", transfer.NewCrypto("generate code", err)
	}

	code := rendezvous.NewCode(sealed, p.opts.ICEServer, p.opts.ChunkSize, der, p.opts.ThroughputProbe)
	return rendezvous.Encode(code)
}

// openCode decodes a peer's rendezvous code and opens its sealed signal
// with the current session key.
func (p *PeerDrop) openCode(peerCode string) (rendezvous.Code, []byte, error) {
	code, err := rendezvous.Decode(peerCode)
	if err != nil {
		return rendezvous.Code{}, nil, transfer.NewValidation("decode code", err)
	}

	sealed, err := code.SealedSignal()
	if err != nil {
		return rendezvous.Code{}, nil, transfer.NewValidation("decode code", err)
	}

	key, err := p.keyStore().EnsureFresh(p.opts.SessionKeyTTL)
	if err != nil {
		return rendezvous.Code{}, nil, transfer.NewCrypto("open code", err)
	}

	signal, err := rendezvous.Open(key.Key, sealed)
	if err != nil {
		return rendezvous.Code{}, nil, transfer.NewCrypto("open code", err)
	}

	return code, signal, nil
}

// InitiateSend starts sending data to the peer identified by peerCode.
// It returns as soon as the channel is negotiated; the transfer itself
// runs in the background and completes through the returned session.
func (p *PeerDrop) InitiateSend(ctx context.Context, file FileMetadata, data []byte, peerCode string) (*transfer.Session, error) {
	if err := limits.ValidateFileSize(uint64(len(data)), p.opts.MaxFileSize); err != nil {
		return nil, transfer.NewValidation("initiate send", err)
	}

	code, signal, err := p.openCode(peerCode)
	if err != nil {
		return nil, err
	}

	peerKeyDER, err := code.PublicKeyDER()
	if err != nil {
		return nil, transfer.NewValidation("initiate send", err)
	}
	peerKey, err := crypto.ImportPublicKey(peerKeyDER)
	if err != nil {
		return nil, transfer.NewCrypto("initiate send", err)
	}

	session := transfer.NewSession(transfer.RoleSender, uint64(len(data)))
	if err := session.Advance(transfer.StateWaitingAccept); err != nil {
		return nil, transfer.NewValidation("initiate send", err)
	}

	ch, err := p.openChannel(ctx, signal, code)
	if err != nil {
		session.Fail(err)
		return nil, err
	}

	var key, wrapped []byte
	if p.opts.EncryptionEnabled {
		key, err = crypto.GenerateSymmetricKey()
		if err != nil {
			session.Fail(transfer.NewCrypto("initiate send", err))
			return nil, session.Err()
		}
		wrapped, err = p.keys.WrapKey(key, peerKey)
		if err != nil {
			session.Fail(transfer.NewCrypto("initiate send", err))
			return nil, session.Err()
		}
		session.SetKey(key)
	}

	chunkSize := p.opts.ChunkSize
	if chunkSize == 0 {
		// The accept side may request a specific chunk size in its code.
		if peerChunk, err := code.ChunkSizeBytes(); err == nil && peerChunk > 0 {
			chunkSize = peerChunk
		}
	}

	sender := transfer.NewSender(session, ch, p.keys, key, wrapped, transfer.SenderConfig{
		ChunkSize:        chunkSize,
		Parallelism:      p.opts.Parallelism,
		RetryAttempts:    p.opts.RetryAttempts,
		LowWaterMark:     p.opts.LowWaterMark,
		Encrypt:          p.opts.EncryptionEnabled,
		CompressionLevel: p.opts.CompressionLevel,
		Probe:            p.opts.ThroughputProbe || code.HighSpeedEnabled(),
		Progress:         p.opts.ProgressFunc,
	})

	runCtx, cancel := context.WithCancel(ctx)
	p.track(session, cancel, ch)

	meta := transfer.Meta{
		TransferID:  uuid.NewString(),
		Name:        file.Name,
		ContentType: file.ContentType,
	}

	go func() {
		defer cancel()
		if err := sender.Run(runCtx, meta, data); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "InitiateSend",
				"session":  session.ID,
				"error":    err.Error(),
			}).Error("Outbound transfer terminated")
		}
		p.untrack(session)
	}()

	return session, nil
}

// AcceptIncoming opens the inbound side of a transfer from the peer
// identified by peerCode. On success the deliver callback receives the
// plaintext: exactly once with the whole file, or repeatedly with each
// in-order chunk when the Streaming option is set. Completion and failure
// are observed through the returned session.
func (p *PeerDrop) AcceptIncoming(ctx context.Context, peerCode string, deliver func(transfer.Meta, []byte)) (*transfer.Session, error) {
	code, signal, err := p.openCode(peerCode)
	if err != nil {
		return nil, err
	}

	session := transfer.NewSession(transfer.RoleReceiver, 0)

	ch, err := p.openChannel(ctx, signal, code)
	if err != nil {
		session.Fail(err)
		return nil, err
	}

	receiver := transfer.NewReceiver(session, p.keys, p.pair.Private, transfer.ReceiverConfig{
		MaxFileSize:  p.opts.MaxFileSize,
		ChunkTimeout: p.opts.PerChunkTimeout,
		Streaming:    p.opts.Streaming,
		Progress:     p.opts.ProgressFunc,
	}, deliver)

	p.track(session, func() {}, ch)
	receiver.Attach(ch)

	go func() {
		<-session.Done()
		p.untrack(session)
	}()

	return session, nil
}

// openChannel runs the negotiator under the handshake timeout.
func (p *PeerDrop) openChannel(ctx context.Context, signal []byte, code rendezvous.Code) (channel.DataChannel, error) {
	hsCtx, cancel := context.WithTimeout(ctx, p.opts.HandshakeTimeout)
	defer cancel()

	ch, err := p.negotiate(hsCtx, signal, code.ICEServer)
	if err != nil {
		if hsCtx.Err() != nil {
			return nil, transfer.NewTimeout("negotiate channel", err)
		}
		return nil, transfer.NewTransport("negotiate channel", err)
	}
	return ch, nil
}

// Cancel stops an active transfer. The session moves to Cancelled unless
// it already reached a terminal state.
func (p *PeerDrop) Cancel(session *transfer.Session) {
	p.mu.Lock()
	handle, ok := p.sessions[session.ID]
	p.mu.Unlock()

	if ok {
		handle.cancel()
	}

	// The receive side has no context to cancel; cut the channel and
	// settle the state directly.
	if session.Role == transfer.RoleReceiver {
		if err := session.Advance(transfer.StateCancelled); err == nil && ok {
			_ = handle.ch.Close()
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Cancel",
		"session":  session.ID,
		"state":    session.State().String(),
	}).Info("Cancelled transfer session")
}

// Progress reports a session's completion percentage in [0, 100].
func (p *PeerDrop) Progress(session *transfer.Session) float64 {
	return session.Progress()
}

// Close cancels every active session. The instance must not be used
// afterwards.
func (p *PeerDrop) Close() {
	p.mu.Lock()
	handles := make([]*sessionHandle, 0, len(p.sessions))
	for _, h := range p.sessions {
		handles = append(handles, h)
	}
	p.sessions = make(map[string]*sessionHandle)
	p.mu.Unlock()

	for _, h := range handles {
		h.cancel()
		if h.session.Role == transfer.RoleReceiver {
			if err := h.session.Advance(transfer.StateCancelled); err == nil {
				_ = h.ch.Close()
			}
		}
	}
}

func (p *PeerDrop) track(session *transfer.Session, cancel context.CancelFunc, ch channel.DataChannel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[session.ID] = &sessionHandle{session: session, cancel: cancel, ch: ch}
}

func (p *PeerDrop) untrack(session *transfer.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, session.ID)
}
