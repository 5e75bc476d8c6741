package transfer

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerdrop/crypto"
)

// Role indicates which end of a transfer a session represents.
type Role uint8

const (
	// RoleSender represents the sending peer.
	RoleSender Role = iota
	// RoleReceiver represents the receiving peer.
	RoleReceiver
)

// String returns the role's name.
func (r Role) String() string {
	if r == RoleReceiver {
		return "receiver"
	}
	return "sender"
}

// State represents the current state of a transfer session.
type State uint8

const (
	// StatePending indicates the session exists but negotiation has not started.
	StatePending State = iota
	// StateWaitingAccept indicates the handshake code is out and the peer
	// has not yet accepted.
	StateWaitingAccept
	// StateProcessing indicates chunks are moving.
	StateProcessing
	// StateSucceeded indicates the transfer finished and was flushed.
	StateSucceeded
	// StateFailed indicates the transfer terminated on an error.
	StateFailed
	// StateCancelled indicates the caller cancelled the transfer.
	StateCancelled
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateWaitingAccept:
		return "waiting_accept"
	case StateProcessing:
		return "processing"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// ErrBadTransition indicates a state change the machine does not allow.
var ErrBadTransition = errors.New("invalid session state transition")

// validNext lists the allowed transitions out of each non-terminal state.
var validNext = map[State][]State{
	StatePending:       {StateWaitingAccept, StateProcessing, StateFailed, StateCancelled},
	StateWaitingAccept: {StateProcessing, StateFailed, StateCancelled},
	StateProcessing:    {StateSucceeded, StateFailed, StateCancelled},
}

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type systemTime struct{}

func (systemTime) Now() time.Time                  { return time.Now() }
func (systemTime) Since(t time.Time) time.Duration { return time.Since(t) }

// Session tracks one transfer from handshake to a terminal state. It is
// mutated exclusively by its owning engine; a terminal transition releases
// key material and closes the done channel.
type Session struct {
	ID   string
	Role Role

	mu          sync.Mutex
	state       State
	chunkSize   int
	key         []byte
	total       uint64
	transferred uint64
	startedAt   time.Time
	lastChunkAt time.Time
	bitrate     float64
	err         error
	clock       TimeProvider
	done        chan struct{}
}

// NewSession creates a pending session for the given role and total
// plaintext size. A total of zero is allowed and may be set later, once
// metadata arrives.
func NewSession(role Role, total uint64) *Session {
	s := &Session{
		ID:    uuid.NewString(),
		Role:  role,
		state: StatePending,
		total: total,
		clock: systemTime{},
		done:  make(chan struct{}),
	}
	s.startedAt = s.clock.Now()
	s.lastChunkAt = s.startedAt

	logrus.WithFields(logrus.Fields{
		"function": "NewSession",
		"session":  s.ID,
		"role":     role.String(),
		"total":    total,
	}).Info("Created transfer session")

	return s
}

// SetTimeProvider sets a custom clock for deterministic testing.
func (s *Session) SetTimeProvider(tp TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = tp
	s.lastChunkAt = tp.Now()
}

// Advance moves the session to the given state, enforcing the transition
// table. A terminal target releases owned resources and unblocks Wait.
func (s *Session) Advance(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, next := range validNext[s.state] {
		if next == to {
			logrus.WithFields(logrus.Fields{
				"function": "Advance",
				"session":  s.ID,
				"from":     s.state.String(),
				"to":       to.String(),
			}).Debug("Session state transition")

			s.state = to
			if to.Terminal() {
				s.releaseLocked()
				close(s.done)
			}
			return nil
		}
	}

	return ErrBadTransition
}

// Fail records err and moves the session to Failed in one step, so two
// racing failures cannot interleave. The first terminal error wins; later
// failures on an already-terminal session are ignored.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.state = StateFailed
	s.releaseLocked()
	close(s.done)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Fail",
		"session":  s.ID,
		"error":    err,
	}).Error("Transfer session failed")
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SetKey hands the session exclusive ownership of the symmetric transfer key.
func (s *Session) SetKey(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = key
}

// Key returns the session's transfer key, or nil after release.
func (s *Session) Key() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// SetChunkSize records the negotiated chunk size.
func (s *Session) SetChunkSize(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkSize = size
}

// ChunkSize returns the negotiated chunk size.
func (s *Session) ChunkSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkSize
}

// SetTotal records the declared stream size once metadata is known.
func (s *Session) SetTotal(total uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = total
}

// Total returns the declared stream size.
func (s *Session) Total() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// AddBytes advances the transferred-byte counter and updates the bitrate
// estimate. The counter is monotonically non-decreasing.
func (s *Session) AddBytes(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transferred += n

	now := s.clock.Now()
	elapsed := s.clock.Since(s.lastChunkAt).Seconds()
	if elapsed > 0 {
		instant := float64(n) / elapsed
		// Exponential moving average, same smoothing either direction.
		if s.bitrate == 0 {
			s.bitrate = instant
		} else {
			s.bitrate = 0.7*s.bitrate + 0.3*instant
		}
	}
	s.lastChunkAt = now
}

// BytesTransferred returns the transferred-byte counter.
func (s *Session) BytesTransferred() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferred
}

// Progress returns completion as a percentage in [0, 100].
func (s *Session) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.total == 0 {
		if s.state == StateSucceeded {
			return 100.0
		}
		return 0.0
	}

	pct := float64(s.transferred) / float64(s.total) * 100.0
	if pct > 100.0 {
		pct = 100.0
	}
	return pct
}

// Bitrate returns the instantaneous transfer rate estimate in bytes/second.
func (s *Session) Bitrate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitrate
}

// StartedAt returns the session creation time.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Wait blocks until the session reaches a terminal state or the context
// ends, and returns the terminal error, if any.
func (s *Session) Wait(done <-chan struct{}) error {
	select {
	case <-s.done:
		return s.Err()
	case <-done:
		return errors.New("wait aborted")
	}
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// releaseLocked wipes key material. Caller holds s.mu.
func (s *Session) releaseLocked() {
	if s.key != nil {
		crypto.ZeroBytes(s.key)
		s.key = nil
	}
}
