package rendezvous

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerdrop/crypto"
)

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

type systemTime struct{}

func (systemTime) Now() time.Time { return time.Now() }

// SessionKey is one generation of the rotating rendezvous key. Instances
// are immutable; rotation replaces the whole value.
type SessionKey struct {
	ID        string
	Key       []byte
	CreatedAt time.Time
}

// Age returns how old the key is according to the given clock.
func (k *SessionKey) Age(now time.Time) time.Duration {
	return now.Sub(k.CreatedAt)
}

// KeyStore owns the rotating session key shared across transfers that
// negotiate through the same rendezvous point. One store is constructed
// per orchestrator; initialize-once semantics are a constructor-time
// guarantee, not a runtime check.
type KeyStore struct {
	mu      sync.Mutex
	current *SessionKey
	clock   TimeProvider
}

// NewKeyStore creates an empty session key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{clock: systemTime{}}
}

// SetTimeProvider sets a custom clock for deterministic testing.
func (s *KeyStore) SetTimeProvider(tp TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = tp
}

// Rotate generates a fresh session key, replaces the current one, and
// timestamps it. The previous key material is wiped.
func (s *KeyStore) Rotate() (*SessionKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotateLocked()
}

func (s *KeyStore) rotateLocked() (*SessionKey, error) {
	keyBytes, err := crypto.GenerateSymmetricKey()
	if err != nil {
		return nil, fmt.Errorf("rotate session key: %w", err)
	}

	if s.current != nil {
		crypto.ZeroBytes(s.current.Key)
	}

	s.current = &SessionKey{
		ID:        uuid.NewString(),
		Key:       keyBytes,
		CreatedAt: s.clock.Now(),
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Rotate",
		"key_id":     s.current.ID,
		"created_at": s.current.CreatedAt,
	}).Info("Rotated session key")

	return s.current, nil
}

// EnsureFresh returns the current session key, rotating first when no key
// exists, the key's age exceeds ttl, or its timestamp is unusable. Any
// doubt about key state resolves to rotation.
func (s *KeyStore) EnsureFresh(ttl time.Duration) (*SessionKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.CreatedAt.IsZero() || s.current.Age(s.clock.Now()) > ttl {
		return s.rotateLocked()
	}

	return s.current, nil
}

// Current returns the current session key, or nil before the first rotation.
func (s *KeyStore) Current() *SessionKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
