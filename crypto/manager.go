package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager owns the symmetric key import cache and performs transfer-key
// wrapping. One Manager is constructed per orchestrator; there is no
// process-wide state.
type Manager struct {
	mu    sync.RWMutex
	aeads map[string]cipher.AEAD
}

// NewManager creates a key manager with an empty import cache.
func NewManager() *Manager {
	return &Manager{
		aeads: make(map[string]cipher.AEAD),
	}
}

// aeadFor returns the cached cipher handle for the given key bytes,
// importing and caching it on first use. Entries are bounded by the number
// of distinct keys a process handles.
func (m *Manager) aeadFor(key []byte) (cipher.AEAD, error) {
	m.mu.RLock()
	aead, ok := m.aeads[string(key)]
	m.mu.RUnlock()
	if ok {
		return aead, nil
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	// Another goroutine may have imported the same key meanwhile; keep the
	// first handle so cached entries stay stable.
	if existing, ok := m.aeads[string(key)]; ok {
		aead = existing
	} else {
		m.aeads[string(key)] = aead
	}
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "aeadFor",
		"cache_size": m.CachedKeys(),
	}).Debug("Imported symmetric key")

	return aead, nil
}

// CachedKeys reports how many distinct keys have been imported.
func (m *Manager) CachedKeys() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.aeads)
}

// WrapKey encrypts the raw symmetric key material with the recipient's
// RSA-OAEP public key for delivery in the transfer metadata.
func (m *Manager) WrapKey(symmetricKey []byte, recipient *rsa.PublicKey) ([]byte, error) {
	if len(symmetricKey) != KeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKeySize, len(symmetricKey))
	}
	if recipient == nil {
		return nil, fmt.Errorf("%w: nil recipient key", ErrKeyImport)
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, recipient, symmetricKey, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap: %v", ErrKeyImport, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":     "WrapKey",
		"wrapped_size": len(wrapped),
	}).Debug("Wrapped transfer key")

	return wrapped, nil
}

// UnwrapKey decrypts a wrapped transfer key with the local private key and
// imports it into the cipher cache so the first chunk decrypt is warm.
func (m *Manager) UnwrapKey(wrapped []byte, own *rsa.PrivateKey) ([]byte, error) {
	if own == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrKeyImport)
	}

	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, own, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap: %v", ErrDecryptFailed, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: unwrapped %d bytes", ErrInvalidKeySize, len(key))
	}

	if _, err := m.aeadFor(key); err != nil {
		return nil, err
	}

	return key, nil
}
