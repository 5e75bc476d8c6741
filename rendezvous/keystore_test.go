package rendezvous

import (
	"bytes"
	"testing"
	"time"
)

// fakeClock is a settable TimeProvider for timeout tests.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

func TestRotateProducesDistinctKeys(t *testing.T) {
	store := NewKeyStore()

	first, err := store.Rotate()
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	firstKey := append([]byte(nil), first.Key...)

	second, err := store.Rotate()
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	if first.ID == second.ID {
		t.Error("rotation reused a key ID")
	}
	if bytes.Equal(firstKey, second.Key) {
		t.Error("rotation reused key material")
	}

	// The replaced key's material must be wiped, not mutated in place.
	if !bytes.Equal(first.Key, make([]byte, len(first.Key))) {
		t.Error("previous key material was not wiped")
	}
}

func TestEnsureFreshStableWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	store := NewKeyStore()
	store.SetTimeProvider(clock)

	first, err := store.EnsureFresh(time.Minute)
	if err != nil {
		t.Fatalf("EnsureFresh failed: %v", err)
	}

	clock.advance(30 * time.Second)

	second, err := store.EnsureFresh(time.Minute)
	if err != nil {
		t.Fatalf("EnsureFresh failed: %v", err)
	}

	if first.ID != second.ID {
		t.Error("EnsureFresh rotated within the TTL")
	}
}

func TestEnsureFreshRotatesAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	store := NewKeyStore()
	store.SetTimeProvider(clock)

	first, err := store.EnsureFresh(time.Minute)
	if err != nil {
		t.Fatalf("EnsureFresh failed: %v", err)
	}

	clock.advance(time.Minute + time.Second)

	second, err := store.EnsureFresh(time.Minute)
	if err != nil {
		t.Fatalf("EnsureFresh failed: %v", err)
	}

	if first.ID == second.ID {
		t.Error("EnsureFresh did not rotate after the TTL expired")
	}
}

func TestEnsureFreshFailSafeOnBadTimestamp(t *testing.T) {
	store := NewKeyStore()

	first, err := store.Rotate()
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	// Simulate unreadable key state from the rendezvous point.
	store.mu.Lock()
	store.current = &SessionKey{ID: first.ID, Key: first.Key}
	store.mu.Unlock()

	fresh, err := store.EnsureFresh(time.Hour)
	if err != nil {
		t.Fatalf("EnsureFresh failed: %v", err)
	}
	if fresh.ID == first.ID {
		t.Error("EnsureFresh kept a key with a zero timestamp")
	}
}

func TestCurrentBeforeRotation(t *testing.T) {
	if NewKeyStore().Current() != nil {
		t.Error("Current() before rotation should be nil")
	}
}
