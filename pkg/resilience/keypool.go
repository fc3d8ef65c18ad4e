// Package resilience provides the retry schedule, key rotation, and circuit
// breaking used by the streaming client.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrNoKeys is returned when a key pool is built without any key.
var ErrNoKeys = errors.New("keypool: no keys configured")

// KeyPool manages a pool of API keys with round-robin rotation
// and per-key rate-limit awareness.
type KeyPool struct {
	mu      sync.Mutex
	keys    []keyEntry
	current int
	now     func() time.Time
}

type keyEntry struct {
	Key       string
	ResetAt   time.Time // When the rate limit resets
	Exhausted bool      // Temporarily exhausted
}

// NewKeyPool creates a key pool from a list of API keys. Empty entries are
// ignored; a pool without keys is a configuration error.
func NewKeyPool(keys []string) (*KeyPool, error) {
	entries := make([]keyEntry, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		entries = append(entries, keyEntry{Key: k})
	}
	if len(entries) == 0 {
		return nil, ErrNoKeys
	}
	return &KeyPool{keys: entries, now: time.Now}, nil
}

// Next returns the next available API key using round-robin selection.
// It skips keys that are currently exhausted (rate-limited). When every key
// is parked the one that resets first is returned, since the caller has
// already waited out its own backoff.
func (kp *KeyPool) Next() string {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	n := len(kp.keys)
	now := kp.now()

	for i := 0; i < n; i++ {
		idx := (kp.current + i) % n
		entry := &kp.keys[idx]

		// Reset exhausted keys whose cooldown has passed
		if entry.Exhausted && !now.Before(entry.ResetAt) {
			entry.Exhausted = false
		}

		if !entry.Exhausted {
			kp.current = (idx + 1) % n
			return entry.Key
		}
	}

	earliest := 0
	for i := 1; i < n; i++ {
		if kp.keys[i].ResetAt.Before(kp.keys[earliest].ResetAt) {
			earliest = i
		}
	}
	kp.current = (earliest + 1) % n
	return kp.keys[earliest].Key
}

// MarkRateLimited marks a key as rate-limited with the given reset time.
func (kp *KeyPool) MarkRateLimited(key string, resetAt time.Time) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	for i := range kp.keys {
		if kp.keys[i].Key == key {
			kp.keys[i].Exhausted = true
			kp.keys[i].ResetAt = resetAt
			return
		}
	}
}

// Available returns how many keys are not currently parked.
func (kp *KeyPool) Available() int {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	now := kp.now()
	n := 0
	for _, e := range kp.keys {
		if !e.Exhausted || !now.Before(e.ResetAt) {
			n++
		}
	}
	return n
}

// Size returns the number of keys in the pool.
func (kp *KeyPool) Size() int {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	return len(kp.keys)
}
