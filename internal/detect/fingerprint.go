// Package detect runs detection rules on a schedule and turns their hits
// into deduplicated alerts.
package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// Fingerprint derives the stable dedup key for an alert: the rule id plus the
// entity tuple the hit was observed against. The same rule firing on the same
// entities always maps to the same fingerprint.
func Fingerprint(ruleID string, entities ...string) string {
	h := sha256.New()
	h.Write([]byte(ruleID))
	for _, e := range entities {
		h.Write([]byte{'|'})
		h.Write([]byte(strings.ToLower(strings.TrimSpace(e))))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// keyedMutex serializes work per key so two evaluations of the same
// fingerprint cannot interleave their read-modify-write.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
