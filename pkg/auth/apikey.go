package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// KeyStore maps hashed API keys to issuer names. Thread-safe.
// Keys are stored as SHA-256 hashes so raw keys never sit in memory.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]string // SHA-256(apiKey) → issuer
}

// NewKeyStore creates a KeyStore from a comma-separated "issuer:key" string.
// Example: "registrar:sk-abc,exams-office:sk-def"
func NewKeyStore(raw string) *KeyStore {
	ks := &KeyStore{keys: make(map[string]string)}
	if raw == "" {
		return ks
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			continue
		}
		issuer := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if issuer == "" || key == "" {
			continue
		}
		ks.keys[hashKey(key)] = issuer
	}
	return ks
}

// Lookup returns the issuer for a given API key.
func (ks *KeyStore) Lookup(apiKey string) (issuer string, ok bool) {
	if apiKey == "" {
		return "", false
	}
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	issuer, ok = ks.keys[hashKey(apiKey)]
	return
}

// Len reports how many keys are configured.
func (ks *KeyStore) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}

func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
