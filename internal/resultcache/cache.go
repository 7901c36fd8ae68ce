// Package resultcache caches transcription and summary results keyed by
// a digest of the input, so repeated uploads of the same media skip the
// upstream call.
package resultcache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Entry is one cached result.
type Entry struct {
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	Model     string    `json:"model"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Cache interface {
	Get(key string) (Entry, bool)
	Put(key string, entry Entry)
}

// Key digests the operation kind, locale, and input payload. The payload
// is hashed rather than stored so audio bytes never become map keys.
func Key(kind, locale, payload string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(locale))
	h.Write([]byte{0})
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
