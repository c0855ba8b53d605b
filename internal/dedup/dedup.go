// Package dedup derives the fingerprint that names an event's identity in
// the idempotency cache.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
)

// sep is the ASCII unit separator; it cannot appear in any identity field
// that survives JSON decoding unescaped.
const sep = "\x1f"

// Fingerprint returns the lowercase hex SHA-256 of the event identity
// (user_id, kind, timestamp, source).
func Fingerprint(ev event.Event) string {
	id := ev.Identity()
	sum := sha256.Sum256([]byte(strings.Join([]string{
		id.UserID, string(id.Kind), id.Timestamp, string(id.Source),
	}, sep)))
	return hex.EncodeToString(sum[:])
}
