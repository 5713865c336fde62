package recorder

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Fingerprint identifies a visitor within one window without storing the
// IP or user agent. The window is aligned to UTC, so a 24h window changes
// at midnight UTC.
func Fingerprint(salt, ip, userAgent string, t time.Time, window time.Duration) string {
	bucket := t.UTC().Truncate(window).Unix()
	return digest(salt, ip, userAgent, strconv.FormatInt(bucket, 10))
}

// EventID is the idempotency key of a click: the same code, instant and
// visitor always map to the same ID.
func EventID(code string, t time.Time, fingerprint string) string {
	return digest(code, t.UTC().Format(time.RFC3339Nano), fingerprint)
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
