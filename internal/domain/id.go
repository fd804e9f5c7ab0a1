package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// DeterministicID hashes the given parts into a short stable identifier,
// so the same page+image pair always maps to the same asset.
func DeterministicID(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// AssetID combines the target slug with the deterministic hash of the page
// and image URLs. The slug prefix keeps ids readable and partitionable.
func AssetID(slug, pageURL, imageURL string) string {
	return slug + "-" + DeterministicID(pageURL, imageURL)
}

// SanitizeFileName reduces a name to lowercase alphanumerics and dashes.
// Falls back to a random name when nothing survives.
func SanitizeFileName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	prevDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash && b.Len() > 0 {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return uuid.NewString()
	}
	return out
}
