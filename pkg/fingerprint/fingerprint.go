// Package fingerprint derives a one-way hash of coarse device and browser
// signals. The hash binds a credential to "same device class, same day" as a
// low-assurance heuristic; it is NOT a device identity and must never be
// treated as a cryptographic guarantee. A legitimate user changing networks
// or browsers, or simply crossing a UTC day boundary, produces a new value.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Signals carries the device and browser attributes fed into the hash.
// Fields left empty hash as empty strings, so partial signal sets still
// produce stable values for the same device.
type Signals struct {
	UserAgent        string
	IP               string
	ScreenResolution string
	Timezone         string
	Language         string
	Platform         string
}

// Compute hashes the signals together with the issue date (UTC day
// granularity). The browser family is derived from the user agent rather
// than hashed raw so that minor version bumps do not rotate the value.
func Compute(s Signals, issuedAt time.Time) string {
	parts := []string{
		BrowserFamily(s.UserAgent),
		s.IP,
		s.ScreenResolution,
		s.Timezone,
		s.Language,
		s.Platform,
		issuedAt.UTC().Format("2006-01-02"),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// BrowserFamily extracts a coarse browser family name from a user agent.
// Order matters: Edge and Opera embed "Chrome", Chrome embeds "Safari".
func BrowserFamily(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "edg/"), strings.Contains(ua, "edge"):
		return "edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		return "opera"
	case strings.Contains(ua, "firefox"):
		return "firefox"
	case strings.Contains(ua, "chrome"):
		return "chrome"
	case strings.Contains(ua, "safari"):
		return "safari"
	case ua == "":
		return "unknown"
	default:
		return "other"
	}
}
