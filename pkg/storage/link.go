package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LinkSigner mints and verifies expiring download tokens for archived
// reports. The token is the only credential needed to fetch the file, so
// the HMAC covers both the name and the expiry.
type LinkSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewLinkSigner constructs a signer with the provided secret and TTL.
func NewLinkSigner(secret string, ttl time.Duration) *LinkSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &LinkSigner{secret: []byte(secret), ttl: ttl}
}

// Sign returns a download token for the named report.
func (s *LinkSigner) Sign(name string) (string, time.Time, error) {
	if name == "" {
		return "", time.Time{}, fmt.Errorf("report name required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}

	expiresAt := time.Now().Add(s.ttl)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(name))
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	token := strings.Join([]string{ts, encoded, s.mac(ts, encoded)}, ".")
	return token, expiresAt, nil
}

// Verify checks signature and expiry and returns the report name.
func (s *LinkSigner) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid token format")
	}
	ts, encoded, signature := parts[0], parts[1], parts[2]

	if !hmac.Equal([]byte(s.mac(ts, encoded)), []byte(signature)) {
		return "", fmt.Errorf("invalid token signature")
	}

	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid token timestamp")
	}
	if time.Now().After(time.Unix(expUnix, 0)) {
		return "", fmt.Errorf("token expired")
	}

	name, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode report name: %w", err)
	}
	return string(name), nil
}

func (s *LinkSigner) mac(ts, encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(ts + "|" + encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
