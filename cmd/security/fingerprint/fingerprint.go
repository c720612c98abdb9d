package fingerprint

import (
	"encoding/hex"
	"net"
	"os"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	// KeyEnvVar is the env var name for the fingerprint MAC key.
	// #nosec G101 -- not a credential; it's an environment variable name.
	KeyEnvVar = "WARDEN_FINGERPRINT_KEY"

	// maxKeyBytes is the BLAKE2b keyed-mode limit.
	maxKeyBytes = 64
)

// Canonical builds the canonical client-context string that gets hashed.
// Missing parts are replaced with "-" so the shape is always two lines.
func Canonical(ip net.IP, userAgent string) string {
	ipPart := "-"
	if len(ip) > 0 {
		ipPart = ip.String()
	}
	uaPart := strings.TrimSpace(userAgent)
	if uaPart == "" {
		uaPart = "-"
	}
	return ipPart + "\n" + uaPart
}

// SumHex returns an unkeyed BLAKE2b-256 hex digest of s.
func SumHex(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SumKeyedHex returns a keyed BLAKE2b-256 (MAC) hex digest of s using key.
func SumKeyedHex(s string, key []byte) (string, error) {
	h, err := blake2b.New256(key)
	if err != nil {
		return "", err
	}
	_, _ = h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// KeyFromEnv returns the configured fingerprint key bytes (trimmed), enforcing
// a minimum byte length.
// If the env var is missing/blank -> ErrKeyMissing.
// If too short -> ErrKeyTooShort.
// If longer than the BLAKE2b keyed-mode limit -> ErrKeyTooLong.
func KeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(KeyEnvVar))
	if raw == "" {
		return nil, ErrKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrKeyTooShort
	}
	if len(b) > maxKeyBytes {
		return nil, ErrKeyTooLong
	}
	return b, nil
}

// KeyedEnabled reports whether the env key is present (non-empty after trim).
// Note: This does not enforce minimum length. Use KeyFromEnv for policy checks.
func KeyedEnabled() bool {
	raw := strings.TrimSpace(os.Getenv(KeyEnvVar))
	return raw != ""
}

// Hex reduces a client's network context to its stored fingerprint.
// Behavior:
// - If WARDEN_FINGERPRINT_KEY is set (non-empty), uses keyed BLAKE2b-256.
// - Otherwise falls back to unkeyed BLAKE2b-256 for dev.
func Hex(ip net.IP, userAgent string) string {
	canonical := Canonical(ip, userAgent)
	key, err := KeyFromEnv(0)
	if err != nil || len(key) == 0 {
		return SumHex(canonical)
	}
	out, kerr := SumKeyedHex(canonical, key)
	if kerr != nil {
		return SumHex(canonical)
	}
	return out
}

// HexRequireKey reduces a client's network context in enforced-key mode.
// It fails if the key is missing or too short.
func HexRequireKey(ip net.IP, userAgent string, minBytes int) (string, error) {
	key, err := KeyFromEnv(minBytes)
	if err != nil {
		return "", err
	}
	return SumKeyedHex(Canonical(ip, userAgent), key)
}
