package app

import (
	"errors"

	"warden/cmd/security/fingerprint"
)

// ValidateSecurityConfig enforces the startup security policy.
//
// Fail-fast: a deployment that asked for keyed fingerprints must not come up
// with the unkeyed dev fallback.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireFingerprintKey {
		return nil
	}

	// 32 bytes minimum. Bytes, not runes: the key is used as raw MAC key
	// material.
	if _, err := fingerprint.KeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, fingerprint.ErrKeyMissing):
			return errors.New("security policy: WARDEN_REQUIRE_FINGERPRINT_KEY=true but WARDEN_FINGERPRINT_KEY is missing")
		case errors.Is(err, fingerprint.ErrKeyTooShort):
			return errors.New("security policy: WARDEN_REQUIRE_FINGERPRINT_KEY=true but WARDEN_FINGERPRINT_KEY is too short (min 32 bytes)")
		case errors.Is(err, fingerprint.ErrKeyTooLong):
			return errors.New("security policy: WARDEN_REQUIRE_FINGERPRINT_KEY=true but WARDEN_FINGERPRINT_KEY exceeds the 64-byte MAC key limit")
		default:
			return err
		}
	}

	if !fingerprint.KeyedEnabled() {
		return errors.New("security policy: WARDEN_REQUIRE_FINGERPRINT_KEY=true but fingerprint hashing is not in keyed mode")
	}

	return nil
}
