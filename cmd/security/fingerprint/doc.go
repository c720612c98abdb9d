// Package fingerprint provides client-fingerprint primitives for Warden.
//
// It is the single source of truth for how a client's network context is
// reduced to the stable fingerprint that session matching keys on.
//
// Design goals:
// - Default dev mode: unkeyed BLAKE2b-256 over the canonical client context.
// - Production-enforced mode: keyed BLAKE2b-256 (MAC) when policy requires it,
//   so fingerprints cannot be precomputed off the wire.
// - Stable 64-char hex output for storage and index-friendly equality.
//
// Environment:
// - WARDEN_FINGERPRINT_KEY: when set, enables keyed mode.
// Policy:
//   - If RequireFingerprintKey=true, callers MUST enforce a minimum key size
//     (>= 32 bytes) and MUST use keyed mode (no unkeyed fallback).
package fingerprint
