// Package session tracks server-side sessions for authenticated principals.
//
// A session represents one client device, identified by a fingerprint of the
// client IP and user agent. Establishing a session reuses the device's active
// session instead of inserting a new row, enforces the per-principal cap
// atomically in the store, and binds a fresh token pair to the row. Logout
// revokes the bound tokens first and deactivates the row second: the session
// count is bookkeeping, token revocation is the security boundary.
//
// Two Store implementations are provided: PostgreSQL for production and an
// in-memory store for dev mode and tests.
//
// Transport (HTTP) integration is intentionally out of scope here.
package session
