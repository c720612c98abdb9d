// Package token implements Warden's bearer-credential core.
//
// It issues and validates signed access/refresh token pairs, with the
// revocation store consulted on every validation so invalidation holds
// across processes. Refresh rotation is single-winner: the old token's ID
// is claimed in the revocation store before a new pair is handed out.
//
// Tokens are JWTs signed with HMAC-SHA256. The codec checks signature,
// expiry (with bounded clock leeway), issuer, and audience; everything
// session-shaped (lookups, caps, device bookkeeping) lives in the session
// package, not here.
package token
