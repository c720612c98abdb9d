// Package api exposes the warden session endpoints over HTTP.
//
// The surface is deliberately small: POST /sessions turns a verified
// identity assertion into a session with a bearer pair, POST
// /sessions/refresh rotates a refresh token, DELETE /sessions/current logs
// out, GET /sessions lists the caller's devices, and DELETE /sessions logs
// out everywhere.
//
// Every error leaves as {"error":{"code","message"}} with a stable code, so
// clients can distinguish an expired token (re-auth silently via refresh)
// from a revoked one (session is gone, log in again) from a malformed one.
package api
