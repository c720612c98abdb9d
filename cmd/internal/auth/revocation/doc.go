// Package revocation tracks invalidated token IDs until their natural expiry.
//
// The store is the cross-process source of truth for "is this token dead":
// any process that revokes a token ID here makes it invalid for every other
// process that checks, regardless of the token's signature or expiry.
//
// Entries only need to outlive the tokens they invalidate, so every write
// carries the token's expiry and the store drops entries past it.
package revocation
