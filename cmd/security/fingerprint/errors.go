package fingerprint

import "errors"

// Public, stable errors for callers.
var (
	ErrKeyMissing  = errors.New("fingerprint key missing")
	ErrKeyTooShort = errors.New("fingerprint key too short")
	ErrKeyTooLong  = errors.New("fingerprint key too long")
)
