package revocation

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks store I/O failures (connectivity, timeouts) so callers
// can apply their configured fail-open/fail-closed policy.
var ErrUnavailable = errors.New("revocation store unavailable")

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
