// internal/rollback/errors.go
package rollback

import "errors"

// Fatal precondition errors abort before any mutation.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// ErrTruncationFailed wraps a failure of the one mandatory mutation step.
// When it surfaces, best-effort restoration has already run and the caller
// must treat the operation as partially applied.
var ErrTruncationFailed = errors.New("message truncation failed")
