package supervisor

import "go.bryk.io/mqtt-rpc/errors"

// Sentinel errors returned by the public API.
var (
	ErrDestroyed   = errors.New("supervisor: destroyed")
	ErrNotFound    = errors.New("supervisor: no such record")
	ErrTagExists   = errors.New("supervisor: attachment tag already registered")
	ErrWrongKind   = errors.New("supervisor: operation does not apply to this worker kind")
	ErrUnsupported = errors.New("supervisor: unsupported on this platform")
)
