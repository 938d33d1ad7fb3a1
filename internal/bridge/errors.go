package bridge

import "errors"

// Error kinds surfaced by the bridge session (spec.md §6), named as
// sentinels rather than types so callers can compare with errors.Is.
var (
	ErrNotConnected = errors.New("bridge: no active reader connection")
	ErrTimeout      = errors.New("bridge: request timed out")
	ErrCancelled    = errors.New("bridge: request cancelled (connection replaced or closed)")
	ErrProtocol     = errors.New("bridge: protocol violation from reader")
)
