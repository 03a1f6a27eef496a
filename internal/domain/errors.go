package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure: no infrastructure dependency.

var (
	// Configuration errors
	ErrInsufficientWorkers = errors.New("at least one worker is required; ran sequentially instead")
	ErrInvalidGrid         = errors.New("grid size must be at least 1")
	ErrUnknownCost         = errors.New("unknown cost function")
	ErrUnknownMode         = errors.New("unknown run mode")
	ErrUnknownCodec        = errors.New("unknown wire codec")
	ErrTooManyWorkers      = errors.New("too many workers")

	// Transport errors
	ErrTransport       = errors.New("transport failure")
	ErrTransportClosed = errors.New("transport closed")
	ErrUnknownWorker   = errors.New("unknown worker")

	// Protocol errors
	ErrProtocolViolation = errors.New("protocol violation")

	// Deadline extension
	ErrNoLiveWorkers = errors.New("every worker missed its task deadline")

	// Store errors
	ErrRunNotFound     = errors.New("run not found")
	ErrHistoryDisabled = errors.New("run history is disabled (storage.record = false)")
)

// PeerError is a failure confined to one worker's connection. The run may
// survive it if that worker's task can go elsewhere.
type PeerError struct {
	Worker WorkerID
	Err    error
}

func (e *PeerError) Error() string { return e.Err.Error() }
func (e *PeerError) Unwrap() error { return e.Err }
