package domain

import "context"

// ─── Transport Interfaces ───────────────────────────────────────────────────
// The scheduler core depends only on these. Implementations live under
// infra/transport (in-process channels, TCP).

// CoordinatorTransport is the coordinator's end of the transport.
type CoordinatorTransport interface {
	// Workers returns the connected workers in priming order.
	Workers() []WorkerID

	// Send delivers msg to one worker.
	Send(ctx context.Context, to WorkerID, msg Message) error

	// ReceiveAny blocks until any worker's message arrives.
	ReceiveAny(ctx context.Context) (Envelope, error)

	// Close releases the transport. Safe to call more than once.
	Close() error
}

// WorkerConn is a worker's end of the transport. Workers only ever talk to
// the coordinator.
type WorkerConn interface {
	Receive(ctx context.Context) (Message, error)
	Send(ctx context.Context, msg Message) error
}

// RunStore persists run history.
type RunStore interface {
	InsertRun(rec RunRecord) error
	GetRun(id string) (*RunRecord, error)
	ListRuns(limit int) ([]RunRecord, error)
}
