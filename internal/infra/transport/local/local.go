// Package local is an in-process transport: every worker is a goroutine
// with its own typed inbox, and all replies fan into one shared channel
// that the coordinator reads from (receive-from-any).
package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/tutu-network/gridpool/internal/domain"
)

// inboxCap holds one task plus one TERMINATE, the most a worker can be
// owed at any time.
const inboxCap = 2

// Transport is the coordinator side of the in-process transport.
type Transport struct {
	ids     []domain.WorkerID
	inboxes map[domain.WorkerID]chan domain.Message
	replies chan domain.Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a transport with n workers, numbered 1..n.
func New(n int) *Transport {
	t := &Transport{
		inboxes: make(map[domain.WorkerID]chan domain.Message, n),
		replies: make(chan domain.Envelope, max(n, 1)),
		closed:  make(chan struct{}),
	}
	for i := 1; i <= n; i++ {
		id := domain.WorkerID(i)
		t.ids = append(t.ids, id)
		t.inboxes[id] = make(chan domain.Message, inboxCap)
	}
	return t
}

// Workers returns the worker IDs in priming order.
func (t *Transport) Workers() []domain.WorkerID {
	out := make([]domain.WorkerID, len(t.ids))
	copy(out, t.ids)
	return out
}

// Send puts msg in the worker's inbox.
func (t *Transport) Send(ctx context.Context, to domain.WorkerID, msg domain.Message) error {
	inbox, ok := t.inboxes[to]
	if !ok {
		return fmt.Errorf("send to %s: %w", to, domain.ErrUnknownWorker)
	}
	select {
	case <-t.closed:
		return domain.ErrTransportClosed
	default:
	}
	select {
	case inbox <- msg:
		return nil
	case <-t.closed:
		return domain.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReceiveAny returns the next reply from whichever worker sent first.
func (t *Transport) ReceiveAny(ctx context.Context) (domain.Envelope, error) {
	select {
	case env := <-t.replies:
		return env, nil
	case <-t.closed:
		return domain.Envelope{}, domain.ErrTransportClosed
	case <-ctx.Done():
		return domain.Envelope{}, ctx.Err()
	}
}

// Close unblocks every pending Send, Receive and ReceiveAny.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// Conn returns the worker-side endpoint for id.
func (t *Transport) Conn(id domain.WorkerID) (domain.WorkerConn, error) {
	inbox, ok := t.inboxes[id]
	if !ok {
		return nil, fmt.Errorf("conn for %s: %w", id, domain.ErrUnknownWorker)
	}
	return &conn{id: id, inbox: inbox, t: t}, nil
}

type conn struct {
	id    domain.WorkerID
	inbox chan domain.Message
	t     *Transport
}

func (c *conn) Receive(ctx context.Context) (domain.Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.t.closed:
		return domain.Message{}, domain.ErrTransportClosed
	case <-ctx.Done():
		return domain.Message{}, ctx.Err()
	}
}

func (c *conn) Send(ctx context.Context, msg domain.Message) error {
	select {
	case c.t.replies <- domain.Envelope{From: c.id, Msg: msg}:
		return nil
	case <-c.t.closed:
		return domain.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
