package taskpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tutu-network/gridpool/internal/domain"
)

// RunWorker is the worker loop: wait for a message, evaluate TASKs with
// cost and reply with a RESULT, return on TERMINATE. It never initiates a
// message of its own. The count of evaluated tasks is returned.
func RunWorker(ctx context.Context, conn domain.WorkerConn, cost domain.CostFunc) (int, error) {
	done := 0
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return done, ctx.Err()
			}
			return done, fmt.Errorf("%w: receive: %w", domain.ErrTransport, err)
		}

		switch msg.Kind {
		case domain.KindTerminate:
			return done, nil
		case domain.KindTask:
			v := cost(msg.Task.X, msg.Task.Y)
			if err := conn.Send(ctx, domain.ResultMessage(v)); err != nil {
				if ctx.Err() != nil {
					return done, ctx.Err()
				}
				return done, fmt.Errorf("%w: send result for %s: %w", domain.ErrTransport, msg.Task, err)
			}
			done++
		default:
			return done, fmt.Errorf("worker received %q: %w", msg.Kind, domain.ErrProtocolViolation)
		}
	}
}

// WorkerGroup runs a set of worker loops as goroutines.
type WorkerGroup struct {
	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
	done map[domain.WorkerID]int
}

// StartWorkers launches one RunWorker per id, each on the conn returned by
// connect.
func StartWorkers(ctx context.Context, ids []domain.WorkerID, connect func(domain.WorkerID) (domain.WorkerConn, error), cost domain.CostFunc) *WorkerGroup {
	g := &WorkerGroup{done: make(map[domain.WorkerID]int, len(ids))}
	for _, id := range ids {
		conn, err := connect(id)
		if err != nil {
			g.record(id, 0, err)
			continue
		}
		g.wg.Add(1)
		go func(id domain.WorkerID, conn domain.WorkerConn) {
			defer g.wg.Done()
			n, err := RunWorker(ctx, conn, cost)
			g.record(id, n, err)
		}(id, conn)
	}
	return g
}

func (g *WorkerGroup) record(id domain.WorkerID, n int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.done[id] = n
	if err != nil {
		g.errs = append(g.errs, fmt.Errorf("%s: %w", id, err))
	}
}

// Wait blocks until every worker has returned and joins their errors.
func (g *WorkerGroup) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return errors.Join(g.errs...)
}

// Completed returns how many tasks each worker evaluated. Call after Wait.
func (g *WorkerGroup) Completed() map[domain.WorkerID]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[domain.WorkerID]int, len(g.done))
	for id, n := range g.done {
		out[id] = n
	}
	return out
}
