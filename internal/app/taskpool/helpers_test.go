package taskpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tutu-network/gridpool/internal/domain"
	"github.com/tutu-network/gridpool/internal/infra/grid"
	"github.com/tutu-network/gridpool/internal/infra/transport/local"
)

// event is one message seen at the coordinator's end of the transport.
type event struct {
	recv   bool
	worker domain.WorkerID
	msg    domain.Message
}

// recorder wraps a transport and logs every successful Send and ReceiveAny
// in the order the Master performed them.
type recorder struct {
	domain.CoordinatorTransport

	mu          sync.Mutex
	events      []event
	inFlight    int
	maxInFlight int
}

func newRecorder(tr domain.CoordinatorTransport) *recorder {
	return &recorder{CoordinatorTransport: tr}
}

func (r *recorder) Send(ctx context.Context, to domain.WorkerID, msg domain.Message) error {
	if err := r.CoordinatorTransport.Send(ctx, to, msg); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{worker: to, msg: msg})
	if msg.Kind == domain.KindTask {
		r.inFlight++
		r.maxInFlight = max(r.maxInFlight, r.inFlight)
	}
	return nil
}

func (r *recorder) ReceiveAny(ctx context.Context) (domain.Envelope, error) {
	env, err := r.CoordinatorTransport.ReceiveAny(ctx)
	if err != nil {
		return env, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{recv: true, worker: env.From, msg: env.Msg})
	if env.Msg.Kind == domain.KindResult {
		r.inFlight--
	}
	return env, nil
}

// sent returns the messages delivered to w, in order.
func (r *recorder) sent(w domain.WorkerID) []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Message
	for _, e := range r.events {
		if !e.recv && e.worker == w {
			out = append(out, e.msg)
		}
	}
	return out
}

// taskOrder returns the task indices in the order they were sent.
func (r *recorder) taskOrder() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, e := range r.events {
		if !e.recv && e.msg.Kind == domain.KindTask {
			out = append(out, e.msg.Task.Index)
		}
	}
	return out
}

func mustGrid(t *testing.T, size int) grid.Space {
	t.Helper()
	s, err := grid.New(size)
	if err != nil {
		t.Fatalf("grid.New(%d) error: %v", size, err)
	}
	return s
}

// sequentialSum is the reference answer: cost over every cell in order.
func sequentialSum(space domain.TaskSpace, cost domain.CostFunc) float64 {
	var s Sum
	for i := 0; i < space.Len(); i++ {
		t := space.At(i)
		s.Add(cost(t.X, t.Y))
	}
	return s.Value()
}

// runLocal runs a dynamic schedule over in-process workers.
func runLocal(t *testing.T, space domain.TaskSpace, n int, cost domain.CostFunc, opts ...Option) (Report, *recorder, error) {
	t.Helper()
	tr := local.New(n)
	defer tr.Close()
	rec := newRecorder(tr)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	g := StartWorkers(ctx, tr.Workers(), tr.Conn, cost)
	rep, err := NewMaster(space, rec, opts...).Run(ctx)
	if err != nil {
		tr.Close()
		_ = g.Wait()
		return rep, rec, err
	}
	if werr := g.Wait(); werr != nil {
		t.Fatalf("workers: %v", werr)
	}
	return rep, rec, nil
}

// assertTerminatedOnce checks every worker got exactly one TERMINATE and
// nothing after it.
func assertTerminatedOnce(t *testing.T, rec *recorder, workers int) {
	t.Helper()
	for i := 1; i <= workers; i++ {
		w := domain.WorkerID(i)
		msgs := rec.sent(w)
		n := 0
		for _, m := range msgs {
			if m.Kind == domain.KindTerminate {
				n++
			}
		}
		if n != 1 {
			t.Errorf("%s received %d TERMINATE, want 1", w, n)
			continue
		}
		if msgs[len(msgs)-1].Kind != domain.KindTerminate {
			t.Errorf("%s: last message is %s, want TERMINATE", w, msgs[len(msgs)-1].Kind)
		}
	}
}
