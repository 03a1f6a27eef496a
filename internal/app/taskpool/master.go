// Package taskpool is the dynamic on-demand scheduler.
//
// The Master primes every worker with one task, then reacts to whichever
// worker finishes first: each result is answered with the next unsent task,
// or with TERMINATE once the space is exhausted. Slow workers naturally end
// up with fewer tasks. Workers run RunWorker and never talk to each other.
package taskpool

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/tutu-network/gridpool/internal/domain"
)

// Observer is told about scheduling events as they happen.
// Calls come from the Master's goroutine, one at a time.
type Observer interface {
	TaskSent(w domain.WorkerID, t domain.Task, reassigned bool)
	ResultReceived(w domain.WorkerID, latency time.Duration)
	WorkerFailed(w domain.WorkerID, t domain.Task)
	InFlight(n int)
}

type nopObserver struct{}

func (nopObserver) TaskSent(domain.WorkerID, domain.Task, bool)   {}
func (nopObserver) ResultReceived(domain.WorkerID, time.Duration) {}
func (nopObserver) WorkerFailed(domain.WorkerID, domain.Task)     {}
func (nopObserver) InFlight(int)                                  {}

// Option configures a Master.
type Option func(*Master)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(m *Master) {
		if l != nil {
			m.log = l
		}
	}
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(m *Master) {
		if o != nil {
			m.obs = o
		}
	}
}

// WithTaskTimeout gives every outstanding task a deadline. A worker that
// misses it is marked failed and its task goes to another live worker.
// Zero (the default) disables deadlines: a hung worker stalls the run.
func WithTaskTimeout(d time.Duration) Option {
	return func(m *Master) { m.timeout = d }
}

// Master owns the scheduling of one run.
type Master struct {
	space   domain.TaskSpace
	tr      domain.CoordinatorTransport
	log     *zap.Logger
	obs     Observer
	timeout time.Duration
}

// NewMaster creates a Master that will hand out space over tr.
func NewMaster(space domain.TaskSpace, tr domain.CoordinatorTransport, opts ...Option) *Master {
	m := &Master{
		space: space,
		tr:    tr,
		log:   zap.NewNop(),
		obs:   nopObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Report summarizes a finished run.
type Report struct {
	Sum           float64
	TotalTasks    int
	TasksSent     int
	TasksReceived int
	Reassigned    int
	MaxInFlight   int
	PerWorker     map[domain.WorkerID]int
	Failed        []domain.WorkerID
	Elapsed       time.Duration
}

// WorkerStats flattens PerWorker in worker order.
func (r Report) WorkerStats(workers []domain.WorkerID) []domain.WorkerStat {
	failed := make(map[domain.WorkerID]bool, len(r.Failed))
	for _, w := range r.Failed {
		failed[w] = true
	}
	stats := make([]domain.WorkerStat, 0, len(workers))
	for _, w := range workers {
		stats = append(stats, domain.WorkerStat{Worker: w, Tasks: r.PerWorker[w], Failed: failed[w]})
	}
	return stats
}

// assignment is a task a worker holds.
type assignment struct {
	task     domain.Task
	sentAt   time.Time
	deadline time.Time
	attempt  int
}

// run is the per-call mutable state of Master.Run.
type run struct {
	m       *Master
	st      *state
	workers []domain.WorkerID

	outstanding map[domain.WorkerID]assignment
	terminated  map[domain.WorkerID]bool
	failed      map[domain.WorkerID]bool
	parked      []domain.WorkerID
	requeue     reassignQueue

	perWorker   map[domain.WorkerID]int
	failedOrder []domain.WorkerID
	maxInFlight int
}

// Run drives the whole protocol: priming, the receive-from-any loop and the
// termination handshake. Transport and protocol errors abort the run.
func (m *Master) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	workers := m.tr.Workers()
	total := m.space.Len()

	r := &run{
		m:           m,
		st:          newState(total, len(workers)),
		workers:     workers,
		outstanding: make(map[domain.WorkerID]assignment, len(workers)),
		terminated:  make(map[domain.WorkerID]bool, len(workers)),
		failed:      make(map[domain.WorkerID]bool),
		perWorker:   make(map[domain.WorkerID]int, len(workers)),
	}

	if len(workers) == 0 {
		return r.report(start), domain.ErrInsufficientWorkers
	}

	if err := r.prime(ctx); err != nil {
		return r.report(start), err
	}

	for !r.st.done() {
		env, expired, err := r.receive(ctx)
		var lost *domain.PeerError
		switch {
		case err != nil && m.timeout > 0 && errors.As(err, &lost):
			err = r.lose(ctx, lost)
		case err != nil:
		case expired:
			err = r.expire(ctx)
		default:
			err = r.handle(ctx, env)
		}
		if err != nil {
			return r.report(start), err
		}
	}

	if err := r.finish(ctx); err != nil {
		return r.report(start), err
	}

	rep := r.report(start)
	m.log.Info("run complete",
		zap.Int("tasks", total),
		zap.Int("workers", len(workers)),
		zap.Int("reassigned", rep.Reassigned),
		zap.Float64("answer", rep.Sum),
		zap.Duration("elapsed", rep.Elapsed))
	return rep, nil
}

// prime hands one task to each of the first min(workers, total) workers and
// terminates the rest straight away.
func (r *run) prime(ctx context.Context) error {
	initial := min(len(r.workers), r.st.total)
	for _, w := range r.workers[:initial] {
		if err := r.sendFresh(ctx, w); err != nil {
			return err
		}
	}
	for _, w := range r.workers[initial:] {
		if err := r.terminate(ctx, w); err != nil {
			return err
		}
	}
	r.m.log.Debug("primed",
		zap.Int("assigned", initial),
		zap.Int("terminated", len(r.workers)-initial))
	return nil
}

// receive waits for the next message. With deadlines on, it also wakes up
// when the earliest outstanding deadline passes and reports expired=true.
func (r *run) receive(ctx context.Context) (env domain.Envelope, expired bool, err error) {
	rctx := ctx
	if dl, ok := r.earliestDeadline(); ok {
		var cancel context.CancelFunc
		rctx, cancel = context.WithDeadline(ctx, dl)
		defer cancel()
	}

	env, err = r.m.tr.ReceiveAny(rctx)
	if err == nil {
		return env, false, nil
	}
	if ctx.Err() != nil {
		return env, false, ctx.Err()
	}
	if rctx != ctx && errors.Is(err, context.DeadlineExceeded) {
		return env, true, nil
	}
	if errors.Is(err, domain.ErrTransport) {
		return env, false, fmt.Errorf("receive: %w", err)
	}
	return env, false, fmt.Errorf("receive: %w: %w", domain.ErrTransport, err)
}

func (r *run) earliestDeadline() (time.Time, bool) {
	if r.m.timeout <= 0 {
		return time.Time{}, false
	}
	var earliest time.Time
	for _, a := range r.outstanding {
		if earliest.IsZero() || a.deadline.Before(earliest) {
			earliest = a.deadline
		}
	}
	return earliest, !earliest.IsZero()
}

// handle processes one message from a worker.
func (r *run) handle(ctx context.Context, env domain.Envelope) error {
	w := env.From
	if env.Msg.Kind != domain.KindResult {
		return fmt.Errorf("coordinator received %q from %s: %w", env.Msg.Kind, w, domain.ErrProtocolViolation)
	}

	if r.failed[w] {
		// Its task has been handed to someone else already.
		r.m.log.Warn("discarding late result", zap.Stringer("worker", w))
		if !r.terminated[w] {
			return r.terminate(ctx, w)
		}
		return nil
	}

	a, ok := r.outstanding[w]
	if !ok {
		return fmt.Errorf("result from idle %s: %w", w, domain.ErrProtocolViolation)
	}
	delete(r.outstanding, w)
	if err := r.st.markReceived(env.Msg.Value); err != nil {
		return err
	}
	r.perWorker[w]++
	r.m.obs.ResultReceived(w, time.Since(a.sentAt))
	r.m.obs.InFlight(len(r.outstanding))

	return r.replenish(ctx, w)
}

// replenish gives w its next piece of work, or lets it go.
func (r *run) replenish(ctx context.Context, w domain.WorkerID) error {
	if e, ok := r.requeue.pop(); ok {
		return r.send(ctx, w, e.Task, e.Attempt)
	}
	if !r.st.exhausted() {
		return r.sendFresh(ctx, w)
	}
	if r.m.timeout > 0 && len(r.outstanding) > 0 {
		// Somebody else may still stall; keep w around to take over.
		r.parked = append(r.parked, w)
		return nil
	}
	return r.terminate(ctx, w)
}

// expire marks every worker past its deadline as failed and moves its task
// to the reassignment queue.
func (r *run) expire(ctx context.Context) error {
	now := time.Now()
	for _, w := range r.workers {
		a, ok := r.outstanding[w]
		if !ok || now.Before(a.deadline) {
			continue
		}
		delete(r.outstanding, w)
		r.failed[w] = true
		r.failedOrder = append(r.failedOrder, w)
		r.requeue.push(reassignEntry{Task: a.task, From: w, FailedAt: now, Attempt: a.attempt + 1})
		r.m.obs.WorkerFailed(w, a.task)
		r.m.log.Warn("worker missed task deadline",
			zap.Stringer("worker", w),
			zap.Stringer("task", a.task),
			zap.Duration("timeout", r.m.timeout))
	}

	return r.redistribute(ctx)
}

// lose handles a worker whose connection broke. With deadlines on, that is
// the same as missing one: its task, if any, goes to the reassignment queue.
// Losing a worker that already failed changes nothing.
func (r *run) lose(ctx context.Context, pe *domain.PeerError) error {
	w := pe.Worker
	if r.failed[w] || r.terminated[w] {
		r.m.log.Debug("ignoring connection loss", zap.Stringer("worker", w), zap.Error(pe))
		return nil
	}

	r.failed[w] = true
	r.terminated[w] = true // nothing left to tell it
	r.failedOrder = append(r.failedOrder, w)
	r.parked = slices.DeleteFunc(r.parked, func(p domain.WorkerID) bool { return p == w })
	if a, ok := r.outstanding[w]; ok {
		delete(r.outstanding, w)
		r.requeue.push(reassignEntry{Task: a.task, From: w, FailedAt: time.Now(), Attempt: a.attempt + 1})
		r.m.obs.WorkerFailed(w, a.task)
	}
	r.m.log.Warn("lost worker connection", zap.Stringer("worker", w), zap.Error(pe))
	return r.redistribute(ctx)
}

// redistribute hands queued tasks to parked workers. It fails the run once
// no worker is left to take them.
func (r *run) redistribute(ctx context.Context) error {
	if r.live() == 0 {
		return domain.ErrNoLiveWorkers
	}

	for r.requeue.len() > 0 && len(r.parked) > 0 {
		w := r.parked[0]
		r.parked = r.parked[1:]
		e, _ := r.requeue.pop()
		if err := r.send(ctx, w, e.Task, e.Attempt); err != nil {
			return err
		}
	}
	r.m.obs.InFlight(len(r.outstanding))
	return nil
}

// live counts workers that can still take work.
func (r *run) live() int {
	n := 0
	for _, w := range r.workers {
		if !r.failed[w] && !r.terminated[w] {
			n++
		}
	}
	return n
}

// finish sends the final TERMINATEs: to parked workers, and to failed
// workers that never came back.
func (r *run) finish(ctx context.Context) error {
	for _, w := range r.workers {
		if r.terminated[w] {
			continue
		}
		if err := r.terminate(ctx, w); err != nil {
			if r.failed[w] {
				r.m.log.Warn("could not terminate failed worker", zap.Stringer("worker", w), zap.Error(err))
				continue
			}
			return err
		}
	}
	r.parked = nil
	return nil
}

func (r *run) sendFresh(ctx context.Context, w domain.WorkerID) error {
	t := r.m.space.At(r.st.sent)
	if err := r.st.markSent(); err != nil {
		return err
	}
	return r.send(ctx, w, t, 0)
}

func (r *run) send(ctx context.Context, w domain.WorkerID, t domain.Task, attempt int) error {
	now := time.Now()
	a := assignment{task: t, sentAt: now, attempt: attempt}
	if r.m.timeout > 0 {
		a.deadline = now.Add(r.m.timeout)
	}
	r.outstanding[w] = a
	r.maxInFlight = max(r.maxInFlight, len(r.outstanding))

	if err := r.m.tr.Send(ctx, w, domain.TaskMessage(t)); err != nil {
		return r.sendErr(ctx, w, domain.KindTask, err)
	}
	r.m.obs.TaskSent(w, t, attempt > 0)
	r.m.obs.InFlight(len(r.outstanding))
	if attempt > 0 {
		r.m.log.Info("reassigned task", zap.Stringer("task", t), zap.Stringer("worker", w), zap.Int("attempt", attempt))
	}
	return nil
}

func (r *run) terminate(ctx context.Context, w domain.WorkerID) error {
	r.terminated[w] = true
	if err := r.m.tr.Send(ctx, w, domain.TerminateMessage()); err != nil {
		return r.sendErr(ctx, w, domain.KindTerminate, err)
	}
	return nil
}

func (r *run) sendErr(ctx context.Context, w domain.WorkerID, kind domain.MessageKind, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("send %s to %s: %w: %w", kind, w, domain.ErrTransport, err)
}

func (r *run) report(start time.Time) Report {
	return Report{
		Sum:           r.st.acc.Value(),
		TotalTasks:    r.st.total,
		TasksSent:     r.st.sent,
		TasksReceived: r.st.received,
		Reassigned:    r.requeue.total,
		MaxInFlight:   r.maxInFlight,
		PerWorker:     r.perWorker,
		Failed:        r.failedOrder,
		Elapsed:       time.Since(start),
	}
}
