package taskpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/tutu-network/gridpool/internal/domain"
	"github.com/tutu-network/gridpool/internal/infra/transport/local"
)

func addCost(x, y int) float64 { return float64(x + y) }

func wavyCost(x, y int) float64 { return math.Cos(float64(x)*0.7) * math.Exp(float64(y)/3) }

func TestMaster_ScenarioA(t *testing.T) {
	space := mustGrid(t, 4)
	rep, rec, err := runLocal(t, space, 3, addCost)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// Priming: index 0 to worker 1, 1 to 2, 2 to 3.
	for i := 1; i <= 3; i++ {
		first := rec.sent(domain.WorkerID(i))[0]
		if first.Kind != domain.KindTask || first.Task.Index != i-1 {
			t.Errorf("first message to worker-%d = %+v, want TASK #%d", i, first, i-1)
		}
	}

	order := rec.taskOrder()
	if len(order) != 16 {
		t.Fatalf("tasks sent = %d, want 16", len(order))
	}
	for i, idx := range order {
		if idx != i {
			t.Fatalf("task order = %v, want 0..15 ascending", order)
		}
	}

	if want := sequentialSum(space, addCost); rep.Sum != want {
		t.Errorf("Sum = %v, want %v", rep.Sum, want)
	}
	if rep.TasksSent != 16 || rep.TasksReceived != 16 {
		t.Errorf("sent/received = %d/%d, want 16/16", rep.TasksSent, rep.TasksReceived)
	}
	assertTerminatedOnce(t, rec, 3)
}

func TestMaster_ScenarioB_SurplusWorkers(t *testing.T) {
	space := mustGrid(t, 4)
	rep, rec, err := runLocal(t, space, 20, addCost)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	firstRecv := -1
	for i, e := range rec.events {
		if e.recv {
			firstRecv = i
			break
		}
	}
	if firstRecv < 0 {
		t.Fatal("no receive recorded")
	}
	for w := 17; w <= 20; w++ {
		msgs := rec.sent(domain.WorkerID(w))
		if len(msgs) != 1 || msgs[0].Kind != domain.KindTerminate {
			t.Errorf("worker-%d got %v, want a single TERMINATE", w, msgs)
		}
		early := false
		for _, e := range rec.events[:firstRecv] {
			if e.worker == domain.WorkerID(w) && e.msg.Kind == domain.KindTerminate {
				early = true
			}
		}
		if !early {
			t.Errorf("worker-%d was not terminated before the first receive", w)
		}
	}
	for w := 1; w <= 16; w++ {
		if rep.PerWorker[domain.WorkerID(w)] != 1 {
			t.Errorf("worker-%d did %d tasks, want 1", w, rep.PerWorker[domain.WorkerID(w)])
		}
	}
	if want := sequentialSum(space, addCost); rep.Sum != want {
		t.Errorf("Sum = %v, want %v", rep.Sum, want)
	}
	assertTerminatedOnce(t, rec, 20)
}

func TestMaster_MatchesSequential(t *testing.T) {
	tests := []struct {
		size, workers int
	}{
		{1, 1},
		{1, 5},
		{3, 1},
		{4, 3},
		{7, 2},
		{10, 8},
		{12, 144},
	}
	for _, tt := range tests {
		space := mustGrid(t, tt.size)
		rep, rec, err := runLocal(t, space, tt.workers, wavyCost)
		if err != nil {
			t.Fatalf("size=%d workers=%d: Run() error: %v", tt.size, tt.workers, err)
		}
		if want := sequentialSum(space, wavyCost); !Equal(rep.Sum, want, 1e-12) {
			t.Errorf("size=%d workers=%d: Sum = %v, want %v", tt.size, tt.workers, rep.Sum, want)
		}
		if rec.maxInFlight > tt.workers || rep.MaxInFlight > tt.workers {
			t.Errorf("size=%d workers=%d: max in flight = %d/%d, want <= %d",
				tt.size, tt.workers, rec.maxInFlight, rep.MaxInFlight, tt.workers)
		}
		total := 0
		for _, n := range rep.PerWorker {
			total += n
		}
		if total != tt.size*tt.size {
			t.Errorf("size=%d workers=%d: per-worker total = %d, want %d", tt.size, tt.workers, total, tt.size*tt.size)
		}
		assertTerminatedOnce(t, rec, tt.workers)
	}
}

// jitterConn delays every reply by a random amount.
type jitterConn struct {
	domain.WorkerConn
	mu  sync.Mutex
	rng *rand.Rand
	max time.Duration
}

func (c *jitterConn) Send(ctx context.Context, msg domain.Message) error {
	c.mu.Lock()
	d := time.Duration(c.rng.Int63n(int64(c.max)))
	c.mu.Unlock()
	time.Sleep(d)
	return c.WorkerConn.Send(ctx, msg)
}

func TestMaster_OrderIndependent(t *testing.T) {
	space := mustGrid(t, 6)
	want := sequentialSum(space, wavyCost)

	for seed := int64(1); seed <= 5; seed++ {
		tr := local.New(4)
		rec := newRecorder(tr)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)

		connect := func(id domain.WorkerID) (domain.WorkerConn, error) {
			c, err := tr.Conn(id)
			if err != nil {
				return nil, err
			}
			return &jitterConn{WorkerConn: c, rng: rand.New(rand.NewSource(seed*100 + int64(id))), max: 2 * time.Millisecond}, nil
		}
		g := StartWorkers(ctx, tr.Workers(), connect, wavyCost)
		rep, err := NewMaster(space, rec).Run(ctx)
		if err != nil {
			t.Fatalf("seed %d: Run() error: %v", seed, err)
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("seed %d: workers: %v", seed, err)
		}
		if !Equal(rep.Sum, want, 1e-12) {
			t.Errorf("seed %d: Sum = %v, want %v", seed, rep.Sum, want)
		}
		assertTerminatedOnce(t, rec, 4)
		cancel()
		tr.Close()
	}
}

// slowConn holds every reply for a fixed delay.
type slowConn struct {
	domain.WorkerConn
	delay time.Duration
}

func (c slowConn) Send(ctx context.Context, msg domain.Message) error {
	time.Sleep(c.delay)
	return c.WorkerConn.Send(ctx, msg)
}

func TestMaster_SlowWorkerGetsLess(t *testing.T) {
	space := mustGrid(t, 6)
	tr := local.New(3)
	defer tr.Close()
	ctx := context.Background()

	connect := func(id domain.WorkerID) (domain.WorkerConn, error) {
		c, err := tr.Conn(id)
		if err != nil || id != 1 {
			return c, err
		}
		return slowConn{WorkerConn: c, delay: 20 * time.Millisecond}, nil
	}
	g := StartWorkers(ctx, tr.Workers(), connect, addCost)
	rep, err := NewMaster(space, tr).Run(ctx)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("workers: %v", err)
	}
	slow, fast := rep.PerWorker[1], rep.PerWorker[2]+rep.PerWorker[3]
	if slow >= fast {
		t.Errorf("slow worker did %d tasks, fast workers %d; want slow < fast", slow, fast)
	}
}

func TestMaster_NoWorkers(t *testing.T) {
	tr := local.New(0)
	defer tr.Close()
	_, err := NewMaster(mustGrid(t, 2), tr).Run(context.Background())
	if !errors.Is(err, domain.ErrInsufficientWorkers) {
		t.Errorf("Run() error = %v, want ErrInsufficientWorkers", err)
	}
}

func TestMaster_Cancelled(t *testing.T) {
	tr := local.New(2) // nobody answers
	defer tr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := NewMaster(mustGrid(t, 2), tr).Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want context.DeadlineExceeded", err)
	}
}

// scriptedTransport replays canned envelopes and can fail on demand.
type scriptedTransport struct {
	workers []domain.WorkerID
	script  []domain.Envelope
	recvErr error
	sendErr error
}

func (s *scriptedTransport) Workers() []domain.WorkerID { return s.workers }

func (s *scriptedTransport) Send(ctx context.Context, to domain.WorkerID, msg domain.Message) error {
	return s.sendErr
}

func (s *scriptedTransport) ReceiveAny(ctx context.Context) (domain.Envelope, error) {
	if len(s.script) == 0 {
		if s.recvErr != nil {
			return domain.Envelope{}, s.recvErr
		}
		<-ctx.Done()
		return domain.Envelope{}, ctx.Err()
	}
	e := s.script[0]
	s.script = s.script[1:]
	return e, nil
}

func (s *scriptedTransport) Close() error { return nil }

func TestMaster_Failures(t *testing.T) {
	tests := []struct {
		name string
		tr   *scriptedTransport
		size int
		want error
	}{
		{
			name: "task from worker",
			tr: &scriptedTransport{
				workers: []domain.WorkerID{1},
				script:  []domain.Envelope{{From: 1, Msg: domain.TaskMessage(domain.Task{})}},
			},
			size: 2,
			want: domain.ErrProtocolViolation,
		},
		{
			name: "result from idle worker",
			tr: &scriptedTransport{
				workers: []domain.WorkerID{1, 2},
				script:  []domain.Envelope{{From: 2, Msg: domain.ResultMessage(1)}},
			},
			size: 1,
			want: domain.ErrProtocolViolation,
		},
		{
			name: "receive error",
			tr:   &scriptedTransport{workers: []domain.WorkerID{1}, recvErr: io.ErrUnexpectedEOF},
			size: 2,
			want: domain.ErrTransport,
		},
		{
			name: "send error",
			tr:   &scriptedTransport{workers: []domain.WorkerID{1}, sendErr: io.ErrClosedPipe},
			size: 2,
			want: domain.ErrTransport,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := NewMaster(mustGrid(t, tt.size), tt.tr).Run(ctx)
			if !errors.Is(err, tt.want) {
				t.Errorf("Run() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// stallOnce returns a cost function that blocks the first evaluation of
// (x, y) until release is closed. Later evaluations run normally.
func stallOnce(x, y int, release <-chan struct{}, cost domain.CostFunc) domain.CostFunc {
	var once sync.Once
	return func(cx, cy int) float64 {
		if cx == x && cy == y {
			stalled := false
			once.Do(func() { stalled = true })
			if stalled {
				<-release
			}
		}
		return cost(cx, cy)
	}
}

func TestMaster_ReassignsStalledTask(t *testing.T) {
	space := mustGrid(t, 4)
	release := make(chan struct{})
	cost := stallOnce(1, 1, release, addCost)

	tr := local.New(3)
	defer tr.Close()
	rec := newRecorder(tr)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	g := StartWorkers(ctx, tr.Workers(), tr.Conn, cost)
	rep, err := NewMaster(space, rec, WithTaskTimeout(300*time.Millisecond)).Run(ctx)
	close(release)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("workers: %v", err)
	}

	if want := sequentialSum(space, addCost); rep.Sum != want {
		t.Errorf("Sum = %v, want %v", rep.Sum, want)
	}
	if rep.Reassigned < 1 || len(rep.Failed) < 1 {
		t.Errorf("Reassigned = %d, Failed = %v, want at least one each", rep.Reassigned, rep.Failed)
	}
	if rep.TasksReceived != 16 {
		t.Errorf("TasksReceived = %d, want 16", rep.TasksReceived)
	}
	assertTerminatedOnce(t, rec, 3)
}

func TestMaster_AllWorkersStalled(t *testing.T) {
	release := make(chan struct{})
	cost := func(x, y int) float64 {
		<-release
		return 0
	}

	tr := local.New(2)
	defer tr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	g := StartWorkers(ctx, tr.Workers(), tr.Conn, cost)
	_, err := NewMaster(mustGrid(t, 2), tr, WithTaskTimeout(50*time.Millisecond)).Run(ctx)
	if !errors.Is(err, domain.ErrNoLiveWorkers) {
		t.Errorf("Run() error = %v, want ErrNoLiveWorkers", err)
	}
	close(release)
	tr.Close()
	_ = g.Wait()
}

func TestReport_WorkerStats(t *testing.T) {
	rep := Report{
		PerWorker: map[domain.WorkerID]int{1: 3, 2: 5},
		Failed:    []domain.WorkerID{2},
	}
	stats := rep.WorkerStats([]domain.WorkerID{1, 2, 3})
	want := []domain.WorkerStat{
		{Worker: 1, Tasks: 3},
		{Worker: 2, Tasks: 5, Failed: true},
		{Worker: 3},
	}
	if len(stats) != len(want) {
		t.Fatalf("len = %d, want %d", len(stats), len(want))
	}
	for i := range want {
		if stats[i] != want[i] {
			t.Errorf("stats[%d] = %+v, want %+v", i, stats[i], want[i])
		}
	}
}

// droppingTransport reports worker drop's connection as broken on the
// first ReceiveAny, then behaves like the wrapped transport.
type droppingTransport struct {
	domain.CoordinatorTransport
	drop domain.WorkerID
	once sync.Once
}

func (d *droppingTransport) ReceiveAny(ctx context.Context) (domain.Envelope, error) {
	fire := false
	d.once.Do(func() { fire = true })
	if fire {
		return domain.Envelope{}, &domain.PeerError{
			Worker: d.drop,
			Err:    fmt.Errorf("read from %s: %w: %w", d.drop, domain.ErrTransport, io.EOF),
		}
	}
	return d.CoordinatorTransport.ReceiveAny(ctx)
}

func TestMaster_LostWorkerConnection(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		timeout time.Duration
		want    error
	}{
		{"deadlines on, task reassigned", 2, 10 * time.Second, nil},
		{"deadlines on, nobody left", 1, 10 * time.Second, domain.ErrNoLiveWorkers},
		{"deadlines off, run aborts", 2, 0, domain.ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			space := mustGrid(t, 4)
			release := make(chan struct{})
			// Worker 1 is primed with (0,0) and never finishes it.
			cost := stallOnce(0, 0, release, addCost)

			tr := local.New(tt.workers)
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			g := StartWorkers(ctx, tr.Workers(), tr.Conn, cost)
			defer func() {
				close(release)
				tr.Close()
				_ = g.Wait()
			}()

			dt := &droppingTransport{CoordinatorTransport: tr, drop: 1}
			rep, err := NewMaster(space, dt, WithTaskTimeout(tt.timeout)).Run(ctx)
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Fatalf("Run() error = %v, want %v", err, tt.want)
				}
				return
			}
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if want := sequentialSum(space, addCost); rep.Sum != want {
				t.Errorf("Sum = %v, want %v", rep.Sum, want)
			}
			if len(rep.Failed) != 1 || rep.Failed[0] != 1 || rep.Reassigned != 1 {
				t.Errorf("Failed = %v, Reassigned = %d, want [worker-1] and 1", rep.Failed, rep.Reassigned)
			}
			if rep.PerWorker[2] != 16 {
				t.Errorf("PerWorker[2] = %d, want 16", rep.PerWorker[2])
			}
		})
	}
}
