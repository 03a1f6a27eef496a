package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutu-network/gridpool/internal/api"
	"github.com/tutu-network/gridpool/internal/app/baseline"
	"github.com/tutu-network/gridpool/internal/app/taskpool"
	"github.com/tutu-network/gridpool/internal/domain"
	"github.com/tutu-network/gridpool/internal/health"
	"github.com/tutu-network/gridpool/internal/infra/codec"
	"github.com/tutu-network/gridpool/internal/infra/cost"
	"github.com/tutu-network/gridpool/internal/infra/grid"
	"github.com/tutu-network/gridpool/internal/infra/logging"
	"github.com/tutu-network/gridpool/internal/infra/metrics"
	"github.com/tutu-network/gridpool/internal/infra/sqlite"
	"github.com/tutu-network/gridpool/internal/infra/transport/local"
	"github.com/tutu-network/gridpool/internal/infra/transport/tcp"
)

// Daemon is the gridpool runtime. It wires together all services.
type Daemon struct {
	Config Config
	DB     *sqlite.DB // nil when storage.record is off
	Log    *zap.Logger
	Server *api.Server
	Health *health.Checker

	cancel   context.CancelFunc
	undoLog  func()
	closeLog func() error
}

// New creates a Daemon from the config file.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	log, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	d := &Daemon{
		Config:   cfg,
		Log:      log,
		undoLog:  logging.Install(log),
		closeLog: closeLog,
	}

	dataDir := cfg.Storage.Dir
	if dataDir == "" {
		dataDir = gridpoolHome()
	}

	var store domain.RunStore
	var pinger health.Pinger
	if cfg.Storage.Record {
		db, err := sqlite.Open(dataDir)
		if err != nil {
			d.undoLog()
			_ = d.closeLog()
			return nil, fmt.Errorf("open database: %w", err)
		}
		d.DB = db
		store, pinger = db, db

		if keep := cfg.Retention(); keep > 0 {
			n, err := db.DeleteRunsBefore(time.Now().Add(-keep))
			if err != nil {
				log.Warn("prune run history", zap.Error(err))
			} else if n > 0 {
				log.Info("pruned run history", zap.Int64("runs", n), zap.Duration("retention", keep))
			}
		}
	}

	d.Health = health.NewChecker(pinger, dataDir, time.Minute)
	d.Server = api.NewServer(d, store, d.Health)
	d.Server.SetMaxConcurrent(cfg.API.MaxConcurrent)

	// Enable Prometheus /metrics if configured
	if cfg.Telemetry.Prometheus {
		d.Server.EnableMetrics()
	}
	return d, nil
}

// DefaultRequest is the run described by the loaded config.
func (d *Daemon) DefaultRequest() domain.RunRequest {
	return d.Config.DefaultRequest()
}

// normalize fills unset request fields from config and resolves auto workers.
func (d *Daemon) normalize(req domain.RunRequest) (domain.RunRequest, error) {
	if req.Size == 0 {
		req.Size = d.Config.Grid.Size
	}
	if req.Cost == "" {
		req.Cost = d.Config.Grid.Cost
	}
	if req.Mode == "" {
		req.Mode = domain.ModeDynamic
	}
	if _, err := domain.ParseRunMode(string(req.Mode)); err != nil {
		return req, fmt.Errorf("%q: %w", req.Mode, err)
	}
	maxWorkers := d.Config.Pool.MaxWorkers
	if req.Workers < 0 {
		req.Workers = AutoWorkers()
		if maxWorkers > 0 {
			req.Workers = min(req.Workers, maxWorkers)
		}
	}
	if req.Mode == domain.ModeSequential {
		req.Workers = 0
	}
	if maxSize := d.Config.Grid.MaxSize; maxSize > 0 && req.Size > maxSize {
		return req, fmt.Errorf("size %d above grid.max_size %d: %w", req.Size, maxSize, domain.ErrInvalidGrid)
	}
	if maxWorkers > 0 && req.Workers > maxWorkers {
		return req, fmt.Errorf("%d workers above pool.max_workers %d: %w", req.Workers, maxWorkers, domain.ErrTooManyWorkers)
	}
	return req, nil
}

// AutoWorkers is the worker count used when workers is negative: one per
// CPU, leaving one for the coordinator.
func AutoWorkers() int {
	return max(1, runtime.NumCPU()-1)
}

// Execute evaluates one grid and records the outcome.
//
// With fewer than one worker the sequential baseline runs instead; the
// record carries its answer with status FALLBACK and the returned error is
// domain.ErrInsufficientWorkers.
func (d *Daemon) Execute(ctx context.Context, req domain.RunRequest) (domain.RunRecord, error) {
	req, err := d.normalize(req)
	if err != nil {
		return domain.RunRecord{}, err
	}
	space, err := grid.New(req.Size)
	if err != nil {
		return domain.RunRecord{}, err
	}
	costFn, err := cost.Lookup(req.Cost, cost.Options{HeavyIterations: d.Config.Grid.HeavyIterations})
	if err != nil {
		return domain.RunRecord{}, err
	}

	rec := domain.RunRecord{
		ID:         uuid.NewString(),
		Mode:       req.Mode,
		Cost:       req.Cost,
		Size:       req.Size,
		Workers:    req.Workers,
		TotalTasks: space.Len(),
		StartedAt:  time.Now(),
	}
	log := d.Log.With(zap.String("run", rec.ID), zap.String("mode", string(req.Mode)))
	log.Info("run started",
		zap.Int("size", req.Size),
		zap.Int("workers", req.Workers),
		zap.String("cost", req.Cost))

	var runErr error
	switch {
	case req.Mode == domain.ModeSequential:
		rec.Answer, runErr = baseline.Sequential(ctx, space, costFn)
	case req.Workers < 1:
		runErr = d.fallback(ctx, &rec, space, costFn, log)
	case req.Mode == domain.ModeStatic:
		rep, err := baseline.Static(ctx, space, req.Workers, costFn)
		rec.Answer, rec.PerWorker, runErr = rep.Sum, rep.WorkerStats(space.Size()), err
		if err == nil {
			slowest, fastest := rep.Imbalance()
			log.Info("static partition busy time",
				zap.Duration("slowest", slowest),
				zap.Duration("fastest", fastest))
		}
	default:
		rep, err := d.runDynamic(ctx, space, costFn, req, log)
		rec.Answer, rec.Reassigned, runErr = rep.Sum, rep.Reassigned, err
		if rep.PerWorker != nil {
			rec.PerWorker = rep.WorkerStats(workerIDs(req.Workers))
		}
	}
	rec.Elapsed = time.Since(rec.StartedAt)

	switch {
	case errors.Is(runErr, domain.ErrInsufficientWorkers):
		rec.Status = domain.RunFallback
	case runErr != nil:
		rec.Status = domain.RunFailed
		rec.Error = runErr.Error()
		log.Error("run failed", zap.Error(runErr))
	default:
		rec.Status = domain.RunSucceeded
		log.Info("run finished", zap.Float64("answer", rec.Answer), zap.Duration("elapsed", rec.Elapsed))
	}

	metrics.RecordRun(rec)
	if d.DB != nil {
		if err := d.DB.InsertRun(rec); err != nil {
			log.Warn("record run", zap.Error(err))
		}
	}
	return rec, runErr
}

// fallback computes the answer sequentially when there is nobody to
// schedule onto.
func (d *Daemon) fallback(ctx context.Context, rec *domain.RunRecord, space domain.TaskSpace, costFn domain.CostFunc, log *zap.Logger) error {
	log.Warn("no workers available, running sequentially", zap.Int("workers", rec.Workers))
	answer, err := baseline.Sequential(ctx, space, costFn)
	if err != nil {
		return err
	}
	rec.Answer = answer
	return domain.ErrInsufficientWorkers
}

func (d *Daemon) runDynamic(ctx context.Context, space domain.TaskSpace, costFn domain.CostFunc, req domain.RunRequest, log *zap.Logger) (taskpool.Report, error) {
	opts := []taskpool.Option{
		taskpool.WithLogger(log.Named("master")),
		taskpool.WithObserver(metrics.SchedulerObserver{}),
		taskpool.WithTaskTimeout(req.TaskTimeout),
	}
	if req.Listen != "" {
		return d.runRemote(ctx, space, req, opts, log)
	}

	tr := local.New(req.Workers)
	defer tr.Close()
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group := taskpool.StartWorkers(wctx, tr.Workers(), tr.Conn, costFn)
	rep, err := taskpool.NewMaster(space, tr, opts...).Run(ctx)
	if err != nil || len(rep.Failed) > 0 {
		// A worker stuck inside the cost function cannot be interrupted;
		// leave it to exit when the transport closes.
		return rep, err
	}
	if werr := group.Wait(); werr != nil {
		log.Warn("worker exited with error", zap.Error(werr))
	}
	log.Debug("workers finished", zap.Any("completed", group.Completed()))
	return rep, nil
}

// runRemote waits for req.Workers TCP workers and schedules onto them.
func (d *Daemon) runRemote(ctx context.Context, space domain.TaskSpace, req domain.RunRequest, opts []taskpool.Option, log *zap.Logger) (taskpool.Report, error) {
	c, err := codec.ByName(d.Config.Transport.Codec)
	if err != nil {
		return taskpool.Report{}, err
	}
	ln, err := tcp.Listen(req.Listen, c, log.Named("tcp"))
	if err != nil {
		return taskpool.Report{}, err
	}
	defer ln.Close()

	log.Info("waiting for workers",
		zap.String("addr", ln.Addr().String()),
		zap.Int("workers", req.Workers),
		zap.String("codec", c.Name()))

	actx, cancel := context.WithTimeout(ctx, d.Config.AcceptTimeout())
	coord, err := ln.Accept(actx, req.Workers)
	cancel()
	if err != nil {
		return taskpool.Report{}, err
	}
	defer coord.Close()

	rep, err := taskpool.NewMaster(space, coord, opts...).Run(ctx)
	for _, w := range rep.Failed {
		log.Warn("remote worker failed",
			zap.Stringer("worker", w),
			zap.String("name", coord.Name(w)))
	}
	return rep, err
}

// Work runs one TCP worker process against the coordinator at addr until
// it is told to terminate. It returns the number of tasks evaluated.
func (d *Daemon) Work(ctx context.Context, addr, name, costName string) (int, error) {
	if name == "" {
		host, _ := os.Hostname()
		name = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	if costName == "" {
		costName = d.Config.Grid.Cost
	}
	costFn, err := cost.Lookup(costName, cost.Options{HeavyIterations: d.Config.Grid.HeavyIterations})
	if err != nil {
		return 0, err
	}
	c, err := codec.ByName(d.Config.Transport.Codec)
	if err != nil {
		return 0, err
	}

	rc := tcp.DefaultRetryConfig()
	if d.Config.Transport.DialAttempts > 0 {
		rc.MaxAttempts = d.Config.Transport.DialAttempts
	}
	conn, err := tcp.DialRetry(ctx, addr, name, c, rc, d.Log.Named("tcp"))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	defer conn.Close()

	d.Log.Info("connected to coordinator", zap.String("addr", addr), zap.String("name", name))
	n, err := taskpool.RunWorker(ctx, conn, costFn)
	d.Log.Info("worker done", zap.Int("tasks", n), zap.Error(err))
	return n, err
}

// Comparison is the outcome of running the same grid three ways.
type Comparison struct {
	Runs  []domain.RunRecord
	Agree bool
}

// compareTolerance bounds the relative difference between strategies'
// answers. Only summation order differs between them.
const compareTolerance = 1e-9

// Compare runs the sequential, static and dynamic strategies on one grid,
// in that order, always with in-process workers.
func (d *Daemon) Compare(ctx context.Context, req domain.RunRequest) (Comparison, error) {
	var cmp Comparison
	for _, mode := range []domain.RunMode{domain.ModeSequential, domain.ModeStatic, domain.ModeDynamic} {
		r := req
		r.Mode = mode
		r.Listen = ""
		rec, err := d.Execute(ctx, r)
		if err != nil && !errors.Is(err, domain.ErrInsufficientWorkers) {
			return cmp, fmt.Errorf("%s: %w", mode, err)
		}
		cmp.Runs = append(cmp.Runs, rec)
	}

	cmp.Agree = true
	for _, rec := range cmp.Runs[1:] {
		if !taskpool.Equal(rec.Answer, cmp.Runs[0].Answer, compareTolerance) {
			cmp.Agree = false
		}
	}
	return cmp, nil
}

// Runs lists recorded runs, newest first.
func (d *Daemon) Runs(limit int) ([]domain.RunRecord, error) {
	if d.DB == nil {
		return nil, domain.ErrHistoryDisabled
	}
	return d.DB.ListRuns(limit)
}

// Run fetches one recorded run.
func (d *Daemon) Run(id string) (*domain.RunRecord, error) {
	if d.DB == nil {
		return nil, domain.ErrHistoryDisabled
	}
	return d.DB.GetRun(id)
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Minute, // POST /api/runs blocks for the whole run
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	d.Log.Info("serving",
		zap.String("addr", "http://"+addr),
		zap.Bool("metrics", d.Config.Telemetry.Prometheus),
		zap.Bool("history", d.DB != nil))

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources. Safe to call more than once.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
	if d.undoLog != nil {
		d.undoLog()
		d.undoLog = nil
	}
	if d.closeLog != nil {
		_ = d.closeLog()
		d.closeLog = nil
	}
}

func workerIDs(n int) []domain.WorkerID {
	ids := make([]domain.WorkerID, n)
	for i := range ids {
		ids[i] = domain.WorkerID(i + 1)
	}
	return ids
}
