// Package dispatch runs generation jobs in the background: a bounded worker
// pool submits each provider job, drives the polling loop, and records the
// terminal state on the owning task.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/config"
	gendomain "github.com/atelierhq/atelier/internal/generation/domain"
	"github.com/atelierhq/atelier/internal/provider"
	providerdomain "github.com/atelierhq/atelier/internal/provider/domain"
)

var (
	ErrQueueFull = errors.New("dispatch_queue_full")
	ErrStopped   = errors.New("dispatch_stopped")
)

// CallerSource selects the job caller for a provider name.
type CallerSource interface {
	Caller(providerName string) (providerdomain.JobCaller, error)
}

type Params struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	Registry *provider.Registry
	Tracker  gendomain.Tracker
}

// Dispatcher is the bounded worker pool behind the generation orchestrator.
// Enqueue never blocks the request path; a full queue is reported
// synchronously so the caller can fail the task instead of waiting.
type Dispatcher struct {
	cfg     config.DispatchConfig
	log     *zap.Logger
	callers CallerSource
	tracker gendomain.Tracker

	queue  chan gendomain.DispatchJob
	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

func New(p Params) *Dispatcher {
	return newDispatcher(p.Cfg.Dispatch, p.Log, p.Registry, p.Tracker)
}

func newDispatcher(cfg config.DispatchConfig, log *zap.Logger, callers CallerSource, tracker gendomain.Tracker) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Dispatcher{
		cfg:     cfg,
		log:     log.Named("dispatch"),
		callers: callers,
		tracker: tracker,
		queue:   make(chan gendomain.DispatchJob, cfg.QueueSize),
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())

	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.log.Info("dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Int("queue_size", d.cfg.QueueSize),
	)
}

// Stop cancels in-flight polling and waits for the workers to exit. Jobs
// still queued are dropped; their tasks stay pending for a later sweep.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.closed = true
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	d.log.Info("dispatcher stopped")
}

func (d *Dispatcher) Enqueue(job gendomain.DispatchJob) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrStopped
	}

	select {
	case d.queue <- job:
		jobsEnqueued.WithLabelValues(job.Provider).Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			d.run(ctx, job)
		}
	}
}

// run drives one job to a terminal task state. Failures are isolated per
// job; a sibling's timeout or provider error never touches this task.
func (d *Dispatcher) run(ctx context.Context, job gendomain.DispatchJob) {
	caller, err := d.callers.Caller(job.Provider)
	if err != nil {
		d.fail(ctx, job, gendomain.ErrorKindServer, err.Error())
		return
	}

	jobID, err := caller.Submit(ctx, job.Action, job.Payload)
	if err != nil {
		d.fail(ctx, job, classify(err), err.Error())
		return
	}

	if err := d.tracker.MarkProcessing(ctx, job.TaskID); err != nil {
		d.log.Warn("task refused processing transition",
			zap.Int64("task_id", int64(job.TaskID)),
			zap.Error(err),
		)
		return
	}

	result, err := providerdomain.WaitForJob(ctx, caller, jobID, d.cfg.PollInterval, d.cfg.PollTimeout)
	if err != nil {
		d.fail(ctx, job, classify(err), err.Error())
		return
	}

	if err := d.tracker.MarkSuccess(ctx, job.TaskID, result); err != nil {
		d.log.Error("failed to record job success",
			zap.Int64("task_id", int64(job.TaskID)),
			zap.String("job_id", result.JobID),
			zap.Error(err),
		)
		return
	}
	jobsCompleted.WithLabelValues(job.Provider, "success").Inc()
}

func (d *Dispatcher) fail(ctx context.Context, job gendomain.DispatchJob, kind gendomain.ErrorKind, message string) {
	jobsCompleted.WithLabelValues(job.Provider, string(kind)).Inc()
	if err := d.tracker.MarkError(ctx, job.TaskID, kind, message); err != nil {
		d.log.Error("failed to record job failure",
			zap.Int64("task_id", int64(job.TaskID)),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

func classify(err error) gendomain.ErrorKind {
	switch {
	case errors.Is(err, providerdomain.ErrInvalidCredentials):
		return gendomain.ErrorKindInvalidCredentials
	case errors.Is(err, providerdomain.ErrTimeout):
		return gendomain.ErrorKindTimeout
	case errors.Is(err, providerdomain.ErrTransport):
		return gendomain.ErrorKindTransport
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return gendomain.ErrorKindServer
	default:
		return gendomain.ErrorKindProvider
	}
}
