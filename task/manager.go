package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"mediarender/logging"
)

// Processor runs one job end to end. It must release every file the job
// created before returning.
type Processor interface {
	Process(ctx context.Context, job *Job) (*UploadResult, error)
}

// SlotState is the state of the single processing slot.
type SlotState string

const (
	SlotIdle       SlotState = "idle"
	SlotProcessing SlotState = "processing"
	SlotSucceeded  SlotState = "succeeded"
	SlotFailed     SlotState = "failed"
)

// Finalizer receives the outcome of a submission. It runs on the submitting
// goroutine and the next job is not admitted until it returns.
type Finalizer func(res *UploadResult, err error)

type outcome struct {
	res *UploadResult
	err error
}

type submission struct {
	job       *Job
	outcome   chan outcome
	finalized chan struct{}
}

// Manager is a single-slot FIFO scheduler with an unbounded queue.
type Manager struct {
	processor Processor
	log       *slog.Logger

	mu      sync.Mutex
	pending []*submission
	wake    chan struct{}

	started atomic.Bool
	ready   atomic.Bool
	stopped chan struct{}
	state   atomic.Value
}

func NewManager(processor Processor, log *slog.Logger) (*Manager, error) {
	if processor == nil {
		return nil, fmt.Errorf("task manager requires a processor")
	}
	m := &Manager{
		processor: processor,
		log:       logging.WithComponent(log, "queue"),
		wake:      make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
	m.state.Store(SlotIdle)
	return m, nil
}

// Start launches the worker. Submissions are accepted only after Start and
// until ctx is canceled.
func (m *Manager) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.ready.Store(true)
	m.log.Info("task manager started", "concurrency", 1)
	go m.workerLoop(ctx)
}

// Ready reports whether submissions are currently accepted.
func (m *Manager) Ready() bool { return m.ready.Load() }

// State returns the current slot state.
func (m *Manager) State() SlotState { return m.state.Load().(SlotState) }

// Pending returns the number of jobs waiting for the slot.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Submit validates req, queues it and blocks until the job resolves, then
// calls finalize exactly once. Invalid requests and submissions made while
// the queue is not running are finalized immediately without being queued.
func (m *Manager) Submit(ctx context.Context, req JobRequest, finalize Finalizer) {
	if !m.ready.Load() {
		finalize(nil, Errorf(KindQueueUninitialized, "submit", fmt.Errorf("queue not initialized")))
		return
	}
	if err := req.Validate(); err != nil {
		finalize(nil, err)
		return
	}

	s := &submission{
		job:       newJob(req),
		outcome:   make(chan outcome, 1),
		finalized: make(chan struct{}),
	}
	defer close(s.finalized)

	m.enqueue(s)
	m.log.Info("job submitted to queue", "job_id", s.job.ID, "mode", req.Mode)

	select {
	case o := <-s.outcome:
		finalize(o.res, o.err)
	case <-m.stopped:
		select {
		case o := <-s.outcome:
			finalize(o.res, o.err)
		default:
			finalize(nil, Errorf(KindQueueUninitialized, "submit", fmt.Errorf("queue stopped")))
		}
	case <-ctx.Done():
		// The job keeps its place; only the caller is gone.
		m.log.Warn("submitter left before job resolved", "job_id", s.job.ID, "error", ctx.Err())
		finalize(nil, ctx.Err())
	}
}

// Run is the synchronous form of Submit.
func (m *Manager) Run(ctx context.Context, req JobRequest) (*UploadResult, error) {
	var (
		res *UploadResult
		err error
	)
	m.Submit(ctx, req, func(r *UploadResult, e error) {
		res, err = r, e
	})
	return res, err
}

func newJob(req JobRequest) *Job {
	return &Job{
		ID:        fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix()),
		Request:   req,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}
}

func (m *Manager) enqueue(s *submission) {
	m.mu.Lock()
	m.pending = append(m.pending, s)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) next(ctx context.Context) (*submission, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		m.mu.Lock()
		if len(m.pending) > 0 {
			s := m.pending[0]
			m.pending[0] = nil
			m.pending = m.pending[1:]
			m.mu.Unlock()
			return s, true
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-m.wake:
		}
	}
}

// workerLoop pulls jobs from the queue and processes them one at a time.
func (m *Manager) workerLoop(ctx context.Context) {
	defer func() {
		m.ready.Store(false)
		close(m.stopped)
		m.log.Info("worker loop shutting down")
	}()

	for {
		s, ok := m.next(ctx)
		if !ok {
			return
		}
		m.processJob(ctx, s)
	}
}

func (m *Manager) processJob(ctx context.Context, s *submission) {
	job := s.job
	log := m.log.With("job_id", job.ID)

	job.Status = StatusProcessing
	job.StartedAt = time.Now()
	m.state.Store(SlotProcessing)
	log.Info("processing job", "mode", job.Request.Mode)

	res, err := m.safeProcess(ctx, job)

	job.CompletedAt = time.Now()
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		m.state.Store(SlotFailed)
		log.Error("job failed", "kind", KindOf(err), "error", err, "elapsed", job.CompletedAt.Sub(job.StartedAt))
	} else {
		job.Status = StatusSucceeded
		m.state.Store(SlotSucceeded)
		log.Info("job completed successfully", "drive_file_id", res.RemoteFileID, "elapsed", job.CompletedAt.Sub(job.StartedAt))
	}

	s.outcome <- outcome{res: res, err: err}
	select {
	case <-s.finalized:
	case <-ctx.Done():
	}
	m.state.Store(SlotIdle)
}

func (m *Manager) safeProcess(ctx context.Context, job *Job) (res *UploadResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = Errorf(KindInternal, "process", fmt.Errorf("panic: %v", r))
		}
	}()
	res, err = m.processor.Process(ctx, job)
	if err == nil && res == nil {
		err = Errorf(KindInternal, "process", fmt.Errorf("processor returned no result"))
	}
	return res, err
}
