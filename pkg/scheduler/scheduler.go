// Package scheduler implements admission, prioritization, concurrency
// limiting, retry and timeout for submitted compute tasks. It owns a
// priority queue of ScheduledTasks and a fixed pool of worker goroutines
// that drive the Executor and Load Balancer.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaori-seasons/edgesched/pkg/apperr"
	"github.com/kaori-seasons/edgesched/pkg/audit"
	"github.com/kaori-seasons/edgesched/pkg/log"
	"github.com/kaori-seasons/edgesched/pkg/metrics"
	"github.com/kaori-seasons/edgesched/pkg/types"
)

// Registry is the subset of pkg/registry.Registry the Scheduler needs.
type Registry interface {
	Lookup(name string) (types.PluginDescriptor, types.PluginImage, bool)
	TryAcquire(name string) bool
	Release(name string)
}

// Balancer is the subset of pkg/balancer.Balancer the Scheduler needs.
type Balancer interface {
	Select(algorithm string) (string, error)
	Update(workerID string, cpuUsage, memUsage, responseMs float64, healthy bool)
	RecordOutcome(workerID string, success bool)
	Release(workerID string)
	AdjustStrategyDynamically()
	CleanupExpiredWorkers()
	Workers() []types.WorkerInfo
}

// Executor is the subset of pkg/executor.Executor the Scheduler needs.
type Executor interface {
	Run(ctx context.Context, req types.Request) (types.Response, error)
}

// BundleReaper is implemented by the Container Manager's debug-mode bundle
// directory sweep (§9 Open Question 4).
type BundleReaper interface {
	Reap(ctx context.Context) (int, error)
}

// Config configures a Scheduler.
type Config struct {
	MaxConcurrentTasks         int
	QueueSize                  int
	DefaultTaskTimeout         time.Duration
	DefaultMaxRetries          int
	LoadBalancerUpdateInterval time.Duration
	StrategyTuneInterval       time.Duration
	BundleReapInterval         time.Duration
}

// DefaultConfig mirrors original_source's SchedulerConfig defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks:         10,
		QueueSize:                  1000,
		DefaultTaskTimeout:         5 * time.Minute,
		DefaultMaxRetries:          3,
		LoadBalancerUpdateInterval: 5 * time.Second,
		StrategyTuneInterval:       30 * time.Second,
		BundleReapInterval:         30 * time.Second,
	}
}

type taskRecord struct {
	task     *types.ScheduledTask
	response types.Response
}

// Scheduler is the priority task queue, admission control and worker pool
// described in §4.F. It is safe for concurrent use.
type Scheduler struct {
	cfg Config

	registry  Registry
	balancer  Balancer
	executor  Executor
	reaper    BundleReaper
	auditSink audit.Sink

	logger zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	heap    taskHeap
	tasks   map[string]*taskRecord
	stopped bool

	ch     chan *types.ScheduledTask
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Scheduler. reaper may be nil, in which case the
// periodic bundle-reap tick is skipped.
func New(cfg Config, registry Registry, balancer Balancer, executor Executor, reaper BundleReaper) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		registry:  registry,
		balancer:  balancer,
		executor:  executor,
		reaper:    reaper,
		auditSink: audit.NoopSink{},
		logger:    log.WithComponent("scheduler"),
		tasks:     make(map[string]*taskRecord),
		ch:        make(chan *types.ScheduledTask),
		stopCh:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetAuditSink wires an audit.Sink that records every terminal task outcome.
// Defaults to audit.NoopSink, so callers who don't need persisted history
// can skip this entirely.
func (s *Scheduler) SetAuditSink(sink audit.Sink) {
	s.auditSink = sink
}

// Start spawns the dispatcher, cfg.MaxConcurrentTasks worker goroutines,
// and the periodic background tasks. It does not block.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatchLoop()
	}()

	for i := 0; i < s.cfg.MaxConcurrentTasks; i++ {
		s.wg.Add(1)
		go func(workerID int) {
			defer s.wg.Done()
			s.workerLoop(workerID)
		}(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.backgroundLoop()
	}()

	s.logger.Info().Int("workers", s.cfg.MaxConcurrentTasks).Msg("scheduler started")
}

// Stop signals all scheduler goroutines to exit and waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cond.Broadcast()
	s.mu.Unlock()
	close(s.stopCh)
	s.wg.Wait()
}

// ErrQueueFull is returned by Submit when the queue is at capacity. Callers
// must treat it as a first-class outcome, not a transient failure to retry
// blindly (§8 property 11).
var ErrQueueFull = apperr.New(apperr.KindResourceExhausted, "task queue is full")

// Submit enqueues request at priority with maxRetries (0 selects the
// scheduler default) and returns its task id. Returns ErrQueueFull if the
// queue is already at cfg.QueueSize.
func (s *Scheduler) Submit(req types.Request, priority types.Priority, maxRetries int) (string, error) {
	if maxRetries <= 0 {
		maxRetries = s.cfg.DefaultMaxRetries
	}

	task := &types.ScheduledTask{
		Request:     req,
		Priority:    priority,
		SubmittedAt: time.Now(),
		MaxRetries:  maxRetries,
		CancelCh:    make(chan struct{}),
	}

	s.mu.Lock()
	if len(s.heap) >= s.cfg.QueueSize {
		s.mu.Unlock()
		metrics.QueueFullTotal.Inc()
		return "", ErrQueueFull
	}
	s.tasks[req.ID] = &taskRecord{
		task:     task,
		response: types.Response{TaskID: req.ID, Status: types.StatusQueued},
	}
	heap.Push(&s.heap, task)
	s.cond.Signal()
	s.mu.Unlock()

	s.logger.Info().Str("task_id", req.ID).Str("algorithm", req.Algorithm).Str("priority", priority.String()).Msg("task submitted")
	return req.ID, nil
}

// Cancel requests cancellation of task_id. Returns false if task_id is
// unknown or already terminal; never panics (§8 property 13).
func (s *Scheduler) Cancel(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[taskID]
	if !ok {
		return false
	}
	switch rec.response.Status {
	case types.StatusSuccess, types.StatusFailure, types.StatusTimeout, types.StatusCancelled, types.StatusResourceExhausted:
		return false
	}

	rec.response.Status = types.StatusCancelled
	select {
	case <-rec.task.CancelCh:
		// already closed
	default:
		close(rec.task.CancelCh)
	}
	return true
}

// Status returns the current Response for task_id (queued/active status
// populate only TaskID and Status; terminal status populates the rest).
func (s *Scheduler) Status(taskID string) (types.Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[taskID]
	if !ok {
		return types.Response{}, false
	}
	return rec.response, true
}

// QueueStatus reports a point-in-time admission snapshot.
func (s *Scheduler) QueueStatus() types.QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	for _, rec := range s.tasks {
		if rec.response.Status == types.StatusActive {
			active++
		}
	}
	return types.QueueStatus{
		Queued:        s.heap.Len(),
		Active:        active,
		MaxConcurrent: s.cfg.MaxConcurrentTasks,
	}
}

// dispatchLoop pops the highest-priority ready task and hands it to a
// worker, blocking on an empty queue via the heap's condition variable.
func (s *Scheduler) dispatchLoop() {
	for {
		task := s.popBlocking()
		if task == nil {
			return
		}
		select {
		case s.ch <- task:
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) popBlocking() *types.ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.heap.Len() == 0 {
		if s.stopped {
			return nil
		}
		s.cond.Wait()
	}
	return heap.Pop(&s.heap).(*types.ScheduledTask)
}

// enqueue re-pushes task onto the heap, used for retries (§9 Open Question
// 1: a retry acquires a fresh permit by going through admission again,
// rather than reusing the worker goroutine inline).
func (s *Scheduler) enqueue(task *types.ScheduledTask) {
	s.mu.Lock()
	heap.Push(&s.heap, task)
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *Scheduler) workerLoop(workerID int) {
	logger := s.logger.With().Int("worker", workerID).Logger()
	for {
		select {
		case task, ok := <-s.ch:
			if !ok {
				return
			}
			s.runTask(task, logger)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) runTask(task *types.ScheduledTask, logger zerolog.Logger) {
	taskLogger := log.WithTaskID(task.Request.ID)

	s.mu.Lock()
	rec, ok := s.tasks[task.Request.ID]
	if ok && rec.response.Status == types.StatusCancelled {
		s.mu.Unlock()
		s.finalize(task.Request.ID, types.StatusCancelled, types.Response{TaskID: task.Request.ID, Status: types.StatusCancelled, Error: "cancelled before execution"})
		return
	}
	if ok {
		rec.response.Status = types.StatusActive
	}
	s.mu.Unlock()

	timeout := task.Request.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTaskTimeout
		if desc, _, found := s.registry.Lookup(task.Request.Algorithm); found && desc.Timeout > 0 {
			timeout = desc.Timeout
		}
	}

	if !s.registry.TryAcquire(task.Request.Algorithm) {
		s.finalize(task.Request.ID, types.StatusResourceExhausted, types.Response{
			TaskID: task.Request.ID,
			Status: types.StatusResourceExhausted,
			Error:  "plugin at max_concurrent",
		})
		return
	}
	defer s.registry.Release(task.Request.Algorithm)

	workerID, err := s.balancer.Select(task.Request.Algorithm)
	if err != nil {
		s.finalize(task.Request.ID, types.StatusResourceExhausted, types.Response{
			TaskID: task.Request.ID,
			Status: types.StatusResourceExhausted,
			Error:  err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	go func() {
		select {
		case <-task.CancelCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	t0 := time.Now()
	resp, runErr := s.executor.Run(ctx, task.Request)
	dt := time.Since(t0)

	healthy := runErr == nil || apperr.SeverityOf(runErr) != apperr.SeverityCritical
	s.balancer.Update(workerID, resp.ResourceUsage.CPUTotal, normalizedMemory(resp.ResourceUsage), float64(dt.Milliseconds()), healthy)

	outcome := resp.Status
	if ctx.Err() == context.DeadlineExceeded {
		outcome = types.StatusTimeout
	}

	s.mu.Lock()
	wasCancelled := rec != nil && rec.response.Status == types.StatusCancelled
	s.mu.Unlock()
	if wasCancelled {
		outcome = types.StatusCancelled
	}

	if runErr != nil && outcome != types.StatusTimeout && outcome != types.StatusCancelled {
		outcome = types.StatusFailure
		if resp.Error == "" {
			resp.Error = runErr.Error()
		}
	}

	success := outcome == types.StatusSuccess
	s.balancer.RecordOutcome(workerID, success)
	s.balancer.Release(workerID)

	resp.TaskID = task.Request.ID
	resp.Status = outcome
	resp.ExecutionTimeMs = dt.Milliseconds()

	retryable := runErr != nil && apperr.IsRetryable(runErr)
	if outcome == types.StatusFailure && retryable && task.RetryCount < task.MaxRetries {
		task.RetryCount++
		metrics.TaskRetriesTotal.Inc()
		taskLogger.Info().Int("retry_count", task.RetryCount).Msg("retrying task")
		s.enqueue(task)
		return
	}

	metrics.SchedulingLatency.Observe(dt.Seconds())
	logger.Info().Str("task_id", task.Request.ID).Str("status", string(outcome)).Dur("duration", dt).Msg("task finished")
	s.finalize(task.Request.ID, outcome, resp)
}

func normalizedMemory(u types.ResourceUsage) float64 {
	const assumedHostMemoryBytes = 4 * 1024 * 1024 * 1024
	if u.MemoryBytes <= 0 {
		return 0
	}
	ratio := float64(u.MemoryBytes) / float64(assumedHostMemoryBytes)
	if ratio > 1 {
		return 1
	}
	return ratio
}

func (s *Scheduler) finalize(taskID string, status types.Status, resp types.Response) {
	var algorithm string
	s.mu.Lock()
	if rec, ok := s.tasks[taskID]; ok {
		resp.Status = status
		rec.response = resp
		algorithm = rec.task.Request.Algorithm
	}
	s.mu.Unlock()

	metrics.TasksTotal.WithLabelValues(string(status)).Inc()

	if err := s.auditSink.Record(audit.Entry{
		TaskID:     taskID,
		Algorithm:  algorithm,
		Status:     status,
		DurationMs: resp.ExecutionTimeMs,
		Error:      resp.Error,
		RecordedAt: time.Now(),
	}); err != nil {
		s.logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to record audit entry")
	}
}

func (s *Scheduler) backgroundLoop() {
	cleanupTicker := time.NewTicker(s.cfg.LoadBalancerUpdateInterval)
	defer cleanupTicker.Stop()
	strategyTicker := time.NewTicker(s.cfg.StrategyTuneInterval)
	defer strategyTicker.Stop()

	var reapTicker *time.Ticker
	var reapC <-chan time.Time
	if s.reaper != nil {
		reapTicker = time.NewTicker(s.cfg.BundleReapInterval)
		defer reapTicker.Stop()
		reapC = reapTicker.C
	}

	for {
		select {
		case <-cleanupTicker.C:
			s.balancer.CleanupExpiredWorkers()
		case <-strategyTicker.C:
			s.balancer.AdjustStrategyDynamically()
		case <-reapC:
			n, err := s.reaper.Reap(context.Background())
			if err != nil {
				s.logger.Warn().Err(err).Msg("bundle reap failed")
				continue
			}
			if n > 0 {
				metrics.BundlesReapedTotal.Add(float64(n))
				s.logger.Debug().Int("reaped", n).Msg("bundle reap complete")
			}
		case <-s.stopCh:
			return
		}
	}
}
