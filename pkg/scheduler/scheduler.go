// Package scheduler implements the Task Scheduler & Execution Engine
// (C6): admission, priority dispatch, concurrency caps, cooperative
// cancellation, and retry with backoff.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/Samueladewole/velocityai-sub003/pkg/agent"
	"github.com/Samueladewole/velocityai-sub003/pkg/core/errs"
	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
	"github.com/Samueladewole/velocityai-sub003/pkg/shared/logging"
)

// Executor runs one task attempt against a concrete agent. The scheduler
// treats it as opaque: agent business logic lives outside this package.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task) (domain.TaskResult, error)
}

// AuditSink records task lifecycle events.
type AuditSink interface {
	RecordTaskEvent(ctx context.Context, eventType, taskID, orgID string, outcome domain.AuditOutcome, details map[string]interface{})
}

// Config carries the environment knobs named in §6.
type Config struct {
	GlobalConcurrencyCap  int
	DefaultTaskTimeout    time.Duration
	RetryMaxAttempts      int
	RetryBaseDelay        time.Duration
	RetryMaxDelay         time.Duration
	SubmissionRateLimit   rate.Limit
	SubmissionBurst       int
	DispatchTickInterval  time.Duration
}

func defaultConfig() Config {
	return Config{
		GlobalConcurrencyCap: 100,
		DefaultTaskTimeout:   30 * time.Second,
		RetryMaxAttempts:     2,
		RetryBaseDelay:       time.Second,
		RetryMaxDelay:        time.Minute,
		SubmissionRateLimit:  rate.Limit(200),
		SubmissionBurst:      50,
		DispatchTickInterval: 50 * time.Millisecond,
	}
}

type taskState struct {
	task      *domain.Task
	cancel    context.CancelFunc
	attempt   int
}

// Scheduler owns every pending/running task and drives the dispatch loop
// described in §4.6.
type Scheduler struct {
	mu          sync.Mutex
	cfg         Config
	registry    *agent.Registry
	executor    Executor
	audit       AuditSink
	logger      *zap.Logger
	limiter     *rate.Limiter
	globalSem   map[string]*semaphore.Weighted // per organization
	agentSem    map[string]*semaphore.Weighted // per agent id
	breakers    map[string]*gobreaker.CircuitBreaker
	queues      map[string]*priorityQueue // per organization
	tasks       map[string]*taskState
	seq         int64
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

func New(registry *agent.Registry, executor Executor, audit AuditSink, logger *zap.Logger, cfg Config) *Scheduler {
	if cfg.RetryMaxAttempts == 0 && cfg.RetryBaseDelay == 0 {
		cfg = defaultConfig()
	}
	return &Scheduler{
		cfg:       cfg,
		registry:  registry,
		executor:  executor,
		audit:     audit,
		logger:    logger,
		limiter:   rate.NewLimiter(cfg.SubmissionRateLimit, cfg.SubmissionBurst),
		globalSem: make(map[string]*semaphore.Weighted),
		agentSem:  make(map[string]*semaphore.Weighted),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		queues:    make(map[string]*priorityQueue),
		tasks:     make(map[string]*taskState),
		stopCh:    make(chan struct{}),
	}
}

func (s *Scheduler) globalSemFor(org string) *semaphore.Weighted {
	if sem, ok := s.globalSem[org]; ok {
		return sem
	}
	sem := semaphore.NewWeighted(int64(s.cfg.GlobalConcurrencyCap))
	s.globalSem[org] = sem
	return sem
}

func (s *Scheduler) agentSemFor(agentID string, maxConcurrent int) *semaphore.Weighted {
	if sem, ok := s.agentSem[agentID]; ok {
		return sem
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	s.agentSem[agentID] = sem
	return sem
}

func (s *Scheduler) breakerFor(agentType string) *gobreaker.CircuitBreaker {
	if cb, ok := s.breakers[agentType]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "dispatch:" + agentType,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
	})
	s.breakers[agentType] = cb
	return cb
}

// Submit admits a task into its organization's priority queue. It applies
// submission backpressure before queueing through a token-bucket rate
// limit (SubmissionRateLimit/SubmissionBurst); the queue length itself is
// not bounded.
func (s *Scheduler) Submit(task *domain.Task) (string, error) {
	if !s.limiter.Allow() {
		return "", errs.Backpressure("submit task", fmt.Errorf("submission rate exceeded"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	if task.Timeout == 0 {
		task.Timeout = s.cfg.DefaultTaskTimeout
	}
	if task.RetriesRemaining == 0 {
		task.RetriesRemaining = s.cfg.RetryMaxAttempts
	}
	task.State = domain.TaskPending
	task.SubmittedAt = time.Now()

	pq, ok := s.queues[task.OrganizationID]
	if !ok {
		pq = newPriorityQueue()
		s.queues[task.OrganizationID] = pq
	}
	s.seq++
	item := &queueItem{task: task, seq: s.seq}
	heap.Push(pq, item)
	s.tasks[task.TaskID] = &taskState{task: task}

	s.logger.Debug("task submitted", logging.NewFields().Component("scheduler").
		Operation("submit").Resource("task", task.TaskID).
		Custom("organization_id", task.OrganizationID).Custom("priority", task.Priority).ZapFields()...)
	return task.TaskID, nil
}

// GetTask returns a snapshot of the task's current state.
func (s *Scheduler) GetTask(taskID string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[taskID]
	if !ok {
		return nil, errs.NotFound("get task", fmt.Errorf("task %s", taskID))
	}
	snapshot := *st.task
	return &snapshot, nil
}

// CancelTask requests cooperative cancellation of a running task, or
// removes it from its queue if not yet dispatched.
func (s *Scheduler) CancelTask(taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[taskID]
	if !ok {
		return false, errs.NotFound("cancel task", fmt.Errorf("task %s", taskID))
	}
	if st.cancel != nil {
		st.cancel()
		return true, nil
	}
	if st.task.State == domain.TaskPending {
		if pq, ok := s.queues[st.task.OrganizationID]; ok {
			for _, item := range *pq {
				if item.task.TaskID == taskID {
					removeItem(pq, item)
					break
				}
			}
		}
		st.task.State = domain.TaskCancelled
		return true, nil
	}
	return false, nil
}

// Run starts the dispatch loop and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.DispatchTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-s.stopCh:
			s.wg.Wait()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop halts the dispatch loop after in-flight executions drain.
func (s *Scheduler) Stop() { close(s.stopCh) }

type dispatchPlan struct {
	task *domain.Task
	a    *domain.Agent
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	idle := s.registry.List(agent.Filter{State: domain.AgentIdle})
	running := s.registry.List(agent.Filter{State: domain.AgentRunning})
	agents := append(idle, running...)

	var plans []dispatchPlan

	for _, a := range agents {
		has, err := s.registry.HasCapacity(a.AgentID)
		if err != nil || !has {
			continue
		}
		// Scan every organization's queue for a compatible task; cheap at
		// the scale this scheduler targets (single-process, in-memory).
		for _, orgQueue := range s.queues {
			if item := peekCompatible(orgQueue, a.AgentID, a.AgentType); item != nil {
				plans = append(plans, dispatchPlan{task: item.task, a: a})
				removeItem(orgQueue, item)
				break
			}
		}
	}
	s.mu.Unlock()

	for _, p := range plans {
		s.dispatch(ctx, p.task, p.a)
	}

	s.enforceDeadlines()
}

// dispatch launches one task execution against agent a, acquiring both
// the global per-organization semaphore and the agent's own semaphore
// (I6), and drives retry/backoff on failure (I7).
func (s *Scheduler) dispatch(ctx context.Context, task *domain.Task, a *domain.Agent) {
	globalSem := s.globalSemFor(task.OrganizationID)
	agentSem := s.agentSemFor(a.AgentID, a.MaxConcurrentTask)

	if !globalSem.TryAcquire(1) {
		s.requeue(task)
		return
	}
	if !agentSem.TryAcquire(1) {
		globalSem.Release(1)
		s.requeue(task)
		return
	}

	if err := s.registry.BeginTask(a.AgentID); err != nil {
		globalSem.Release(1)
		agentSem.Release(1)
		s.requeue(task)
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	task.State = domain.TaskRunning
	task.Attempt++

	s.mu.Lock()
	if st, ok := s.tasks[task.TaskID]; ok {
		st.cancel = cancel
		st.attempt = task.Attempt
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer globalSem.Release(1)
		defer agentSem.Release(1)

		cb := s.breakerFor(a.AgentType)
		result, execErr := cb.Execute(func() (interface{}, error) {
			return s.executor.Execute(execCtx, task)
		})

		s.finish(execCtx, task, a, result, execErr)
	}()
}

func (s *Scheduler) finish(ctx context.Context, task *domain.Task, a *domain.Agent, raw interface{}, execErr error) {
	var result domain.TaskResult
	if r, ok := raw.(domain.TaskResult); ok {
		result = r
	}

	success := execErr == nil && result.Success

	// A cancel from enforceDeadlines after the task's deadline is a
	// Timeout failure, not a cancellation.
	pastDeadline := !task.Deadline.IsZero() && time.Now().After(task.Deadline)
	if ctx.Err() == context.Canceled && !pastDeadline {
		_ = s.registry.EndTask(a.AgentID, false)
		task.State = domain.TaskCancelled
		s.audit.RecordTaskEvent(ctx, "task_cancelled", task.TaskID, task.OrganizationID, domain.OutcomeBlocked, nil)
		return
	}

	_ = s.registry.EndTask(a.AgentID, success)

	if success {
		task.State = domain.TaskCompleted
		s.audit.RecordTaskEvent(ctx, "task_completed", task.TaskID, task.OrganizationID, domain.OutcomeSuccess,
			map[string]interface{}{"attempt": task.Attempt})
		return
	}

	kind := result.ErrorKind
	if ctx.Err() == context.DeadlineExceeded || pastDeadline {
		kind = domain.KindTimeout
	} else if execErr != nil {
		kind = errs.KindOf(execErr)
		if kind == domain.KindNone {
			kind = domain.KindTransient
		}
	}
	retryable := (kind == domain.KindTransient || kind == domain.KindTimeout) && !pastDeadline

	if retryable && task.RetriesRemaining > 0 {
		task.RetriesRemaining--
		task.State = domain.TaskRetrying
		delay := backoffDelay(s.cfg.RetryBaseDelay, s.cfg.RetryMaxDelay, task.Attempt)
		s.audit.RecordTaskEvent(ctx, "task_retry_scheduled", task.TaskID, task.OrganizationID, domain.OutcomePartial,
			map[string]interface{}{"attempt": task.Attempt, "delay_ms": delay.Milliseconds()})
		time.AfterFunc(delay, func() { s.requeue(task) })
		return
	}

	task.State = domain.TaskFailed
	s.audit.RecordTaskEvent(ctx, "task_failed", task.TaskID, task.OrganizationID, domain.OutcomeFailure,
		map[string]interface{}{"attempt": task.Attempt, "error_kind": string(kind)})
}

// backoffDelay implements I7's `base × 2^(attempt-1)`, capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base << uint(attempt-1)
	if d > max || d <= 0 {
		return max
	}
	return d
}

func (s *Scheduler) requeue(task *domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pq, ok := s.queues[task.OrganizationID]
	if !ok {
		pq = newPriorityQueue()
		s.queues[task.OrganizationID] = pq
	}
	task.State = domain.TaskPending
	s.seq++
	heap.Push(pq, &queueItem{task: task, seq: s.seq})
}

// enforceDeadlines cancels any running task past its deadline; finish then
// marks it Failed with error kind Timeout (no retry once the deadline has
// passed) per §5/§7.
func (s *Scheduler) enforceDeadlines() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, st := range s.tasks {
		if st.task.State != domain.TaskRunning || st.task.Deadline.IsZero() {
			continue
		}
		if now.After(st.task.Deadline) && st.cancel != nil {
			st.cancel()
		}
	}
}
