package scheduler_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Samueladewole/velocityai-sub003/pkg/agent"
	"github.com/Samueladewole/velocityai-sub003/pkg/core/errs"
	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
	"github.com/Samueladewole/velocityai-sub003/pkg/scheduler"
)

type recordedAuditEvent struct {
	eventType string
	taskID    string
	outcome   domain.AuditOutcome
}

type fakeAudit struct {
	mu     sync.Mutex
	events []recordedAuditEvent
}

func (f *fakeAudit) RecordTaskEvent(_ context.Context, eventType, taskID, _ string, outcome domain.AuditOutcome, _ map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedAuditEvent{eventType, taskID, outcome})
}

func (f *fakeAudit) byTask(taskID string) []recordedAuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedAuditEvent
	for _, e := range f.events {
		if e.taskID == taskID {
			out = append(out, e)
		}
	}
	return out
}

// scriptedExecutor returns a scripted sequence of outcomes, one per call,
// used to drive scenario S4 (timeout then success).
type scriptedExecutor struct {
	mu     sync.Mutex
	calls  int32
	script []func(ctx context.Context) (domain.TaskResult, error)
}

func (s *scriptedExecutor) Execute(ctx context.Context, _ *domain.Task) (domain.TaskResult, error) {
	i := atomic.AddInt32(&s.calls, 1) - 1
	s.mu.Lock()
	fn := s.script[i]
	s.mu.Unlock()
	return fn(ctx)
}

func newTestScheduler(t *testing.T, exec scheduler.Executor) (*scheduler.Scheduler, *agent.Registry, *fakeAudit) {
	reg := agent.New(zap.NewNop())
	audit := &fakeAudit{}
	sched := scheduler.New(reg, exec, audit, zap.NewNop(), scheduler.Config{
		GlobalConcurrencyCap: 10,
		DefaultTaskTimeout:   time.Second,
		RetryMaxAttempts:     2,
		RetryBaseDelay:       5 * time.Millisecond,
		RetryMaxDelay:        50 * time.Millisecond,
		SubmissionRateLimit:  1000,
		SubmissionBurst:      100,
		DispatchTickInterval: 5 * time.Millisecond,
	})
	return sched, reg, audit
}

func waitForState(t *testing.T, sched *scheduler.Scheduler, taskID string, want domain.TaskState, timeout time.Duration) *domain.Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task, err := sched.GetTask(taskID)
		require.NoError(t, err)
		if task.State == want {
			return task
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach state %s", taskID, want)
	return nil
}

func TestSubmitAndCompleteHappyPath(t *testing.T) {
	exec := &scriptedExecutor{script: []func(ctx context.Context) (domain.TaskResult, error){
		func(ctx context.Context) (domain.TaskResult, error) { return domain.TaskResult{Success: true}, nil },
	}}
	sched, reg, _ := newTestScheduler(t, exec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	_, err := reg.Register(agent.Config{AgentID: "a1", AgentType: "risk-assessor", MaxConcurrentTask: 1})
	require.NoError(t, err)
	require.NoError(t, reg.Start(context.Background(), "a1"))

	taskID, err := sched.Submit(&domain.Task{OrganizationID: "org-1", AgentTarget: "risk-assessor", Priority: 5})
	require.NoError(t, err)

	waitForState(t, sched, taskID, domain.TaskCompleted, time.Second)
}

// TestPriorityPreemptionWithinAgent mirrors scenario S3: a single-capacity
// agent dispatches the higher-priority task first.
func TestPriorityPreemptionWithinAgent(t *testing.T) {
	var order []string
	var mu sync.Mutex
	exec := execFunc(func(ctx context.Context, task *domain.Task) (domain.TaskResult, error) {
		mu.Lock()
		order = append(order, task.TaskID)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return domain.TaskResult{Success: true}, nil
	})
	sched, reg, _ := newTestScheduler(t, exec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := reg.Register(agent.Config{AgentID: "a1", AgentType: "risk-assessor", MaxConcurrentTask: 1})
	require.NoError(t, err)
	require.NoError(t, reg.Start(context.Background(), "a1"))

	lowID, err := sched.Submit(&domain.Task{TaskID: "low", OrganizationID: "org-1", AgentTarget: "risk-assessor", Priority: 3})
	require.NoError(t, err)
	highID, err := sched.Submit(&domain.Task{TaskID: "high", OrganizationID: "org-1", AgentTarget: "risk-assessor", Priority: 9})
	require.NoError(t, err)

	go sched.Run(ctx)
	waitForState(t, sched, lowID, domain.TaskCompleted, 2*time.Second)
	waitForState(t, sched, highID, domain.TaskCompleted, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, "high", order[0], "higher priority task must start first (I5)")
}

// TestTimeoutThenRetrySucceeds mirrors scenario S4.
func TestTimeoutThenRetrySucceeds(t *testing.T) {
	exec := &scriptedExecutor{script: []func(ctx context.Context) (domain.TaskResult, error){
		func(ctx context.Context) (domain.TaskResult, error) {
			<-ctx.Done()
			return domain.TaskResult{}, ctx.Err()
		},
		func(ctx context.Context) (domain.TaskResult, error) {
			<-ctx.Done()
			return domain.TaskResult{}, ctx.Err()
		},
		func(ctx context.Context) (domain.TaskResult, error) { return domain.TaskResult{Success: true}, nil },
	}}
	sched, reg, audit := newTestScheduler(t, exec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := reg.Register(agent.Config{AgentID: "a1", AgentType: "risk-assessor", MaxConcurrentTask: 1})
	require.NoError(t, err)
	require.NoError(t, reg.Start(context.Background(), "a1"))

	taskID, err := sched.Submit(&domain.Task{OrganizationID: "org-1", AgentTarget: "risk-assessor",
		Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	go sched.Run(ctx)
	task := waitForState(t, sched, taskID, domain.TaskCompleted, 2*time.Second)
	assert.Equal(t, 3, task.Attempt)
	assert.GreaterOrEqual(t, len(audit.byTask(taskID)), 2)
}

func TestRetryExhaustionSurfacesFailed(t *testing.T) {
	exec := execFunc(func(ctx context.Context, task *domain.Task) (domain.TaskResult, error) {
		return domain.TaskResult{}, errs.Transient("execute", fmt.Errorf("downstream unavailable"))
	})
	sched, reg, _ := newTestScheduler(t, exec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := reg.Register(agent.Config{AgentID: "a1", AgentType: "risk-assessor", MaxConcurrentTask: 1})
	require.NoError(t, err)
	require.NoError(t, reg.Start(context.Background(), "a1"))

	taskID, err := sched.Submit(&domain.Task{OrganizationID: "org-1", AgentTarget: "risk-assessor",
		RetriesRemaining: 1})
	require.NoError(t, err)

	go sched.Run(ctx)
	waitForState(t, sched, taskID, domain.TaskFailed, 2*time.Second)
}

// execFunc adapts a plain function to the Executor interface.
type execFunc func(ctx context.Context, task *domain.Task) (domain.TaskResult, error)

func (f execFunc) Execute(ctx context.Context, task *domain.Task) (domain.TaskResult, error) {
	return f(ctx, task)
}
