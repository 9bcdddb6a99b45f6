// Package agent implements the Agent Registry & Lifecycle (C5): it
// registers agents, drives them through the state machine in §4.5, and
// is the scheduler's source of truth for routing decisions.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Samueladewole/velocityai-sub003/pkg/core/errs"
	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
	"github.com/Samueladewole/velocityai-sub003/pkg/orchestration/dependency"
	"github.com/Samueladewole/velocityai-sub003/pkg/shared/logging"
	"go.uber.org/zap"
)

// MaxConsecutiveFailures is the threshold N in "*→Failed on repeated
// error (>N consecutive task failures)" (§4.5).
const MaxConsecutiveFailures = 3

// Probe checks one dependency an agent needs before it can go Idle
// (connectivity probes to dependencies, capability registration).
type Probe func(ctx context.Context) error

// Config describes how to register one agent.
type Config struct {
	AgentID           string
	AgentType         string
	Capabilities      []string
	MaxConcurrentTask int
	Priority          int
	Probes            []Probe
}

// Health is the registry's routing-relevant view of one agent.
type Health struct {
	State    domain.AgentState
	InFlight int
	Uptime   time.Duration
	Metrics  map[string]interface{}
}

type entry struct {
	agent        *domain.Agent
	breaker      *dependency.CircuitBreaker
	probes       []Probe
	inFlight     int
}

// Filter selects registered agents by type and/or state.
type Filter struct {
	AgentType string
	State     domain.AgentState
}

// Registry owns every Agent in the process.
type Registry struct {
	mu     sync.Mutex
	agents map[string]*entry
	logger *zap.Logger
}

func New(logger *zap.Logger) *Registry {
	return &Registry{agents: make(map[string]*entry), logger: logger}
}

// Register adds a new agent in the Registered state. It does not start
// it; callers call Start separately so registration and activation can
// be audited as distinct events.
func (r *Registry) Register(cfg Config) (*domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[cfg.AgentID]; exists {
		return nil, fmt.Errorf("agent: %s already registered", cfg.AgentID)
	}
	caps := make(map[string]struct{}, len(cfg.Capabilities))
	for _, c := range cfg.Capabilities {
		caps[c] = struct{}{}
	}
	now := time.Now()
	a := &domain.Agent{
		AgentID: cfg.AgentID, AgentType: cfg.AgentType, Capabilities: caps,
		MaxConcurrentTask: cfg.MaxConcurrentTask, Priority: cfg.Priority,
		State: domain.AgentRegistered, RegisteredAt: now, LastStateChange: now,
	}
	r.agents[cfg.AgentID] = &entry{
		agent: a, probes: cfg.Probes,
		breaker: dependency.NewCircuitBreaker(cfg.AgentID+"-deps", 0.5, 30*time.Second),
	}
	r.logger.Info("agent registered", logging.AgentFields("register", cfg.AgentID, "").ZapFields()...)
	return a, nil
}

// Deregister removes an agent entirely; callers should Stop it first.
func (r *Registry) Deregister(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agentID]; !ok {
		return errs.NotFound("deregister agent", fmt.Errorf("agent %s", agentID))
	}
	delete(r.agents, agentID)
	return nil
}

func (r *Registry) transition(e *entry, to domain.AgentState) {
	e.agent.State = to
	e.agent.LastStateChange = time.Now()
}

// Start drives an agent Registered -> Initializing -> Idle, running its
// registered probes. A probe failure transitions it to Failed instead.
func (r *Registry) Start(ctx context.Context, agentID string) error {
	r.mu.Lock()
	e, ok := r.agents[agentID]
	r.mu.Unlock()
	if !ok {
		return errs.NotFound("start agent", fmt.Errorf("agent %s", agentID))
	}

	r.mu.Lock()
	r.transition(e, domain.AgentInitializing)
	r.mu.Unlock()

	for _, probe := range e.probes {
		p := probe
		if err := e.breaker.Call(func() error { return p(ctx) }); err != nil {
			r.mu.Lock()
			r.transition(e, domain.AgentFailed)
			r.mu.Unlock()
			r.logger.Error("agent initialization failed", logging.AgentFields("start", agentID, "").
				Error(err).ZapFields()...)
			return errs.Permanent("start agent", err)
		}
	}

	r.mu.Lock()
	r.transition(e, domain.AgentIdle)
	r.mu.Unlock()
	return nil
}

// Stop transitions an agent to Stopped from any state.
func (r *Registry) Stop(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return errs.NotFound("stop agent", fmt.Errorf("agent %s", agentID))
	}
	r.transition(e, domain.AgentStopped)
	return nil
}

// Reset moves a Failed agent back to Initializing (admin reset).
func (r *Registry) Reset(agentID string) error {
	r.mu.Lock()
	e, ok := r.agents[agentID]
	r.mu.Unlock()
	if !ok {
		return errs.NotFound("reset agent", fmt.Errorf("agent %s", agentID))
	}
	if e.agent.State != domain.AgentFailed {
		return fmt.Errorf("agent: %s is not in Failed state", agentID)
	}
	r.mu.Lock()
	e.agent.ConsecutiveErrors = 0
	r.transition(e, domain.AgentInitializing)
	r.mu.Unlock()
	return nil
}

// BeginTask marks the agent Running and bumps in-flight count; the
// scheduler calls this only after confirming capacity via Health.
func (r *Registry) BeginTask(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return errs.NotFound("begin task", fmt.Errorf("agent %s", agentID))
	}
	if e.agent.State != domain.AgentIdle && e.agent.State != domain.AgentRunning {
		return fmt.Errorf("agent: %s not idle (state=%s)", agentID, e.agent.State)
	}
	e.inFlight++
	r.transition(e, domain.AgentRunning)
	return nil
}

// EndTask records a task outcome, drops in-flight, and applies the
// consecutive-failure rule that can push the agent to Failed.
func (r *Registry) EndTask(agentID string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return errs.NotFound("end task", fmt.Errorf("agent %s", agentID))
	}
	if e.inFlight > 0 {
		e.inFlight--
	}
	if success {
		e.agent.ConsecutiveErrors = 0
	} else {
		e.agent.ConsecutiveErrors++
	}
	if e.agent.ConsecutiveErrors > MaxConsecutiveFailures {
		r.transition(e, domain.AgentFailed)
		return nil
	}
	if e.inFlight == 0 {
		r.transition(e, domain.AgentIdle)
	}
	return nil
}

// List returns every agent matching the filter (zero value matches all).
func (r *Registry) List(f Filter) []*domain.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Agent
	for _, e := range r.agents {
		if f.AgentType != "" && e.agent.AgentType != f.AgentType {
			continue
		}
		if f.State != "" && e.agent.State != f.State {
			continue
		}
		out = append(out, e.agent)
	}
	return out
}

// Health reports the routing-relevant snapshot the scheduler consults
// before dispatching to this agent.
func (r *Registry) Health(agentID string) (Health, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return Health{}, errs.NotFound("health", fmt.Errorf("agent %s", agentID))
	}
	return Health{
		State:    e.agent.State,
		InFlight: e.inFlight,
		Uptime:   time.Since(e.agent.RegisteredAt),
		Metrics: map[string]interface{}{
			"consecutive_errors": e.agent.ConsecutiveErrors,
			"max_concurrent":     e.agent.MaxConcurrentTask,
			"breaker_state":      e.breaker.GetState(),
		},
	}, nil
}

// HasCapacity reports whether agentID is Idle (or Running with spare
// concurrency) and can accept another task.
func (r *Registry) HasCapacity(agentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return false, errs.NotFound("has capacity", fmt.Errorf("agent %s", agentID))
	}
	if e.agent.State != domain.AgentIdle && e.agent.State != domain.AgentRunning {
		return false, nil
	}
	return e.inFlight < e.agent.MaxConcurrentTask, nil
}

// Get returns the agent record itself (used by the scheduler to resolve
// agent_target -> candidate agent ids).
func (r *Registry) Get(agentID string) (*domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return nil, errs.NotFound("get agent", fmt.Errorf("agent %s", agentID))
	}
	return e.agent, nil
}
