/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package dependency guards calls to external dependencies an agent relies
// on (inference providers, upstream APIs, message brokers) with a circuit
// breaker, so one flaky dependency can't cascade into every agent that
// touches it.
package dependency

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState is a node in the breaker's state machine.
type CircuitState string

const (
	CircuitStateClosed   CircuitState = "closed"
	CircuitStateOpen     CircuitState = "open"
	CircuitStateHalfOpen CircuitState = "half-open"
)

// minRequestsForEvaluation is the sample size below which a failure rate
// is too noisy to trip the breaker on.
const minRequestsForEvaluation = 5

// CircuitBreaker trips open once a dependency's failure rate crosses
// failureThreshold over at least minRequestsForEvaluation calls, fails
// fast while open, and probes recovery with a single call after
// resetTimeout elapses.
type CircuitBreaker struct {
	mu               sync.Mutex
	name             string
	failureThreshold float64
	resetTimeout     time.Duration

	state      CircuitState
	successes  int64
	failures   int64
	openedAt   time.Time
}

func NewCircuitBreaker(name string, failureThreshold float64, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            CircuitStateClosed,
	}
}

func (cb *CircuitBreaker) GetName() string                    { return cb.name }
func (cb *CircuitBreaker) GetFailureThreshold() float64       { return cb.failureThreshold }
func (cb *CircuitBreaker) GetResetTimeout() time.Duration     { return cb.resetTimeout }

func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) GetFailures() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) GetFailureRate() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureRateLocked()
}

func (cb *CircuitBreaker) failureRateLocked() float64 {
	total := cb.successes + cb.failures
	if total == 0 {
		return 0.0
	}
	return float64(cb.failures) / float64(total)
}

func (cb *CircuitBreaker) resetLocked() {
	cb.successes = 0
	cb.failures = 0
}

// Call runs fn if the breaker allows it, fails fast with
// "circuit breaker is open" otherwise, and updates state from the outcome.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allow() {
		return fmt.Errorf("circuit breaker %s: circuit breaker is open", cb.name)
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		if cb.state == CircuitStateHalfOpen {
			cb.state = CircuitStateOpen
			cb.openedAt = time.Now()
			return err
		}
		if cb.successes+cb.failures >= minRequestsForEvaluation && cb.failureRateLocked() >= cb.failureThreshold {
			cb.state = CircuitStateOpen
			cb.openedAt = time.Now()
		}
		return err
	}

	cb.successes++
	if cb.state == CircuitStateHalfOpen {
		cb.state = CircuitStateClosed
		cb.resetLocked()
	}
	return nil
}

// allow decides whether the next call may proceed, flipping Open to
// Half-Open once resetTimeout has elapsed.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitStateOpen:
		if time.Since(cb.openedAt) >= cb.resetTimeout {
			cb.state = CircuitStateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}
