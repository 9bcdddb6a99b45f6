// Package policy evaluates the §4.3 sensitivity policy table as a Rego
// module instead of a hand-rolled Go switch, mirroring the teacher's own
// pkg/aianalysis/rego.Evaluator shape (test-only in the teacher repo;
// implemented here against that shape and retargeted from Kubernetes
// remediation-approval policy to data-sensitivity access policy).
package policy

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"
)

// defaultModule implements §4.3 exactly: public/internal are open;
// confidential and secret are each gated by their own enumerated
// agent-type list (populated by deployment configuration), with
// confidential and secret additionally requiring approval and
// encryption per the rules below.
const defaultModule = `
package access

default allow = false
default requires_approval = false
default requires_encryption = false

allow {
	input.sensitivity == "public"
}

allow {
	input.sensitivity == "internal"
}

allow {
	input.sensitivity == "confidential"
	input.agent_type == input.allowed_confidential_agent_types[_]
}

allow {
	input.sensitivity == "secret"
	input.agent_type == input.allowed_agent_types[_]
}

requires_approval {
	input.sensitivity == "confidential"
}

requires_approval {
	input.sensitivity == "secret"
}

requires_encryption {
	input.sensitivity == "confidential"
}

requires_encryption {
	input.sensitivity == "secret"
}
`

// Config selects the policy source. An empty PolicyPath uses the
// embedded defaultModule; a non-empty one loads (and hot-reloads) a
// Rego file from disk, per SPEC_FULL.md's config-hot-reload wiring.
type Config struct {
	PolicyPath string
}

// Input is the decision request passed to the policy.
type Input struct {
	Sensitivity                   string   `json:"sensitivity"`
	AgentType                     string   `json:"agent_type"`
	AllowedConfidentialAgentTypes []string `json:"allowed_confidential_agent_types"`
	AllowedAgentTypes             []string `json:"allowed_agent_types"`
}

// Result is the policy's decision.
type Result struct {
	Allow              bool
	RequiresApproval   bool
	RequiresEncryption bool
	Degraded           bool // true when Evaluate compiled the policy lazily because StartHotReload was never called
}

// Evaluator holds a prepared Rego query, swappable under lock on reload.
type Evaluator struct {
	mu      sync.RWMutex
	query   rego.PreparedEvalQuery
	loaded  bool
	cfg     Config
	logger  *zap.Logger
	watcher *fsnotify.Watcher
}

func NewEvaluator(cfg Config, logger *zap.Logger) *Evaluator {
	return &Evaluator{cfg: cfg, logger: logger}
}

// StartHotReload compiles the policy once and, when PolicyPath is set,
// watches it with fsnotify and recompiles on every write.
func (e *Evaluator) StartHotReload(ctx context.Context) error {
	if err := e.load(ctx); err != nil {
		return err
	}
	if e.cfg.PolicyPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy: start watcher: %w", err)
	}
	if err := watcher.Add(e.cfg.PolicyPath); err != nil {
		watcher.Close()
		return fmt.Errorf("policy: watch %s: %w", e.cfg.PolicyPath, err)
	}
	e.watcher = watcher

	go func() {
		for {
			select {
			case <-ctx.Done():
				watcher.Close()
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := e.load(ctx); err != nil && e.logger != nil {
					e.logger.Warn("policy reload failed, keeping previous rules", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if e.logger != nil {
					e.logger.Warn("policy watcher error", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

func (e *Evaluator) load(ctx context.Context) error {
	module := defaultModule
	if e.cfg.PolicyPath != "" {
		b, err := os.ReadFile(e.cfg.PolicyPath)
		if err != nil {
			return fmt.Errorf("policy: read %s: %w", e.cfg.PolicyPath, err)
		}
		module = string(b)
	}

	query, err := rego.New(
		rego.Query("data.access"),
		rego.Module("access.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("policy: compile: %w", err)
	}

	e.mu.Lock()
	e.query = query
	e.loaded = true
	e.mu.Unlock()
	return nil
}

// Evaluate runs the prepared query against in. If StartHotReload was
// never called it compiles the policy lazily (the PolicyPath file when
// set, else the embedded default module) and marks the result
// Degraded, rather than failing the caller's access decision outright.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (Result, error) {
	e.mu.RLock()
	query, loaded := e.query, e.loaded
	e.mu.RUnlock()

	degraded := false
	if !loaded {
		if err := e.load(ctx); err != nil {
			return Result{}, err
		}
		e.mu.RLock()
		query = e.query
		e.mu.RUnlock()
		degraded = true
	}

	rs, err := query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"sensitivity":                      in.Sensitivity,
		"agent_type":                       in.AgentType,
		"allowed_confidential_agent_types": toInterfaceSlice(in.AllowedConfidentialAgentTypes),
		"allowed_agent_types":              toInterfaceSlice(in.AllowedAgentTypes),
	}))
	if err != nil {
		return Result{}, fmt.Errorf("policy: eval: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Result{}, fmt.Errorf("policy: empty result set")
	}

	obj, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Result{}, fmt.Errorf("policy: unexpected result shape %T", rs[0].Expressions[0].Value)
	}

	return Result{
		Allow:              boolField(obj, "allow"),
		RequiresApproval:   boolField(obj, "requires_approval"),
		RequiresEncryption: boolField(obj, "requires_encryption"),
		Degraded:           degraded,
	}, nil
}

func boolField(obj map[string]interface{}, key string) bool {
	v, _ := obj[key].(bool)
	return v
}

func toInterfaceSlice(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
