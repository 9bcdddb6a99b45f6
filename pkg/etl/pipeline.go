// Package etl implements the ETL Runtime (C7): configurable
// extract/transform/validate/load pipelines, a batch processor for
// bulk record sources, and a cron-driven schedule manager.
//
// Grounded on erip-platform's data_architecture/etl.py (ETLPipeline,
// DataValidator, DataTransformer, BatchProcessor, ScheduleManager),
// reworked from pandas/asyncio into typed Go stages and channels.
package etl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Samueladewole/velocityai-sub003/pkg/core/errs"
	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
	"github.com/Samueladewole/velocityai-sub003/pkg/shared/logging"
)

// State mirrors PipelineStatus in the original etl.py.
type State string

const (
	StateRunning   State = "running"
	StateSuccess   State = "success"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateRetrying  State = "retrying"
)

// Record is one unit of data flowing through a pipeline.
type Record map[string]interface{}

// Extractor emits a bounded sequence of records (§4.7).
type Extractor func(ctx context.Context) ([]Record, error)

// Transformation maps records to records. The name passed to
// AddTransformation is not stored; transformations are not looked up by name.
type Transformation func(records []Record) ([]Record, error)

// ValidationResult reports aggregate validity plus, beyond the
// original Python's aggregate-only shape, which record indices failed
// — needed to report records_failed at pipeline-run granularity (S5).
type ValidationResult struct {
	Valid         bool
	Errors        []string
	Warnings      []string
	Stats         map[string]interface{}
	FailedIndices []int
}

// ValidationRule inspects a record batch.
type ValidationRule func(records []Record) ValidationResult

// Loader persists records; returns a loader-defined result plus error.
type Loader func(ctx context.Context, records []Record) (interface{}, error)

// ErrorHandler runs when any stage fails.
type ErrorHandler func(run *PipelineRun, stageErr error)

// AuditSink records pipeline lifecycle events.
type AuditSink interface {
	RecordPipelineEvent(ctx context.Context, eventType, pipelineID, orgID string, outcome domain.AuditOutcome, details map[string]interface{})
}

// PipelineRun is one execution record (§4.7).
type PipelineRun struct {
	RunID            string
	PipelineID       string
	State            State
	StartedAt        time.Time
	CompletedAt      time.Time
	RecordsProcessed int
	RecordsSuccess   int
	RecordsFailed    int
	Error            string
}

// Pipeline is an ordered extractors[] -> transformations[] ->
// validations[] -> loaders[] chain with at-most-one-run-at-a-time
// semantics (I8).
type Pipeline struct {
	mu sync.Mutex

	id              string
	orgID           string
	extractors      []Extractor
	transformations []Transformation
	validationNames []string
	loaders         []Loader
	errorHandlers   []ErrorHandler

	registry *ValidationRegistry
	audit    AuditSink
	logger   *zap.Logger

	running bool
	runs    []*PipelineRun
}

func NewPipeline(id, orgID string, registry *ValidationRegistry, audit AuditSink, logger *zap.Logger) *Pipeline {
	return &Pipeline{id: id, orgID: orgID, registry: registry, audit: audit, logger: logger}
}

func (p *Pipeline) AddExtractor(e Extractor) *Pipeline             { p.extractors = append(p.extractors, e); return p }
func (p *Pipeline) AddTransformation(name string, t Transformation) *Pipeline {
	p.transformations = append(p.transformations, t)
	return p
}
func (p *Pipeline) AddValidationRule(name string) *Pipeline { p.validationNames = append(p.validationNames, name); return p }
func (p *Pipeline) AddLoader(l Loader) *Pipeline            { p.loaders = append(p.loaders, l); return p }
func (p *Pipeline) AddErrorHandler(h ErrorHandler) *Pipeline { p.errorHandlers = append(p.errorHandlers, h); return p }

// ID reports the pipeline's identifier, used by the ScheduleManager.
func (p *Pipeline) ID() string { return p.id }

// LastRun returns the most recent run, or nil if the pipeline has
// never executed.
func (p *Pipeline) LastRun() *PipelineRun {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.runs) == 0 {
		return nil
	}
	return p.runs[len(p.runs)-1]
}

// SuccessRate is the fraction of historical runs that reached Success.
func (p *Pipeline) SuccessRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.runs) == 0 {
		return 0
	}
	var success int
	for _, r := range p.runs {
		if r.State == StateSuccess {
			success++
		}
	}
	return float64(success) / float64(len(p.runs))
}

// Run executes one end-to-end pass. At most one run per pipeline at a
// time; a concurrent Run fails with AlreadyRunning (I8).
func (p *Pipeline) Run(ctx context.Context) (*PipelineRun, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil, errs.AlreadyRunning("run pipeline", fmt.Errorf("pipeline %s already has a run in progress", p.id))
	}
	p.running = true
	run := &PipelineRun{RunID: uuid.NewString(), PipelineID: p.id, State: StateRunning, StartedAt: time.Now()}
	p.runs = append(p.runs, run)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	p.audit.RecordPipelineEvent(ctx, "pipeline_started", p.id, p.orgID, domain.OutcomeSuccess, nil)

	records, err := p.extract(ctx)
	if err != nil {
		return p.fail(ctx, run, "extract", err), nil
	}

	records, err = p.transform(records)
	if err != nil {
		return p.fail(ctx, run, "transform", err), nil
	}

	validation := p.validate(records)
	run.RecordsProcessed = len(records)
	run.RecordsFailed = len(validation.FailedIndices)
	run.RecordsSuccess = run.RecordsProcessed - run.RecordsFailed
	if !validation.Valid {
		p.logger.Warn("pipeline validation failed", logging.NewFields().
			Component("etl").Operation("validate").
			Custom("pipeline_id", p.id).Custom("errors", validation.Errors).ZapFields()...)
	}

	loadable := excludeFailed(records, validation.FailedIndices)
	if _, err := p.load(ctx, loadable); err != nil {
		return p.fail(ctx, run, "load", err), nil
	}

	run.State = StateSuccess
	run.CompletedAt = time.Now()
	p.audit.RecordPipelineEvent(ctx, "pipeline_completed", p.id, p.orgID, domain.OutcomeSuccess, map[string]interface{}{
		"records_processed": run.RecordsProcessed, "records_failed": run.RecordsFailed,
	})
	return run, nil
}

func (p *Pipeline) fail(ctx context.Context, run *PipelineRun, stage string, cause error) *PipelineRun {
	run.State = StateFailed
	run.CompletedAt = time.Now()
	run.Error = fmt.Sprintf("%s: %v", stage, cause)

	p.audit.RecordPipelineEvent(ctx, "pipeline_failed", p.id, p.orgID, domain.OutcomeFailure, map[string]interface{}{"stage": stage, "error": run.Error})
	p.logger.Error("pipeline run failed", logging.NewFields().
		Component("etl").Operation(stage).Custom("pipeline_id", p.id).Error(cause).ZapFields()...)

	for _, h := range p.errorHandlers {
		h(run, cause)
	}
	return run
}

func (p *Pipeline) extract(ctx context.Context) ([]Record, error) {
	var all []Record
	for _, e := range p.extractors {
		records, err := e(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("etl: no data extracted")
	}
	return all, nil
}

func (p *Pipeline) transform(records []Record) ([]Record, error) {
	for _, t := range p.transformations {
		var err error
		records, err = t(records)
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (p *Pipeline) validate(records []Record) ValidationResult {
	if len(p.validationNames) == 0 {
		return ValidationResult{Valid: true}
	}
	merged := ValidationResult{Valid: true}
	failed := make(map[int]struct{})
	for _, name := range p.validationNames {
		rule, ok := p.registry.Get(name)
		if !ok {
			p.logger.Warn("validation rule not found", zap.String("rule", name))
			continue
		}
		res := rule(records)
		merged.Errors = append(merged.Errors, res.Errors...)
		merged.Warnings = append(merged.Warnings, res.Warnings...)
		if !res.Valid {
			merged.Valid = false
		}
		for _, idx := range res.FailedIndices {
			failed[idx] = struct{}{}
		}
	}
	merged.FailedIndices = sortedInts(failed)
	return merged
}

func (p *Pipeline) load(ctx context.Context, records []Record) ([]interface{}, error) {
	var results []interface{}
	for _, l := range p.loaders {
		result, err := l(ctx, records)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func sortedInts(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// excludeFailed drops the records at failedIndices before they reach a
// loader: a record that failed validation was never accepted, so it
// must not appear in what downstream systems load (S5).
func excludeFailed(records []Record, failedIndices []int) []Record {
	if len(failedIndices) == 0 {
		return records
	}
	failed := make(map[int]struct{}, len(failedIndices))
	for _, idx := range failedIndices {
		failed[idx] = struct{}{}
	}
	out := make([]Record, 0, len(records)-len(failed))
	for i, r := range records {
		if _, ok := failed[i]; ok {
			continue
		}
		out = append(out, r)
	}
	return out
}
