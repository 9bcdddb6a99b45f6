// Package metrics exposes the Prometheus gauges/counters/histograms
// every component of the orchestration core records against: task
// throughput and latency, evidence dedup, context cache behavior, and
// audit write volume. Grounded on the teacher's own pkg/metrics shape
// (package-level collectors registered at init, a Timer helper for
// duration recording) — renamed from the teacher's alert/action/SLM
// vocabulary to this domain's tasks/evidence/context/audit vocabulary.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasks_submitted_total",
		Help: "Total tasks accepted by the scheduler, by organization and task type.",
	}, []string{"organization_id", "task_type"})

	TasksCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasks_completed_total",
		Help: "Total task attempts that reached a terminal state, by outcome.",
	}, []string{"task_type", "outcome"})

	TaskProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "task_processing_duration_seconds",
		Help:    "Task execution duration from dispatch to terminal result.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task_type"})

	TaskRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "task_retries_total",
		Help: "Total retry attempts issued by the scheduler.",
	}, []string{"task_type"})

	AgentsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agent_tasks_in_flight",
		Help: "Current in-flight task count per agent.",
	}, []string{"agent_id"})

	EvidenceStoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidence_stored_total",
		Help: "Evidence items persisted, excluding dedup hits.",
	}, []string{"framework", "evidence_type"})

	EvidenceDeduplicatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidence_deduplicated_total",
		Help: "store() calls that resolved to an existing evidence_id by hash.",
	}, []string{"framework"})

	ContextCacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "context_cache_hits_total",
		Help: "Context Store reads served from the in-process cache.",
	}, []string{"context_type"})

	ContextCacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "context_cache_misses_total",
		Help: "Context Store reads that fell through to the backing KV store.",
	}, []string{"context_type"})

	ContextCacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "context_cache_evictions_total",
		Help: "Entries evicted from the bounded context cache.",
	})

	AccessDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "access_decisions_total",
		Help: "Access Controller decisions by sensitivity tier and outcome.",
	}, []string{"sensitivity", "allowed"})

	AuditEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_events_total",
		Help: "Audit events appended, by category and outcome.",
	}, []string{"category", "outcome"})

	PipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_runs_total",
		Help: "ETL pipeline runs, by pipeline id and final state.",
	}, []string{"pipeline_id", "state"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Thin-adapter HTTP request duration, labeled by method and cardinality-normalized path.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ComplianceScoreGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "compliance_overall_score",
		Help: "Most recently computed overall compliance score per organization and framework.",
	}, []string{"organization_id", "framework"})
)

// Timer records an elapsed duration against a histogram at Stop time,
// matching the teacher's NewTimer()/RecordX() call-site ergonomics.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) Elapsed() time.Duration { return time.Since(t.start) }

// ObserveTaskDuration records the timer's elapsed time against the task
// processing duration histogram for taskType.
func (t *Timer) ObserveTaskDuration(taskType string) {
	TaskProcessingDuration.WithLabelValues(taskType).Observe(t.Elapsed().Seconds())
}
