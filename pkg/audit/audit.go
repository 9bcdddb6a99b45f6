// Package audit implements the Audit Log (C10): an append-only,
// integrity-sealed event stream every other component writes to, with
// filtered reads, real-time monitor fan-out, and reporting read models.
package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
	"github.com/Samueladewole/velocityai-sub003/pkg/integrity"
	"github.com/Samueladewole/velocityai-sub003/pkg/shared/logging"
)

// DefaultRetentionDays is the 7-year default retention (§4.10); callers
// may override per event via RetentionDays.
const DefaultRetentionDays = 7 * 365

// Monitor observes every write, side-effect-free with respect to the log
// itself (§4.10: "Monitors are side-effect-free w.r.t. the log").
type Monitor interface {
	Observe(event domain.AuditEvent)
}

// MonitorFunc adapts a plain function to Monitor.
type MonitorFunc func(domain.AuditEvent)

func (f MonitorFunc) Observe(e domain.AuditEvent) { f(e) }

// Filter selects events on read.
type Filter struct {
	OrganizationID string
	Start, End     time.Time
	Category       domain.AuditCategory
	ActorID        string
	ResourceRef    string
	Outcome        domain.AuditOutcome
	MinRiskScore   float64
	Limit          int
}

// Log is a single-shard, in-process append-only audit store (see
// SPEC_FULL.md's Open Question decision: single shard is sufficient at
// this scale; sharding is a storage-layer concern, not a log-semantics one).
type Log struct {
	mu       sync.RWMutex
	byOrg    map[string][]*domain.AuditEvent
	integrity *integrity.Engine
	monitors []Monitor
	logger   *zap.Logger
}

func New(engine *integrity.Engine, logger *zap.Logger) *Log {
	return &Log{byOrg: make(map[string][]*domain.AuditEvent), integrity: engine, logger: logger}
}

// RegisterMonitor adds a fan-out observer invoked synchronously on Record.
func (l *Log) RegisterMonitor(m Monitor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.monitors = append(l.monitors, m)
}

// Record appends one event, sealing it with an integrity hash (I10:
// append-only, verified via hash rather than storage-level immutability).
func (l *Log) Record(_ context.Context, event domain.AuditEvent) (string, error) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RetentionDays == 0 {
		event.RetentionDays = DefaultRetentionDays
	}

	event.IntegrityHash = l.integrity.Seal(auditSealRecord(&event))

	l.mu.Lock()
	l.byOrg[event.OrganizationID] = append(l.byOrg[event.OrganizationID], &event)
	monitors := append([]Monitor(nil), l.monitors...)
	l.mu.Unlock()

	for _, m := range monitors {
		m.Observe(event)
	}
	return event.EventID, nil
}

// RecordTaskEvent adapts scheduler.AuditSink.
func (l *Log) RecordTaskEvent(ctx context.Context, eventType, taskID, orgID string, outcome domain.AuditOutcome, details map[string]interface{}) {
	l.record(ctx, domain.CategoryTask, eventType, taskID, orgID, outcome, details)
}

// RecordContextEvent adapts contextstore.AuditSink.
func (l *Log) RecordContextEvent(ctx context.Context, eventType, entryID, orgID, agentID string, allowed bool, reason string) {
	outcome := domain.OutcomeSuccess
	if !allowed {
		outcome = domain.OutcomeBlocked
	}
	l.record(ctx, domain.CategoryContext, eventType, entryID, orgID, outcome, map[string]interface{}{"agent_id": agentID, "reason": reason})
}

// RecordAccessDecision adapts access.AuditSink.
func (l *Log) RecordAccessDecision(ctx context.Context, agentID, agentType, entryID, orgID string, allowed bool, reason string) {
	outcome := domain.OutcomeSuccess
	if !allowed {
		outcome = domain.OutcomeBlocked
	}
	l.record(ctx, domain.CategoryAccess, "access_evaluated", entryID, orgID, outcome,
		map[string]interface{}{"agent_id": agentID, "agent_type": agentType, "reason": reason})
}

// RecordDataShareEvent adapts datashare.AuditSink.
func (l *Log) RecordDataShareEvent(ctx context.Context, eventType, requestID, orgID string, outcome domain.AuditOutcome, details map[string]interface{}) {
	l.record(ctx, domain.CategoryDataShare, eventType, requestID, orgID, outcome, details)
}

// RecordPipelineEvent adapts etl.AuditSink.
func (l *Log) RecordPipelineEvent(ctx context.Context, eventType, pipelineID, orgID string, outcome domain.AuditOutcome, details map[string]interface{}) {
	l.record(ctx, domain.CategoryPipeline, eventType, pipelineID, orgID, outcome, details)
}

func (l *Log) record(ctx context.Context, category domain.AuditCategory, eventType, resourceRef, orgID string, outcome domain.AuditOutcome, details map[string]interface{}) {
	_, err := l.Record(ctx, domain.AuditEvent{
		Level: levelFor(outcome), Category: category, EventType: eventType, Outcome: outcome,
		ActorKind: domain.ActorAgent, OrganizationID: orgID, ResourceRef: resourceRef, Details: details,
	})
	if err != nil {
		l.logger.Error("failed to record audit event", logging.NewFields().
			Component("audit").Operation(eventType).Error(err).ZapFields()...)
	}
}

func levelFor(outcome domain.AuditOutcome) domain.AuditLevel {
	switch outcome {
	case domain.OutcomeFailure, domain.OutcomeError:
		return domain.AuditLevelError
	case domain.OutcomeBlocked:
		return domain.AuditLevelWarning
	default:
		return domain.AuditLevelInfo
	}
}

// Query returns events matching f, newest first, verifying each event's
// integrity hash and refusing to return a tampered one.
func (l *Log) Query(f Filter) ([]*domain.AuditEvent, error) {
	l.mu.RLock()
	events := append([]*domain.AuditEvent(nil), l.byOrg[f.OrganizationID]...)
	l.mu.RUnlock()

	var out []*domain.AuditEvent
	for _, e := range events {
		if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
			continue
		}
		if !f.End.IsZero() && e.Timestamp.After(f.End) {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if f.ResourceRef != "" && e.ResourceRef != f.ResourceRef {
			continue
		}
		if f.Outcome != "" && e.Outcome != f.Outcome {
			continue
		}
		if e.RiskScore < f.MinRiskScore {
			continue
		}
		if err := l.Verify(e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Verify re-derives an event's integrity hash and compares it to the
// stored one, detecting tampering (I10).
func (l *Log) Verify(event *domain.AuditEvent) error {
	return l.integrity.VerifyOrError("verify audit event", auditSealRecord(event), event.IntegrityHash)
}

func auditSealRecord(event *domain.AuditEvent) map[string]interface{} {
	return map[string]interface{}{
		"event_id": event.EventID, "timestamp": event.Timestamp.UnixNano(),
		"category": string(event.Category), "event_type": event.EventType,
		"actor_id": event.ActorID, "organization_id": event.OrganizationID,
		"resource_ref": event.ResourceRef, "outcome": string(event.Outcome),
	}
}

// Report is the generate_audit_report read model (SPEC_FULL.md
// supplemented feature).
type Report struct {
	OrganizationID     string
	Start, End         time.Time
	TotalEvents        int
	ByOutcome          map[domain.AuditOutcome]int
	ByCategory         map[domain.AuditCategory]int
	UniqueActors       int
	UniqueResources    int
	AverageRiskScore   float64
	Recommendations    []string
}

// GenerateReport summarizes an organization's audit history over a
// window and derives a small set of rule-based recommendations.
func (l *Log) GenerateReport(org string, start, end time.Time) (Report, error) {
	events, err := l.Query(Filter{OrganizationID: org, Start: start, End: end})
	if err != nil {
		return Report{}, err
	}

	report := Report{OrganizationID: org, Start: start, End: end,
		ByOutcome: make(map[domain.AuditOutcome]int), ByCategory: make(map[domain.AuditCategory]int)}
	actors := make(map[string]struct{})
	resources := make(map[string]struct{})
	var riskSum float64
	var authFailures, highRiskUnmitigated int

	for _, e := range events {
		report.TotalEvents++
		report.ByOutcome[e.Outcome]++
		report.ByCategory[e.Category]++
		riskSum += e.RiskScore
		if e.ActorID != "" {
			actors[e.ActorID] = struct{}{}
		}
		if e.ResourceRef != "" {
			resources[e.ResourceRef] = struct{}{}
		}
		if e.Category == domain.CategorySecurity && e.Outcome == domain.OutcomeFailure {
			authFailures++
		}
		if e.RiskScore >= 80 && e.Outcome != domain.OutcomeBlocked {
			highRiskUnmitigated++
		}
	}

	report.UniqueActors = len(actors)
	report.UniqueResources = len(resources)
	if report.TotalEvents > 0 {
		report.AverageRiskScore = round2(riskSum / float64(report.TotalEvents))
	}

	if authFailures >= 5 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("repeated authentication failures (%d) — consider tightening access policy", authFailures))
	}
	if highRiskUnmitigated > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("%d high-risk events were not blocked — review the access policy table", highRiskUnmitigated))
	}
	return report, nil
}

// DashboardSummary is the customer-visible read model (CustomerAuditPortal
// in SPEC_FULL.md's supplemented-feature notes), gated to events with
// CustomerVisible set.
type DashboardSummary struct {
	EventsToday      int
	SecurityEvents   int
	AuthSuccessRate  float64
}

func (l *Log) DashboardSummary(org string) (DashboardSummary, error) {
	since := time.Now().Truncate(24 * time.Hour)
	events, err := l.Query(Filter{OrganizationID: org, Start: since})
	if err != nil {
		return DashboardSummary{}, err
	}

	var summary DashboardSummary
	var authAttempts, authSuccesses int
	for _, e := range events {
		if !e.CustomerVisible {
			continue
		}
		summary.EventsToday++
		if e.Category == domain.CategorySecurity {
			summary.SecurityEvents++
			authAttempts++
			if e.Outcome == domain.OutcomeSuccess {
				authSuccesses++
			}
		}
	}
	if authAttempts > 0 {
		summary.AuthSuccessRate = round2(float64(authSuccesses) / float64(authAttempts) * 100)
	}
	return summary, nil
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
