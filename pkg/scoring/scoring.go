// Package scoring implements Compliance Scoring (C9): per-control and
// overall compliance metrics, derived on demand from Evidence Store
// contents, never stored canonically.
package scoring

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
	"github.com/Samueladewole/velocityai-sub003/pkg/evidence"
)

var severityWeight = map[string]float64{
	"critical": 4,
	"high":     3,
	"medium":   2,
	"low":      1,
}

// Engine computes ComplianceMetrics from whatever the Evidence Store
// currently holds for a framework/control.
type Engine struct {
	evidence *evidence.Store
	maxGaps  int
}

func New(store *evidence.Store) *Engine {
	return &Engine{evidence: store, maxGaps: 5}
}

// ScoreControl computes one control's metric from its evidence set (§4.9).
func (e *Engine) ScoreControl(ctx context.Context, control domain.FrameworkControl, orgID string) (domain.ComplianceMetric, error) {
	items, err := e.evidence.Query(ctx, evidence.Filter{
		OrganizationID: orgID, Framework: control.Framework, ControlID: control.ControlID,
	})
	if err != nil {
		return domain.ComplianceMetric{}, err
	}

	metric := domain.ComplianceMetric{ControlID: control.ControlID, Framework: control.Framework}
	if len(items) == 0 {
		metric.Status = domain.StatusUnknown
		metric.Gaps = e.gapsFor(control, items)
		return metric, nil
	}

	var verified int
	var confidenceSum float64
	for _, it := range items {
		if it.Status == domain.EvidenceVerified {
			verified++
		}
		confidenceSum += it.ConfidenceScore
	}
	metric.EvidenceCount = len(items)
	metric.AverageConfidence = round2(confidenceSum / float64(len(items)))
	verificationRate := float64(verified) / float64(len(items))
	metric.CompliancePct = round2(verificationRate * 100)
	metric.Status = statusFor(verificationRate, metric.AverageConfidence)
	metric.Gaps = e.gapsFor(control, items)
	return metric, nil
}

// statusFor applies the thresholds in §4.9 exactly.
func statusFor(verificationRate, avgConfidence float64) domain.ComplianceStatus {
	switch {
	case verificationRate >= 0.9 && avgConfidence >= 0.8:
		return domain.StatusFullyCompliant
	case verificationRate >= 0.7 && avgConfidence >= 0.7:
		return domain.StatusMostlyCompliant
	case verificationRate >= 0.5 && avgConfidence >= 0.6:
		return domain.StatusPartiallyCompliant
	default:
		return domain.StatusNonCompliant
	}
}

// gapsFor surfaces up to maxGaps highest-impact shortfalls, ranked by
// severity_weight × recency_weight (§4.9).
func (e *Engine) gapsFor(control domain.FrameworkControl, items []*domain.EvidenceItem) []domain.Gap {
	now := time.Now()
	var gaps []domain.Gap
	for _, it := range items {
		var kind, severity string
		switch {
		case it.Status == domain.EvidenceExpired || now.After(it.ExpiresAt):
			kind, severity = "expired", "medium"
		case it.ConfidenceScore < 0.5:
			kind, severity = "low_confidence", "high"
		default:
			continue
		}
		gaps = append(gaps, domain.Gap{
			ControlID: control.ControlID, Kind: kind, Severity: severity,
			Description: kind + " evidence for " + control.ControlID,
			Score:       compoundScore(severity, it.CollectedAt, now),
			DetectedAt:  now,
		})
	}
	if len(items) == 0 {
		gaps = append(gaps, domain.Gap{
			ControlID: control.ControlID, Kind: "missing_evidence", Severity: "critical",
			Description: "no evidence collected for " + control.ControlID,
			Score:       compoundScore("critical", now, now),
			DetectedAt:  now,
		})
	}

	sort.Slice(gaps, func(i, j int) bool { return gaps[i].Score > gaps[j].Score })
	if len(gaps) > e.maxGaps {
		gaps = gaps[:e.maxGaps]
	}
	return gaps
}

// compoundScore weights severity against recency: more recently detected
// gaps of the same severity rank higher.
func compoundScore(severity string, collectedAt, now time.Time) float64 {
	ageHours := now.Sub(collectedAt).Hours()
	recencyWeight := 1.0 / (1.0 + ageHours/24.0)
	return severityWeight[severity] * recencyWeight
}

// Overall computes the weighted-mean overall score and risk score across
// every control's metric (§4.9: weight = max(1, evidence_count) × avg_confidence).
func Overall(metrics []domain.ComplianceMetric) (overall, risk float64) {
	var weightedSum, weightSum float64
	for _, m := range metrics {
		weight := math.Max(1, float64(m.EvidenceCount)) * m.AverageConfidence
		weightedSum += m.CompliancePct * weight
		weightSum += weight
	}
	if weightSum == 0 {
		return 0, 100
	}
	overall = round2(weightedSum / weightSum)
	risk = round2(100 - overall)
	return overall, risk
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
