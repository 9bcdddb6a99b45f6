package scoring_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
	"github.com/Samueladewole/velocityai-sub003/pkg/evidence"
	"github.com/Samueladewole/velocityai-sub003/pkg/integrity"
	"github.com/Samueladewole/velocityai-sub003/pkg/scoring"
	"github.com/Samueladewole/velocityai-sub003/pkg/storage/rediskv"
)

func newEvidenceStore(t *testing.T) *evidence.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	engine, err := integrity.New([]byte("integrity-key"), nil, "")
	require.NoError(t, err)
	return evidence.New(rediskv.New(client), engine, zap.NewNop())
}

func TestScoreControlFullyCompliant(t *testing.T) {
	store := newEvidenceStore(t)
	ctx := context.Background()
	control := domain.FrameworkControl{ControlID: "AC-2", Framework: "SOC2"}

	for i := 0; i < 10; i++ {
		status := domain.EvidenceVerified
		_, err := store.Store(ctx, &domain.EvidenceItem{
			Source: "agent-A", EvidenceType: domain.EvidenceSnapshot,
			Content: map[string]interface{}{"i": i}, ConfidenceScore: 0.95,
			Framework: "SOC2", ControlID: "AC-2", Status: status,
			CollectedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
			OrganizationID: "org-1",
		})
		require.NoError(t, err)
	}

	eng := scoring.New(store)
	metric, err := eng.ScoreControl(ctx, control, "org-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFullyCompliant, metric.Status)
	assert.Equal(t, 100.0, metric.CompliancePct)
}

func TestScoreControlUnknownWithNoEvidence(t *testing.T) {
	store := newEvidenceStore(t)
	eng := scoring.New(store)
	metric, err := eng.ScoreControl(context.Background(), domain.FrameworkControl{ControlID: "AC-99", Framework: "SOC2"}, "org-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnknown, metric.Status)
	assert.Len(t, metric.Gaps, 1)
	assert.Equal(t, "missing_evidence", metric.Gaps[0].Kind)
}

func TestScoreControlNonCompliantWithLowConfidence(t *testing.T) {
	store := newEvidenceStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := store.Store(ctx, &domain.EvidenceItem{
			Source: "agent-A", EvidenceType: domain.EvidenceAnswer,
			Content: map[string]interface{}{"i": i}, ConfidenceScore: 0.3,
			Framework: "SOC2", ControlID: "AC-3", Status: domain.EvidencePending,
			CollectedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
			OrganizationID: "org-1",
		})
		require.NoError(t, err)
	}

	eng := scoring.New(store)
	metric, err := eng.ScoreControl(ctx, domain.FrameworkControl{ControlID: "AC-3", Framework: "SOC2"}, "org-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNonCompliant, metric.Status)
	assert.NotEmpty(t, metric.Gaps)
}

func TestOverallWeightsByEvidenceCountAndConfidence(t *testing.T) {
	overall, risk := scoring.Overall([]domain.ComplianceMetric{
		{CompliancePct: 100, AverageConfidence: 0.9, EvidenceCount: 10},
		{CompliancePct: 0, AverageConfidence: 0.9, EvidenceCount: 1},
	})
	assert.Greater(t, overall, 50.0, "the control with more evidence should dominate the weighted mean")
	assert.InDelta(t, 100-overall, risk, 0.01)
}
