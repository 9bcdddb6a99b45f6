package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Samueladewole/velocityai-sub003/pkg/core/errs"
	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
	"github.com/Samueladewole/velocityai-sub003/pkg/integrity"
	"github.com/Samueladewole/velocityai-sub003/pkg/storage/rediskv"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	engine, err := integrity.New([]byte("integrity-key"), nil, "")
	require.NoError(t, err)
	return New(rediskv.New(client), engine, zap.NewNop())
}

func sampleItem() *domain.EvidenceItem {
	return &domain.EvidenceItem{
		Source:          "agent-scanner-1",
		EvidenceType:    domain.EvidenceSnapshot,
		Content:         map[string]interface{}{"policy": "iam-readonly", "version": 3},
		ConfidenceScore: 0.9,
		Framework:       "SOC2",
		ControlID:       "CC6.1",
		CollectedAt:     time.Now(),
		OrganizationID:  "org-acme",
	}
}

func TestStoreAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Store(ctx, sampleItem())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	item, err := s.Get(ctx, "org-acme", id)
	require.NoError(t, err)
	assert.Equal(t, "agent-scanner-1", item.Source)
	assert.Equal(t, domain.EvidencePending, item.Status)
}

func TestStoreDeduplicatesByIntegrityHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := sampleItem()
	b := sampleItem()
	b.Source = "agent-scanner-2" // different producer, identical canonical content

	idA, err := s.Store(ctx, a)
	require.NoError(t, err)
	idB, err := s.Store(ctx, b)
	require.NoError(t, err)

	assert.Equal(t, idA, idB, "S1: identical canonical content must collapse to one evidence id")
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "org-acme", "does-not-exist")
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, errs.KindOf(err))
}

func TestConfidenceScoreClamped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	over := sampleItem()
	over.ConfidenceScore = 1.5
	idOver, err := s.Store(ctx, over)
	require.NoError(t, err)
	got, err := s.Get(ctx, "org-acme", idOver)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.ConfidenceScore)

	under := sampleItem()
	under.ControlID = "CC6.2"
	under.ConfidenceScore = -0.3
	idUnder, err := s.Store(ctx, under)
	require.NoError(t, err)
	got, err = s.Get(ctx, "org-acme", idUnder)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.ConfidenceScore)
}

func TestVerifyDetectsTamper(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.Store(ctx, sampleItem())
	require.NoError(t, err)

	ok, err := s.Verify(ctx, "org-acme", id)
	require.NoError(t, err)
	assert.True(t, ok)

	item, err := s.Get(ctx, "org-acme", id)
	require.NoError(t, err)
	item.Content["policy"] = "tampered"
	ok = s.integrity.Verify(canonicalRecord(item), item.IntegrityHash)
	assert.False(t, ok)
}

func TestQueryByFrameworkAndControl(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item1 := sampleItem()
	item2 := sampleItem()
	item2.ControlID = "CC6.2"
	item2.Content = map[string]interface{}{"policy": "iam-admin"}

	_, err := s.Store(ctx, item1)
	require.NoError(t, err)
	_, err = s.Store(ctx, item2)
	require.NoError(t, err)

	results, err := s.Query(ctx, Filter{OrganizationID: "org-acme", Framework: "SOC2", ControlID: "CC6.1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "CC6.1", results[0].ControlID)
}

func TestExpireSweepMarksExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := sampleItem()
	item.ExpiresAt = time.Now().Add(-time.Minute)
	id, err := s.Store(ctx, item)
	require.NoError(t, err)

	n, err := s.ExpireSweep(ctx, "org-acme")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, "org-acme", id)
	require.NoError(t, err)
	assert.Equal(t, domain.EvidenceExpired, got.Status)
}

func TestCompositeConfidence(t *testing.T) {
	s := newTestStore(t)
	item := &domain.EvidenceItem{
		EvidenceType:    domain.EvidenceSnapshot,
		ConfidenceScore: 0.8,
		Status:          domain.EvidenceVerified,
	}
	got := s.CompositeConfidence(item)
	assert.InDelta(t, 0.8*1.0*1.0, got, 0.0001)

	item.Status = domain.EvidencePending
	got = s.CompositeConfidence(item)
	assert.InDelta(t, 0.8*1.0*0.7, got, 0.0001)
}
