// Package evidence implements the Evidence Store (C1): content-hash keyed,
// deduplicating, confidence-scored storage for artifacts agents produce as
// proof of a compliance control's state.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Samueladewole/velocityai-sub003/pkg/core/errs"
	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
	"github.com/Samueladewole/velocityai-sub003/pkg/integrity"
	"github.com/Samueladewole/velocityai-sub003/pkg/shared/logging"
	"github.com/Samueladewole/velocityai-sub003/pkg/storage/rediskv"
	"go.uber.org/zap"
)

// statusMultiplier implements the composite-confidence formula from §4.2.
var statusMultiplier = map[domain.EvidenceStatus]float64{
	domain.EvidenceVerified: 1.0,
	domain.EvidencePending:  0.7,
	domain.EvidenceExpired:  0.3,
	domain.EvidenceRejected: 0.0,
}

// DefaultTypeWeights is the default weighted_by_evidence_type table; a
// scanner-produced snapshot is trusted more than a free-text answer.
var DefaultTypeWeights = map[domain.EvidenceType]float64{
	domain.EvidenceSnapshot:    1.0,
	domain.EvidenceAPIResponse: 0.95,
	domain.EvidenceConfig:     0.9,
	domain.EvidenceScanResult: 0.95,
	domain.EvidencePolicy:     0.85,
	domain.EvidenceReport:     0.8,
	domain.EvidenceLog:        0.75,
	domain.EvidenceAnswer:     0.6,
	domain.EvidenceQuestion:   0.5,
}

// Filter selects evidence items by any indexed field plus time range and
// status.
type Filter struct {
	OrganizationID string
	Framework      string
	ControlID      string
	EvidenceType   domain.EvidenceType
	Status         domain.EvidenceStatus
	CollectedAfter time.Time
	CollectedBefore time.Time
	Limit          int
}

// Store is the Evidence Store.
type Store struct {
	kv         rediskv.Store
	integrity  *integrity.Engine
	logger     *zap.Logger
	typeWeight map[domain.EvidenceType]float64

	mu    sync.Mutex // serializes dedup-check-then-write per process
	index map[string]map[string]struct{} // composite index key -> set of evidence_ids (cached view of kv sets)
}

func New(kv rediskv.Store, engine *integrity.Engine, logger *zap.Logger) *Store {
	return &Store{
		kv:         kv,
		integrity:  engine,
		logger:     logger,
		typeWeight: DefaultTypeWeights,
		index:      make(map[string]map[string]struct{}),
	}
}

func key(org, hash string) string {
	return fmt.Sprintf("evidence:%s:%s", org, hash)
}

func indexKey(org, framework, controlID string, evidenceType domain.EvidenceType) string {
	return fmt.Sprintf("idx:evidence:%s:%s:%s:%s", org, framework, controlID, evidenceType)
}

func canonicalRecord(item *domain.EvidenceItem) map[string]interface{} {
	return map[string]interface{}{
		"content":       item.Content,
		"evidence_type": string(item.EvidenceType),
		"framework":     item.Framework,
		"control_id":    item.ControlID,
		"organization":  item.OrganizationID,
	}
}

// Store computes item's integrity_hash and persists it, or returns the
// existing evidence_id if an item with the same hash already exists
// (I3, at-most-one active item per integrity_hash).
func (s *Store) Store(ctx context.Context, item *domain.EvidenceItem) (string, error) {
	if item.ConfidenceScore < 0 {
		item.ConfidenceScore = 0
	}
	if item.ConfidenceScore > 1 {
		item.ConfidenceScore = 1
	}

	hash := s.integrity.Seal(canonicalRecord(item))

	s.mu.Lock()
	defer s.mu.Unlock()

	storeKey := key(item.OrganizationID, hash)
	if existing, ok, err := s.kv.Get(ctx, storeKey); err != nil {
		return "", errs.Transient("store evidence", err)
	} else if ok {
		var prior domain.EvidenceItem
		if err := json.Unmarshal(existing, &prior); err != nil {
			return "", errs.IntegrityError("decode existing evidence", err)
		}
		s.logger.Debug("evidence deduplicated", logging.NewFields().
			Component("evidence").Operation("store").Resource("evidence", prior.EvidenceID).ZapFields()...)
		return prior.EvidenceID, nil
	}

	item.IntegrityHash = hash
	item.EvidenceID = hash
	if item.Status == "" {
		item.Status = domain.EvidencePending
	}
	item.ProvenanceChain = append(item.ProvenanceChain, domain.ProvenanceStep{
		Actor: item.Source, Action: "store", At: item.CollectedAt,
	})

	payload, err := json.Marshal(item)
	if err != nil {
		return "", errs.IntegrityError("encode evidence", err)
	}
	ttl := time.Duration(0)
	if !item.ExpiresAt.IsZero() {
		ttl = time.Until(item.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Hour // already expired at write time; keep briefly for the sweep to mark it
		}
	}
	if err := s.kv.Set(ctx, storeKey, payload, ttl); err != nil {
		return "", errs.Transient("store evidence", err)
	}

	idx := indexKey(item.OrganizationID, item.Framework, item.ControlID, item.EvidenceType)
	if err := s.kv.SAdd(ctx, idx, hash); err != nil {
		return "", errs.Transient("index evidence", err)
	}

	s.logger.Info("evidence stored", logging.NewFields().
		Component("evidence").Operation("store").
		Resource("evidence", hash).Custom("control_id", item.ControlID).ZapFields()...)

	return hash, nil
}

// Get returns the item stored at evidenceID within org, or NotFound.
func (s *Store) Get(ctx context.Context, org, evidenceID string) (*domain.EvidenceItem, error) {
	raw, ok, err := s.kv.Get(ctx, key(org, evidenceID))
	if err != nil {
		return nil, errs.Transient("get evidence", err)
	}
	if !ok {
		return nil, errs.NotFound("get evidence", fmt.Errorf("evidence %s", evidenceID))
	}
	var item domain.EvidenceItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, errs.IntegrityError("decode evidence", err)
	}
	return &item, nil
}

// Verify recomputes the item's canonical hash and compares it to the
// stored integrity_hash (I4); a mismatch means tampering.
func (s *Store) Verify(ctx context.Context, org, evidenceID string) (bool, error) {
	item, err := s.Get(ctx, org, evidenceID)
	if err != nil {
		return false, err
	}
	return s.integrity.Verify(canonicalRecord(item), item.IntegrityHash), nil
}

// Query scans the relevant indexes and applies the remaining filter
// predicates in-process (index precision covers the indexed fields only).
func (s *Store) Query(ctx context.Context, f Filter) ([]*domain.EvidenceItem, error) {
	framework := f.Framework
	if framework == "" {
		framework = "*"
	}
	control := f.ControlID
	if control == "" {
		control = "*"
	}
	evType := string(f.EvidenceType)
	if evType == "" {
		evType = "*"
	}
	pattern := fmt.Sprintf("idx:evidence:%s:%s:%s:%s", f.OrganizationID, framework, control, evType)
	idxKeys, err := s.kv.Keys(ctx, pattern)
	if err != nil {
		return nil, errs.Transient("query evidence index", err)
	}

	seen := make(map[string]struct{})
	var out []*domain.EvidenceItem
	for _, idxKey := range idxKeys {
		members, err := s.kv.SMembers(ctx, idxKey)
		if err != nil {
			return nil, errs.Transient("query evidence members", err)
		}
		for _, hash := range members {
			if _, dup := seen[hash]; dup {
				continue
			}
			seen[hash] = struct{}{}
			item, err := s.Get(ctx, f.OrganizationID, hash)
			if err != nil {
				continue // stale index entry, tolerated
			}
			if f.Status != "" && item.Status != f.Status {
				continue
			}
			if !f.CollectedAfter.IsZero() && item.CollectedAt.Before(f.CollectedAfter) {
				continue
			}
			if !f.CollectedBefore.IsZero() && item.CollectedAt.After(f.CollectedBefore) {
				continue
			}
			out = append(out, item)
			if f.Limit > 0 && len(out) >= f.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// ExpireSweep marks items with expires_at in the past as expired.
func (s *Store) ExpireSweep(ctx context.Context, org string) (int, error) {
	keys, err := s.kv.Keys(ctx, fmt.Sprintf("evidence:%s:*", org))
	if err != nil {
		return 0, errs.Transient("expire sweep", err)
	}
	now := time.Now()
	expired := 0
	for _, k := range keys {
		raw, ok, err := s.kv.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		var item domain.EvidenceItem
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		if item.ExpiresAt.IsZero() || item.ExpiresAt.After(now) || item.Status == domain.EvidenceExpired {
			continue
		}
		item.Status = domain.EvidenceExpired
		item.ProvenanceChain = append(item.ProvenanceChain, domain.ProvenanceStep{
			Actor: "evidence_store", Action: "expire_sweep", At: now,
		})
		payload, err := json.Marshal(&item)
		if err != nil {
			continue
		}
		if err := s.kv.Set(ctx, k, payload, 24*time.Hour); err != nil {
			continue
		}
		expired++
	}
	return expired, nil
}

// CompositeConfidence implements weighted_by_evidence_type x
// status_multiplier, the score downstream compliance scoring consumes.
func (s *Store) CompositeConfidence(item *domain.EvidenceItem) float64 {
	weight, ok := s.typeWeight[item.EvidenceType]
	if !ok {
		weight = 0.5
	}
	mult, ok := statusMultiplier[item.Status]
	if !ok {
		mult = 0
	}
	return item.ConfidenceScore * weight * mult
}
