// Package contextstore implements the Context Store (C2): a keyed,
// access-controlled, optionally-encrypted data-sharing fabric with TTL,
// semantic near-duplicate lookup, and a recency-weighted LFU cache.
package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Samueladewole/velocityai-sub003/pkg/access"
	"github.com/Samueladewole/velocityai-sub003/pkg/core/errs"
	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
	"github.com/Samueladewole/velocityai-sub003/pkg/integrity"
	"github.com/Samueladewole/velocityai-sub003/pkg/shared/logging"
	"github.com/Samueladewole/velocityai-sub003/pkg/storage/rediskv"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// AuditSink records context operations; the Context Store never decides
// what happens to the record after the append.
type AuditSink interface {
	RecordContextEvent(ctx context.Context, eventType, entryID, orgID, agentID string, success bool, detail string)
}

// Query selects context entries through one secondary index. At least
// one of ContextType, CreatedBy, Tag is required; the first one set, in
// that order, picks the index to scan, and the others are not applied
// as filters.
type Query struct {
	OrganizationID string
	ContextType    domain.ContextType
	CreatedBy      string
	Tag            string
	Limit          int
}

type cipherPayload struct {
	Nonce []byte `json:"nonce,omitempty"`
	Data  []byte `json:"data"`
}

// wireEntry is the JSON shape persisted to the backing store: either
// DataPlain or DataCipher is populated, never both.
type wireEntry struct {
	EntryID        string                 `json:"entry_id"`
	ContextType    domain.ContextType     `json:"context_type"`
	Scope          domain.ContextScope    `json:"scope"`
	Sensitivity    domain.DataSensitivity `json:"sensitivity"`
	DataPlain      map[string]interface{} `json:"data_plain,omitempty"`
	DataCipher     *cipherPayload         `json:"data_cipher,omitempty"`
	CreatedBy      string                 `json:"created_by"`
	OrganizationID string                 `json:"organization_id"`
	AllowedAgents  []string               `json:"allowed_agents"`
	CreatedAt      time.Time              `json:"created_at"`
	ExpiresAt      time.Time              `json:"expires_at"`
	LastAccessed   time.Time              `json:"last_accessed"`
	AccessCount    int64                  `json:"access_count"`
	Version        int                    `json:"version"`
	Tags           []string               `json:"tags"`
	Encrypted      bool                   `json:"encrypted"`
	KeyID          string                 `json:"key_id"`
}

// Store is the Context Store.
type Store struct {
	kv        rediskv.Store
	cache     *lfuCache
	access    *access.Controller
	integrity *integrity.Engine
	embedder  Embedder
	audit     AuditSink
	logger    *zap.Logger

	embedMu    sync.RWMutex
	embeddings map[string][EmbeddingDim]float64 // entry_id -> vector, learning/policy types only
}

// Config bounds the cache and defaults applied when not set on the entry.
type Config struct {
	CacheMaxEntries int
}

func New(kv rediskv.Store, accessCtrl *access.Controller, engine *integrity.Engine, audit AuditSink, logger *zap.Logger, cfg Config) *Store {
	return &Store{
		kv:         kv,
		cache:      newLFUCache(cfg.CacheMaxEntries),
		access:     accessCtrl,
		integrity:  engine,
		embedder:   HashMixEmbedder{},
		audit:      audit,
		logger:     logger,
		embeddings: make(map[string][EmbeddingDim]float64),
	}
}

func entryKey(org, entryID string) string {
	return fmt.Sprintf("context:%s:%s", org, entryID)
}

func typeIndexKey(org string, t domain.ContextType) string {
	return fmt.Sprintf("idx:context_type:%s:%s", t, org)
}

func creatorIndexKey(org, createdBy string) string {
	return fmt.Sprintf("idx:creator:%s:%s", org, createdBy)
}

func tagIndexKey(org, tag string) string {
	return fmt.Sprintf("idx:tag:%s:%s", tag, org)
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func sliceToSet(s []string) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for _, v := range s {
		out[v] = struct{}{}
	}
	return out
}

func toWire(e *domain.ContextEntry) *wireEntry {
	return &wireEntry{
		EntryID: e.EntryID, ContextType: e.ContextType, Scope: e.Scope, Sensitivity: e.Sensitivity,
		CreatedBy: e.CreatedBy, OrganizationID: e.OrganizationID, AllowedAgents: setToSlice(e.AllowedAgents),
		CreatedAt: e.CreatedAt, ExpiresAt: e.ExpiresAt, LastAccessed: e.LastAccessed, AccessCount: e.AccessCount,
		Version: e.Version, Tags: setToSlice(e.Tags), Encrypted: e.Encrypted, KeyID: e.KeyID,
	}
}

func fromWire(w *wireEntry, data map[string]interface{}) *domain.ContextEntry {
	return &domain.ContextEntry{
		EntryID: w.EntryID, ContextType: w.ContextType, Scope: w.Scope, Sensitivity: w.Sensitivity,
		Data: data, CreatedBy: w.CreatedBy, OrganizationID: w.OrganizationID,
		AllowedAgents: sliceToSet(w.AllowedAgents), CreatedAt: w.CreatedAt, ExpiresAt: w.ExpiresAt,
		LastAccessed: w.LastAccessed, AccessCount: w.AccessCount, Version: w.Version,
		Tags: sliceToSet(w.Tags), Encrypted: w.Encrypted, KeyID: w.KeyID,
	}
}

// Put encrypts entry.Data when its sensitivity demands it, persists it to
// the backing store with a TTL matching expires_at, updates every
// secondary index, and warms the local cache.
func (s *Store) Put(ctx context.Context, entry *domain.ContextEntry) (string, error) {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.LastAccessed = entry.CreatedAt
	entry.Version++

	w := toWire(entry)

	needsEncryption := entry.Sensitivity == domain.SensitivityConfidential || entry.Sensitivity == domain.SensitivitySecret
	if needsEncryption {
		plain, err := json.Marshal(entry.Data)
		if err != nil {
			return "", errs.IntegrityError("encode context data", err)
		}
		ct, err := s.integrity.Encrypt(plain, entry.Sensitivity)
		if err != nil {
			return "", err
		}
		w.DataCipher = &cipherPayload{Nonce: ct.Nonce, Data: ct.Data}
		w.KeyID = ct.KeyID
		w.Encrypted = true
		entry.Encrypted = true
		entry.KeyID = ct.KeyID
	} else {
		w.DataPlain = entry.Data
	}

	payload, err := json.Marshal(w)
	if err != nil {
		return "", errs.IntegrityError("encode context entry", err)
	}

	ttl := time.Duration(0)
	if !entry.ExpiresAt.IsZero() {
		ttl = time.Until(entry.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Second
		}
	}
	if err := s.kv.Set(ctx, entryKey(entry.OrganizationID, entry.EntryID), payload, ttl); err != nil {
		return "", errs.Transient("put context entry", err)
	}

	if err := s.kv.SAdd(ctx, typeIndexKey(entry.OrganizationID, entry.ContextType), entry.EntryID); err != nil {
		return "", errs.Transient("index context entry", err)
	}
	if err := s.kv.SAdd(ctx, creatorIndexKey(entry.OrganizationID, entry.CreatedBy), entry.EntryID); err != nil {
		return "", errs.Transient("index context entry", err)
	}
	for tag := range entry.Tags {
		if err := s.kv.SAdd(ctx, tagIndexKey(entry.OrganizationID, tag), entry.EntryID); err != nil {
			return "", errs.Transient("index context entry", err)
		}
	}
	if ttl > 0 {
		_ = s.kv.Expire(ctx, typeIndexKey(entry.OrganizationID, entry.ContextType), ttl)
	}

	s.cache.Put(entry)

	if usesSemanticSimilarity(entry.ContextType) {
		s.embedMu.Lock()
		s.embeddings[entry.EntryID] = s.embedder.Embed(entry.Data)
		s.embedMu.Unlock()
	}

	s.audit.RecordContextEvent(ctx, "context_put", entry.EntryID, entry.OrganizationID, entry.CreatedBy, true, string(entry.ContextType))
	return entry.EntryID, nil
}

func (s *Store) load(ctx context.Context, org, entryID string) (*domain.ContextEntry, error) {
	if cached, ok := s.cache.Get(entryID); ok {
		return cached, nil
	}
	raw, ok, err := s.kv.Get(ctx, entryKey(org, entryID))
	if err != nil {
		return nil, errs.Transient("load context entry", err)
	}
	if !ok {
		return nil, errs.NotFound("load context entry", fmt.Errorf("entry %s", entryID))
	}
	var w wireEntry
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, errs.IntegrityError("decode context entry", err)
	}

	var data map[string]interface{}
	if w.Encrypted && w.DataCipher != nil {
		plain, err := s.integrity.Decrypt(&integrity.Ciphertext{KeyID: w.KeyID, Nonce: w.DataCipher.Nonce, Data: w.DataCipher.Data})
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(plain, &data); err != nil {
			return nil, errs.IntegrityError("decode decrypted context data", err)
		}
	} else {
		data = w.DataPlain
	}

	entry := fromWire(&w, data)
	s.cache.Put(entry)
	return entry, nil
}

// Get performs the access check, a cache-then-store lookup, decryption,
// and access-counter bookkeeping described in §4.4.
func (s *Store) Get(ctx context.Context, entryID, org, requestingAgentID, requestingAgentType string) (*domain.ContextEntry, error) {
	entry, err := s.load(ctx, org, entryID)
	if err != nil {
		return nil, err
	}

	if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		s.cache.Remove(entryID)
		return nil, errs.NotFound("get context entry", fmt.Errorf("entry %s expired", entryID)) // I9
	}

	decision, err := s.access.CanAccess(ctx, requestingAgentID, requestingAgentType, entry)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		s.audit.RecordContextEvent(ctx, "context_get", entryID, org, requestingAgentID, false, decision.Reason)
		return nil, errs.AccessDenied("get context entry", fmt.Errorf(decision.Reason))
	}

	entry.AccessCount++ // monotonically non-decreasing (invariant in §3)
	entry.LastAccessed = time.Now()
	s.cache.Put(entry)
	go s.persistCounters(context.Background(), entry) // lazy re-persist, best-effort

	s.audit.RecordContextEvent(ctx, "context_get", entryID, org, requestingAgentID, true, "")
	return entry, nil
}

func (s *Store) persistCounters(ctx context.Context, entry *domain.ContextEntry) {
	w := toWire(entry)
	if entry.Encrypted {
		plain, err := json.Marshal(entry.Data)
		if err != nil {
			return
		}
		ct, err := s.integrity.Encrypt(plain, entry.Sensitivity)
		if err != nil {
			return
		}
		w.DataCipher = &cipherPayload{Nonce: ct.Nonce, Data: ct.Data}
		w.KeyID = ct.KeyID
	} else {
		w.DataPlain = entry.Data
	}
	payload, err := json.Marshal(w)
	if err != nil {
		return
	}
	ttl := time.Duration(0)
	if !entry.ExpiresAt.IsZero() {
		ttl = time.Until(entry.ExpiresAt)
		if ttl <= 0 {
			return
		}
	}
	_ = s.kv.Set(ctx, entryKey(entry.OrganizationID, entry.EntryID), payload, ttl)
}

// Query scans the index matching one of ContextType/CreatedBy/Tag,
// applies a per-entry access check (denied entries are silently
// skipped), orders by created_at descending, and bounds the result to
// Limit (default 100, hard max 1000).
func (s *Store) Query(ctx context.Context, q Query, requestingAgentID, requestingAgentType string) ([]*domain.ContextEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	var idxKey string
	switch {
	case q.ContextType != "":
		idxKey = typeIndexKey(q.OrganizationID, q.ContextType)
	case q.CreatedBy != "":
		idxKey = creatorIndexKey(q.OrganizationID, q.CreatedBy)
	case q.Tag != "":
		idxKey = tagIndexKey(q.OrganizationID, q.Tag)
	default:
		return nil, fmt.Errorf("contextstore: query requires ContextType, CreatedBy, or Tag")
	}

	ids, err := s.kv.SMembers(ctx, idxKey)
	if err != nil {
		return nil, errs.Transient("query context index", err)
	}

	var out []*domain.ContextEntry
	for _, id := range ids {
		entry, err := s.load(ctx, q.OrganizationID, id)
		if err != nil {
			continue // stale index entry, tolerated
		}
		if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
			continue
		}
		decision, err := s.access.CanAccess(ctx, requestingAgentID, requestingAgentType, entry)
		if err != nil || !decision.Allowed {
			continue
		}
		out = append(out, entry)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CleanupExpired sweeps org's entries and removes any with expires_at in
// the past from both the backing store and the local cache.
func (s *Store) CleanupExpired(ctx context.Context, org string) (int, error) {
	keys, err := s.kv.Keys(ctx, fmt.Sprintf("context:%s:*", org))
	if err != nil {
		return 0, errs.Transient("cleanup expired context", err)
	}
	now := time.Now()
	removed := 0
	for _, k := range keys {
		raw, ok, err := s.kv.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		var w wireEntry
		if err := json.Unmarshal(raw, &w); err != nil {
			continue
		}
		if w.ExpiresAt.IsZero() || w.ExpiresAt.After(now) {
			continue
		}
		_ = s.kv.Del(ctx, k)
		s.cache.Remove(w.EntryID)
		s.embedMu.Lock()
		delete(s.embeddings, w.EntryID)
		s.embedMu.Unlock()
		removed++
	}
	if removed > 0 {
		s.logger.Info("expired context entries swept", logging.NewFields().
			Component("contextstore").Operation("cleanup_expired").
			Custom("organization_id", org).Count(removed).ZapFields()...)
	}
	return removed, nil
}

// FindSimilar looks up the best near-duplicate of data among resident
// embeddings of the same context type/org, per §4.4's semantic-similarity
// feature (learning/policy types only). ok is false below the cosine
// threshold or when the type doesn't carry embeddings.
func (s *Store) FindSimilar(ctx context.Context, org string, contextType domain.ContextType, data map[string]interface{}) (entry *domain.ContextEntry, similarity float64, ok bool, err error) {
	if !usesSemanticSimilarity(contextType) {
		return nil, 0, false, nil
	}
	target := s.embedder.Embed(data)

	s.embedMu.RLock()
	candidates := make([]string, 0, len(s.embeddings))
	vectors := make(map[string][EmbeddingDim]float64, len(s.embeddings))
	for id, vec := range s.embeddings {
		candidates = append(candidates, id)
		vectors[id] = vec
	}
	s.embedMu.RUnlock()

	top, best := -1.0, -1.0
	for _, id := range candidates {
		sim := CosineSimilarity(target, vectors[id])
		if sim > top {
			top = sim
		}
		if sim < SimilarityThreshold || sim <= best {
			continue
		}
		cand, err := s.load(ctx, org, id)
		if err != nil || cand.ContextType != contextType || cand.OrganizationID != org {
			continue
		}
		entry, best = cand, sim
	}
	if entry == nil {
		return nil, top, false, nil
	}
	return entry, best, true, nil
}

// LearningContext aggregates recent learning and metrics entries tagged
// with taskType into a single performance-history view, the read-side
// convenience described in SPEC_FULL.md §3.
func (s *Store) LearningContext(ctx context.Context, org, requestingAgentID, requestingAgentType, taskType string) ([]*domain.ContextEntry, error) {
	var out []*domain.ContextEntry
	for _, ct := range []domain.ContextType{domain.ContextLearning, domain.ContextMetrics} {
		entries, err := s.Query(ctx, Query{OrganizationID: org, ContextType: ct, Limit: maxQueryLimit}, requestingAgentID, requestingAgentType)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if _, tagged := e.Tags[taskType]; tagged {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
