package contextstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Samueladewole/velocityai-sub003/pkg/access"
	"github.com/Samueladewole/velocityai-sub003/pkg/contextstore"
	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
	"github.com/Samueladewole/velocityai-sub003/pkg/integrity"
	"github.com/Samueladewole/velocityai-sub003/pkg/storage/rediskv"
)

func TestContextStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Context Store Suite")
}

type fakeApprovals struct{ approved map[string]bool }

func (f *fakeApprovals) HasApproval(_ context.Context, entryID, agentType string) (bool, error) {
	return f.approved[entryID+":"+agentType], nil
}

type recordedEvent struct{ eventType, entryID string }

type fakeAudit struct{ events []recordedEvent }

func (f *fakeAudit) RecordContextEvent(_ context.Context, eventType, entryID, _ string, _ string, _ bool, _ string) {
	f.events = append(f.events, recordedEvent{eventType, entryID})
}
func (f *fakeAudit) RecordAccessDecision(context.Context, string, string, string, string, bool, string) {}

var _ = Describe("Context Store", func() {
	var (
		store   *contextstore.Store
		audit   *fakeAudit
		approvals *fakeApprovals
		ctx     context.Context
	)

	BeforeEach(func() {
		mr, err := miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(mr.Close)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

		keyRing := integrity.KeyRing{"k1": []byte("01234567890123456789012345678901")}
		engine, err := integrity.New([]byte("integrity-key"), keyRing, "k1")
		Expect(err).ToNot(HaveOccurred())

		approvals = &fakeApprovals{approved: map[string]bool{}}
		audit = &fakeAudit{}
		ctrl := access.New(nil, approvals, audit, zap.NewNop(), []string{"risk-assessor"}, nil)

		store = contextstore.New(rediskv.New(client), ctrl, engine, audit, zap.NewNop(), contextstore.Config{CacheMaxEntries: 100})
		ctx = context.Background()
	})

	Context("put and get", func() {
		It("round-trips a public entry without encryption", func() {
			entry := &domain.ContextEntry{
				ContextType: domain.ContextConfig, Scope: domain.ScopeGlobal, Sensitivity: domain.SensitivityPublic,
				Data: map[string]interface{}{"key": "value"}, CreatedBy: "agent-A", OrganizationID: "org-1",
			}
			id, err := store.Put(ctx, entry)
			Expect(err).ToNot(HaveOccurred())

			got, err := store.Get(ctx, id, "org-1", "agent-B", "any")
			Expect(err).ToNot(HaveOccurred())
			Expect(got.Data["key"]).To(Equal("value"))
			Expect(got.AccessCount).To(Equal(int64(1)))
		})

		It("encrypts confidential data and still round-trips it", func() {
			entry := &domain.ContextEntry{
				ContextType: domain.ContextCompliance, Scope: domain.ScopeAgentType, Sensitivity: domain.SensitivityConfidential,
				Data: map[string]interface{}{"secret_field": "s3cr3t"}, CreatedBy: "agent-A", OrganizationID: "org-1",
				AllowedAgents: map[string]struct{}{"risk-assessor": {}},
			}
			id, err := store.Put(ctx, entry)
			Expect(err).ToNot(HaveOccurred())

			approvals.approved[id+":risk-assessor"] = true
			got, err := store.Get(ctx, id, "org-1", "agent-B", "risk-assessor")
			Expect(err).ToNot(HaveOccurred())
			Expect(got.Data["secret_field"]).To(Equal("s3cr3t"))
			Expect(got.Encrypted).To(BeTrue())
		})

		It("denies access to a private entry from a non-owner (I1)", func() {
			entry := &domain.ContextEntry{
				ContextType: domain.ContextWorkflow, Scope: domain.ScopePrivate, Sensitivity: domain.SensitivityInternal,
				Data: map[string]interface{}{"x": 1}, CreatedBy: "agent-A", OrganizationID: "org-1",
			}
			id, err := store.Put(ctx, entry)
			Expect(err).ToNot(HaveOccurred())

			_, err = store.Get(ctx, id, "org-1", "agent-B", "any")
			Expect(err).To(HaveOccurred())
		})

		It("treats an expired entry as not found (I9)", func() {
			entry := &domain.ContextEntry{
				ContextType: domain.ContextMetrics, Scope: domain.ScopeGlobal, Sensitivity: domain.SensitivityPublic,
				Data: map[string]interface{}{"x": 1}, CreatedBy: "agent-A", OrganizationID: "org-1",
				ExpiresAt: time.Now().Add(-time.Minute),
			}
			id, err := store.Put(ctx, entry)
			Expect(err).ToNot(HaveOccurred())

			_, err = store.Get(ctx, id, "org-1", "agent-B", "any")
			Expect(err).To(HaveOccurred())
		})
	})

	Context("query", func() {
		It("orders results by created_at descending and bounds by limit", func() {
			for i := 0; i < 3; i++ {
				_, err := store.Put(ctx, &domain.ContextEntry{
					ContextType: domain.ContextRisk, Scope: domain.ScopeGlobal, Sensitivity: domain.SensitivityPublic,
					Data: map[string]interface{}{"i": i}, CreatedBy: "agent-A", OrganizationID: "org-1",
					CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
				})
				Expect(err).ToNot(HaveOccurred())
			}

			results, err := store.Query(ctx, contextstore.Query{OrganizationID: "org-1", ContextType: domain.ContextRisk, Limit: 2}, "agent-B", "any")
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].Data["i"]).To(Equal(2))
		})
	})

	Context("semantic similarity", func() {
		It("finds a near-duplicate learning entry above the cosine threshold", func() {
			data := map[string]interface{}{"lesson": "retry-with-backoff", "outcome": "success"}
			_, err := store.Put(ctx, &domain.ContextEntry{
				ContextType: domain.ContextLearning, Scope: domain.ScopeGlobal, Sensitivity: domain.SensitivityPublic,
				Data: data, CreatedBy: "agent-A", OrganizationID: "org-1",
			})
			Expect(err).ToNot(HaveOccurred())

			found, sim, ok, err := store.FindSimilar(ctx, "org-1", domain.ContextLearning, data)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(sim).To(BeNumerically(">=", contextstore.SimilarityThreshold))
			Expect(found.Data["lesson"]).To(Equal("retry-with-backoff"))
		})

		It("does not embed non-learning/policy context types", func() {
			_, sim, ok, err := store.FindSimilar(ctx, "org-1", domain.ContextConfig, map[string]interface{}{"a": 1})
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(sim).To(Equal(0.0))
		})
	})

	Context("cleanup", func() {
		It("removes expired entries on sweep", func() {
			id, err := store.Put(ctx, &domain.ContextEntry{
				ContextType: domain.ContextConfig, Scope: domain.ScopeGlobal, Sensitivity: domain.SensitivityPublic,
				Data: map[string]interface{}{"x": 1}, CreatedBy: "agent-A", OrganizationID: "org-1",
				ExpiresAt: time.Now().Add(-time.Second),
			})
			Expect(err).ToNot(HaveOccurred())

			n, err := store.CleanupExpired(ctx, "org-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(1))

			_, err = store.Get(ctx, id, "org-1", "agent-B", "any")
			Expect(err).To(HaveOccurred())
		})
	})
})
