package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
)

func newTestSlackMonitor(t *testing.T, riskThreshold float64) (*SlackMonitor, *int32) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "channel": "C1", "ts": "1"})
	}))
	t.Cleanup(srv.Close)

	m := NewSlackMonitor("xoxb-test", "#compliance-alerts", riskThreshold, zap.NewNop())
	m.client = slack.New("xoxb-test", slack.OptionAPIURL(srv.URL+"/"))
	return m, (*int32)(&posts)
}

func TestSlackMonitorHighRiskAlert(t *testing.T) {
	m, posts := newTestSlackMonitor(t, 80)

	m.Observe(domain.AuditEvent{
		EventType: "evidence_tampered", RiskScore: 95, ResourceRef: "ev-1",
		Outcome: domain.OutcomeBlocked, Category: domain.CategorySecurity, Timestamp: time.Now(),
	})

	assert.Equal(t, int32(1), *posts)
}

func TestSlackMonitorIgnoresLowRiskEvent(t *testing.T) {
	m, posts := newTestSlackMonitor(t, 80)

	m.Observe(domain.AuditEvent{
		EventType: "context_read", RiskScore: 10,
		Outcome: domain.OutcomeSuccess, Category: domain.CategoryContext,
	})

	assert.Equal(t, int32(0), *posts)
}

func TestSlackMonitorRepeatedAuthFailures(t *testing.T) {
	m, posts := newTestSlackMonitor(t, 1000)

	for i := 0; i < 4; i++ {
		m.Observe(domain.AuditEvent{
			ActorID: "agent-7", Category: domain.CategorySecurity, Outcome: domain.OutcomeFailure, RiskScore: 20,
		})
	}
	assert.Equal(t, int32(0), *posts)

	m.Observe(domain.AuditEvent{
		ActorID: "agent-7", Category: domain.CategorySecurity, Outcome: domain.OutcomeFailure, RiskScore: 20,
	})
	assert.Equal(t, int32(1), *posts)
}

func TestSlackMonitorResetsOnSuccess(t *testing.T) {
	m, posts := newTestSlackMonitor(t, 1000)

	for i := 0; i < 4; i++ {
		m.Observe(domain.AuditEvent{
			ActorID: "agent-8", Category: domain.CategorySecurity, Outcome: domain.OutcomeFailure, RiskScore: 20,
		})
	}
	m.Observe(domain.AuditEvent{
		ActorID: "agent-8", Category: domain.CategorySecurity, Outcome: domain.OutcomeSuccess, RiskScore: 0,
	})
	for i := 0; i < 4; i++ {
		m.Observe(domain.AuditEvent{
			ActorID: "agent-8", Category: domain.CategorySecurity, Outcome: domain.OutcomeFailure, RiskScore: 20,
		})
	}

	assert.Equal(t, int32(0), *posts)
}
