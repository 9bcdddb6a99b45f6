package audit

import (
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
	"github.com/Samueladewole/velocityai-sub003/pkg/shared/logging"
)

// SlackMonitor is the §4.10 "real-time monitoring hook" for high-risk and
// repeated-failure events: it posts to a Slack channel, side-effect-free
// with respect to the log itself (Observe never returns an error to the
// caller; failures are logged and swallowed here, matching the Monitor
// contract). Grounded on the teacher's notification/alerting concern and
// its go.mod dependency on github.com/slack-go/slack, retargeted from
// remediation alerts to audit security alerts.
type SlackMonitor struct {
	client            *slack.Client
	channel           string
	riskThreshold     float64
	authFailureBudget int
	logger            *zap.Logger

	recentAuthFailures map[string]int
}

func NewSlackMonitor(token, channel string, riskThreshold float64, logger *zap.Logger) *SlackMonitor {
	return &SlackMonitor{
		client:             slack.New(token),
		channel:            channel,
		riskThreshold:      riskThreshold,
		authFailureBudget:  5,
		logger:             logger,
		recentAuthFailures: make(map[string]int),
	}
}

// Observe implements Monitor. It alerts on two conditions: a single
// event whose risk_score crosses the configured threshold, or an actor
// accumulating repeated authentication failures within this process's
// lifetime (a coarse, in-memory counter — not a substitute for the
// persisted audit log's own query path).
func (m *SlackMonitor) Observe(event domain.AuditEvent) {
	if event.RiskScore >= m.riskThreshold {
		m.post(fmt.Sprintf("high-risk event %s (score %.0f) on %s: %s",
			event.EventType, event.RiskScore, event.ResourceRef, event.Outcome))
	}

	if event.Category == domain.CategorySecurity && event.Outcome == domain.OutcomeFailure {
		m.recentAuthFailures[event.ActorID]++
		if m.recentAuthFailures[event.ActorID] == m.authFailureBudget {
			m.post(fmt.Sprintf("actor %s has %d consecutive authentication failures",
				event.ActorID, m.recentAuthFailures[event.ActorID]))
		}
	} else if event.Category == domain.CategorySecurity {
		delete(m.recentAuthFailures, event.ActorID)
	}
}

func (m *SlackMonitor) post(text string) {
	if m.channel == "" {
		return
	}
	if _, _, err := m.client.PostMessage(m.channel, slack.MsgOptionText(text, false)); err != nil {
		m.logger.Warn("slack monitor post failed", logging.NewFields().
			Component("audit.slack_monitor").Operation("post").Error(err).ZapFields()...)
	}
}
