// Package access implements the Access Controller (C3): it decides
// (agent, entry, organization) -> (allow, reason) against the §4.3
// sensitivity policy, evaluated as a Rego module via pkg/access/policy,
// and records every decision.
package access

import (
	"context"
	"time"

	accesspolicy "github.com/Samueladewole/velocityai-sub003/pkg/access/policy"
	"github.com/Samueladewole/velocityai-sub003/pkg/core/errs"
	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
	"github.com/Samueladewole/velocityai-sub003/pkg/shared/logging"
	"go.uber.org/zap"
)


// ApprovalLookup tells the controller whether a granted approval exists
// for a given entry/agent pair (backed by the Data-Share Protocol's
// request store, or a direct approval table).
type ApprovalLookup interface {
	HasApproval(ctx context.Context, entryID, agentType string) (bool, error)
}

// AuditSink records every access decision, sensitive or not.
type AuditSink interface {
	RecordAccessDecision(ctx context.Context, agentID, agentType, entryID, orgID string, allowed bool, reason string)
}

// Decision is the result of an access check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Controller evaluates access requests.
type Controller struct {
	evaluator                 *accesspolicy.Evaluator
	allowedConfidentialAgents []string
	allowedSecretAgents       []string
	approvals                 ApprovalLookup
	audit                     AuditSink
	logger                    *zap.Logger
}

// New builds a Controller. evaluator may be nil, in which case a
// default one (embedded §4.3 Rego module, no hot reload) is created
// lazily on first use. allowedConfidentialAgents and allowedSecretAgents
// each enumerate the agent types permitted to read entries at that
// sensitivity tier (deployment config) — confidential and secret are
// gated by their own separate lists, not a shared one, per §4.3.
func New(evaluator *accesspolicy.Evaluator, approvals ApprovalLookup, audit AuditSink, logger *zap.Logger, allowedConfidentialAgents, allowedSecretAgents []string) *Controller {
	if evaluator == nil {
		evaluator = accesspolicy.NewEvaluator(accesspolicy.Config{}, logger)
	}
	return &Controller{
		evaluator:                 evaluator,
		allowedConfidentialAgents: allowedConfidentialAgents,
		allowedSecretAgents:       allowedSecretAgents,
		approvals:                 approvals,
		audit:                     audit,
		logger:                    logger,
	}
}

// CanAccess evaluates every rule in §4.3 and appends the decision to the
// audit log regardless of outcome. agentID/agentType identify the
// requester; entry is the Context Entry being read.
func (c *Controller) CanAccess(ctx context.Context, agentID, agentType string, entry *domain.ContextEntry) (Decision, error) {
	decision, err := c.evaluate(ctx, agentID, agentType, entry)
	c.audit.RecordAccessDecision(ctx, agentID, agentType, entry.EntryID, entry.OrganizationID, decision.Allowed, decision.Reason)

	if entry.Sensitivity == domain.SensitivityConfidential || entry.Sensitivity == domain.SensitivitySecret {
		c.logger.Info("sensitive context read evaluated", logging.NewFields().
			Component("access").Operation("can_access").
			Resource("context_entry", entry.EntryID).
			Custom("agent_id", agentID).Custom("allowed", decision.Allowed).ZapFields()...)
	}
	return decision, err
}

func (c *Controller) evaluate(ctx context.Context, agentID, agentType string, entry *domain.ContextEntry) (Decision, error) {
	// I1: private scope only readable by its creator.
	if entry.Scope == domain.ScopePrivate && agentID != entry.CreatedBy {
		return Decision{Allowed: false, Reason: "private entry not owned by requester"}, nil
	}

	// scope=agent_type requires membership in allowed_agents.
	if entry.Scope == domain.ScopeAgentType {
		if _, ok := entry.AllowedAgents[agentType]; !ok {
			return Decision{Allowed: false, Reason: "agent type not in allowed_agents"}, nil
		}
	}

	// expiry check (I9 is enforced at the store layer too; this is belt-and-braces).
	if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		return Decision{Allowed: false, Reason: "entry expired"}, nil
	}

	result, err := c.evaluator.Evaluate(ctx, accesspolicy.Input{
		Sensitivity:                   string(entry.Sensitivity),
		AgentType:                     agentType,
		AllowedConfidentialAgentTypes: c.allowedConfidentialAgents,
		AllowedAgentTypes:             c.allowedSecretAgents,
	})
	if err != nil {
		return Decision{Allowed: false, Reason: "policy evaluation failed"}, errs.Transient("evaluate access policy", err)
	}

	if !result.Allow {
		return Decision{Allowed: false, Reason: "sensitivity policy denies this agent type"}, nil
	}

	// I2: confidential/secret must be encrypted.
	if result.RequiresEncryption && !entry.Encrypted {
		return Decision{Allowed: false, Reason: "entry not encrypted as sensitivity requires"}, nil
	}

	if result.RequiresApproval {
		approved, err := c.approvals.HasApproval(ctx, entry.EntryID, agentType)
		if err != nil {
			return Decision{Allowed: false, Reason: "approval lookup failed"}, errs.Transient("check approval", err)
		}
		if !approved {
			return Decision{Allowed: false, Reason: "no approval record for this sensitivity tier"}, nil
		}
	}

	return Decision{Allowed: true, Reason: "policy satisfied"}, nil
}
