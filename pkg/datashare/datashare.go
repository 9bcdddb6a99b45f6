// Package datashare implements the Data-Share Protocol (C8): agents pass
// data to specific other agents without publishing it globally, subject
// to the same sensitivity policy the Access Controller enforces on reads.
package datashare

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Samueladewole/velocityai-sub003/pkg/contextstore"
	"github.com/Samueladewole/velocityai-sub003/pkg/core/errs"
	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
	"github.com/Samueladewole/velocityai-sub003/pkg/shared/logging"
)

// autoApproveSensitivities mirrors §4.8 step 2.
var autoApproveSensitivities = map[domain.DataSensitivity]bool{
	domain.SensitivityPublic:   true,
	domain.SensitivityInternal: true,
}

// Approver records a human or agent decision on a pending share request.
type Approver interface {
	// Approve records approverID's decision; implementations persist it so
	// the Access Controller's access.ApprovalLookup can observe it for
	// subsequent reads.
	Approve(ctx context.Context, requestID, approverID string) error
}

// AuditSink records every share-request state change (§4.8: "All state
// changes append to the Audit Log").
type AuditSink interface {
	RecordDataShareEvent(ctx context.Context, eventType, requestID, orgID string, outcome domain.AuditOutcome, details map[string]interface{})
}

// Protocol owns the lifecycle of Data-Share Requests and materialises
// approved ones as Context Entries.
type Protocol struct {
	mu       sync.Mutex
	requests map[string]*domain.DataShareRequest
	approved map[string]map[string]bool // requestID -> agentType -> approved

	store  *contextstore.Store
	audit  AuditSink
	logger *zap.Logger
}

func New(store *contextstore.Store, audit AuditSink, logger *zap.Logger) *Protocol {
	return &Protocol{
		requests: make(map[string]*domain.DataShareRequest),
		approved: make(map[string]map[string]bool),
		store:    store, audit: audit, logger: logger,
	}
}

// HasApproval implements access.ApprovalLookup so the Access Controller
// can consult share approvals when a confidential/secret entry is read.
func (p *Protocol) HasApproval(_ context.Context, entryID, agentType string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, req := range p.requests {
		if req.MaterializedID == entryID {
			return p.approved[req.RequestID][agentType], nil
		}
	}
	return false, nil
}

// Request submits a new Data-Share Request. Public/internal sensitivity
// is auto-approved and materialised immediately (§4.8 step 2); everything
// else starts Pending.
func (p *Protocol) Request(ctx context.Context, req *domain.DataShareRequest) (string, error) {
	if len(req.TargetAgents) == 0 {
		return "", errs.ValidationFailed("data share request", fmt.Errorf("target_agents must not be empty"))
	}
	req.RequestID = uuid.NewString()
	req.CreatedAt = time.Now()
	req.Status = domain.ShareStatusPending

	p.mu.Lock()
	p.requests[req.RequestID] = req
	p.mu.Unlock()

	p.audit.RecordDataShareEvent(ctx, "data_share_requested", req.RequestID, req.OrganizationID, domain.OutcomeSuccess,
		map[string]interface{}{"target_agents": req.TargetAgents, "sensitivity": string(req.Sensitivity)})

	if autoApproveSensitivities[req.Sensitivity] {
		if err := p.materialize(ctx, req); err != nil {
			return req.RequestID, err
		}
	}
	return req.RequestID, nil
}

// Approve records approverID's approval for one target agent type and,
// once any target is approved, materialises the share (§4.8 step 3).
func (p *Protocol) Approve(ctx context.Context, requestID, approverAgentType string) error {
	p.mu.Lock()
	req, ok := p.requests[requestID]
	if !ok {
		p.mu.Unlock()
		return errs.NotFound("approve data share", fmt.Errorf("request %s", requestID))
	}
	if p.approved[requestID] == nil {
		p.approved[requestID] = make(map[string]bool)
	}
	p.approved[requestID][approverAgentType] = true
	alreadyMaterialized := req.Status == domain.ShareStatusApproved
	p.mu.Unlock()

	p.audit.RecordDataShareEvent(ctx, "data_share_approved", requestID, req.OrganizationID, domain.OutcomeSuccess,
		map[string]interface{}{"approver_agent_type": approverAgentType})

	if alreadyMaterialized {
		return nil
	}
	return p.materialize(ctx, req)
}

// materialize writes the share's payload as a Context Entry scoped to
// the requested target agents (§4.8: scope=agent_type, allowed_agents).
func (p *Protocol) materialize(ctx context.Context, req *domain.DataShareRequest) error {
	allowed := make(map[string]struct{}, len(req.TargetAgents))
	for _, t := range req.TargetAgents {
		allowed[t] = struct{}{}
	}

	entry := &domain.ContextEntry{
		ContextType:    req.ContextType,
		Scope:          domain.ScopeAgentType,
		Sensitivity:    req.Sensitivity,
		Data:           req.Data,
		CreatedBy:      req.RequestingAgent,
		OrganizationID: req.OrganizationID,
		AllowedAgents:  allowed,
	}
	if req.ExpiresInHours > 0 {
		entry.ExpiresAt = time.Now().Add(time.Duration(req.ExpiresInHours) * time.Hour)
	}

	entryID, err := p.store.Put(ctx, entry)
	if err != nil {
		return err
	}

	p.mu.Lock()
	req.Status = domain.ShareStatusApproved
	req.MaterializedID = entryID
	p.mu.Unlock()

	p.logger.Info("data share materialized", logging.NewFields().Component("datashare").
		Operation("materialize").Resource("context_entry", entryID).
		Custom("request_id", req.RequestID).ZapFields()...)
	p.audit.RecordDataShareEvent(ctx, "data_share_materialized", req.RequestID, req.OrganizationID, domain.OutcomeSuccess,
		map[string]interface{}{"entry_id": entryID})
	return nil
}

// Get returns a snapshot of one share request.
func (p *Protocol) Get(requestID string) (*domain.DataShareRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.requests[requestID]
	if !ok {
		return nil, errs.NotFound("get data share request", fmt.Errorf("request %s", requestID))
	}
	snapshot := *req
	return &snapshot, nil
}

// ExpireSweep marks every pending request past its implicit deadline
// (created_at + expires_in_hours) as Expired, so approvers can no longer
// act on stale requests.
func (p *Protocol) ExpireSweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	now := time.Now()
	for _, req := range p.requests {
		if req.Status != domain.ShareStatusPending || req.ExpiresInHours <= 0 {
			continue
		}
		if now.After(req.CreatedAt.Add(time.Duration(req.ExpiresInHours) * time.Hour)) {
			req.Status = domain.ShareStatusExpired
			n++
		}
	}
	return n
}
