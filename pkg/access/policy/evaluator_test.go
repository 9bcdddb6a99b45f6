package policy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Samueladewole/velocityai-sub003/pkg/access/policy"
)

func TestEmbeddedPolicyPublicAndInternalAllowAll(t *testing.T) {
	e := policy.NewEvaluator(policy.Config{}, nil)
	require.NoError(t, e.StartHotReload(context.Background()))

	for _, sensitivity := range []string{"public", "internal"} {
		result, err := e.Evaluate(context.Background(), policy.Input{Sensitivity: sensitivity, AgentType: "anything"})
		require.NoError(t, err)
		assert.True(t, result.Allow, sensitivity)
		assert.False(t, result.RequiresApproval, sensitivity)
		assert.False(t, result.RequiresEncryption, sensitivity)
	}
}

func TestEmbeddedPolicyConfidentialRequiresEnumeratedAgentType(t *testing.T) {
	e := policy.NewEvaluator(policy.Config{}, nil)
	require.NoError(t, e.StartHotReload(context.Background()))

	denied, err := e.Evaluate(context.Background(), policy.Input{Sensitivity: "confidential", AgentType: "risk-assessor"})
	require.NoError(t, err)
	assert.False(t, denied.Allow, "risk-assessor is not in allowed_confidential_agent_types")

	allowed, err := e.Evaluate(context.Background(), policy.Input{
		Sensitivity: "confidential", AgentType: "risk-assessor",
		AllowedConfidentialAgentTypes: []string{"risk-assessor"},
	})
	require.NoError(t, err)
	assert.True(t, allowed.Allow)
	assert.True(t, allowed.RequiresApproval)
	assert.True(t, allowed.RequiresEncryption)
}

func TestEmbeddedPolicySecretRequiresEnumeratedAgentType(t *testing.T) {
	e := policy.NewEvaluator(policy.Config{}, nil)
	require.NoError(t, e.StartHotReload(context.Background()))

	denied, err := e.Evaluate(context.Background(), policy.Input{Sensitivity: "secret", AgentType: "collector"})
	require.NoError(t, err)
	assert.False(t, denied.Allow)

	allowed, err := e.Evaluate(context.Background(), policy.Input{
		Sensitivity: "secret", AgentType: "key-custodian", AllowedAgentTypes: []string{"key-custodian"},
	})
	require.NoError(t, err)
	assert.True(t, allowed.Allow)
	assert.True(t, allowed.RequiresApproval)
}

func TestEvaluateLazilyCompilesAndMarksDegradedWithoutStartHotReload(t *testing.T) {
	e := policy.NewEvaluator(policy.Config{}, nil)
	result, err := e.Evaluate(context.Background(), policy.Input{Sensitivity: "public", AgentType: "anything"})
	require.NoError(t, err)
	assert.True(t, result.Allow)
	assert.True(t, result.Degraded)
}
