package authz

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AegisGate/aegis-gate/models"
)

// CreatePolicy registers an access policy. Rules without ids get one
// assigned so decisions can reference them.
func (e *Engine) CreatePolicy(policy models.AccessPolicy) (models.AccessPolicy, error) {
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	for i := range policy.Rules {
		if policy.Rules[i].ID == "" {
			policy.Rules[i].ID = fmt.Sprintf("%s/r%d", policy.ID, i)
		}
	}
	policy.CreatedAt = time.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies[policy.ID] = &policy
	return policy, nil
}

// UpdatePolicy replaces an existing policy.
func (e *Engine) UpdatePolicy(policy models.AccessPolicy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, ok := e.policies[policy.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, policy.ID)
	}

	policy.CreatedAt = existing.CreatedAt
	e.policies[policy.ID] = &policy
	return nil
}

// DeletePolicy removes a policy.
func (e *Engine) DeletePolicy(policyID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.policies[policyID]; !ok {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, policyID)
	}
	delete(e.policies, policyID)
	return nil
}

// SetPolicyEnabled toggles a policy without touching its rules.
func (e *Engine) SetPolicyEnabled(policyID string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	policy, ok := e.policies[policyID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, policyID)
	}
	policy.Enabled = enabled
	return nil
}

// Policies returns all policies sorted by priority.
func (e *Engine) Policies() []models.AccessPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.AccessPolicy, 0, len(e.policies))
	for _, p := range e.policies {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
