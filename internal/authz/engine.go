package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AegisGate/aegis-gate/events"
	"github.com/AegisGate/aegis-gate/models"
)

var (
	ErrRoleNotFound   = errors.New("authz: role not found")
	ErrRoleExists     = errors.New("authz: role already exists")
	ErrSystemRole     = errors.New("authz: system roles cannot be modified or deleted")
	ErrPolicyNotFound = errors.New("authz: policy not found")
)

// Engine evaluates role permissions and attribute-based access policies.
// It is the single owner of role assignments; authn knows identities, not
// roles. Every decision is appended to the audit log regardless of outcome.
type Engine struct {
	logger models.Logger
	bus    models.EventPublisher
	audit  *AuditLog

	mu             sync.RWMutex
	permissions    map[string]*models.Permission
	roles          map[string]*models.Role
	policies       map[string]*models.AccessPolicy
	principalRoles map[string]map[string]struct{}
}

func NewEngine(logger models.Logger, bus models.EventPublisher, audit *AuditLog) *Engine {
	return &Engine{
		logger:         logger,
		bus:            bus,
		audit:          audit,
		permissions:    make(map[string]*models.Permission),
		roles:          make(map[string]*models.Role),
		policies:       make(map[string]*models.AccessPolicy),
		principalRoles: make(map[string]map[string]struct{}),
	}
}

// RegisterPermission adds a named capability to the registry. A role may then
/// reference it by id instead of spelling out "resource:action".
func (e *Engine) RegisterPermission(permission models.Permission) (models.Permission, error) {
	if permission.Resource == "" || permission.Action == "" {
		return models.Permission{}, errors.New("authz: permission resource and action are required")
	}
	if permission.ID == "" {
		permission.ID = uuid.NewString()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.permissions[permission.ID] = &permission
	return permission, nil
}

// Permissions returns a snapshot of the registry sorted by id.
func (e *Engine) Permissions() []models.Permission {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.Permission, 0, len(e.permissions))
	for _, p := range e.permissions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateRole registers a role. The id must be unused.
func (e *Engine) CreateRole(role models.Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.roles[role.ID]; exists {
		return fmt.Errorf("%w: %s", ErrRoleExists, role.ID)
	}

	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	e.roles[role.ID] = &role
	return nil
}

// UpdateRole replaces a custom role's name, description and permission set.
func (e *Engine) UpdateRole(role models.Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, ok := e.roles[role.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, role.ID)
	}
	if existing.System {
		return ErrSystemRole
	}

	existing.Name = role.Name
	existing.Description = role.Description
	existing.Permissions = role.Permissions
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteRole removes a custom role and cascades it out of every principal's
// role set.
func (e *Engine) DeleteRole(roleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	role, ok := e.roles[roleID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
	}
	if role.System {
		return ErrSystemRole
	}

	delete(e.roles, roleID)
	for _, assigned := range e.principalRoles {
		delete(assigned, roleID)
	}
	return nil
}

// Role returns a copy of the named role.
func (e *Engine) Role(roleID string) (models.Role, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	role, ok := e.roles[roleID]
	if !ok {
		return models.Role{}, fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
	}
	return *role, nil
}

// AssignRole grants the role to the principal.
func (e *Engine) AssignRole(principalID, roleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.roles[roleID]; !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
	}

	assigned, ok := e.principalRoles[principalID]
	if !ok {
		assigned = make(map[string]struct{})
		e.principalRoles[principalID] = assigned
	}
	assigned[roleID] = struct{}{}
	return nil
}

// RemoveRole revokes the role from the principal. Removing an unassigned
// role is a no-op.
func (e *Engine) RemoveRole(principalID, roleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if assigned, ok := e.principalRoles[principalID]; ok {
		delete(assigned, roleID)
	}
	return nil
}

// PrincipalRoles returns the role ids assigned to a principal.
func (e *Engine) PrincipalRoles(principalID string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	assigned := e.principalRoles[principalID]
	out := make([]string, 0, len(assigned))
	for id := range assigned {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasPermission is the role-only fast path. A role's permission entry is
// either a registered permission id or a literal "resource:action" string;
// "resource:*" and the global "*" wildcard are supported in both forms.
func (e *Engine) HasPermission(principalID, resource, action string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.hasPermissionLocked(principalID, resource, action)
}

func (e *Engine) hasPermissionLocked(principalID, resource, action string) bool {
	for roleID := range e.principalRoles[principalID] {
		role, ok := e.roles[roleID]
		if !ok {
			continue
		}
		for _, perm := range role.Permissions {
			if registered, ok := e.permissions[perm]; ok {
				if capabilityCovers(registered, resource, action) {
					return true
				}
				continue
			}
			if permissionCovers(perm, resource, action) {
				return true
			}
		}
	}
	return false
}

func capabilityCovers(p *models.Permission, resource, action string) bool {
	if p.Resource != "*" && p.Resource != resource {
		return false
	}
	return p.Action == "*" || p.Action == action
}

func permissionCovers(perm, resource, action string) bool {
	if perm == "*" {
		return true
	}
	if perm == resource+":"+action {
		return true
	}
	if prefix, ok := strings.CutSuffix(perm, ":*"); ok {
		return prefix == resource
	}
	return false
}

// CheckAccess is the full decision path: base role permission first, then
// enabled policies in ascending priority order. The first matching deny rule
// overrides the base allow.
func (e *Engine) CheckAccess(ctx context.Context, req models.AccessRequest) models.Decision {
	decision := e.evaluate(req)

	e.audit.Append(models.AuditEntry{
		PrincipalID:  req.PrincipalID,
		Resource:     req.Resource,
		Action:       req.Action,
		Allowed:      decision.Allowed,
		Reason:       decision.Reason,
		MatchedRules: decision.Rules,
		SourceIP:     req.Context.SourceIP,
		Timestamp:    decision.Timestamp,
	})

	if !decision.Allowed {
		e.publishDenial(ctx, req, decision)
	}

	return decision
}

func (e *Engine) evaluate(req models.AccessRequest) models.Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.hasPermissionLocked(req.PrincipalID, req.Resource, req.Action) {
		return models.Deny("authz", fmt.Sprintf("principal lacks permission %s:%s", req.Resource, req.Action))
	}

	at := req.Context.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	policies := make([]*models.AccessPolicy, 0, len(e.policies))
	for _, p := range e.policies {
		if p.Enabled {
			policies = append(policies, p)
		}
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Priority < policies[j].Priority })

	var matched []string
	for _, policy := range policies {
		for i := range policy.Rules {
			rule := &policy.Rules[i]
			if !ruleMatches(rule, req, at) {
				continue
			}
			matched = append(matched, rule.ID)
			if rule.Effect == models.EffectDeny {
				d := models.Deny("authz", fmt.Sprintf("denied by policy %q rule %s", policy.Name, rule.ID), matched...)
				return d
			}
		}
	}

	d := models.Allow("authz")
	d.Reason = "granted by role permission"
	d.Rules = matched
	return d
}

func ruleMatches(rule *models.AccessRule, req models.AccessRequest, at time.Time) bool {
	if rule.Resource != "*" && rule.Resource != req.Resource {
		return false
	}
	if rule.Action != "*" && rule.Action != req.Action {
		return false
	}
	return conditionsHold(rule.Conditions, req.Context, at)
}

func (e *Engine) publishDenial(ctx context.Context, req models.AccessRequest, decision models.Decision) {
	if e.bus == nil {
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"principal_id": req.PrincipalID,
		"resource":     req.Resource,
		"action":       req.Action,
		"reason":       decision.Reason,
	})

	if err := e.bus.Publish(ctx, models.Event{
		Type:    events.EventAccessDenied,
		Payload: payload,
	}); err != nil {
		e.logger.Warn("failed to publish access denial event", "error", err)
	}
}
