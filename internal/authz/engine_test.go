package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AegisGate/aegis-gate/models"
)

type testLogger struct{}

func (l *testLogger) Debug(msg string, args ...any) {}
func (l *testLogger) Info(msg string, args ...any)  {}
func (l *testLogger) Warn(msg string, args ...any)  {}
func (l *testLogger) Error(msg string, args ...any) {}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(&testLogger{}, nil, NewAuditLog(0, nil))
}

func grantRole(t *testing.T, e *Engine, principalID, roleID string, permissions ...string) {
	t.Helper()
	if err := e.CreateRole(models.Role{ID: roleID, Name: roleID, Permissions: permissions}); err != nil {
		t.Fatalf("CreateRole(%q): %v", roleID, err)
	}
	if err := e.AssignRole(principalID, roleID); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
}

func TestHasPermission(t *testing.T) {
	e := newTestEngine(t)
	grantRole(t, e, "alice", "support", "coupons:read", "tickets:*")
	grantRole(t, e, "root", "admin", "*")

	cases := []struct {
		principal string
		resource  string
		action    string
		want      bool
	}{
		{"alice", "coupons", "read", true},
		{"alice", "coupons", "write", false},
		{"alice", "tickets", "close", true},
		{"alice", "orders", "read", false},
		{"root", "anything", "at-all", true},
		{"nobody", "coupons", "read", false},
	}
	for _, tc := range cases {
		if got := e.HasPermission(tc.principal, tc.resource, tc.action); got != tc.want {
			t.Errorf("HasPermission(%q, %q, %q) = %v, want %v", tc.principal, tc.resource, tc.action, got, tc.want)
		}
	}
}

func TestRegisteredPermissionResolution(t *testing.T) {
	e := newTestEngine(t)

	issue, err := e.RegisterPermission(models.Permission{
		ID: "coupon-issuer", Resource: "coupons", Action: "issue",
	})
	if err != nil {
		t.Fatalf("RegisterPermission: %v", err)
	}
	if _, err := e.RegisterPermission(models.Permission{
		ID: "coupon-all", Resource: "coupons", Action: "*",
	}); err != nil {
		t.Fatalf("RegisterPermission: %v", err)
	}

	grantRole(t, e, "alice", "issuer", issue.ID)
	grantRole(t, e, "bob", "coupon-admin", "coupon-all")

	cases := []struct {
		principal string
		resource  string
		action    string
		want      bool
	}{
		{"alice", "coupons", "issue", true},
		{"alice", "coupons", "revoke", false},
		{"alice", "orders", "issue", false},
		{"bob", "coupons", "revoke", true},
		{"bob", "orders", "issue", false},
	}
	for _, tc := range cases {
		if got := e.HasPermission(tc.principal, tc.resource, tc.action); got != tc.want {
			t.Errorf("HasPermission(%q, %q, %q) = %v, want %v", tc.principal, tc.resource, tc.action, got, tc.want)
		}
	}
}

func TestRegisterPermissionValidation(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.RegisterPermission(models.Permission{Resource: "coupons"}); err == nil {
		t.Error("permission without an action was accepted")
	}
	created, err := e.RegisterPermission(models.Permission{Resource: "coupons", Action: "read"})
	if err != nil {
		t.Fatalf("RegisterPermission: %v", err)
	}
	if created.ID == "" {
		t.Error("registered permission has no generated id")
	}
	if got := e.Permissions(); len(got) != 1 || got[0].ID != created.ID {
		t.Errorf("Permissions() = %v, want the one registered entry", got)
	}
}

func TestEngineOwnsRoleAssignments(t *testing.T) {
	e := newTestEngine(t)
	grantRole(t, e, "alice", "support", "coupons:read")

	if roles := e.PrincipalRoles("alice"); len(roles) != 1 || roles[0] != "support" {
		t.Fatalf("PrincipalRoles = %v, want [support]", roles)
	}
	if roles := e.PrincipalRoles("bob"); len(roles) != 0 {
		t.Errorf("PrincipalRoles for unassigned principal = %v, want none", roles)
	}

	if err := e.RemoveRole("alice", "support"); err != nil {
		t.Fatalf("RemoveRole: %v", err)
	}
	if roles := e.PrincipalRoles("alice"); len(roles) != 0 {
		t.Errorf("PrincipalRoles after removal = %v, want none", roles)
	}
	if e.HasPermission("alice", "coupons", "read") {
		t.Error("permission survived role revocation")
	}
}

func TestCheckAccessSourceRangeDeny(t *testing.T) {
	e := newTestEngine(t)
	grantRole(t, e, "alice", "support", "coupons:read")

	policy, err := e.CreatePolicy(models.AccessPolicy{
		Name:    "internal-only",
		Enabled: true,
		Rules: []models.AccessRule{{
			Effect:   models.EffectDeny,
			Resource: "coupons",
			Action:   "read",
			Conditions: &models.RuleConditions{
				SourceRanges: []string{"203.0.113.0/24"},
			},
		}},
	})
	if err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}

	inside := e.CheckAccess(context.Background(), models.AccessRequest{
		PrincipalID: "alice",
		Resource:    "coupons",
		Action:      "read",
		Context:     models.AccessContext{SourceIP: "203.0.113.42"},
	})
	if inside.Allowed {
		t.Error("request from denied range was allowed")
	}
	if len(inside.Rules) != 1 || inside.Rules[0] != policy.Rules[0].ID {
		t.Errorf("matched rules = %v, want [%s]", inside.Rules, policy.Rules[0].ID)
	}

	outside := e.CheckAccess(context.Background(), models.AccessRequest{
		PrincipalID: "alice",
		Resource:    "coupons",
		Action:      "read",
		Context:     models.AccessContext{SourceIP: "198.51.100.7"},
	})
	if !outside.Allowed {
		t.Errorf("request from outside the range was denied: %s", outside.Reason)
	}
}

func TestCheckAccessWithoutBasePermission(t *testing.T) {
	e := newTestEngine(t)

	decision := e.CheckAccess(context.Background(), models.AccessRequest{
		PrincipalID: "alice",
		Resource:    "coupons",
		Action:      "read",
	})
	if decision.Allowed {
		t.Error("principal without base permission was allowed")
	}
}

func TestCheckAccessPolicyPriority(t *testing.T) {
	e := newTestEngine(t)
	grantRole(t, e, "alice", "support", "coupons:read")

	// lower priority evaluates first; its deny wins
	if _, err := e.CreatePolicy(models.AccessPolicy{
		Name:     "deny-first",
		Priority: 1,
		Enabled:  true,
		Rules:    []models.AccessRule{{Effect: models.EffectDeny, Resource: "coupons", Action: "read"}},
	}); err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}
	if _, err := e.CreatePolicy(models.AccessPolicy{
		Name:     "allow-later",
		Priority: 2,
		Enabled:  true,
		Rules:    []models.AccessRule{{Effect: models.EffectAllow, Resource: "coupons", Action: "read"}},
	}); err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}

	decision := e.CheckAccess(context.Background(), models.AccessRequest{
		PrincipalID: "alice", Resource: "coupons", Action: "read",
	})
	if decision.Allowed {
		t.Error("first-priority deny did not win")
	}
}

func TestCheckAccessDisabledPolicyIgnored(t *testing.T) {
	e := newTestEngine(t)
	grantRole(t, e, "alice", "support", "coupons:read")

	if _, err := e.CreatePolicy(models.AccessPolicy{
		Name:    "disabled-deny",
		Enabled: false,
		Rules:   []models.AccessRule{{Effect: models.EffectDeny, Resource: "coupons", Action: "read"}},
	}); err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}

	decision := e.CheckAccess(context.Background(), models.AccessRequest{
		PrincipalID: "alice", Resource: "coupons", Action: "read",
	})
	if !decision.Allowed {
		t.Errorf("disabled policy denied the request: %s", decision.Reason)
	}
}

func TestCheckAccessTimeWindow(t *testing.T) {
	e := newTestEngine(t)
	grantRole(t, e, "alice", "support", "coupons:read")

	if _, err := e.CreatePolicy(models.AccessPolicy{
		Name:    "after-hours",
		Enabled: true,
		Rules: []models.AccessRule{{
			Effect:   models.EffectDeny,
			Resource: "coupons",
			Action:   "read",
			Conditions: &models.RuleConditions{
				TimeWindow: &models.TimeWindow{Start: "22:00", End: "06:00"},
			},
		}},
	}); err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}

	night := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	day := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	if d := e.CheckAccess(context.Background(), models.AccessRequest{
		PrincipalID: "alice", Resource: "coupons", Action: "read",
		Context: models.AccessContext{Timestamp: night},
	}); d.Allowed {
		t.Error("request inside the deny window was allowed")
	}
	if d := e.CheckAccess(context.Background(), models.AccessRequest{
		PrincipalID: "alice", Resource: "coupons", Action: "read",
		Context: models.AccessContext{Timestamp: day},
	}); !d.Allowed {
		t.Errorf("request outside the deny window was denied: %s", d.Reason)
	}
}

func TestCheckAccessAttributeConditions(t *testing.T) {
	e := newTestEngine(t)
	grantRole(t, e, "alice", "support", "coupons:read")

	if _, err := e.CreatePolicy(models.AccessPolicy{
		Name:    "high-risk",
		Enabled: true,
		Rules: []models.AccessRule{{
			Effect:   models.EffectDeny,
			Resource: "coupons",
			Action:   "read",
			Conditions: &models.RuleConditions{
				Attributes: []models.AttributeCondition{
					{Key: "risk_score", Op: models.OpGT, Value: 80},
				},
			},
		}},
	}); err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}

	check := func(score int) models.Decision {
		return e.CheckAccess(context.Background(), models.AccessRequest{
			PrincipalID: "alice", Resource: "coupons", Action: "read",
			Context: models.AccessContext{Attributes: map[string]any{"risk_score": score}},
		})
	}

	if d := check(90); d.Allowed {
		t.Error("risk_score 90 was allowed")
	}
	if d := check(10); !d.Allowed {
		t.Errorf("risk_score 10 was denied: %s", d.Reason)
	}
}

func TestSystemRoleProtection(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreateRole(models.Role{ID: "root", Name: "root", System: true, Permissions: []string{"*"}}); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}

	if err := e.UpdateRole(models.Role{ID: "root", Name: "renamed"}); !errors.Is(err, ErrSystemRole) {
		t.Errorf("UpdateRole system = %v, want ErrSystemRole", err)
	}
	if err := e.DeleteRole("root"); !errors.Is(err, ErrSystemRole) {
		t.Errorf("DeleteRole system = %v, want ErrSystemRole", err)
	}
}

func TestDeleteRoleCascades(t *testing.T) {
	e := newTestEngine(t)
	grantRole(t, e, "alice", "support", "coupons:read")

	if err := e.DeleteRole("support"); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	if roles := e.PrincipalRoles("alice"); len(roles) != 0 {
		t.Errorf("principal roles after cascade = %v, want none", roles)
	}
	if e.HasPermission("alice", "coupons", "read") {
		t.Error("permission survived role deletion")
	}
}

func TestAuditTrailRecordsEveryDecision(t *testing.T) {
	e := newTestEngine(t)
	grantRole(t, e, "alice", "support", "coupons:read")

	e.CheckAccess(context.Background(), models.AccessRequest{PrincipalID: "alice", Resource: "coupons", Action: "read"})
	e.CheckAccess(context.Background(), models.AccessRequest{PrincipalID: "mallory", Resource: "coupons", Action: "read"})

	entries := e.audit.Recent(0)
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if !entries[0].Allowed || entries[1].Allowed {
		t.Errorf("audit outcomes = %v, %v", entries[0].Allowed, entries[1].Allowed)
	}
	for _, entry := range entries {
		if entry.ID == "" {
			t.Error("audit entry missing id")
		}
	}
}
