package models

import "time"

// Permission is an atomic (resource, action) capability.
type Permission struct {
	ID          string `json:"id"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

// Role is a named set of permission ids. System roles are immutable.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	System      bool      `json:"system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type RuleEffect string

const (
	EffectAllow RuleEffect = "allow"
	EffectDeny  RuleEffect = "deny"
)

type CompareOp string

const (
	OpGT  CompareOp = "gt"
	OpGTE CompareOp = "gte"
	OpLT  CompareOp = "lt"
	OpLTE CompareOp = "lte"
	OpEQ  CompareOp = "eq"
	OpNE  CompareOp = "ne"
	OpIn  CompareOp = "in"
	OpNin CompareOp = "nin"
)

// AttributeCondition compares one context attribute against a value.
type AttributeCondition struct {
	Key   string    `json:"key"`
	Op    CompareOp `json:"op"`
	Value any       `json:"value"`
}

// TimeWindow is a daily window in "HH:MM" local time. Start is inclusive,
// End exclusive; windows may wrap midnight.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// RuleConditions must all hold for a rule to match. Nil slices/fields are
// unconstrained.
type RuleConditions struct {
	// SourceRanges are CIDR ranges or plain address prefixes
	SourceRanges []string             `json:"source_ranges,omitempty"`
	TimeWindow   *TimeWindow          `json:"time_window,omitempty"`
	Weekdays     []time.Weekday       `json:"weekdays,omitempty"`
	Attributes   []AttributeCondition `json:"attributes,omitempty"`
}

// AccessRule is one conditional allow/deny statement inside a policy.
type AccessRule struct {
	ID         string          `json:"id"`
	Effect     RuleEffect      `json:"effect"`
	Resource   string          `json:"resource"`
	Action     string          `json:"action"`
	Conditions *RuleConditions `json:"conditions,omitempty"`
}

// AccessPolicy is an ordered set of access rules, evaluated in ascending
// Priority order across enabled policies.
type AccessPolicy struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Priority  int          `json:"priority"`
	Enabled   bool         `json:"enabled"`
	Rules     []AccessRule `json:"rules"`
	CreatedAt time.Time    `json:"created_at"`
}

// AuditEntry is an immutable record of one authorization decision.
type AuditEntry struct {
	ID           string    `json:"id"`
	PrincipalID  string    `json:"principal_id"`
	Resource     string    `json:"resource"`
	Action       string    `json:"action"`
	Allowed      bool      `json:"allowed"`
	Reason       string    `json:"reason,omitempty"`
	MatchedRules []string  `json:"matched_rules,omitempty"`
	SourceIP     string    `json:"source_ip,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
