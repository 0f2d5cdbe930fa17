package models

import "time"

// RequestDescriptor is the boundary input handed to the abuse guard and the
// DDoS monitor for every inbound request.
type RequestDescriptor struct {
	SourceIP    string            `json:"source_ip"`
	PrincipalID string            `json:"principal_id,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	Endpoint    string            `json:"endpoint"`
	Method      string            `json:"method"`
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	// Country is an optional upstream geo hint (ISO 3166-1 alpha-2)
	Country   string    `json:"country,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// AccessContext carries the contextual attributes a policy rule may test.
type AccessContext struct {
	SourceIP   string         `json:"source_ip,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitzero"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// AccessRequest is the boundary input to the authorization engine.
type AccessRequest struct {
	PrincipalID string        `json:"principal_id"`
	Resource    string        `json:"resource"`
	Action      string        `json:"action"`
	Context     AccessContext `json:"context"`
}

// Decision is the uniform allow/deny outcome produced by every gateway stage.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	// Stage names the pipeline stage that produced the decision
	Stage string `json:"stage,omitempty"`
	// Rules lists matched rule ids or applied mitigation actions
	Rules     []string  `json:"rules,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Allow builds an allow decision for the given stage.
func Allow(stage string) Decision {
	return Decision{Allowed: true, Stage: stage, Timestamp: time.Now().UTC()}
}

// Deny builds a deny decision for the given stage.
func Deny(stage, reason string, rules ...string) Decision {
	return Decision{Allowed: false, Stage: stage, Reason: reason, Rules: rules, Timestamp: time.Now().UTC()}
}
