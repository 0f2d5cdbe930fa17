package models

import "time"

// TrafficPattern is the rolling per-source traffic shape maintained by the
// DDoS monitor. Idle patterns are pruned past the retention horizon.
type TrafficPattern struct {
	SourceIP          string           `json:"source_ip"`
	RequestCount      int64            `json:"request_count"`
	RequestsPerSecond float64          `json:"requests_per_second"`
	Endpoints         map[string]int64 `json:"endpoints"`
	UserAgents        map[string]int64 `json:"user_agents"`
	FirstSeen         time.Time        `json:"first_seen"`
	LastSeen          time.Time        `json:"last_seen"`
	Suspicious        bool             `json:"suspicious"`
	Reasons           []string         `json:"reasons,omitempty"`
}

type AttackType string

const (
	AttackVolumetric  AttackType = "volumetric"
	AttackProtocol    AttackType = "protocol"
	AttackApplication AttackType = "application"
	AttackMixed       AttackType = "mixed"
)

// DDoSAttack records one detected attack, possibly spanning many sources.
type DDoSAttack struct {
	ID           string           `json:"id"`
	Type         AttackType       `json:"type"`
	Severity     ActivitySeverity `json:"severity"`
	StartedAt    time.Time        `json:"started_at"`
	EndedAt      *time.Time       `json:"ended_at,omitempty"`
	Sources      []string         `json:"sources"`
	Targets      []string         `json:"targets,omitempty"`
	RequestCount int64            `json:"request_count"`
	PeakRate     float64          `json:"peak_rate"`
	Mitigated    bool             `json:"mitigated"`
	Actions      []string         `json:"actions,omitempty"`
}

// Active reports whether the attack has not been marked ended.
func (a *DDoSAttack) Active() bool {
	return a.EndedAt == nil
}
