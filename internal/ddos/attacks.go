package ddos

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/AegisGate/aegis-gate/events"
	"github.com/AegisGate/aegis-gate/models"
)

const (
	// attackEndShare is the fraction of the per-source threshold under
	// which an attack's sources must stay before the attack can end
	attackEndShare = 0.1
	// attackEndQuiet is how long the rate must stay under the share
	attackEndQuiet = 5 * time.Minute
	// clusterSpread is the maximum first-seen gap between sources
	// treated as one coordinated cluster
	clusterSpread = 30 * time.Second
	// clusterMinSources is the minimum cluster size for a coordinated
	// attack
	clusterMinSources = 3
	// overlapShare is the minimum shared-target ratio for the endpoint
	// overlap clustering pass
	overlapShare = 0.5
)

type attackState struct {
	attack *models.DDoSAttack
	// belowSince marks when the sources' combined rate last dropped under
	// the end threshold
	belowSince *time.Time
}

// raiseSourceAttack opens a volumetric attack record for one source.
// Caller holds m.mu.
func (m *Monitor) raiseSourceAttack(state *sourceState, now time.Time) *models.DDoSAttack {
	p := state.pattern

	severity := models.SeverityHigh
	if p.RequestsPerSecond >= 2*m.config.RequestsPerSecond {
		severity = models.SeverityCritical
	}

	attack := &models.DDoSAttack{
		ID:           ulid.Make().String(),
		Type:         models.AttackVolumetric,
		Severity:     severity,
		StartedAt:    now,
		Sources:      []string{p.SourceIP},
		Targets:      topEndpoints(p.Endpoints, 5),
		RequestCount: p.RequestCount,
		PeakRate:     p.RequestsPerSecond,
	}

	m.attacks[attack.ID] = &attackState{attack: attack}
	state.attackID = attack.ID
	return attack
}

// checkGlobal evaluates the 1-minute horizon for volumetric and distributed
// alerts. Alerts are dampened so a sustained flood raises one attack, not
// one per request. Caller holds m.mu.
func (m *Monitor) checkGlobal(now time.Time) *models.DDoSAttack {
	if now.Sub(m.lastGlobalAlert) < globalAlertDampen {
		return nil
	}

	distinct := make(map[string]struct{})
	for _, s := range m.recent {
		distinct[s.source] = struct{}{}
	}
	globalRate := float64(len(m.recent)) / globalHorizon.Seconds()

	var attackType models.AttackType
	switch {
	case globalRate > m.config.GlobalRequestsPerSecond:
		attackType = models.AttackVolumetric
	case len(distinct) > m.config.DistinctSources:
		attackType = models.AttackMixed
	default:
		return nil
	}

	sources := make([]string, 0, len(distinct))
	for source := range distinct {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	attack := &models.DDoSAttack{
		ID:           ulid.Make().String(),
		Type:         attackType,
		Severity:     models.SeverityCritical,
		StartedAt:    now,
		Sources:      sources,
		RequestCount: int64(len(m.recent)),
		PeakRate:     globalRate,
	}
	m.attacks[attack.ID] = &attackState{attack: attack}
	m.lastGlobalAlert = now

	for _, source := range sources {
		if state, ok := m.sources[source]; ok && state.attackID == "" {
			state.attackID = attack.ID
		}
	}
	return attack
}

// SweepCoordinated looks for multiple suspicious sources whose first-seen
// timestamps cluster tightly or whose targets overlap heavily, and merges
// them into one composite attack record. Registered as a maintenance task.
func (m *Monitor) SweepCoordinated(ctx context.Context) error {
	now := time.Now().UTC()

	m.mu.Lock()
	var candidates []*sourceState
	for _, state := range m.sources {
		if state.pattern.Suspicious && state.attackID == "" {
			candidates = append(candidates, state)
		}
	}

	cluster := timeCluster(candidates)
	if len(cluster) < clusterMinSources {
		cluster = targetCluster(candidates)
	}

	var attack *models.DDoSAttack
	if len(cluster) >= clusterMinSources {
		attack = m.raiseCoordinatedAttack(cluster, now)
	}
	m.mu.Unlock()

	if attack != nil {
		m.mitigate(ctx, attack)
	}
	return nil
}

// timeCluster returns the largest group of candidates whose first-seen
// timestamps fall within the cluster spread of each other.
func timeCluster(candidates []*sourceState) []*sourceState {
	if len(candidates) < clusterMinSources {
		return nil
	}
	sorted := append([]*sourceState(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].pattern.FirstSeen.Before(sorted[j].pattern.FirstSeen)
	})

	var best []*sourceState
	start := 0
	for end := range sorted {
		for sorted[end].pattern.FirstSeen.Sub(sorted[start].pattern.FirstSeen) > clusterSpread {
			start++
		}
		if end-start+1 > len(best) {
			best = sorted[start : end+1]
		}
	}
	return best
}

// targetCluster groups candidates sharing a dominant endpoint.
func targetCluster(candidates []*sourceState) []*sourceState {
	byTarget := make(map[string][]*sourceState)
	for _, state := range candidates {
		p := state.pattern
		for endpoint, count := range p.Endpoints {
			if float64(count)/float64(p.RequestCount) >= overlapShare {
				byTarget[endpoint] = append(byTarget[endpoint], state)
			}
		}
	}

	var best []*sourceState
	for _, group := range byTarget {
		if len(group) > len(best) {
			best = group
		}
	}
	return best
}

// raiseCoordinatedAttack merges a cluster into one composite record.
// Caller holds m.mu.
func (m *Monitor) raiseCoordinatedAttack(cluster []*sourceState, now time.Time) *models.DDoSAttack {
	sources := make([]string, 0, len(cluster))
	targets := make(map[string]int64)
	var requestCount int64
	var peakRate float64

	for _, state := range cluster {
		p := state.pattern
		sources = append(sources, p.SourceIP)
		requestCount += p.RequestCount
		peakRate += p.RequestsPerSecond
		for endpoint, count := range p.Endpoints {
			targets[endpoint] += count
		}
	}
	sort.Strings(sources)

	attack := &models.DDoSAttack{
		ID:           ulid.Make().String(),
		Type:         models.AttackMixed,
		Severity:     models.SeverityCritical,
		StartedAt:    now,
		Sources:      sources,
		Targets:      topEndpoints(targets, 5),
		RequestCount: requestCount,
		PeakRate:     peakRate,
	}
	m.attacks[attack.ID] = &attackState{attack: attack}

	for _, state := range cluster {
		state.attackID = attack.ID
	}
	return attack
}

// SweepAttacks ends attacks whose sources have stayed under the end
// threshold for the quiet period. Registered as a maintenance task.
func (m *Monitor) SweepAttacks(ctx context.Context) error {
	now := time.Now().UTC()
	endThreshold := m.config.RequestsPerSecond * attackEndShare

	var ended []*models.DDoSAttack

	m.mu.Lock()
	for _, state := range m.attacks {
		if !state.attack.Active() {
			continue
		}

		// combined rate over the last minute, not the lifetime average
		cutoff := now.Add(-globalHorizon)
		attacked := make(map[string]struct{}, len(state.attack.Sources))
		for _, source := range state.attack.Sources {
			attacked[source] = struct{}{}
		}
		recent := 0
		for _, s := range m.recent {
			if _, ok := attacked[s.source]; ok && s.at.After(cutoff) {
				recent++
			}
		}
		current := float64(recent) / globalHorizon.Seconds()

		if current >= endThreshold {
			state.belowSince = nil
			continue
		}
		if state.belowSince == nil {
			below := now
			state.belowSince = &below
			continue
		}
		if now.Sub(*state.belowSince) < attackEndQuiet {
			continue
		}

		endedAt := now
		state.attack.EndedAt = &endedAt
		for _, source := range state.attack.Sources {
			if src, ok := m.sources[source]; ok && src.attackID == state.attack.ID {
				src.attackID = ""
			}
		}
		ended = append(ended, cloneAttack(state.attack))
	}
	m.mu.Unlock()

	for _, attack := range ended {
		m.logger.Info("attack ended", "attack_id", attack.ID, "type", string(attack.Type))
		m.publish(ctx, events.EventAttackEnded, map[string]any{
			"attack_id": attack.ID,
			"type":      string(attack.Type),
			"sources":   len(attack.Sources),
		})
	}
	return nil
}

// mitigate notifies the observer and records the applied actions.
func (m *Monitor) mitigate(ctx context.Context, attack *models.DDoSAttack) {
	var actions []string
	if m.observer != nil {
		actions = m.observer.OnAttack(ctx, *attack)
	}
	actions = append(actions, "aggressive rate limiting", "traffic shaping", "challenge-response")

	m.mu.Lock()
	if state, ok := m.attacks[attack.ID]; ok {
		state.attack.Mitigated = true
		state.attack.Actions = actions
	}
	m.mu.Unlock()

	m.logger.Warn("attack detected",
		"attack_id", attack.ID,
		"type", string(attack.Type),
		"severity", string(attack.Severity),
		"sources", len(attack.Sources),
		"peak_rate", attack.PeakRate,
	)
	m.publish(ctx, events.EventAttackDetected, map[string]any{
		"attack_id": attack.ID,
		"type":      string(attack.Type),
		"severity":  string(attack.Severity),
		"sources":   attack.Sources,
		"peak_rate": attack.PeakRate,
	})
}

// Attack returns a copy of one attack record.
func (m *Monitor) Attack(id string) (*models.DDoSAttack, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.attacks[id]
	if !ok {
		return nil, false
	}
	return cloneAttack(state.attack), true
}

// Attacks returns a snapshot of all attack records, active first, newest
// first within each group.
func (m *Monitor) Attacks() []models.DDoSAttack {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.DDoSAttack, 0, len(m.attacks))
	for _, state := range m.attacks {
		out = append(out, *cloneAttack(state.attack))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Active() != out[j].Active() {
			return out[i].Active()
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// ActiveAttacks returns the attacks not yet marked ended.
func (m *Monitor) ActiveAttacks() []models.DDoSAttack {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.DDoSAttack
	for _, state := range m.attacks {
		if state.attack.Active() {
			out = append(out, *cloneAttack(state.attack))
		}
	}
	return out
}

func cloneAttack(a *models.DDoSAttack) *models.DDoSAttack {
	out := *a
	out.Sources = append([]string(nil), a.Sources...)
	out.Targets = append([]string(nil), a.Targets...)
	out.Actions = append([]string(nil), a.Actions...)
	if a.EndedAt != nil {
		ended := *a.EndedAt
		out.EndedAt = &ended
	}
	return &out
}

func topEndpoints(endpoints map[string]int64, n int) []string {
	type entry struct {
		endpoint string
		count    int64
	}
	entries := make([]entry, 0, len(endpoints))
	for endpoint, count := range endpoints {
		entries = append(entries, entry{endpoint, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].endpoint < entries[j].endpoint
	})

	if n > len(entries) {
		n = len(entries)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = entries[i].endpoint
	}
	return out
}

func (m *Monitor) publish(ctx context.Context, eventType string, fields map[string]any) {
	if m.bus == nil {
		return
	}
	payload, _ := json.Marshal(fields)
	if err := m.bus.Publish(ctx, models.Event{
		Type:    eventType,
		Payload: payload,
	}); err != nil {
		m.logger.Warn("failed to publish event", "type", eventType, "error", err)
	}
}
