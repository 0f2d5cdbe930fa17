package ddos

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AegisGate/aegis-gate/models"
)

// MitigationObserver is notified when an attack is detected and returns the
// mitigation actions it applied. Enforcement lives with the observer; the
// monitor only analyzes and records.
type MitigationObserver interface {
	OnAttack(ctx context.Context, attack models.DDoSAttack) []string
}

// sourceState wraps a traffic pattern with the monitor's working state.
type sourceState struct {
	pattern *models.TrafficPattern
	// limiter tracks the per-source sustained rate against the threshold
	limiter *rate.Limiter
	// burst holds recent request times inside the burst window
	burst []time.Time
	// attackID is set while the source is attributed to an active attack
	attackID string
}

type sample struct {
	at     time.Time
	source string
}

// Monitor maintains per-source traffic patterns and a global 1-minute view,
// raising attack records and triggering mitigation when thresholds are
// crossed.
type Monitor struct {
	config   models.DDoSConfig
	logger   models.Logger
	bus      models.EventPublisher
	observer MitigationObserver

	mu      sync.Mutex
	sources map[string]*sourceState
	// recent is the rolling global sample set over the 1-minute horizon
	recent  []sample
	attacks map[string]*attackState

	lastGlobalAlert time.Time
}

const (
	globalHorizon     = time.Minute
	globalAlertDampen = time.Minute
	// concentrationShare marks a source suspicious when one endpoint
	// absorbs more than this share of its traffic
	concentrationShare = 0.8
	// singleAgentFactor scales the minimum sample for the single
	// user-agent heuristic
	singleAgentFactor = 10
)

func New(config models.DDoSConfig, logger models.Logger, bus models.EventPublisher, observer MitigationObserver) *Monitor {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 100
	}
	if config.GlobalRequestsPerSecond <= 0 {
		config.GlobalRequestsPerSecond = 1000
	}
	if config.DistinctSources <= 0 {
		config.DistinctSources = 100
	}
	if config.MinSample <= 0 {
		config.MinSample = 20
	}
	if config.BurstThreshold <= 0 {
		config.BurstThreshold = 50
	}
	if config.BurstWindow <= 0 {
		config.BurstWindow = 10 * time.Second
	}
	if config.PatternRetention <= 0 {
		config.PatternRetention = 10 * time.Minute
	}

	return &Monitor{
		config:  config,
		logger:  logger,
		bus:     bus,
		observer: observer,
		sources: make(map[string]*sourceState),
		attacks: make(map[string]*attackState),
	}
}

// Analyze feeds one request into the monitor and reports whether the source
// is currently attributed to an active attack. Analysis failures never deny.
func (m *Monitor) Analyze(ctx context.Context, descriptor models.RequestDescriptor) (decision models.Decision) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("traffic analysis panicked", "panic", r)
			decision = models.Allow("ddos_monitor")
		}
	}()

	now := descriptor.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	m.mu.Lock()
	state := m.updateSource(descriptor, now)
	m.deriveSuspicion(state, now)

	var attack *models.DDoSAttack
	if state.pattern.Suspicious && state.attackID == "" && state.pattern.RequestsPerSecond >= m.config.RequestsPerSecond {
		attack = m.raiseSourceAttack(state, now)
	}
	if attack == nil {
		attack = m.checkGlobal(now)
	}

	underAttack := state.attackID != ""
	attackID := state.attackID
	m.mu.Unlock()

	if attack != nil {
		m.mitigate(ctx, attack)
	}

	if underAttack {
		return models.Deny("ddos_monitor", "Source attributed to active attack", attackID)
	}
	return models.Allow("ddos_monitor")
}

// updateSource applies one request to the source's rolling pattern.
// Caller holds m.mu.
func (m *Monitor) updateSource(descriptor models.RequestDescriptor, now time.Time) *sourceState {
	state, ok := m.sources[descriptor.SourceIP]
	if !ok {
		state = &sourceState{
			pattern: &models.TrafficPattern{
				SourceIP:   descriptor.SourceIP,
				Endpoints:  make(map[string]int64),
				UserAgents: make(map[string]int64),
				FirstSeen:  now,
			},
			limiter: rate.NewLimiter(rate.Limit(m.config.RequestsPerSecond), m.config.BurstThreshold),
		}
		m.sources[descriptor.SourceIP] = state
	}

	p := state.pattern
	p.RequestCount++
	p.LastSeen = now
	p.Endpoints[descriptor.Endpoint]++
	if descriptor.UserAgent != "" {
		p.UserAgents[descriptor.UserAgent]++
	}

	elapsed := p.LastSeen.Sub(p.FirstSeen)
	if elapsed < time.Second {
		elapsed = time.Second
	}
	p.RequestsPerSecond = float64(p.RequestCount) / elapsed.Seconds()

	// roll the burst window
	cutoff := now.Add(-m.config.BurstWindow)
	trimmed := state.burst[:0]
	for _, at := range state.burst {
		if at.After(cutoff) {
			trimmed = append(trimmed, at)
		}
	}
	state.burst = append(trimmed, now)

	// roll the global horizon
	globalCutoff := now.Add(-globalHorizon)
	idx := 0
	for idx < len(m.recent) && !m.recent[idx].at.After(globalCutoff) {
		idx++
	}
	if idx > 0 {
		m.recent = append([]sample(nil), m.recent[idx:]...)
	}
	m.recent = append(m.recent, sample{at: now, source: descriptor.SourceIP})

	return state
}

// deriveSuspicion re-evaluates the suspicion heuristics for one source.
// Caller holds m.mu.
func (m *Monitor) deriveSuspicion(state *sourceState, now time.Time) {
	p := state.pattern
	reasons := p.Reasons[:0]

	// consume a token at the descriptor's clock, not the wall clock, so
	// replayed traffic evaluates the same as live traffic
	if !state.limiter.AllowN(now, 1) {
		reasons = append(reasons, "request rate above threshold")
	}

	if p.RequestCount >= int64(m.config.MinSample) {
		var top int64
		for _, count := range p.Endpoints {
			if count > top {
				top = count
			}
		}
		if float64(top)/float64(p.RequestCount) > concentrationShare {
			reasons = append(reasons, "traffic concentrated on one endpoint")
		}
	}

	if len(p.UserAgents) == 1 && p.RequestCount >= int64(m.config.MinSample*singleAgentFactor) {
		reasons = append(reasons, "single user-agent at high volume")
	}

	if len(state.burst) >= m.config.BurstThreshold {
		reasons = append(reasons, "request burst")
	}

	p.Reasons = reasons
	p.Suspicious = len(reasons) > 0
}

// PrunePatterns drops sources idle past the retention horizon. Registered
// as a maintenance task.
func (m *Monitor) PrunePatterns(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-m.config.PatternRetention)

	m.mu.Lock()
	pruned := 0
	for source, state := range m.sources {
		if state.pattern.LastSeen.Before(cutoff) && state.attackID == "" {
			delete(m.sources, source)
			pruned++
		}
	}
	m.mu.Unlock()

	if pruned > 0 {
		m.logger.Debug("pruned idle traffic patterns", "count", pruned)
	}
	return nil
}

// Pattern returns a copy of the pattern for one source.
func (m *Monitor) Pattern(sourceIP string) (*models.TrafficPattern, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sources[sourceIP]
	if !ok {
		return nil, false
	}
	return clonePattern(state.pattern), true
}

// Patterns returns a snapshot of all tracked patterns.
func (m *Monitor) Patterns() []models.TrafficPattern {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.TrafficPattern, 0, len(m.sources))
	for _, state := range m.sources {
		out = append(out, *clonePattern(state.pattern))
	}
	return out
}

func clonePattern(p *models.TrafficPattern) *models.TrafficPattern {
	out := *p
	out.Endpoints = make(map[string]int64, len(p.Endpoints))
	for k, v := range p.Endpoints {
		out.Endpoints[k] = v
	}
	out.UserAgents = make(map[string]int64, len(p.UserAgents))
	for k, v := range p.UserAgents {
		out.UserAgents[k] = v
	}
	out.Reasons = append([]string(nil), p.Reasons...)
	return &out
}
