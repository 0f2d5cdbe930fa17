package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/AegisGate/aegis-gate/events"
	"github.com/AegisGate/aegis-gate/internal/metrics"
	"github.com/AegisGate/aegis-gate/internal/store"
	"github.com/AegisGate/aegis-gate/models"
)

// Pipeline stage names carried on decisions.
const (
	StageWhitelist = "whitelist"
	StageBlocklist = "blocklist"
	StageRateLimit = "rate_limit"
	StageBot       = "bot_detection"
	StageSpam      = "spam_detection"
	StageInjection = "injection_detection"
	StageDDoS      = "ddos_ceiling"
	StageGuard     = "guard"
)

const escalationHorizon = time.Hour

// Guard is the abuse and rate-limit front line. Every inbound request runs
// the detection pipeline; decisions are computed from in-memory state only.
type Guard struct {
	config    models.GuardConfig
	logger    models.Logger
	bus       models.EventPublisher
	counters  store.CounterStore
	blocklist *Blocklist
	activity  *ActivityLog
	rules     *ruleSet

	mu        sync.RWMutex
	whitelist map[string]struct{}
}

// New builds the guard. Configured blacklist addresses become permanent
// block entries; blocked countries become permanent country blocks.
func New(config models.GuardConfig, logger models.Logger, bus models.EventPublisher, counters store.CounterStore) *Guard {
	g := &Guard{
		config:    config,
		logger:    logger,
		bus:       bus,
		counters:  counters,
		blocklist: NewBlocklist(),
		activity:  NewActivityLog(0),
		rules:     newRuleSet(config.Rules),
		whitelist: make(map[string]struct{}, len(config.Whitelist)),
	}

	for _, addr := range config.Whitelist {
		g.whitelist[addr] = struct{}{}
	}
	for _, addr := range config.Blacklist {
		g.blocklist.Add(models.BlockedEntity{
			Type:     models.BlockAddress,
			Value:    addr,
			Reason:   "configured blacklist",
			Severity: models.BlockPermanent,
		})
	}
	if config.GeoBlocking {
		for _, country := range config.BlockedCountries {
			g.blocklist.Add(models.BlockedEntity{
				Type:     models.BlockCountry,
				Value:    country,
				Reason:   "configured geo-block",
				Severity: models.BlockPermanent,
			})
		}
	}

	return g
}

// CheckRequest runs the full detection pipeline. Detector-internal failures
// never deny: a panicking or erroring heuristic is skipped and the request
// proceeds to the next stage.
func (g *Guard) CheckRequest(ctx context.Context, descriptor models.RequestDescriptor) models.Decision {
	if g.Whitelisted(descriptor.SourceIP) {
		return models.Allow(StageWhitelist)
	}

	now := descriptor.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if decision, blocked := g.checkBlocked(descriptor, now); blocked {
		return decision
	}

	if g.config.RateLimiting {
		if decision, denied := g.checkRateLimit(ctx, descriptor); denied {
			return decision
		}
	}

	if g.config.BotDetection {
		if detail, hit := g.runDetector("bot", func() (string, bool) {
			return detectBot(descriptor.UserAgent)
		}); hit {
			g.recordDetection(ctx, descriptor, models.ActivityBotBehavior, models.SeverityMedium, detail)
			return models.Deny(StageBot, "Bot behavior detected")
		}
	}

	if g.config.SpamDetection {
		if detail, hit := g.runDetector("spam", func() (string, bool) {
			return detectSpam(descriptor.Body, g.config.SpamKeywords)
		}); hit {
			g.recordDetection(ctx, descriptor, models.ActivitySpamDetected, models.SeverityMedium, detail)
			return models.Deny(StageSpam, "Spam content detected")
		}
	}

	if g.config.InjectionDetection {
		if detail, hit := g.runDetector("injection", func() (string, bool) {
			return detectInjection(descriptor.Body, descriptor.Headers)
		}); hit {
			g.recordDetection(ctx, descriptor, models.ActivityInjectionAttempt, models.SeverityHigh, detail)
			g.autoBlock(ctx, descriptor.SourceIP, "injection attempt", g.config.AutoBlockDuration)
			return models.Deny(StageInjection, "Injection attempt detected")
		}
	}

	if g.config.DDoSDetection && g.config.RequestsPerMinute > 0 {
		if decision, denied := g.checkRequestCeiling(ctx, descriptor); denied {
			return decision
		}
	}

	return models.Allow(StageGuard)
}

func (g *Guard) checkBlocked(descriptor models.RequestDescriptor, now time.Time) (models.Decision, bool) {
	checks := []struct {
		blockType models.BlockType
		value     string
	}{
		{models.BlockAddress, descriptor.SourceIP},
		{models.BlockPrincipal, descriptor.PrincipalID},
		{models.BlockUserAgent, descriptor.UserAgent},
		{models.BlockCountry, descriptor.Country},
	}

	for _, check := range checks {
		if check.blockType == models.BlockCountry && !g.config.GeoBlocking {
			continue
		}
		if entity, blocked := g.blocklist.Lookup(check.blockType, check.value, now); blocked {
			reason := fmt.Sprintf("Blocked %s", check.blockType)
			if entity.Reason != "" {
				reason = fmt.Sprintf("Blocked %s: %s", check.blockType, entity.Reason)
			}
			return models.Deny(StageBlocklist, reason), true
		}
	}
	return models.Decision{}, false
}

func (g *Guard) checkRateLimit(ctx context.Context, descriptor models.RequestDescriptor) (models.Decision, bool) {
	rule, matched := g.rules.Match(descriptor.Endpoint, descriptor.Method)
	if !matched {
		return models.Decision{}, false
	}

	allowed, _, _, err := g.counters.CheckAndIncrement(ctx, counterKey(rule, descriptor), rule.Window, rule.MaxRequests)
	if err != nil {
		// counter backend failure fails open
		g.logger.Warn("rate limit check failed", "rule", rule.ID, "error", err)
		return models.Decision{}, false
	}
	if allowed {
		return models.Decision{}, false
	}

	g.recordDetection(ctx, descriptor, models.ActivityRateLimitExceeded, models.SeverityLow,
		fmt.Sprintf("rule %s: %d per %s", rule.ID, rule.MaxRequests, rule.Window))
	g.publish(ctx, events.EventRateLimitExceeded, map[string]any{
		"source_ip": descriptor.SourceIP,
		"endpoint":  descriptor.Endpoint,
		"rule_id":   rule.ID,
	})

	return models.Deny(StageRateLimit, "Rate limit exceeded", rule.ID), true
}

func (g *Guard) checkRequestCeiling(ctx context.Context, descriptor models.RequestDescriptor) (models.Decision, bool) {
	key := "rpm:" + descriptor.SourceIP
	allowed, _, _, err := g.counters.CheckAndIncrement(ctx, key, time.Minute, g.config.RequestsPerMinute)
	if err != nil {
		g.logger.Warn("request ceiling check failed", "error", err)
		return models.Decision{}, false
	}
	if allowed {
		return models.Decision{}, false
	}

	g.recordDetection(ctx, descriptor, models.ActivityDDoSAttempt, models.SeverityCritical,
		fmt.Sprintf("over %d requests per minute", g.config.RequestsPerMinute))
	g.autoBlock(ctx, descriptor.SourceIP, "request flood", g.config.AutoBlockDuration)

	return models.Deny(StageDDoS, "Request rate ceiling exceeded"), true
}

// runDetector executes one heuristic with panic containment. A panicking
// detector reports no hit so the request is not denied by a broken
// heuristic.
func (g *Guard) runDetector(name string, fn func() (string, bool)) (detail string, hit bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("detector panicked", "detector", name, "panic", r)
			detail, hit = "", false
		}
	}()
	return fn()
}

// recordDetection appends a suspicious activity and applies the
// repeat-offender escalation.
func (g *Guard) recordDetection(ctx context.Context, descriptor models.RequestDescriptor, activityType string, severity models.ActivitySeverity, description string) {
	activity := g.activity.Record(models.SuspiciousActivity{
		Type:        activityType,
		Severity:    severity,
		SourceIP:    descriptor.SourceIP,
		PrincipalID: descriptor.PrincipalID,
		Description: description,
	})
	metrics.ObserveDetection(activityType)

	g.publish(ctx, events.EventActivityDetected, map[string]any{
		"activity_id": activity.ID,
		"type":        activityType,
		"severity":    string(severity),
		"source_ip":   descriptor.SourceIP,
	})

	if !g.config.AutoBlock || g.config.EscalationThreshold <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-escalationHorizon)
	if g.activity.UnresolvedSince(descriptor.SourceIP, cutoff) >= g.config.EscalationThreshold {
		g.autoBlock(ctx, descriptor.SourceIP, "repeated suspicious activity", escalationDuration(severity))
	}
}

// escalationDuration scales the auto-block duration by the triggering
// activity's severity.
func escalationDuration(severity models.ActivitySeverity) time.Duration {
	switch severity {
	case models.SeverityCritical:
		return 24 * time.Hour
	case models.SeverityHigh:
		return time.Hour
	case models.SeverityMedium:
		return 15 * time.Minute
	default:
		return 5 * time.Minute
	}
}

func (g *Guard) autoBlock(ctx context.Context, sourceIP, reason string, duration time.Duration) {
	if !g.config.AutoBlock || sourceIP == "" {
		return
	}
	if g.Whitelisted(sourceIP) {
		return
	}
	if duration <= 0 {
		duration = 30 * time.Minute
	}

	expiresAt := time.Now().UTC().Add(duration)
	g.BlockEntity(ctx, models.BlockedEntity{
		Type:      models.BlockAddress,
		Value:     sourceIP,
		Reason:    reason,
		Severity:  models.BlockTemporary,
		ExpiresAt: &expiresAt,
	})
}

// Whitelisted reports whether an address bypasses the pipeline entirely.
func (g *Guard) Whitelisted(sourceIP string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.whitelist[sourceIP]
	return ok
}

// BlockEntity adds a block entry and publishes the block event.
func (g *Guard) BlockEntity(ctx context.Context, entity models.BlockedEntity) {
	g.blocklist.Add(entity)
	g.publish(ctx, events.EventEntityBlocked, map[string]any{
		"type":   string(entity.Type),
		"value":  entity.Value,
		"reason": entity.Reason,
	})
}

// UnblockEntity removes a block entry, reporting whether one existed.
func (g *Guard) UnblockEntity(ctx context.Context, blockType models.BlockType, value string) bool {
	removed := g.blocklist.Remove(blockType, value)
	if removed {
		g.publish(ctx, events.EventEntityUnblocked, map[string]any{
			"type":  string(blockType),
			"value": value,
		})
	}
	return removed
}

// BlockedEntities returns a snapshot of live block entries.
func (g *Guard) BlockedEntities() []models.BlockedEntity {
	return g.blocklist.List(time.Now().UTC())
}

// ExportBlocklist serializes the live block entries.
func (g *Guard) ExportBlocklist() ([]byte, error) {
	return g.blocklist.Export(time.Now().UTC())
}

// ImportBlocklist merges a snapshot produced by ExportBlocklist.
func (g *Guard) ImportBlocklist(data []byte) (int, error) {
	return g.blocklist.Import(data)
}

// AddRule registers a rate-limit rule and returns its id.
func (g *Guard) AddRule(rule models.RateLimitRule) string {
	return g.rules.Add(rule)
}

// RemoveRule deletes a rate-limit rule by id.
func (g *Guard) RemoveRule(id string) bool {
	return g.rules.Remove(id)
}

// Rules returns a snapshot of the rate-limit rules.
func (g *Guard) Rules() []models.RateLimitRule {
	return g.rules.List()
}

// ResolveActivity marks a suspicious activity as handled.
func (g *Guard) ResolveActivity(id string) error {
	return g.activity.Resolve(id)
}

// RecentActivities returns up to n most recent suspicious activities.
func (g *Guard) RecentActivities(n int) []models.SuspiciousActivity {
	return g.activity.Recent(n)
}

// PurgeBlocklist removes expired block entries. Registered as a maintenance
// task.
func (g *Guard) PurgeBlocklist(ctx context.Context) error {
	purged := g.blocklist.Purge(time.Now().UTC())
	if purged > 0 {
		g.logger.Debug("purged expired blocks", "count", purged)
	}
	return nil
}

// PruneActivities drops resolved activities older than the escalation
// horizon. Registered as a maintenance task.
func (g *Guard) PruneActivities(ctx context.Context) error {
	dropped := g.activity.TruncateBefore(time.Now().UTC().Add(-escalationHorizon))
	if dropped > 0 {
		g.logger.Debug("pruned resolved activities", "count", dropped)
	}
	return nil
}

func (g *Guard) publish(ctx context.Context, eventType string, fields map[string]any) {
	if g.bus == nil {
		return
	}
	payload, _ := json.Marshal(fields)
	if err := g.bus.Publish(ctx, models.Event{
		Type:    eventType,
		Payload: payload,
	}); err != nil {
		g.logger.Warn("failed to publish event", "type", eventType, "error", err)
	}
}
