package guard

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/AegisGate/aegis-gate/models"
)

// ruleSet holds the live rate-limit rules. Matching prefers the most
// specific endpoint pattern; a trailing "*" makes a pattern a prefix match.
type ruleSet struct {
	mu    sync.RWMutex
	rules []models.RateLimitRule
}

func newRuleSet(rules []models.RateLimitRule) *ruleSet {
	set := &ruleSet{}
	for _, rule := range rules {
		set.Add(rule)
	}
	return set
}

// Add inserts a rule, assigning an id when absent, and returns the id.
func (s *ruleSet) Add(rule models.RateLimitRule) string {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Strategy == "" {
		rule.Strategy = models.KeyByAddress
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rules {
		if s.rules[i].ID == rule.ID {
			s.rules[i] = rule
			return rule.ID
		}
	}
	s.rules = append(s.rules, rule)
	return rule.ID
}

// Remove deletes a rule by id, reporting whether it existed.
func (s *ruleSet) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return true
		}
	}
	return false
}

// List returns a snapshot of all rules.
func (s *ruleSet) List() []models.RateLimitRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.RateLimitRule(nil), s.rules...)
}

// Match returns the best-matching enabled rule for the endpoint and method.
// Longer patterns win over shorter ones so "/auth/login" beats "/auth/*".
func (s *ruleSet) Match(endpoint, method string) (models.RateLimitRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best models.RateLimitRule
	bestLen := -1
	for _, rule := range s.rules {
		if !rule.Enabled {
			continue
		}
		if rule.Method != "" && rule.Method != "*" && !strings.EqualFold(rule.Method, method) {
			continue
		}
		if !endpointMatches(rule.Endpoint, endpoint) {
			continue
		}
		if len(rule.Endpoint) > bestLen {
			best = rule
			bestLen = len(rule.Endpoint)
		}
	}
	return best, bestLen >= 0
}

func endpointMatches(pattern, endpoint string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(endpoint, prefix)
	}
	return pattern == endpoint
}

// counterKey builds the store key for a rule and descriptor per the rule's
// key strategy.
func counterKey(rule models.RateLimitRule, descriptor models.RequestDescriptor) string {
	var subject string
	switch rule.Strategy {
	case models.KeyByPrincipal:
		subject = descriptor.PrincipalID
		if subject == "" {
			subject = descriptor.SourceIP
		}
	case models.KeyByBoth:
		subject = descriptor.SourceIP + "|" + descriptor.PrincipalID
	default:
		subject = descriptor.SourceIP
	}
	return "ratelimit:" + rule.ID + ":" + subject
}
