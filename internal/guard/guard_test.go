package guard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AegisGate/aegis-gate/internal/metrics"
	"github.com/AegisGate/aegis-gate/internal/store"
	"github.com/AegisGate/aegis-gate/models"
)

type testLogger struct{}

func (l *testLogger) Debug(msg string, args ...any) {}
func (l *testLogger) Info(msg string, args ...any)  {}
func (l *testLogger) Warn(msg string, args ...any)  {}
func (l *testLogger) Error(msg string, args ...any) {}

func newTestGuard(t *testing.T, config models.GuardConfig) *Guard {
	t.Helper()
	counters := store.NewMemoryStore(time.Minute)
	t.Cleanup(func() { counters.Close() })
	return New(config, &testLogger{}, nil, counters)
}

func request(sourceIP, endpoint string) models.RequestDescriptor {
	return models.RequestDescriptor{
		SourceIP:  sourceIP,
		Endpoint:  endpoint,
		Method:    "POST",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/125.0",
	}
}

func TestLoginRateLimitScenario(t *testing.T) {
	g := newTestGuard(t, models.GuardConfig{
		RateLimiting: true,
		Rules: []models.RateLimitRule{{
			ID:          "login-limit",
			Endpoint:    "/auth/login",
			Window:      15 * time.Minute,
			MaxRequests: 5,
			Strategy:    models.KeyByAddress,
			Enabled:     true,
		}},
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		decision := g.CheckRequest(ctx, request("1.2.3.4", "/auth/login"))
		if !decision.Allowed {
			t.Fatalf("request %d denied: %s", i+1, decision.Reason)
		}
	}

	sixth := g.CheckRequest(ctx, request("1.2.3.4", "/auth/login"))
	if sixth.Allowed {
		t.Fatal("6th request inside the window was allowed")
	}
	if !strings.Contains(sixth.Reason, "Rate limit exceeded") {
		t.Errorf("reason = %q, want it to mention the rate limit", sixth.Reason)
	}
	if len(sixth.Rules) == 0 || sixth.Rules[0] != "login-limit" {
		t.Errorf("rules = %v, want [login-limit]", sixth.Rules)
	}

	// another address is unaffected
	if decision := g.CheckRequest(ctx, request("5.6.7.8", "/auth/login")); !decision.Allowed {
		t.Errorf("other address denied: %s", decision.Reason)
	}
}

func TestRateLimitWindowReset(t *testing.T) {
	g := newTestGuard(t, models.GuardConfig{
		RateLimiting: true,
		Rules: []models.RateLimitRule{{
			ID:          "tight",
			Endpoint:    "/api/*",
			Window:      50 * time.Millisecond,
			MaxRequests: 2,
			Enabled:     true,
		}},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if decision := g.CheckRequest(ctx, request("1.2.3.4", "/api/orders")); !decision.Allowed {
			t.Fatalf("request %d denied: %s", i+1, decision.Reason)
		}
	}
	if decision := g.CheckRequest(ctx, request("1.2.3.4", "/api/orders")); decision.Allowed {
		t.Fatal("over-limit request was allowed")
	}

	time.Sleep(70 * time.Millisecond)

	if decision := g.CheckRequest(ctx, request("1.2.3.4", "/api/orders")); !decision.Allowed {
		t.Errorf("request after window reset denied: %s", decision.Reason)
	}
}

func TestWhitelistShortCircuits(t *testing.T) {
	g := newTestGuard(t, models.GuardConfig{
		BotDetection: true,
		Whitelist:    []string{"10.0.0.1"},
	})

	descriptor := request("10.0.0.1", "/anything")
	descriptor.UserAgent = "curl/8.0"

	if decision := g.CheckRequest(context.Background(), descriptor); !decision.Allowed {
		t.Errorf("whitelisted address denied: %s", decision.Reason)
	}
}

func TestBlacklistDenies(t *testing.T) {
	g := newTestGuard(t, models.GuardConfig{
		Blacklist: []string{"6.6.6.6"},
	})

	if decision := g.CheckRequest(context.Background(), request("6.6.6.6", "/anything")); decision.Allowed {
		t.Error("blacklisted address allowed")
	}
}

func TestBotDetection(t *testing.T) {
	g := newTestGuard(t, models.GuardConfig{BotDetection: true})
	ctx := context.Background()

	cases := []string{"", "short", "python-requests/2.31", "Googlebot/2.1"}
	for _, agent := range cases {
		descriptor := request("1.2.3.4", "/page")
		descriptor.UserAgent = agent
		if decision := g.CheckRequest(ctx, descriptor); decision.Allowed {
			t.Errorf("user-agent %q was not flagged", agent)
		}
	}

	if decision := g.CheckRequest(ctx, request("1.2.3.4", "/page")); !decision.Allowed {
		t.Errorf("browser user-agent denied: %s", decision.Reason)
	}
}

func TestSpamDetectionThreeKeywords(t *testing.T) {
	g := newTestGuard(t, models.GuardConfig{
		SpamDetection: true,
		SpamKeywords:  []string{"viagra", "casino", "lottery", "winner"},
	})

	descriptor := request("1.2.3.4", "/comments")
	descriptor.Body = "congratulations winner, claim your casino lottery prize now"

	decision := g.CheckRequest(context.Background(), descriptor)
	if decision.Allowed {
		t.Fatal("payload with 3 spam keywords was allowed")
	}
	if decision.Reason != "Spam content detected" {
		t.Errorf("reason = %q, want %q", decision.Reason, "Spam content detected")
	}

	// two keywords are under the threshold
	descriptor.Body = "the casino lottery is a scam"
	if decision := g.CheckRequest(context.Background(), descriptor); !decision.Allowed {
		t.Errorf("payload with 2 keywords denied: %s", decision.Reason)
	}
}

func TestInjectionDetectionAutoBlocks(t *testing.T) {
	g := newTestGuard(t, models.GuardConfig{
		InjectionDetection: true,
		AutoBlock:          true,
		AutoBlockDuration:  time.Hour,
	})
	ctx := context.Background()

	descriptor := request("66.66.66.66", "/search")
	descriptor.Body = "q=' OR '1'='1"

	decision := g.CheckRequest(ctx, descriptor)
	if decision.Allowed {
		t.Fatal("sql injection payload was allowed")
	}

	// the source is now blocked even with a clean request
	if decision := g.CheckRequest(ctx, request("66.66.66.66", "/home")); decision.Allowed {
		t.Error("auto-blocked source was allowed")
	}

	activities := g.RecentActivities(1)
	if len(activities) != 1 || activities[0].Type != models.ActivityInjectionAttempt {
		t.Errorf("activities = %+v, want one injection_attempt", activities)
	}
}

func TestInjectionInHeaders(t *testing.T) {
	g := newTestGuard(t, models.GuardConfig{InjectionDetection: true})

	descriptor := request("1.2.3.4", "/home")
	descriptor.Headers = map[string]string{"Referer": "<script>alert(1)</script>"}

	if decision := g.CheckRequest(context.Background(), descriptor); decision.Allowed {
		t.Error("xss header payload was allowed")
	}
}

func TestTemporaryBlockLazyExpiry(t *testing.T) {
	g := newTestGuard(t, models.GuardConfig{})
	ctx := context.Background()

	expiresAt := time.Now().UTC().Add(30 * time.Millisecond)
	g.BlockEntity(ctx, models.BlockedEntity{
		Type:      models.BlockAddress,
		Value:     "9.9.9.9",
		Severity:  models.BlockTemporary,
		ExpiresAt: &expiresAt,
	})

	if decision := g.CheckRequest(ctx, request("9.9.9.9", "/home")); decision.Allowed {
		t.Fatal("freshly blocked source allowed")
	}

	time.Sleep(50 * time.Millisecond)

	// no purge has run; expiry is honored on lookup
	if decision := g.CheckRequest(ctx, request("9.9.9.9", "/home")); !decision.Allowed {
		t.Errorf("expired block still denied: %s", decision.Reason)
	}
}

func TestRequestCeilingAutoBlocks(t *testing.T) {
	g := newTestGuard(t, models.GuardConfig{
		DDoSDetection:     true,
		AutoBlock:         true,
		AutoBlockDuration: time.Hour,
		RequestsPerMinute: 10,
	})
	ctx := context.Background()

	var denied bool
	for i := 0; i < 12; i++ {
		if decision := g.CheckRequest(ctx, request("8.8.4.4", "/home")); !decision.Allowed {
			denied = true
			break
		}
	}
	if !denied {
		t.Fatal("flood never hit the per-source ceiling")
	}

	activities := g.RecentActivities(1)
	if len(activities) != 1 || activities[0].Type != models.ActivityDDoSAttempt {
		t.Errorf("activities = %+v, want one ddos_attempt", activities)
	}
}

func TestEscalationBlocksRepeatOffender(t *testing.T) {
	g := newTestGuard(t, models.GuardConfig{
		SpamDetection:       true,
		SpamKeywords:        []string{"viagra", "casino", "lottery"},
		AutoBlock:           true,
		EscalationThreshold: 3,
	})
	ctx := context.Background()

	descriptor := request("3.3.3.3", "/comments")
	descriptor.Body = "viagra casino lottery"

	for i := 0; i < 3; i++ {
		g.CheckRequest(ctx, descriptor)
	}

	// the third unresolved detection crossed the threshold
	if decision := g.CheckRequest(ctx, request("3.3.3.3", "/home")); decision.Allowed {
		t.Error("repeat offender was not escalation-blocked")
	}
}

func TestDetectionIncrementsCounter(t *testing.T) {
	metrics.Init()

	g := newTestGuard(t, models.GuardConfig{
		SpamDetection: true,
		SpamKeywords:  []string{"viagra", "casino", "lottery"},
	})

	descriptor := request("3.3.3.3", "/comments")
	descriptor.Body = "viagra casino lottery"
	if decision := g.CheckRequest(context.Background(), descriptor); decision.Allowed {
		t.Fatal("spam payload was allowed")
	}

	recorder := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(recorder.Body.String(), `aegisgate_detections_total{type="spam_detected"}`) {
		t.Error("detection counter missing from scrape output")
	}
}

func TestBlocklistExportImport(t *testing.T) {
	g := newTestGuard(t, models.GuardConfig{})
	ctx := context.Background()

	g.BlockEntity(ctx, models.BlockedEntity{Type: models.BlockAddress, Value: "1.1.1.1", Severity: models.BlockPermanent})
	g.BlockEntity(ctx, models.BlockedEntity{Type: models.BlockUserAgent, Value: "badbot", Severity: models.BlockPermanent})

	snapshot, err := g.ExportBlocklist()
	if err != nil {
		t.Fatalf("ExportBlocklist: %v", err)
	}

	other := newTestGuard(t, models.GuardConfig{})
	imported, err := other.ImportBlocklist(snapshot)
	if err != nil {
		t.Fatalf("ImportBlocklist: %v", err)
	}
	if imported != 2 {
		t.Errorf("imported = %d, want 2", imported)
	}
	if decision := other.CheckRequest(ctx, request("1.1.1.1", "/home")); decision.Allowed {
		t.Error("imported block not enforced")
	}
}

func TestDetectorFailureFailsOpen(t *testing.T) {
	g := newTestGuard(t, models.GuardConfig{SpamDetection: true})

	denied := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("CheckRequest propagated a panic: %v", r)
			}
		}()
		detail, hit := g.runDetector("exploding", func() (string, bool) {
			panic("heuristic bug")
		})
		denied = hit
		_ = detail
	}()

	if denied {
		t.Error("panicking detector reported a hit")
	}
}

func TestResolveActivity(t *testing.T) {
	g := newTestGuard(t, models.GuardConfig{
		SpamDetection: true,
		SpamKeywords:  []string{"viagra", "casino", "lottery"},
	})

	descriptor := request("3.3.3.3", "/comments")
	descriptor.Body = "viagra casino lottery"
	g.CheckRequest(context.Background(), descriptor)

	activities := g.RecentActivities(1)
	if len(activities) != 1 {
		t.Fatalf("activities = %d, want 1", len(activities))
	}
	if err := g.ResolveActivity(activities[0].ID); err != nil {
		t.Fatalf("ResolveActivity: %v", err)
	}
	if err := g.ResolveActivity("no-such-id"); err == nil {
		t.Error("ResolveActivity accepted an unknown id")
	}

	resolved := g.RecentActivities(1)
	if !resolved[0].Resolved {
		t.Error("activity not marked resolved")
	}
}
