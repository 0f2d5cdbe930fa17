package ddos

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AegisGate/aegis-gate/models"
)

type testLogger struct{}

func (l *testLogger) Debug(msg string, args ...any) {}
func (l *testLogger) Info(msg string, args ...any)  {}
func (l *testLogger) Warn(msg string, args ...any)  {}
func (l *testLogger) Error(msg string, args ...any) {}

type recordingObserver struct {
	mu      sync.Mutex
	attacks []models.DDoSAttack
}

func (o *recordingObserver) OnAttack(ctx context.Context, attack models.DDoSAttack) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attacks = append(o.attacks, attack)
	return []string{"blacklisted sources"}
}

func (o *recordingObserver) recorded() []models.DDoSAttack {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.DDoSAttack(nil), o.attacks...)
}

func feed(m *Monitor, sourceIP, endpoint, agent string, n int, start time.Time, spacing time.Duration) {
	ctx := context.Background()
	for i := 0; i < n; i++ {
		m.Analyze(ctx, models.RequestDescriptor{
			SourceIP:  sourceIP,
			Endpoint:  endpoint,
			UserAgent: agent,
			Method:    "GET",
			Timestamp: start.Add(time.Duration(i) * spacing),
		})
	}
}

func TestVolumetricAttackDetection(t *testing.T) {
	observer := &recordingObserver{}
	m := New(models.DDoSConfig{
		RequestsPerSecond: 100,
		MinSample:         20,
		BurstThreshold:    1000,
		BurstWindow:       time.Second,
	}, &testLogger{}, nil, observer)

	// 150 requests inside one second against a 100/s threshold
	start := time.Now().UTC()
	feed(m, "66.0.0.1", "/api/orders", "flood-agent-1.0", 150, start, time.Second/150)

	attacks := m.Attacks()
	if len(attacks) == 0 {
		t.Fatal("no attack was raised")
	}

	attack := attacks[0]
	if attack.Type != models.AttackVolumetric {
		t.Errorf("attack type = %q, want volumetric", attack.Type)
	}
	if !attack.Mitigated {
		t.Error("attack not marked mitigated")
	}
	found := false
	for _, source := range attack.Sources {
		if source == "66.0.0.1" {
			found = true
		}
	}
	if !found {
		t.Errorf("attack sources = %v, want to include 66.0.0.1", attack.Sources)
	}

	if recorded := observer.recorded(); len(recorded) == 0 {
		t.Error("mitigation observer was not notified")
	}

	// subsequent requests from the attributed source are denied
	decision := m.Analyze(context.Background(), models.RequestDescriptor{
		SourceIP: "66.0.0.1", Endpoint: "/api/orders", Timestamp: start.Add(2 * time.Second),
	})
	if decision.Allowed {
		t.Error("request from attack source was allowed")
	}
}

func TestQuietSourceStaysClean(t *testing.T) {
	m := New(models.DDoSConfig{
		RequestsPerSecond: 100,
		MinSample:         20,
	}, &testLogger{}, nil, nil)

	start := time.Now().UTC()
	// 30 requests spread over a minute across several endpoints
	endpoints := []string{"/a", "/b", "/c"}
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		m.Analyze(ctx, models.RequestDescriptor{
			SourceIP:  "10.0.0.5",
			Endpoint:  endpoints[i%len(endpoints)],
			UserAgent: "browser-agent/1.0",
			Timestamp: start.Add(time.Duration(i) * 2 * time.Second),
		})
	}

	pattern, ok := m.Pattern("10.0.0.5")
	if !ok {
		t.Fatal("pattern not tracked")
	}
	if pattern.Suspicious {
		t.Errorf("quiet source marked suspicious: %v", pattern.Reasons)
	}
	if len(m.Attacks()) != 0 {
		t.Error("attack raised for quiet traffic")
	}
}

func TestEndpointConcentrationSuspicion(t *testing.T) {
	m := New(models.DDoSConfig{
		RequestsPerSecond: 1000,
		MinSample:         20,
		BurstThreshold:    1000,
	}, &testLogger{}, nil, nil)

	start := time.Now().UTC()
	// all traffic on one endpoint, above the minimum sample
	feed(m, "20.0.0.1", "/login", "concentrated-agent/1.0", 30, start, time.Second)

	pattern, ok := m.Pattern("20.0.0.1")
	if !ok {
		t.Fatal("pattern not tracked")
	}
	if !pattern.Suspicious {
		t.Fatal("concentrated source not marked suspicious")
	}
	found := false
	for _, reason := range pattern.Reasons {
		if reason == "traffic concentrated on one endpoint" {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons = %v, want endpoint concentration", pattern.Reasons)
	}
}

func TestRateThresholdFollowsRequestTime(t *testing.T) {
	m := New(models.DDoSConfig{
		RequestsPerSecond: 50,
		MinSample:         100,
		BurstThreshold:    5,
	}, &testLogger{}, nil, nil)

	// identical timestamps leave the token bucket no time to refill, so the
	// sixth request exhausts the burst allowance regardless of wall time
	at := time.Now().UTC().Add(-time.Hour)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		m.Analyze(ctx, models.RequestDescriptor{
			SourceIP:  "70.0.0.1",
			Endpoint:  "/api/orders",
			UserAgent: "replayed-agent/1.0",
			Timestamp: at,
		})
	}

	pattern, ok := m.Pattern("70.0.0.1")
	if !ok {
		t.Fatal("pattern not tracked")
	}
	found := false
	for _, reason := range pattern.Reasons {
		if reason == "request rate above threshold" {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons = %v, want the rate threshold reason", pattern.Reasons)
	}
}

func TestCoordinatedSweepMergesCluster(t *testing.T) {
	observer := &recordingObserver{}
	m := New(models.DDoSConfig{
		RequestsPerSecond: 1000,
		MinSample:         10,
		BurstThreshold:    1000,
	}, &testLogger{}, nil, observer)

	// three sources appearing together, all hammering the same endpoint
	start := time.Now().UTC()
	for _, source := range []string{"30.0.0.1", "30.0.0.2", "30.0.0.3"} {
		feed(m, source, "/checkout", "coordinated-agent/1.0", 15, start, 100*time.Millisecond)
	}

	if err := m.SweepCoordinated(context.Background()); err != nil {
		t.Fatalf("SweepCoordinated: %v", err)
	}

	attacks := m.Attacks()
	if len(attacks) != 1 {
		t.Fatalf("attacks = %d, want 1 composite record", len(attacks))
	}
	attack := attacks[0]
	if attack.Type != models.AttackMixed {
		t.Errorf("attack type = %q, want mixed", attack.Type)
	}
	if len(attack.Sources) != 3 {
		t.Errorf("attack sources = %v, want all three", attack.Sources)
	}
	if !attack.Mitigated {
		t.Error("composite attack not mitigated")
	}
}

func TestPrunePatternsDropsIdleSources(t *testing.T) {
	m := New(models.DDoSConfig{
		RequestsPerSecond: 1000,
		PatternRetention:  10 * time.Millisecond,
	}, &testLogger{}, nil, nil)

	m.Analyze(context.Background(), models.RequestDescriptor{
		SourceIP:  "40.0.0.1",
		Endpoint:  "/home",
		Timestamp: time.Now().UTC().Add(-time.Minute),
	})

	if err := m.PrunePatterns(context.Background()); err != nil {
		t.Fatalf("PrunePatterns: %v", err)
	}
	if _, ok := m.Pattern("40.0.0.1"); ok {
		t.Error("idle pattern survived pruning")
	}
}

func TestSweepAttacksEndsQuietAttack(t *testing.T) {
	observer := &recordingObserver{}
	m := New(models.DDoSConfig{
		RequestsPerSecond: 100,
		MinSample:         20,
		BurstThreshold:    1000,
		BurstWindow:       time.Second,
	}, &testLogger{}, nil, observer)

	// raise an attack with old timestamps so the recent horizon is empty
	start := time.Now().UTC().Add(-30 * time.Minute)
	feed(m, "50.0.0.1", "/api", "flood-agent/1.0", 150, start, time.Second/150)

	active := m.ActiveAttacks()
	if len(active) == 0 {
		t.Fatal("no active attack to end")
	}

	// first sweep observes the quiet period starting
	if err := m.SweepAttacks(context.Background()); err != nil {
		t.Fatalf("SweepAttacks: %v", err)
	}
	if len(m.ActiveAttacks()) == 0 {
		t.Fatal("attack ended before the quiet period elapsed")
	}

	// simulate the sustained quiet period
	m.mu.Lock()
	for _, state := range m.attacks {
		if state.belowSince != nil {
			below := state.belowSince.Add(-attackEndQuiet)
			state.belowSince = &below
		}
	}
	m.mu.Unlock()

	if err := m.SweepAttacks(context.Background()); err != nil {
		t.Fatalf("SweepAttacks: %v", err)
	}
	if len(m.ActiveAttacks()) != 0 {
		t.Error("attack still active after sustained quiet period")
	}

	// the source is no longer attributed to an attack
	decision := m.Analyze(context.Background(), models.RequestDescriptor{
		SourceIP: "50.0.0.1", Endpoint: "/api", Timestamp: time.Now().UTC(),
	})
	if !decision.Allowed {
		t.Error("source still denied after attack ended")
	}
}
