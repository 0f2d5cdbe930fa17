// Package aegisgate is a request-defense and access-control gateway: abuse
// and rate-limit screening, DDoS traffic monitoring, authentication with
// lockout and second factor, role and policy authorization, and a crypto
// vault with key rotation. All decisions are computed from in-memory state;
// persistence, where configured, is write-behind and never gates a decision.
package aegisgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/AegisGate/aegis-gate/internal/authn"
	"github.com/AegisGate/aegis-gate/internal/authz"
	"github.com/AegisGate/aegis-gate/internal/bootstrap"
	"github.com/AegisGate/aegis-gate/internal/ddos"
	"github.com/AegisGate/aegis-gate/internal/guard"
	"github.com/AegisGate/aegis-gate/internal/metrics"
	"github.com/AegisGate/aegis-gate/internal/repositories"
	"github.com/AegisGate/aegis-gate/internal/schedule"
	"github.com/AegisGate/aegis-gate/internal/store"
	"github.com/AegisGate/aegis-gate/internal/vault"
	"github.com/AegisGate/aegis-gate/models"
)

// Gateway is the composition root. Construct one per process with New and
// pass it by reference; all components hang off it and share no global
// state.
type Gateway struct {
	config *models.Config
	logger models.Logger

	bus      models.EventBus
	counters store.CounterStore
	db       bun.IDB
	trail    *repositories.TrailWriter

	vault     *vault.Vault
	authn     *authn.Service
	authz     *authz.Engine
	audit     *authz.AuditLog
	guard     *guard.Guard
	monitor   *ddos.Monitor
	scheduler *schedule.Scheduler
}

// New builds a gateway from the configuration. Components are wired
// bottom-up: vault, counter store and event bus first, then the services
// that depend on them, then the maintenance schedule.
func New(config *models.Config) (*Gateway, error) {
	if config == nil {
		return nil, errors.New("aegisgate: config must not be nil")
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	logger := initLogger(config)

	bus, err := initEventBus(config)
	if err != nil {
		return nil, err
	}

	counters, err := store.InitCounterStore(config.Store)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		config:   config,
		logger:   logger,
		bus:      bus,
		counters: counters,
	}

	if config.Database.Provider != "" {
		db, err := bootstrap.InitDatabase(bootstrap.DatabaseOptions{
			Provider:        config.Database.Provider,
			URL:             config.Database.URL,
			MaxOpenConns:    config.Database.MaxOpenConns,
			MaxIdleConns:    config.Database.MaxIdleConns,
			ConnMaxLifetime: config.Database.ConnMaxLifetime,
		}, config.Logger.Level)
		if err != nil {
			return nil, err
		}
		g.db = db
		g.trail = repositories.NewTrailWriter(db, logger, 0)
		if err := g.trail.EnsureSchema(context.Background()); err != nil {
			return nil, fmt.Errorf("aegisgate: creating trail tables: %w", err)
		}
	}

	g.vault, err = vault.New(config.Vault, config.Secret, logger, bus)
	if err != nil {
		return nil, err
	}

	var attemptWriter authn.AttemptWriter
	var auditWriter authz.AuditWriter
	if g.trail != nil {
		attemptWriter = g.trail
		auditWriter = g.trail
	}

	g.authn, err = authn.NewService(config.Auth, config.Secret, logger, bus, g.vault, authn.NewAttemptLog(0, attemptWriter))
	if err != nil {
		return nil, err
	}

	g.audit = authz.NewAuditLog(0, auditWriter)
	g.authz = authz.NewEngine(logger, bus, g.audit)
	g.guard = guard.New(config.Guard, logger, bus, counters)
	g.monitor = ddos.New(config.DDoS, logger, bus, &guardMitigator{guard: g.guard})

	g.scheduler = schedule.NewScheduler(schedule.NewRealClock(), logger)
	g.registerMaintenance()
	g.scheduler.Start()

	logger.Info("gateway initialized", "app", config.AppName)
	return g, nil
}

// CheckRequest runs the full inbound pipeline: abuse guard first, then the
// traffic monitor. The monitor sees every request, denied ones included, so
// a flood that is already being blocked still shapes its pattern.
func (g *Gateway) CheckRequest(ctx context.Context, descriptor models.RequestDescriptor) models.Decision {
	guardDecision := g.guard.CheckRequest(ctx, descriptor)

	monitorDecision := models.Allow("ddos_monitor")
	if g.config.Guard.DDoSDetection {
		monitorDecision = g.monitor.Analyze(ctx, descriptor)
	}

	decision := guardDecision
	if guardDecision.Allowed && !monitorDecision.Allowed {
		decision = monitorDecision
	}
	metrics.ObserveDecision(decision)
	return decision
}

// CheckAccess runs the authorization decision path for an authenticated
// principal.
func (g *Gateway) CheckAccess(ctx context.Context, req models.AccessRequest) models.Decision {
	decision := g.authz.CheckAccess(ctx, req)
	metrics.ObserveDecision(decision)
	return decision
}

// Auth exposes the authentication manager.
func (g *Gateway) Auth() *authn.Service { return g.authn }

// Authz exposes the authorization engine.
func (g *Gateway) Authz() *authz.Engine { return g.authz }

// Guard exposes the abuse guard.
func (g *Gateway) Guard() *guard.Guard { return g.guard }

// Monitor exposes the DDoS traffic monitor.
func (g *Gateway) Monitor() *ddos.Monitor { return g.monitor }

// Vault exposes the crypto vault.
func (g *Gateway) Vault() *vault.Vault { return g.vault }

// Events exposes the event bus for subscribing to gateway events.
func (g *Gateway) Events() models.EventBus { return g.bus }

// AuditTrail exposes the authorization audit log.
func (g *Gateway) AuditTrail() *authz.AuditLog { return g.audit }

// Close stops maintenance, flushes the persistence trail and releases all
// resources.
func (g *Gateway) Close() error {
	g.scheduler.Stop()

	var errs []error
	if g.trail != nil {
		errs = append(errs, g.trail.Close())
	}
	errs = append(errs, g.counters.Close())
	errs = append(errs, g.bus.Close())
	return errors.Join(errs...)
}

// guardMitigator blacklists attack sources through the abuse guard.
// Whitelisted addresses are never blocked.
type guardMitigator struct {
	guard *guard.Guard
}

func (m *guardMitigator) OnAttack(ctx context.Context, attack models.DDoSAttack) []string {
	blocked := 0
	expiresAt := time.Now().UTC().Add(time.Hour)
	for _, source := range attack.Sources {
		if m.guard.Whitelisted(source) {
			continue
		}
		m.guard.BlockEntity(ctx, models.BlockedEntity{
			Type:      models.BlockAddress,
			Value:     source,
			Reason:    "ddos mitigation: " + string(attack.Type),
			Severity:  models.BlockTemporary,
			ExpiresAt: &expiresAt,
		})
		blocked++
	}
	return []string{fmt.Sprintf("blacklisted %d source addresses", blocked)}
}

func (g *Gateway) registerMaintenance() {
	m := g.config.Maintenance

	if interval := g.config.Vault.RotationInterval; interval > 0 {
		g.scheduler.Register("key_rotation", interval, func(ctx context.Context) error {
			_, err := g.vault.RotateKeys(ctx)
			return err
		})
		g.scheduler.Register("key_purge", interval, g.vault.PurgeExpiredKeys)
	}

	if m.BlocklistPurgeInterval > 0 {
		g.scheduler.Register("blocklist_purge", m.BlocklistPurgeInterval, g.guard.PurgeBlocklist)
		g.scheduler.Register("metrics_gauges", m.BlocklistPurgeInterval, func(ctx context.Context) error {
			metrics.SetActiveBlocks(len(g.guard.BlockedEntities()))
			metrics.SetActiveAttacks(len(g.monitor.ActiveAttacks()))
			return nil
		})
	}
	if m.PatternPruneInterval > 0 {
		g.scheduler.Register("pattern_prune", m.PatternPruneInterval, g.monitor.PrunePatterns)
	}
	if m.AttackSweepInterval > 0 {
		g.scheduler.Register("coordinated_sweep", m.AttackSweepInterval, g.monitor.SweepCoordinated)
		g.scheduler.Register("attack_sweep", m.AttackSweepInterval, g.monitor.SweepAttacks)
	}
	if m.LogTruncateInterval > 0 {
		g.scheduler.Register("session_prune", m.LogTruncateInterval, g.authn.PruneSessions)
		g.scheduler.Register("attempt_truncate", m.LogTruncateInterval, g.authn.TruncateAttempts)
		g.scheduler.Register("activity_prune", m.LogTruncateInterval, g.guard.PruneActivities)
		if retention := g.config.Auth.AttemptRetention; retention > 0 {
			g.scheduler.Register("audit_truncate", m.LogTruncateInterval, func(ctx context.Context) error {
				g.audit.TruncateBefore(time.Now().UTC().Add(-retention))
				return nil
			})
		}
	}
}
