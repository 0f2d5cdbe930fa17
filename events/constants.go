package events

// Event types published on the gateway bus.
const (
	// Authentication
	EventPrincipalRegistered = "auth.principal.registered"
	EventLoginSucceeded      = "auth.login.succeeded"
	EventLoginFailed         = "auth.login.failed"
	EventAccountLocked       = "auth.account.locked"
	EventTokenRefreshed      = "auth.token.refreshed"
	EventSessionRevoked      = "auth.session.revoked"

	// Vault
	EventKeyRotated = "vault.key.rotated"

	// Guard
	EventEntityBlocked     = "guard.entity.blocked"
	EventEntityUnblocked   = "guard.entity.unblocked"
	EventActivityDetected  = "guard.activity.detected"
	EventRateLimitExceeded = "guard.ratelimit.exceeded"

	// DDoS
	EventAttackDetected = "ddos.attack.detected"
	EventAttackEnded    = "ddos.attack.ended"

	// Authorization
	EventAccessDenied = "authz.access.denied"
)

type EventBusProvider string

const (
	ProviderGoChannel EventBusProvider = "gochannel"
	ProviderRedis     EventBusProvider = "redis"
)

func (p EventBusProvider) String() string {
	return string(p)
}

func (p EventBusProvider) Valid() bool {
	switch p {
	case ProviderGoChannel, ProviderRedis:
		return true
	}
	return false
}
