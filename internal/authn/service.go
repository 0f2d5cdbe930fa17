package authn

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/AegisGate/aegis-gate/events"
	"github.com/AegisGate/aegis-gate/internal/vault"
	"github.com/AegisGate/aegis-gate/models"
)

var (
	ErrInvalidCredentials   = errors.New("authn: invalid credentials")
	ErrAccountLocked        = errors.New("authn: account locked")
	ErrAccountDisabled      = errors.New("authn: account disabled")
	ErrSecondFactorRequired = errors.New("authn: second factor required")
	ErrDuplicateIdentity    = errors.New("authn: identity already registered")
	ErrWeakCredential       = errors.New("authn: credential does not meet policy")
	ErrUnknownPrincipal     = errors.New("authn: unknown principal")
	ErrTokenInvalid         = errors.New("authn: token invalid")
	ErrTokenExpired         = errors.New("authn: token expired")
)

// Service is the authentication manager: principal registry, credential
// verification with lockout, token issuance and second factor handling.
type Service struct {
	config   models.AuthConfig
	logger   models.Logger
	bus      models.EventPublisher
	vault    *vault.Vault
	tokens   *TokenIssuer
	attempts *AttemptLog

	mu         sync.RWMutex
	principals map[string]*models.Principal
	byIdentity map[string]string
	// sessions is keyed by the SHA-256 hash of the refresh token
	sessions map[string]*models.RefreshSession
}

// NewService wires the authentication manager. The secret signs access
// tokens; the vault hashes credentials.
func NewService(config models.AuthConfig, secret string, logger models.Logger, bus models.EventPublisher, v *vault.Vault, attempts *AttemptLog) (*Service, error) {
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = 15 * time.Minute
	}
	if config.RefreshTokenTTL <= 0 {
		config.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if config.SessionIdleTimeout <= 0 {
		config.SessionIdleTimeout = 30 * time.Minute
	}
	if config.LockoutThreshold <= 0 {
		config.LockoutThreshold = 5
	}
	if config.LockoutDuration <= 0 {
		config.LockoutDuration = 15 * time.Minute
	}
	if config.PasswordMinLength <= 0 {
		config.PasswordMinLength = 8
	}
	if config.Issuer == "" {
		config.Issuer = "aegis-gate"
	}

	tokens, err := NewTokenIssuer(secret, config.Issuer, config.AccessTokenTTL)
	if err != nil {
		return nil, err
	}

	if attempts == nil {
		attempts = NewAttemptLog(0, nil)
	}

	return &Service{
		config:     config,
		logger:     logger,
		bus:        bus,
		vault:      v,
		tokens:     tokens,
		attempts:   attempts,
		principals: make(map[string]*models.Principal),
		byIdentity: make(map[string]string),
		sessions:   make(map[string]*models.RefreshSession),
	}, nil
}

// Register creates a new principal after checking the credential policy.
func (s *Service) Register(ctx context.Context, identity, credential string) (*models.Principal, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, fmt.Errorf("%w: empty identity", ErrInvalidCredentials)
	}
	if err := s.checkCredentialPolicy(credential); err != nil {
		return nil, err
	}

	result, err := s.vault.Hash(credential, vault.HashOptions{})
	if err != nil {
		return nil, fmt.Errorf("authn: hashing credential: %w", err)
	}

	now := time.Now().UTC()
	principal := &models.Principal{
		ID:             uuid.NewString(),
		Identity:       identity,
		CredentialHash: encodeHashResult(result),
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.mu.Lock()
	if _, exists := s.byIdentity[identity]; exists {
		s.mu.Unlock()
		return nil, ErrDuplicateIdentity
	}
	s.principals[principal.ID] = principal
	s.byIdentity[identity] = principal.ID
	s.mu.Unlock()

	s.publish(ctx, events.EventPrincipalRegistered, map[string]any{
		"principal_id": principal.ID,
		"identity":     identity,
	})

	return clonePrincipal(principal), nil
}

// LoginInput carries one authentication attempt.
type LoginInput struct {
	Identity         string
	Credential       string
	SecondFactorCode string
	SourceIP         string
	UserAgent        string
}

// Login verifies credentials and, where enabled, the second factor, and
// issues a token pair. Every path leaves exactly one attempt record.
// Unknown identities and bad credentials return the same error so callers
// cannot probe which identities exist.
func (s *Service) Login(ctx context.Context, input LoginInput) (*models.TokenPair, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	id, known := s.byIdentity[input.Identity]
	var principal *models.Principal
	if known {
		principal = s.principals[id]
	}

	if principal == nil {
		s.mu.Unlock()
		s.recordAttempt(ctx, input, "", false, ReasonUnknownIdentity)
		return nil, ErrInvalidCredentials
	}

	if !principal.Active {
		s.mu.Unlock()
		s.recordAttempt(ctx, input, principal.ID, false, ReasonAccountDisabled)
		return nil, ErrAccountDisabled
	}

	// lazy lockout expiry
	if principal.LockedUntil != nil && !now.Before(*principal.LockedUntil) {
		principal.LockedUntil = nil
		principal.FailedAttempts = 0
	}
	if principal.Locked(now) {
		s.mu.Unlock()
		s.recordAttempt(ctx, input, principal.ID, false, ReasonAccountLocked)
		return nil, ErrAccountLocked
	}

	stored, err := decodeHashResult(principal.CredentialHash)
	if err != nil || !s.vault.VerifyHash(input.Credential, stored) {
		locked := s.registerFailureLocked(principal, now)
		s.mu.Unlock()
		s.recordAttempt(ctx, input, principal.ID, false, ReasonBadCredential)
		if locked {
			s.publishLockout(ctx, principal.ID)
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	if principal.SecondFactor {
		if input.SecondFactorCode == "" {
			s.mu.Unlock()
			s.recordAttempt(ctx, input, principal.ID, false, ReasonSecondFactorNeeded)
			return nil, ErrSecondFactorRequired
		}
		if !validateTOTPCode(input.SecondFactorCode, principal.SecondFactorSecret) {
			locked := s.registerFailureLocked(principal, now)
			s.mu.Unlock()
			s.recordAttempt(ctx, input, principal.ID, false, ReasonSecondFactorFailed)
			if locked {
				s.publishLockout(ctx, principal.ID)
				return nil, ErrAccountLocked
			}
			return nil, ErrInvalidCredentials
		}
	}

	principal.FailedAttempts = 0
	principal.LockedUntil = nil
	principal.LastLoginAt = &now
	principal.UpdatedAt = now
	principalID := principal.ID
	s.mu.Unlock()

	pair, err := s.issueTokens(principalID, uuid.NewString(), now)
	if err != nil {
		return nil, err
	}

	s.recordAttempt(ctx, input, principalID, true, ReasonSuccess)
	s.publish(ctx, events.EventLoginSucceeded, map[string]any{
		"principal_id": principalID,
		"source_ip":    input.SourceIP,
	})

	return pair, nil
}

// Refresh exchanges a live refresh token for a fresh pair. Refresh tokens
// are single use: the presented token is consumed whether or not the
// exchange succeeds.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	now := time.Now().UTC()
	hash := hashToken(refreshToken)

	s.mu.Lock()
	session, ok := s.sessions[hash]
	if ok {
		delete(s.sessions, hash)
	}
	var principal *models.Principal
	if ok {
		principal = s.principals[session.PrincipalID]
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrTokenInvalid
	}
	if now.After(session.ExpiresAt) || now.Sub(session.LastUsedAt) > s.config.SessionIdleTimeout {
		return nil, ErrTokenExpired
	}
	if principal == nil || !principal.Active {
		return nil, ErrAccountDisabled
	}
	if principal.Locked(now) {
		return nil, ErrAccountLocked
	}

	pair, err := s.issueTokens(session.PrincipalID, session.SessionID, now)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventTokenRefreshed, map[string]any{
		"principal_id": session.PrincipalID,
		"session_id":   session.SessionID,
	})

	return pair, nil
}

// Logout revokes the session behind a refresh token. Revoking an unknown or
// already-revoked token is not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	hash := hashToken(refreshToken)

	s.mu.Lock()
	session, ok := s.sessions[hash]
	if ok {
		delete(s.sessions, hash)
	}
	s.mu.Unlock()

	if ok {
		s.publish(ctx, events.EventSessionRevoked, map[string]any{
			"principal_id": session.PrincipalID,
			"session_id":   session.SessionID,
		})
	}
	return nil
}

// RevokePrincipalSessions drops every live session of a principal and
// returns how many were revoked.
func (s *Service) RevokePrincipalSessions(ctx context.Context, principalID string) int {
	s.mu.Lock()
	revoked := 0
	for hash, session := range s.sessions {
		if session.PrincipalID == principalID {
			delete(s.sessions, hash)
			revoked++
		}
	}
	s.mu.Unlock()

	if revoked > 0 {
		s.publish(ctx, events.EventSessionRevoked, map[string]any{
			"principal_id": principalID,
			"sessions":     revoked,
		})
	}
	return revoked
}

// Verify checks an access token and returns the principal it was issued to.
func (s *Service) Verify(ctx context.Context, accessToken string) (*models.Principal, error) {
	principalID, _, err := s.tokens.Parse(accessToken)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	principal := s.principals[principalID]
	s.mu.RUnlock()

	if principal == nil {
		return nil, ErrTokenInvalid
	}
	if !principal.Active {
		return nil, ErrAccountDisabled
	}
	return clonePrincipal(principal), nil
}

// EnableSecondFactor provisions a TOTP secret for the principal and returns
// the secret plus the otpauth provisioning URL.
func (s *Service) EnableSecondFactor(ctx context.Context, principalID string) (secret, url string, err error) {
	s.mu.Lock()
	principal := s.principals[principalID]
	if principal == nil {
		s.mu.Unlock()
		return "", "", ErrUnknownPrincipal
	}
	identity := principal.Identity
	s.mu.Unlock()

	secret, url, err = generateTOTPSecret(s.config.Issuer, identity)
	if err != nil {
		return "", "", fmt.Errorf("authn: generating second factor secret: %w", err)
	}

	s.mu.Lock()
	principal.SecondFactor = true
	principal.SecondFactorSecret = secret
	principal.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	return secret, url, nil
}

// DisableSecondFactor removes the second factor requirement.
func (s *Service) DisableSecondFactor(ctx context.Context, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	principal := s.principals[principalID]
	if principal == nil {
		return ErrUnknownPrincipal
	}
	principal.SecondFactor = false
	principal.SecondFactorSecret = ""
	principal.UpdatedAt = time.Now().UTC()
	return nil
}

// SetActive enables or disables a principal. Disabling revokes every live
// session.
func (s *Service) SetActive(ctx context.Context, principalID string, active bool) error {
	s.mu.Lock()
	principal := s.principals[principalID]
	if principal == nil {
		s.mu.Unlock()
		return ErrUnknownPrincipal
	}
	principal.Active = active
	principal.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	if !active {
		s.RevokePrincipalSessions(ctx, principalID)
	}
	return nil
}

// Principal returns a copy of the principal by id.
func (s *Service) Principal(principalID string) (*models.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	principal := s.principals[principalID]
	if principal == nil {
		return nil, ErrUnknownPrincipal
	}
	return clonePrincipal(principal), nil
}

// PrincipalByIdentity returns a copy of the principal by identity.
func (s *Service) PrincipalByIdentity(identity string) (*models.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byIdentity[identity]
	if !ok {
		return nil, ErrUnknownPrincipal
	}
	return clonePrincipal(s.principals[id]), nil
}

// RecentAttempts returns up to n most recent login attempts.
func (s *Service) RecentAttempts(n int) []models.LoginAttempt {
	return s.attempts.Recent(n)
}

// PruneSessions drops expired and idle refresh sessions. Registered as a
// maintenance task.
func (s *Service) PruneSessions(ctx context.Context) error {
	now := time.Now().UTC()

	s.mu.Lock()
	pruned := 0
	for hash, session := range s.sessions {
		if now.After(session.ExpiresAt) || now.Sub(session.LastUsedAt) > s.config.SessionIdleTimeout {
			delete(s.sessions, hash)
			pruned++
		}
	}
	s.mu.Unlock()

	if pruned > 0 {
		s.logger.Debug("pruned refresh sessions", "count", pruned)
	}
	return nil
}

// TruncateAttempts drops attempt records past the retention horizon.
// Registered as a maintenance task.
func (s *Service) TruncateAttempts(ctx context.Context) error {
	retention := s.config.AttemptRetention
	if retention <= 0 {
		return nil
	}
	dropped := s.attempts.TruncateBefore(time.Now().UTC().Add(-retention))
	if dropped > 0 {
		s.logger.Debug("truncated login attempts", "count", dropped)
	}
	return nil
}

// registerFailureLocked bumps the failure counter and applies the lockout
// once the threshold is hit. Caller holds s.mu.
func (s *Service) registerFailureLocked(principal *models.Principal, now time.Time) bool {
	principal.FailedAttempts++
	principal.UpdatedAt = now
	if principal.FailedAttempts < s.config.LockoutThreshold {
		return false
	}
	until := now.Add(s.config.LockoutDuration)
	principal.LockedUntil = &until
	return true
}

func (s *Service) issueTokens(principalID, sessionID string, now time.Time) (*models.TokenPair, error) {
	access, err := s.tokens.Issue(principalID, sessionID)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("authn: generating refresh token: %w", err)
	}
	refresh := base64.RawURLEncoding.EncodeToString(raw)

	s.mu.Lock()
	s.sessions[hashToken(refresh)] = &models.RefreshSession{
		TokenHash:   hashToken(refresh),
		SessionID:   sessionID,
		PrincipalID: principalID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.config.RefreshTokenTTL),
		LastUsedAt:  now,
	}
	s.mu.Unlock()

	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    s.config.AccessTokenTTL,
	}, nil
}

func (s *Service) recordAttempt(ctx context.Context, input LoginInput, principalID string, success bool, reason string) {
	s.attempts.Append(models.LoginAttempt{
		PrincipalID: principalID,
		Identity:    input.Identity,
		SourceIP:    input.SourceIP,
		UserAgent:   input.UserAgent,
		Success:     success,
		Reason:      reason,
	})

	if !success {
		s.publish(ctx, events.EventLoginFailed, map[string]any{
			"identity":  input.Identity,
			"source_ip": input.SourceIP,
			"reason":    reason,
		})
	}
}

func (s *Service) publishLockout(ctx context.Context, principalID string) {
	s.publish(ctx, events.EventAccountLocked, map[string]any{
		"principal_id": principalID,
		"duration":     s.config.LockoutDuration.String(),
	})
}

func (s *Service) publish(ctx context.Context, eventType string, fields map[string]any) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(fields)
	if err := s.bus.Publish(ctx, models.Event{
		Type:    eventType,
		Payload: payload,
	}); err != nil {
		s.logger.Warn("failed to publish event", "type", eventType, "error", err)
	}
}

func (s *Service) checkCredentialPolicy(credential string) error {
	if len(credential) < s.config.PasswordMinLength {
		return fmt.Errorf("%w: minimum length %d", ErrWeakCredential, s.config.PasswordMinLength)
	}
	if !s.config.PasswordRequireMixed {
		return nil
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range credential {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return fmt.Errorf("%w: upper, lower and digit characters required", ErrWeakCredential)
	}
	return nil
}

func clonePrincipal(p *models.Principal) *models.Principal {
	out := *p
	if p.LockedUntil != nil {
		locked := *p.LockedUntil
		out.LockedUntil = &locked
	}
	if p.LastLoginAt != nil {
		last := *p.LastLoginAt
		out.LastLoginAt = &last
	}
	return &out
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// encodeHashResult packs a hash result into the stored credential form
// "algorithm$iterations$salt$hash".
func encodeHashResult(r *models.HashResult) string {
	return strings.Join([]string{r.Algorithm, strconv.Itoa(r.Iterations), r.Salt, r.Hash}, "$")
}

func decodeHashResult(encoded string) (*models.HashResult, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 {
		return nil, errors.New("authn: malformed credential hash")
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, errors.New("authn: malformed credential hash")
	}
	return &models.HashResult{
		Algorithm:  parts[0],
		Iterations: iterations,
		Salt:       parts[2],
		Hash:       parts[3],
	}, nil
}
