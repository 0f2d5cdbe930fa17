package authn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/AegisGate/aegis-gate/internal/vault"
	"github.com/AegisGate/aegis-gate/models"
)

type testLogger struct{}

func (l *testLogger) Debug(msg string, args ...any) {}
func (l *testLogger) Info(msg string, args ...any)  {}
func (l *testLogger) Warn(msg string, args ...any)  {}
func (l *testLogger) Error(msg string, args ...any) {}

const testSecret = "authn-test-secret-0123456789abcd"

func newTestService(t *testing.T, config models.AuthConfig) *Service {
	t.Helper()

	v, err := vault.New(models.VaultConfig{
		// pbkdf2 with few iterations keeps the tests fast
		HashAlgorithm:  models.HashPBKDF2,
		HashIterations: 16,
	}, testSecret, &testLogger{}, nil)
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}

	s, err := NewService(config, testSecret, &testLogger{}, nil, v, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

func mustRegister(t *testing.T, s *Service, identity, credential string) *models.Principal {
	t.Helper()
	principal, err := s.Register(context.Background(), identity, credential)
	if err != nil {
		t.Fatalf("Register(%q): %v", identity, err)
	}
	return principal
}

func TestRegisterCredentialPolicy(t *testing.T) {
	s := newTestService(t, models.AuthConfig{PasswordMinLength: 8, PasswordRequireMixed: true})

	cases := []struct {
		name       string
		credential string
	}{
		{"too short", "Ab1"},
		{"no upper", "abcdefg1"},
		{"no digit", "Abcdefgh"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Register(context.Background(), "user@example.com", tc.credential); !errors.Is(err, ErrWeakCredential) {
				t.Errorf("Register = %v, want ErrWeakCredential", err)
			}
		})
	}

	if _, err := s.Register(context.Background(), "user@example.com", "Abcdefg1"); err != nil {
		t.Errorf("Register valid credential: %v", err)
	}
}

func TestRegisterDuplicateIdentity(t *testing.T) {
	s := newTestService(t, models.AuthConfig{})
	mustRegister(t, s, "user@example.com", "Str0ngPassword")

	if _, err := s.Register(context.Background(), "user@example.com", "An0therPassword"); !errors.Is(err, ErrDuplicateIdentity) {
		t.Errorf("Register duplicate = %v, want ErrDuplicateIdentity", err)
	}
}

func TestLoginSuccess(t *testing.T) {
	s := newTestService(t, models.AuthConfig{})
	principal := mustRegister(t, s, "user@example.com", "Str0ngPassword")

	pair, err := s.Login(context.Background(), LoginInput{
		Identity:   "user@example.com",
		Credential: "Str0ngPassword",
		SourceIP:   "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("token pair incomplete")
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("token type = %q", pair.TokenType)
	}

	verified, err := s.Verify(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.ID != principal.ID {
		t.Errorf("verified principal = %q, want %q", verified.ID, principal.ID)
	}

	stored, err := s.Principal(principal.ID)
	if err != nil {
		t.Fatalf("Principal: %v", err)
	}
	if stored.LastLoginAt == nil {
		t.Error("last login not recorded")
	}
}

func TestLoginUniformErrors(t *testing.T) {
	s := newTestService(t, models.AuthConfig{})
	mustRegister(t, s, "known@example.com", "Str0ngPassword")

	_, unknownErr := s.Login(context.Background(), LoginInput{Identity: "nobody@example.com", Credential: "whatever"})
	_, badErr := s.Login(context.Background(), LoginInput{Identity: "known@example.com", Credential: "wrong"})

	// unknown identity and wrong credential must be indistinguishable
	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(badErr, ErrInvalidCredentials) {
		t.Errorf("unknown = %v, bad credential = %v, want ErrInvalidCredentials for both", unknownErr, badErr)
	}

	attempts := s.RecentAttempts(2)
	if len(attempts) != 2 {
		t.Fatalf("attempts recorded = %d, want 2", len(attempts))
	}
	if attempts[0].Reason != ReasonUnknownIdentity || attempts[1].Reason != ReasonBadCredential {
		t.Errorf("attempt reasons = %q, %q", attempts[0].Reason, attempts[1].Reason)
	}
}

func TestLoginLockoutThreshold(t *testing.T) {
	s := newTestService(t, models.AuthConfig{
		LockoutThreshold: 3,
		LockoutDuration:  time.Hour,
	})
	mustRegister(t, s, "user@example.com", "Str0ngPassword")

	input := LoginInput{Identity: "user@example.com", Credential: "wrong"}

	// failures below the threshold leave the account unlocked
	for i := 0; i < 2; i++ {
		if _, err := s.Login(context.Background(), input); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("failure %d = %v, want ErrInvalidCredentials", i+1, err)
		}
	}

	// the threshold-th failure locks
	if _, err := s.Login(context.Background(), input); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("threshold failure = %v, want ErrAccountLocked", err)
	}

	// even the correct credential is rejected while locked
	input.Credential = "Str0ngPassword"
	if _, err := s.Login(context.Background(), input); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("login while locked = %v, want ErrAccountLocked", err)
	}
}

func TestLoginLockoutExpiry(t *testing.T) {
	s := newTestService(t, models.AuthConfig{
		LockoutThreshold: 1,
		LockoutDuration:  10 * time.Millisecond,
	})
	principal := mustRegister(t, s, "user@example.com", "Str0ngPassword")

	if _, err := s.Login(context.Background(), LoginInput{Identity: "user@example.com", Credential: "wrong"}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("first failure = %v, want ErrAccountLocked", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := s.Login(context.Background(), LoginInput{Identity: "user@example.com", Credential: "Str0ngPassword"}); err != nil {
		t.Fatalf("login after lockout expiry: %v", err)
	}

	stored, _ := s.Principal(principal.ID)
	if stored.FailedAttempts != 0 {
		t.Errorf("failed attempts = %d after success, want 0", stored.FailedAttempts)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	s := newTestService(t, models.AuthConfig{})
	principal := mustRegister(t, s, "user@example.com", "Str0ngPassword")

	if err := s.SetActive(context.Background(), principal.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, err := s.Login(context.Background(), LoginInput{Identity: "user@example.com", Credential: "Str0ngPassword"}); !errors.Is(err, ErrAccountDisabled) {
		t.Errorf("login disabled = %v, want ErrAccountDisabled", err)
	}
}

func TestRefreshSingleUse(t *testing.T) {
	s := newTestService(t, models.AuthConfig{})
	mustRegister(t, s, "user@example.com", "Str0ngPassword")

	pair, err := s.Login(context.Background(), LoginInput{Identity: "user@example.com", Credential: "Str0ngPassword"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	fresh, err := s.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if fresh.RefreshToken == pair.RefreshToken {
		t.Error("refresh token was not rotated")
	}

	// the consumed token is dead
	if _, err := s.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("reused refresh = %v, want ErrTokenInvalid", err)
	}

	// the rotated token still works
	if _, err := s.Refresh(context.Background(), fresh.RefreshToken); err != nil {
		t.Errorf("rotated refresh: %v", err)
	}
}

func TestLogoutIdempotent(t *testing.T) {
	s := newTestService(t, models.AuthConfig{})
	mustRegister(t, s, "user@example.com", "Str0ngPassword")

	pair, err := s.Login(context.Background(), LoginInput{Identity: "user@example.com", Credential: "Str0ngPassword"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := s.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := s.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Errorf("second Logout: %v", err)
	}
	if err := s.Logout(context.Background(), "never-issued"); err != nil {
		t.Errorf("Logout unknown token: %v", err)
	}

	if _, err := s.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("refresh after logout = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	s := newTestService(t, models.AuthConfig{})

	if _, err := s.Verify(context.Background(), "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify = %v, want ErrTokenInvalid", err)
	}
}

func TestSecondFactorFlow(t *testing.T) {
	s := newTestService(t, models.AuthConfig{})
	principal := mustRegister(t, s, "user@example.com", "Str0ngPassword")

	secret, url, err := s.EnableSecondFactor(context.Background(), principal.ID)
	if err != nil {
		t.Fatalf("EnableSecondFactor: %v", err)
	}
	if secret == "" || url == "" {
		t.Fatal("second factor provisioning incomplete")
	}

	input := LoginInput{Identity: "user@example.com", Credential: "Str0ngPassword"}

	// credential alone is no longer enough
	if _, err := s.Login(context.Background(), input); !errors.Is(err, ErrSecondFactorRequired) {
		t.Fatalf("login without code = %v, want ErrSecondFactorRequired", err)
	}

	input.SecondFactorCode = "000000"
	if _, err := s.Login(context.Background(), input); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("login with bad code = %v, want ErrInvalidCredentials", err)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	input.SecondFactorCode = code
	if _, err := s.Login(context.Background(), input); err != nil {
		t.Fatalf("login with valid code: %v", err)
	}

	if err := s.DisableSecondFactor(context.Background(), principal.ID); err != nil {
		t.Fatalf("DisableSecondFactor: %v", err)
	}
	input.SecondFactorCode = ""
	if _, err := s.Login(context.Background(), input); err != nil {
		t.Errorf("login after disable: %v", err)
	}
}

func TestRevokePrincipalSessions(t *testing.T) {
	s := newTestService(t, models.AuthConfig{})
	principal := mustRegister(t, s, "user@example.com", "Str0ngPassword")

	var tokens []string
	for i := 0; i < 3; i++ {
		pair, err := s.Login(context.Background(), LoginInput{Identity: "user@example.com", Credential: "Str0ngPassword"})
		if err != nil {
			t.Fatalf("Login %d: %v", i, err)
		}
		tokens = append(tokens, pair.RefreshToken)
	}

	if revoked := s.RevokePrincipalSessions(context.Background(), principal.ID); revoked != 3 {
		t.Errorf("revoked = %d, want 3", revoked)
	}
	for _, token := range tokens {
		if _, err := s.Refresh(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("refresh after revoke = %v, want ErrTokenInvalid", err)
		}
	}
}
