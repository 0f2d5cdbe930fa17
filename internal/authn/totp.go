package authn

import (
	"github.com/pquerna/otp/totp"
)

// generateTOTPSecret provisions a new RFC 6238 secret for a principal.
// Standard parameters (SHA-1, 6 digits, 30s step) keep the codes compatible
// with common authenticator apps.
func generateTOTPSecret(issuer, account string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// validateTOTPCode checks a one-time code against the principal's secret.
// totp.Validate allows one time-step of clock skew either side.
func validateTOTPCode(code, secret string) bool {
	return totp.Validate(code, secret)
}
