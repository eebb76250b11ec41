package app

import (
	"errors"

	"hush/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy.
//
// Fail-fast is intentional: silently falling back to weaker invite-token
// hashing in production is unacceptable. Enforcement goes through the same
// module that performs the hashing (security/token).
func ValidateSecurityConfig(cfg Config) error {
	if cfg.RequireTokenHMAC {
		// Minimum 32 bytes for an HMAC-SHA256 secret, measured as raw bytes.
		if _, err := token.HMACKeyFromEnv(32); err != nil {
			switch {
			case errors.Is(err, token.ErrHMACKeyMissing):
				return errors.New("security policy: HUSH_REQUIRE_TOKEN_HMAC=true but HUSH_TOKEN_HMAC_KEY is missing")
			case errors.Is(err, token.ErrHMACKeyTooShort):
				return errors.New("security policy: HUSH_REQUIRE_TOKEN_HMAC=true but HUSH_TOKEN_HMAC_KEY is too short (min 32 bytes)")
			default:
				return err
			}
		}
		if !token.HMACEnabled() {
			return errors.New("security policy: HUSH_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
		}
	}

	if !cfg.Insecure && (cfg.TLSCertFile == "" || cfg.TLSKeyFile == "") {
		return errors.New("security policy: HUSH_TLS_CERT and HUSH_TLS_KEY are required (set HUSH_INSECURE=true for local development)")
	}

	return nil
}
