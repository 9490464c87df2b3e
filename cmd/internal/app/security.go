package app

import (
	"errors"
	"fmt"

	"relay/cmd/security/token"
)

// ValidateSecurityConfig enforces the connect-token policy at startup.
//
// An empty secret is allowed (user_id is then trusted, as in development) and
// only warned about. A configured secret must be usable: the example placeholder
// and short keys fail fast.
func ValidateSecurityConfig(cfg Config, log Logger) error {
	if cfg.JWTSecret == "" {
		log.Warn("security.unsigned_connect", "hint", "set "+token.SecretEnvKey+" to require signed connect tokens")
	} else if err := token.CheckSecret(cfg.JWTSecret, token.MinSecretBytes); err != nil {
		switch {
		case errors.Is(err, token.ErrSecretPlaceholder):
			return fmt.Errorf("security policy: %s still holds the example placeholder; run `relay gen-secret`", token.SecretEnvKey)
		case errors.Is(err, token.ErrSecretTooShort):
			return fmt.Errorf("security policy: %s is too short (min %d bytes)", token.SecretEnvKey, token.MinSecretBytes)
		default:
			return err
		}
	}

	for _, o := range cfg.WSAllowedOrigins {
		if o == "*" {
			log.Warn("security.open_origins", "hint", "RELAY_WS_ALLOWED_ORIGINS=* accepts any website")
			break
		}
	}
	if cfg.WSDevInsecure {
		log.Warn("security.ws_dev_insecure", "hint", "websocket origin verification is disabled")
	}
	return nil
}
