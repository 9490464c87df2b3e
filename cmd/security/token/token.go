package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// SecretEnvKey is the env var name of the connect token secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	SecretEnvKey = "RELAY_JWT_SECRET"

	// MinSecretBytes is the shortest secret CheckSecret accepts.
	MinSecretBytes = 32

	// DefaultSecretBytes is the entropy of NewSecret, before encoding.
	DefaultSecretBytes = 32

	// Placeholder is the value example env files ship with.
	Placeholder = "change-me-in-production"
)

// NewSecret returns n random bytes encoded as unpadded URL-safe base64.
// n <= 0 selects DefaultSecretBytes.
func NewSecret(n int) (string, error) {
	if n <= 0 {
		n = DefaultSecretBytes
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// IsPlaceholder reports whether s is the example placeholder (or contains it).
func IsPlaceholder(s string) bool {
	return strings.Contains(strings.ToLower(strings.TrimSpace(s)), Placeholder)
}

// CheckSecret validates a configured secret. Length is measured in bytes because
// the secret is used as a raw HMAC key.
func CheckSecret(s string, minBytes int) error {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return ErrSecretMissing
	case IsPlaceholder(s):
		return ErrSecretPlaceholder
	case minBytes > 0 && len(s) < minBytes:
		return ErrSecretTooShort
	}
	return nil
}

// EnvReport summarizes the security-relevant settings of a dotenv file.
type EnvReport struct {
	Path   string
	Exists bool

	// SecretErr is the CheckSecret result for RELAY_JWT_SECRET; nil means usable.
	SecretErr error

	// OpenOrigins is true when the WebSocket or CORS allowlist is "*".
	OpenOrigins bool
}

// CheckEnvFile inspects the dotenv file at path without modifying the process environment.
// A missing file is reported with Exists=false, not as an error.
func CheckEnvFile(path string) (EnvReport, error) {
	r := EnvReport{Path: path}

	vars, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return r, fmt.Errorf("read %s: %w", path, err)
	}
	r.Exists = true
	r.SecretErr = CheckSecret(vars[SecretEnvKey], MinSecretBytes)

	for _, key := range []string{"RELAY_WS_ALLOWED_ORIGINS", "RELAY_CORS_ALLOWED_ORIGINS"} {
		for _, o := range strings.Split(vars[key], ",") {
			if strings.TrimSpace(o) == "*" {
				r.OpenOrigins = true
			}
		}
	}
	return r, nil
}
