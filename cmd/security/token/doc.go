// Package token generates and checks the shared secret that signs relay connect tokens.
//
// Environment:
//   - RELAY_JWT_SECRET: HS256 signing secret. Empty disables signed tokens.
//
// Policy:
//   - A configured secret must be at least MinSecretBytes long.
//   - The placeholder shipped in example env files is never accepted as a real secret.
package token
